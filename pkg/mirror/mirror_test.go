package mirror

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// TestOptionalDistinguishesAbsentFromNull verifies key presence is tracked separately from value.
func TestOptionalDistinguishesAbsentFromNull(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		payload   string
		wantSet   bool
		wantValue string
	}{
		{name: "absent", payload: `{}`},
		{name: "explicit null", payload: `{"name":null}`, wantSet: true},
		{name: "value", payload: `{"name":"general"}`, wantSet: true, wantValue: "general"},
		{name: "empty string", payload: `{"name":""}`, wantSet: true},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			var decoded struct {
				Name Optional[string] `json:"name"`
			}
			if err := json.Unmarshal([]byte(testCase.payload), &decoded); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			value, set := decoded.Name.Get()
			if set != testCase.wantSet || value != testCase.wantValue {
				t.Fatalf("Get() = (%q, %v), want (%q, %v)", value, set, testCase.wantValue, testCase.wantSet)
			}
		})
	}
}

// TestOptionalOr verifies fallback only applies to unset values.
func TestOptionalOr(t *testing.T) {
	t.Parallel()

	if got := None[int]().Or(7); got != 7 {
		t.Fatalf("None.Or = %d, want 7", got)
	}
	if got := Some(0).Or(7); got != 0 {
		t.Fatalf("Some(0).Or = %d, want 0", got)
	}

	encoded, err := json.Marshal(None[string]())
	if err != nil || string(encoded) != "null" {
		t.Fatalf("marshal None = %s, %v", encoded, err)
	}
}

// TestDecodeChannel verifies variant selection by channel_type.
func TestDecodeChannel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		payload    string
		wantType   ChannelType
		wantServer string
		wantErr    bool
	}{
		{name: "text", payload: `{"channel_type":"TextChannel","_id":"c1","server":"s1","name":"general"}`, wantType: ChannelTypeText, wantServer: "s1"},
		{name: "voice", payload: `{"channel_type":"VoiceChannel","_id":"c2","server":"s1","name":"lounge"}`, wantType: ChannelTypeVoice, wantServer: "s1"},
		{name: "group", payload: `{"channel_type":"Group","_id":"g1","name":"pals","owner":"u1","recipients":["u1","u2"]}`, wantType: ChannelTypeGroup},
		{name: "direct message", payload: `{"channel_type":"DirectMessage","_id":"d1","active":true,"recipients":["u1","u2"]}`, wantType: ChannelTypeDirectMessage},
		{name: "saved messages", payload: `{"channel_type":"SavedMessages","_id":"n1","user":"u1"}`, wantType: ChannelTypeSavedMessages},
		{name: "missing discriminant", payload: `{"_id":"c1"}`, wantErr: true},
		{name: "unknown discriminant", payload: `{"channel_type":"Forum","_id":"c1"}`, wantErr: true},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			channel, err := DecodeChannel([]byte(testCase.payload))
			if testCase.wantErr {
				if !errors.Is(err, ErrMalformedEvent) {
					t.Fatalf("error = %v, want ErrMalformedEvent", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if channel.Type() != testCase.wantType || channel.OwningServer() != testCase.wantServer {
				t.Fatalf("channel = %#v", channel)
			}
		})
	}
}

// TestCloneChannelDoesNotAlias verifies cloned recipients are independent.
func TestCloneChannelDoesNotAlias(t *testing.T) {
	t.Parallel()

	original := &GroupChannel{ID: "g1", Recipients: []string{"u1", "u2"}}
	cloned, ok := CloneChannel(original).(*GroupChannel)
	if !ok {
		t.Fatalf("clone type = %T", CloneChannel(original))
	}
	cloned.Recipients[0] = "u9"
	if original.Recipients[0] != "u1" {
		t.Fatalf("original recipients mutated: %v", original.Recipients)
	}
}

// TestDecodeServerSplitsRoles verifies inline roles become rank ordered entities.
func TestDecodeServerSplitsRoles(t *testing.T) {
	t.Parallel()

	payload := `{"_id":"s1","owner":"u1","name":"Guild","channels":["c1"],"roles":{
		"r2":{"name":"Mod","permissions":{"a":4,"d":0},"rank":2},
		"r1":{"name":"Admin","permissions":{"a":8,"d":0},"rank":1},
		"r0":{"name":"Also Mod","permissions":{"a":0,"d":0},"rank":2}
	}}`

	server, roles, err := DecodeServer([]byte(payload))
	if err != nil {
		t.Fatalf("decode server: %v", err)
	}
	if diff := cmp.Diff([]string{"r1", "r0", "r2"}, server.RoleIDs); diff != "" {
		t.Fatalf("role ids mismatch (-want +got):\n%s", diff)
	}
	for _, role := range roles {
		if role.ServerID != "s1" {
			t.Fatalf("role %s server = %q", role.ID, role.ServerID)
		}
	}
	if roles[0].Name != "Admin" || roles[0].Permissions.Allow != 8 {
		t.Fatalf("first role = %+v", roles[0])
	}

	if _, _, err := DecodeServer([]byte(`{"name":"nameless"}`)); !errors.Is(err, ErrMalformedEvent) {
		t.Fatalf("missing id error = %v, want ErrMalformedEvent", err)
	}
}

// TestReadySnapshotUnmarshal verifies every entity collection is decoded.
func TestReadySnapshotUnmarshal(t *testing.T) {
	t.Parallel()

	payload := `{
		"users":[{"_id":"u1","username":"alice"}],
		"servers":[{"_id":"s1","owner":"u1","name":"Guild","channels":["c1"],"roles":{"r1":{"name":"Admin","permissions":{"a":0,"d":0},"rank":0}}}],
		"channels":[{"channel_type":"TextChannel","_id":"c1","server":"s1","name":"general"}],
		"members":[{"_id":{"server":"s1","user":"u1"}}],
		"emojis":[]
	}`

	var snapshot ReadySnapshot
	if err := json.Unmarshal([]byte(payload), &snapshot); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(snapshot.Users) != 1 || len(snapshot.Servers) != 1 || len(snapshot.Roles) != 1 ||
		len(snapshot.Channels) != 1 || len(snapshot.Members) != 1 {
		t.Fatalf("snapshot = %+v", snapshot)
	}
	if snapshot.Members[0].ID != (MemberKey{ServerID: "s1", UserID: "u1"}) {
		t.Fatalf("member key = %+v", snapshot.Members[0].ID)
	}

	if len(snapshot.Skipped) != 0 {
		t.Fatalf("skipped = %v", snapshot.Skipped)
	}
}

// TestReadySnapshotSkipsBadEntities verifies undecodable entities are
// collected instead of failing the snapshot.
func TestReadySnapshotSkipsBadEntities(t *testing.T) {
	t.Parallel()

	payload := `{
		"users":[{"_id":"u1","username":"alice"},{"_id":7}],
		"servers":[{"name":"nameless"},{"_id":"s1","owner":"u1","name":"Guild"}],
		"channels":[{"channel_type":"Thread","_id":"t1"},{"channel_type":"TextChannel","_id":"c1","server":"s1","name":"general"}],
		"members":[{"_id":"flat"}],
		"emojis":[]
	}`

	var snapshot ReadySnapshot
	if err := json.Unmarshal([]byte(payload), &snapshot); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(snapshot.Users) != 1 || len(snapshot.Servers) != 1 || len(snapshot.Channels) != 1 || len(snapshot.Members) != 0 {
		t.Fatalf("snapshot = %+v", snapshot)
	}
	if len(snapshot.Skipped) != 4 {
		t.Fatalf("skipped = %v, want 4 entries", snapshot.Skipped)
	}
	for _, skipped := range snapshot.Skipped {
		if skipped.Type != "Ready" || !errors.Is(skipped, ErrMalformedEvent) {
			t.Fatalf("skipped = %v", skipped)
		}
	}

	if err := json.Unmarshal([]byte(`"ready"`), &snapshot); err == nil {
		t.Fatal("non-object snapshot decoded")
	}
}

// TestServerCreateSkipsBadChannels verifies one unknown channel variant does
// not drop the server.
func TestServerCreateSkipsBadChannels(t *testing.T) {
	t.Parallel()

	payload := `{"id":"s1","server":{"_id":"s1","owner":"u1","name":"Guild","channels":["c1","t1"]},"channels":[
		{"channel_type":"TextChannel","_id":"c1","server":"s1","name":"general"},
		{"channel_type":"Thread","_id":"t1","server":"s1"}
	]}`

	var event ServerCreateEvent
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if event.Server.ID != "s1" || len(event.Channels) != 1 || event.Channels[0].ChannelID() != "c1" {
		t.Fatalf("event = %+v", event)
	}
	if len(event.Skipped) != 1 || !errors.Is(event.Skipped[0], ErrMalformedEvent) {
		t.Fatalf("skipped = %v", event.Skipped)
	}
}

// TestSessionErrorClassification verifies code mapping and fatality.
func TestSessionErrorClassification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		code      string
		wantErr   error
		wantFatal bool
	}{
		{code: "InvalidSession", wantErr: ErrInvalidSession, wantFatal: true},
		{code: "AlreadyAuthenticated", wantErr: ErrAlreadyAuthenticated, wantFatal: true},
		{code: "OnboardingNotFinished", wantErr: ErrOnboardingNotFinished, wantFatal: true},
		{code: "InternalError", wantErr: ErrInternalError},
		{code: "SomethingNew", wantErr: ErrLabelMe},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.code, func(t *testing.T) {
			t.Parallel()

			sessionErr := NewSessionError(testCase.code)
			if !errors.Is(sessionErr, testCase.wantErr) {
				t.Fatalf("errors.Is(%v, %v) = false", sessionErr, testCase.wantErr)
			}
			if sessionErr.Fatal() != testCase.wantFatal {
				t.Fatalf("Fatal() = %v, want %v", sessionErr.Fatal(), testCase.wantFatal)
			}
		})
	}
}

// TestHandlerForSkipsOtherEvents verifies typed handlers ignore foreign event types.
func TestHandlerForSkipsOtherEvents(t *testing.T) {
	t.Parallel()

	var seen []string
	handler := HandlerFor(func(_ context.Context, event MessageCreateEvent) error {
		seen = append(seen, event.Message.ID)
		return nil
	})

	if err := handler(context.Background(), AuthenticatedEvent{}); err != nil {
		t.Fatalf("foreign event: %v", err)
	}
	if err := handler(context.Background(), MessageCreateEvent{Message: Message{ID: "m1"}}); err != nil {
		t.Fatalf("matching event: %v", err)
	}
	if diff := cmp.Diff([]string{"m1"}, seen); diff != "" {
		t.Fatalf("seen mismatch (-want +got):\n%s", diff)
	}
}

// TestSubscriptionSpecMatches verifies an empty kind list selects everything.
func TestSubscriptionSpecMatches(t *testing.T) {
	t.Parallel()

	all := SubscriptionSpec{Name: "all"}
	if !all.Matches(EventKindMessageCreate) {
		t.Fatal("empty kinds should match every event")
	}
	only := SubscriptionSpec{Name: "only", Kinds: []EventKind{EventKindClientReady}}
	if only.Matches(EventKindMessageCreate) || !only.Matches(EventKindClientReady) {
		t.Fatal("kind filter mismatch")
	}
}
