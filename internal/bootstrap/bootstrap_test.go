package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"ex-mirror/internal/store"
	"ex-mirror/pkg/mirror"
)

type fakeFetcher struct {
	self       mirror.User
	selfErr    error
	members    map[string][]mirror.Member
	memberErrs map[string]error
	users      map[string]mirror.User

	mu         sync.Mutex
	userCalls  map[string]int
	memberCall int
}

func (f *fakeFetcher) FetchSelf(context.Context) (mirror.User, error) {
	if f.selfErr != nil {
		return mirror.User{}, f.selfErr
	}

	return f.self, nil
}

func (f *fakeFetcher) FetchMembers(_ context.Context, serverID string) ([]mirror.Member, error) {
	f.mu.Lock()
	f.memberCall++
	f.mu.Unlock()

	if err := f.memberErrs[serverID]; err != nil {
		return nil, err
	}

	return f.members[serverID], nil
}

func (f *fakeFetcher) FetchUser(_ context.Context, userID string) (mirror.User, error) {
	f.mu.Lock()
	if f.userCalls == nil {
		f.userCalls = make(map[string]int)
	}
	f.userCalls[userID]++
	f.mu.Unlock()

	user, found := f.users[userID]
	if !found {
		return mirror.User{}, mirror.ErrNotFound
	}

	return user, nil
}

func (f *fakeFetcher) FetchMember(_ context.Context, serverID, userID string) (mirror.Member, error) {
	for _, member := range f.members[serverID] {
		if member.ID.UserID == userID {
			return member, nil
		}
	}

	return mirror.Member{}, mirror.ErrNotFound
}

func member(serverID, userID string) mirror.Member {
	return mirror.Member{ID: mirror.MemberKey{ServerID: serverID, UserID: userID}}
}

func twoServerSnapshot() mirror.ReadySnapshot {
	return mirror.ReadySnapshot{
		Users: []mirror.User{{ID: "alice", Username: "alice"}},
		Servers: []mirror.Server{
			{ID: "s1", ChannelIDs: []string{"c1"}, RoleIDs: []string{"r1"}},
			{ID: "s2"},
		},
		Roles:    []mirror.Role{{ID: "r1", ServerID: "s1", Name: "mods"}},
		Channels: []mirror.Channel{&mirror.TextChannel{ID: "c1", ServerID: "s1", Name: "general"}},
		Emojis:   []mirror.Emoji{{ID: "e1", Parent: mirror.EmojiParent{Type: "Server", ID: "s1"}}},
	}
}

// TestBootstrapFetchSelfFailureIsFatal verifies a failed self lookup aborts
// before anything is cached.
func TestBootstrapFetchSelfFailureIsFatal(t *testing.T) {
	t.Parallel()

	cache := store.New()
	fetcher := &fakeFetcher{selfErr: mirror.ErrInvalidSession}
	_, err := New(cache, fetcher).Bootstrap(context.Background(), twoServerSnapshot())

	if !errors.Is(err, mirror.ErrBootstrapFatal) {
		t.Fatalf("error = %v, want ErrBootstrapFatal", err)
	}
	if !errors.Is(err, mirror.ErrInvalidSession) {
		t.Fatalf("error = %v, want cause preserved", err)
	}
	if diff := cmp.Diff(store.Stats{}, cache.Stats()); diff != "" {
		t.Fatalf("store written on fatal bootstrap (-want +got):\n%s", diff)
	}
	if fetcher.memberCall != 0 {
		t.Fatalf("member fetches = %d, want 0", fetcher.memberCall)
	}
}

// TestBootstrapReportsSkippedEntities verifies entities dropped while
// decoding the snapshot surface in the report without failing it.
func TestBootstrapReportsSkippedEntities(t *testing.T) {
	t.Parallel()

	snapshot := twoServerSnapshot()
	snapshot.Skipped = []*mirror.ProtocolError{{
		Type: "Ready",
		Err:  fmt.Errorf("channel 4: %w", mirror.ErrMalformedEvent),
	}}
	fetcher := &fakeFetcher{self: mirror.User{ID: "self", Username: "mirror"}}

	report, err := New(store.New(), fetcher).Bootstrap(context.Background(), snapshot)
	if err != nil {
		t.Fatalf("bootstrap failed: %v", err)
	}
	if len(report.Skipped) != 1 || !report.Partial() {
		t.Fatalf("report skipped = %v, partial %v", report.Skipped, report.Partial())
	}
	if len(report.Failures) != 0 {
		t.Fatalf("failures = %v", report.Failures)
	}
}

// TestBootstrapIngestsSnapshot verifies every snapshot entity kind lands in
// the cache along with fetched members.
func TestBootstrapIngestsSnapshot(t *testing.T) {
	t.Parallel()

	cache := store.New()
	fetcher := &fakeFetcher{
		self: mirror.User{ID: "self", Username: "mirror"},
		members: map[string][]mirror.Member{
			"s1": {member("s1", "alice"), member("s1", "self")},
			"s2": {member("s2", "self")},
		},
	}
	report, err := New(cache, fetcher).Bootstrap(context.Background(), twoServerSnapshot())
	if err != nil {
		t.Fatalf("bootstrap failed: %v", err)
	}

	if report.Partial() {
		t.Fatalf("unexpected failures: %v", report.Failures)
	}
	if report.Self.ID != "self" {
		t.Fatalf("self = %q", report.Self.ID)
	}
	if self, found := cache.Self(); !found || self.Username != "mirror" {
		t.Fatalf("cached self = %+v, %v", self, found)
	}

	want := mirror.BootstrapReport{
		Self:     fetcher.self,
		Servers:  2,
		Channels: 1,
		Roles:    1,
		Emojis:   1,
		Members:  3,
		Users:    2,
	}
	report.Elapsed = 0
	if diff := cmp.Diff(want, report); diff != "" {
		t.Fatalf("report mismatch (-want +got):\n%s", diff)
	}

	if roles := cache.Roles("s1"); len(roles) != 1 || roles[0].Name != "mods" {
		t.Fatalf("roles = %+v", roles)
	}
	if channels := cache.Channels("s1"); len(channels) != 1 || channels[0].ChannelID() != "c1" {
		t.Fatalf("channels = %+v", channels)
	}
	if _, found := cache.Member("s2", "self"); !found {
		t.Fatal("fetched member not cached")
	}
}

// TestBootstrapPartialFailure verifies a failing server is reported while the
// remaining servers are still hydrated.
func TestBootstrapPartialFailure(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		memberErrs  map[string]error
		users       map[string]mirror.User
		wantFailed  []string
		wantMembers int
	}{
		{
			name:        "member list fails",
			memberErrs:  map[string]error{"s2": errors.New("boom")},
			users:       map[string]mirror.User{"carol": {ID: "carol"}},
			wantFailed:  []string{"s2"},
			wantMembers: 2,
		},
		{
			name:        "user lookup fails",
			users:       map[string]mirror.User{},
			wantFailed:  []string{"s1", "s2"},
			wantMembers: 3,
		},
		{
			name:        "all succeed",
			users:       map[string]mirror.User{"carol": {ID: "carol"}},
			wantMembers: 3,
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			cache := store.New()
			fetcher := &fakeFetcher{
				self: mirror.User{ID: "self"},
				members: map[string][]mirror.Member{
					"s1": {member("s1", "alice"), member("s1", "carol")},
					"s2": {member("s2", "carol")},
				},
				memberErrs: testCase.memberErrs,
				users:      testCase.users,
			}
			report, err := New(cache, fetcher, WithConcurrency(2)).Bootstrap(context.Background(), twoServerSnapshot())
			if err != nil {
				t.Fatalf("partial failure must not fail bootstrap: %v", err)
			}

			failed := make([]string, 0, len(report.Failures))
			for _, failure := range report.Failures {
				failed = append(failed, failure.ServerID)
			}
			if diff := cmp.Diff(testCase.wantFailed, failed, cmpopts.EquateEmpty()); diff != "" {
				t.Fatalf("failed servers mismatch (-want +got):\n%s", diff)
			}
			if report.Members != testCase.wantMembers {
				t.Fatalf("members = %d, want %d", report.Members, testCase.wantMembers)
			}
			if _, found := cache.Server("s2"); !found {
				t.Fatal("snapshot server missing after partial failure")
			}
		})
	}
}

// TestBootstrapDeduplicatesUserFetches verifies a user shared by several
// servers is fetched once.
func TestBootstrapDeduplicatesUserFetches(t *testing.T) {
	t.Parallel()

	cache := store.New()
	fetcher := &fakeFetcher{
		self: mirror.User{ID: "self"},
		members: map[string][]mirror.Member{
			"s1": {member("s1", "carol"), member("s1", "alice")},
			"s2": {member("s2", "carol")},
		},
		users: map[string]mirror.User{"carol": {ID: "carol", Username: "carol"}},
	}
	if _, err := New(cache, fetcher).Bootstrap(context.Background(), twoServerSnapshot()); err != nil {
		t.Fatalf("bootstrap failed: %v", err)
	}

	if diff := cmp.Diff(map[string]int{"carol": 1}, fetcher.userCalls); diff != "" {
		t.Fatalf("user fetches mismatch (-want +got):\n%s", diff)
	}
	if user, found := cache.User("carol"); !found || user.Username != "carol" {
		t.Fatalf("carol = %+v, %v", user, found)
	}
}
