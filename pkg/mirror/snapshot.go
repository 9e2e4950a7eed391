package mirror

import (
	"cmp"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/tidwall/gjson"
)

// ReadySnapshot is the bulk state sent once after authentication.
type ReadySnapshot struct {
	Users    []User
	Servers  []Server
	Roles    []Role
	Channels []Channel
	Members  []Member
	Emojis   []Emoji
	// Skipped holds the entities that failed to decode. They are left out
	// of the snapshot instead of failing it.
	Skipped []*ProtocolError
}

// UnmarshalJSON decodes the snapshot one entity at a time, splitting inline
// server role maps into Role entities and decoding each channel variant.
// Only a body that is not a JSON object fails the whole snapshot.
func (s *ReadySnapshot) UnmarshalJSON(data []byte) error {
	var frame struct {
		Users    []json.RawMessage `json:"users"`
		Servers  []json.RawMessage `json:"servers"`
		Channels []json.RawMessage `json:"channels"`
		Members  []json.RawMessage `json:"members"`
		Emojis   []json.RawMessage `json:"emojis"`
	}
	if err := json.Unmarshal(data, &frame); err != nil {
		return fmt.Errorf("decode ready: %w", err)
	}

	var snapshot ReadySnapshot
	skip := func(entity string, index int, err error) {
		snapshot.Skipped = append(snapshot.Skipped, &ProtocolError{
			Type: "Ready",
			Err:  fmt.Errorf("%s %d: %w", entity, index, err),
		})
	}

	snapshot.Users = decodeEach[User](frame.Users, "user", skip)
	snapshot.Members = decodeEach[Member](frame.Members, "member", skip)
	snapshot.Emojis = decodeEach[Emoji](frame.Emojis, "emoji", skip)
	snapshot.Servers = make([]Server, 0, len(frame.Servers))
	for index, raw := range frame.Servers {
		server, roles, err := DecodeServer(raw)
		if err != nil {
			skip("server", index, err)
			continue
		}
		snapshot.Servers = append(snapshot.Servers, server)
		snapshot.Roles = append(snapshot.Roles, roles...)
	}
	snapshot.Channels = decodeChannels(frame.Channels, func(index int, err error) {
		skip("channel", index, err)
	})

	*s = snapshot

	return nil
}

func decodeEach[T any](raws []json.RawMessage, entity string, skip func(string, int, error)) []T {
	values := make([]T, 0, len(raws))
	for index, raw := range raws {
		var value T
		if err := json.Unmarshal(raw, &value); err != nil {
			skip(entity, index, fmt.Errorf("%w: %w", ErrMalformedEvent, err))
			continue
		}
		values = append(values, value)
	}

	return values
}

// DecodeServer decodes a server object. The inline role map becomes the
// server's RoleIDs, ordered by rank, plus one Role entity per entry.
func DecodeServer(data []byte) (Server, []Role, error) {
	var server Server
	if err := json.Unmarshal(data, &server); err != nil {
		return Server{}, nil, fmt.Errorf("decode server: %w", err)
	}
	if server.ID == "" {
		return Server{}, nil, fmt.Errorf("decode server: missing _id: %w", ErrMalformedEvent)
	}

	var (
		roles    []Role
		roleErr  error
		rolesRaw = gjson.GetBytes(data, "roles")
	)
	rolesRaw.ForEach(func(key, value gjson.Result) bool {
		var role Role
		if err := json.Unmarshal([]byte(value.Raw), &role); err != nil {
			roleErr = fmt.Errorf("decode server %s role %s: %w", server.ID, key.String(), err)
			return false
		}
		role.ID = key.String()
		role.ServerID = server.ID
		roles = append(roles, role)
		return true
	})
	if roleErr != nil {
		return Server{}, nil, roleErr
	}

	SortRoles(roles)
	server.RoleIDs = make([]string, 0, len(roles))
	for _, role := range roles {
		server.RoleIDs = append(server.RoleIDs, role.ID)
	}

	return server, roles, nil
}

// SortRoles orders roles by rank, lowest first, breaking ties by id.
func SortRoles(roles []Role) {
	slices.SortFunc(roles, func(a, b Role) int {
		if byRank := cmp.Compare(a.Rank, b.Rank); byRank != 0 {
			return byRank
		}
		return cmp.Compare(a.ID, b.ID)
	})
}

// BootstrapReport summarizes one Ready ingestion.
type BootstrapReport struct {
	Self     User
	Servers  int
	Channels int
	Roles    int
	Emojis   int
	Members  int
	Users    int
	Failures []*BootstrapPartialError
	// Skipped lists snapshot entities left out because they did not decode.
	Skipped []*ProtocolError
	Elapsed time.Duration
}

// Partial reports whether any per-server fetch failed or any snapshot
// entity was skipped.
func (r BootstrapReport) Partial() bool {
	return len(r.Failures) > 0 || len(r.Skipped) > 0
}
