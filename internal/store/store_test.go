package store

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"ex-mirror/pkg/mirror"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
}

func mustUpdate(t *testing.T, s *Store, fn func(*Tx) error) {
	t.Helper()

	if err := s.Update(fn); err != nil {
		t.Fatalf("update failed: %v", err)
	}
}

func TestStoreGetAbsentReportsNotFound(t *testing.T) {
	t.Parallel()

	s := New()
	if _, found := s.User("missing"); found {
		t.Fatal("expected absent user")
	}
	if _, found := s.Member("server", "user"); found {
		t.Fatal("expected absent member")
	}
	if _, found := s.Channel("missing"); found {
		t.Fatal("expected absent channel")
	}
	if _, found := s.DeletedServer("missing"); found {
		t.Fatal("expected absent tombstone")
	}
}

func TestStoreReturnsCopies(t *testing.T) {
	t.Parallel()

	s := New()
	mustUpdate(t, s, func(tx *Tx) error {
		tx.Servers.Set("s1", mirror.Server{ID: "s1", ChannelIDs: []string{"c1"}})
		return nil
	})

	server, _ := s.Server("s1")
	server.ChannelIDs[0] = "mutated"

	again, _ := s.Server("s1")
	if again.ChannelIDs[0] != "c1" {
		t.Fatalf("cached channel ids = %v, want [c1]", again.ChannelIDs)
	}
}

func TestStoreTombstoneTTL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		advance   time.Duration
		wantFound bool
	}{
		{name: "immediately after delete", advance: 0, wantFound: true},
		{name: "just before expiry", advance: 59 * time.Second, wantFound: true},
		{name: "at expiry", advance: 60 * time.Second, wantFound: false},
		{name: "long after expiry", advance: time.Hour, wantFound: false},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			clock := newFakeClock()
			s := New(WithClock(clock.Now))
			mustUpdate(t, s, func(tx *Tx) error {
				tx.Users.Set("u1", mirror.User{ID: "u1", Username: "alice"})
				return nil
			})
			mustUpdate(t, s, func(tx *Tx) error {
				if _, removed := tx.Users.Delete("u1"); !removed {
					return errors.New("user not removed")
				}
				return nil
			})

			clock.Advance(testCase.advance)

			deleted, found := s.DeletedUser("u1")
			if found != testCase.wantFound {
				t.Fatalf("deleted user found = %v, want %v", found, testCase.wantFound)
			}
			if found && deleted.Username != "alice" {
				t.Fatalf("deleted username = %q, want alice", deleted.Username)
			}
			if _, live := s.User("u1"); live {
				t.Fatal("deleted user still live")
			}
		})
	}
}

func TestStoreReplaceShadowsPreviousValue(t *testing.T) {
	t.Parallel()

	s := New()
	mustUpdate(t, s, func(tx *Tx) error {
		tx.Roles.Set(mirror.RoleKey{ServerID: "s1", RoleID: "r1"}, mirror.Role{ID: "r1", ServerID: "s1", Name: "old"})
		return nil
	})
	mustUpdate(t, s, func(tx *Tx) error {
		tx.Roles.Replace(mirror.RoleKey{ServerID: "s1", RoleID: "r1"}, mirror.Role{ID: "r1", ServerID: "s1", Name: "new"})
		return nil
	})

	current, _ := s.Role("s1", "r1")
	before, found := s.DeletedRole("s1", "r1")
	if !found {
		t.Fatal("expected previous role in tombstones")
	}
	if current.Name != "new" || before.Name != "old" {
		t.Fatalf("current/before = %q/%q, want new/old", current.Name, before.Name)
	}
}

func TestStoreMessageTTL(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	s := New(WithClock(clock.Now))
	mustUpdate(t, s, func(tx *Tx) error {
		message := mirror.Message{ID: "m1", ChannelID: "c1", Content: "hi"}
		tx.Messages.Set(message.Key(), message)
		return nil
	})

	clock.Advance(7*24*time.Hour - time.Second)
	if _, found := s.Message("c1", "m1"); !found {
		t.Fatal("message expired early")
	}

	clock.Advance(time.Second)
	if _, found := s.Message("c1", "m1"); found {
		t.Fatal("message outlived its TTL")
	}
	if stats := s.Stats(); stats.Messages != 0 {
		t.Fatalf("live messages = %d, want 0", stats.Messages)
	}
}

func TestStoreCapacityEvictsLeastRecentlyWritten(t *testing.T) {
	t.Parallel()

	s := New(WithPolicy(mirror.EntityKindEmoji, Policy{MaxSize: 2}))
	mustUpdate(t, s, func(tx *Tx) error {
		tx.Emojis.Set("e1", mirror.Emoji{ID: "e1"})
		tx.Emojis.Set("e2", mirror.Emoji{ID: "e2"})
		tx.Emojis.Set("e1", mirror.Emoji{ID: "e1", Name: "rewritten"})
		tx.Emojis.Set("e3", mirror.Emoji{ID: "e3"})
		return nil
	})

	if _, found := s.Emoji("e2"); found {
		t.Fatal("expected e2 evicted")
	}
	for _, id := range []string{"e1", "e3"} {
		if _, found := s.Emoji(id); !found {
			t.Fatalf("expected %s retained", id)
		}
	}
}

func TestStoreTombstoneCapacity(t *testing.T) {
	t.Parallel()

	s := New(WithTombstonePolicy(Policy{MaxSize: 1, TTL: time.Minute}))
	mustUpdate(t, s, func(tx *Tx) error {
		tx.Users.Set("u1", mirror.User{ID: "u1"})
		tx.Users.Set("u2", mirror.User{ID: "u2"})
		tx.Users.Delete("u1")
		tx.Users.Delete("u2")
		return nil
	})

	if _, found := s.DeletedUser("u1"); found {
		t.Fatal("expected oldest tombstone evicted")
	}
	if _, found := s.DeletedUser("u2"); !found {
		t.Fatal("expected newest tombstone retained")
	}
}

func TestStoreListAndRolesOrdering(t *testing.T) {
	t.Parallel()

	s := New()
	mustUpdate(t, s, func(tx *Tx) error {
		for _, role := range []mirror.Role{
			{ID: "r-high", ServerID: "s1", Rank: 5},
			{ID: "r-low", ServerID: "s1", Rank: 1},
			{ID: "r-other", ServerID: "s2", Rank: 0},
		} {
			tx.Roles.Set(role.Key(), role)
		}
		return nil
	})

	roles := s.Roles("s1")
	got := make([]string, 0, len(roles))
	for _, role := range roles {
		got = append(got, role.ID)
	}
	if diff := cmp.Diff([]string{"r-low", "r-high"}, got); diff != "" {
		t.Fatalf("roles mismatch (-want +got):\n%s", diff)
	}
}

func TestStoreSelf(t *testing.T) {
	t.Parallel()

	s := New()
	if _, found := s.Self(); found {
		t.Fatal("expected no self before bootstrap")
	}
	mustUpdate(t, s, func(tx *Tx) error {
		tx.SetSelf(mirror.User{ID: "bot", Username: "mirror"})
		return nil
	})

	self, found := s.Self()
	if !found || self.Username != "mirror" {
		t.Fatalf("self = %+v, %v", self, found)
	}
}

func TestStoreUpdateWrapsCallbackError(t *testing.T) {
	t.Parallel()

	sentinel := errors.New("boom")
	err := New().Update(func(*Tx) error { return sentinel })
	if !errors.Is(err, sentinel) {
		t.Fatalf("error = %v, want wrapped sentinel", err)
	}
}
