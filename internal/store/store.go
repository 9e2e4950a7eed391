package store

import (
	"fmt"
	"sync"
	"time"

	"ex-mirror/pkg/mirror"
)

const (
	defaultMessageTTL    = 7 * 24 * time.Hour
	defaultTombstoneSize = 256
	defaultTombstoneTTL  = 60 * time.Second
)

// Store is the in-memory mirror of remote entities. All writes go through
// Update, which holds the store lock for the whole callback, so a merge or a
// cascade is observed either completely or not at all.
type Store struct {
	mu    sync.RWMutex
	clock func() time.Time

	selfID     string
	users      *container[string, mirror.User]
	members    *container[mirror.MemberKey, mirror.Member]
	servers    *container[string, mirror.Server]
	channels   *container[string, mirror.Channel]
	roles      *container[mirror.RoleKey, mirror.Role]
	messages   *container[mirror.MessageKey, mirror.Message]
	emojis     *container[string, mirror.Emoji]
	tombstones *container[tombstoneKey, any]
}

type tombstoneKey struct {
	kind mirror.EntityKind
	key  any
}

type config struct {
	clock      func() time.Time
	policies   map[mirror.EntityKind]Policy
	tombstones Policy
}

// Option mutates store construction configuration.
type Option func(*config)

// WithClock injects the time source used for TTL bookkeeping.
func WithClock(clock func() time.Time) Option {
	return func(cfg *config) {
		if clock != nil {
			cfg.clock = clock
		}
	}
}

// WithPolicy overrides the capacity and TTL of one entity container.
func WithPolicy(kind mirror.EntityKind, policy Policy) Option {
	return func(cfg *config) {
		cfg.policies[kind] = policy
	}
}

// WithTombstonePolicy overrides the shadow store bounds.
func WithTombstonePolicy(policy Policy) Option {
	return func(cfg *config) {
		cfg.tombstones = policy
	}
}

// New creates an empty store. Every container is unbounded except messages
// (7 day TTL) and tombstones (256 entries, 60 second TTL).
func New(options ...Option) *Store {
	cfg := config{
		clock: time.Now,
		policies: map[mirror.EntityKind]Policy{
			mirror.EntityKindMessage: {TTL: defaultMessageTTL},
		},
		tombstones: Policy{MaxSize: defaultTombstoneSize, TTL: defaultTombstoneTTL},
	}
	for _, option := range options {
		option(&cfg)
	}

	return &Store{
		clock:      cfg.clock,
		users:      newContainer[string, mirror.User](cfg.policies[mirror.EntityKindUser]),
		members:    newContainer[mirror.MemberKey, mirror.Member](cfg.policies[mirror.EntityKindMember]),
		servers:    newContainer[string, mirror.Server](cfg.policies[mirror.EntityKindServer]),
		channels:   newContainer[string, mirror.Channel](cfg.policies[mirror.EntityKindChannel]),
		roles:      newContainer[mirror.RoleKey, mirror.Role](cfg.policies[mirror.EntityKindRole]),
		messages:   newContainer[mirror.MessageKey, mirror.Message](cfg.policies[mirror.EntityKindMessage]),
		emojis:     newContainer[string, mirror.Emoji](cfg.policies[mirror.EntityKindEmoji]),
		tombstones: newContainer[tombstoneKey, any](cfg.tombstones),
	}
}

// View is read access to one entity container inside a transaction.
type View[K comparable, V any] struct {
	kind       mirror.EntityKind
	data       *container[K, V]
	tombstones *container[tombstoneKey, any]
	clone      func(V) V
	now        time.Time
}

// Get returns the cached value for key.
func (v View[K, V]) Get(key K) (V, bool) {
	value, found := v.data.get(key, v.now)
	if !found {
		return value, false
	}

	return v.clone(value), true
}

// List returns every live value accepted by predicate. A nil predicate
// accepts everything.
func (v View[K, V]) List(predicate func(V) bool) []V {
	values := make([]V, 0)
	v.data.scan(v.now, func(_ K, value V) bool {
		if predicate == nil || predicate(value) {
			values = append(values, v.clone(value))
		}
		return true
	})

	return values
}

// Keys returns every live key whose value is accepted by predicate.
func (v View[K, V]) Keys(predicate func(V) bool) []K {
	keys := make([]K, 0)
	v.data.scan(v.now, func(key K, value V) bool {
		if predicate == nil || predicate(value) {
			keys = append(keys, key)
		}
		return true
	})

	return keys
}

// Len returns the number of live values.
func (v View[K, V]) Len() int {
	return v.data.count(v.now)
}

// Deleted returns the shadowed value for key while it is retained.
func (v View[K, V]) Deleted(key K) (V, bool) {
	raw, found := v.tombstones.get(tombstoneKey{kind: v.kind, key: key}, v.now)
	if !found {
		var zero V
		return zero, false
	}
	value, ok := raw.(V)
	if !ok {
		var zero V
		return zero, false
	}

	return v.clone(value), true
}

// Table is write access to one entity container inside an Update.
type Table[K comparable, V any] struct {
	View[K, V]
}

// Set stores value under key without shadowing any previous value.
func (t Table[K, V]) Set(key K, value V) {
	t.data.set(key, t.clone(value), t.now)
}

// Replace shadows the current value, if any, then stores value.
func (t Table[K, V]) Replace(key K, value V) {
	if previous, found := t.data.get(key, t.now); found {
		t.Shadow(key, previous)
	}
	t.Set(key, value)
}

// Delete removes key, moves its last value into the tombstone store and
// returns it.
func (t Table[K, V]) Delete(key K) (V, bool) {
	value, found := t.data.remove(key, t.now)
	if !found {
		return value, false
	}
	t.Shadow(key, value)

	return t.clone(value), true
}

// Drop removes key without shadowing it.
func (t Table[K, V]) Drop(key K) bool {
	_, found := t.data.remove(key, t.now)

	return found
}

// Shadow records value as the key's last known state.
func (t Table[K, V]) Shadow(key K, value V) {
	t.tombstones.set(tombstoneKey{kind: t.kind, key: key}, t.clone(value), t.now)
}

// ReadTx is a consistent read-only view of every container.
type ReadTx struct {
	store    *Store
	Users    View[string, mirror.User]
	Members  View[mirror.MemberKey, mirror.Member]
	Servers  View[string, mirror.Server]
	Channels View[string, mirror.Channel]
	Roles    View[mirror.RoleKey, mirror.Role]
	Messages View[mirror.MessageKey, mirror.Message]
	Emojis   View[string, mirror.Emoji]
}

// Self returns the session user when known.
func (tx *ReadTx) Self() (mirror.User, bool) {
	if tx.store.selfID == "" {
		return mirror.User{}, false
	}

	return tx.Users.Get(tx.store.selfID)
}

// Tx is a write transaction over every container.
type Tx struct {
	store    *Store
	Users    Table[string, mirror.User]
	Members  Table[mirror.MemberKey, mirror.Member]
	Servers  Table[string, mirror.Server]
	Channels Table[string, mirror.Channel]
	Roles    Table[mirror.RoleKey, mirror.Role]
	Messages Table[mirror.MessageKey, mirror.Message]
	Emojis   Table[string, mirror.Emoji]
}

// SetSelf records the session user and stores it.
func (tx *Tx) SetSelf(user mirror.User) {
	tx.store.selfID = user.ID
	tx.Users.Set(user.ID, user)
}

// SelfID returns the session user id, or "" before bootstrap.
func (tx *Tx) SelfID() string {
	return tx.store.selfID
}

// Update runs fn with exclusive access. Writes made before fn returns an
// error are kept.
func (s *Store) Update(fn func(*Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	tx := &Tx{
		store:    s,
		Users:    Table[string, mirror.User]{View: viewOf(s, mirror.EntityKindUser, s.users, mirror.User.Clone, now)},
		Members:  Table[mirror.MemberKey, mirror.Member]{View: viewOf(s, mirror.EntityKindMember, s.members, mirror.Member.Clone, now)},
		Servers:  Table[string, mirror.Server]{View: viewOf(s, mirror.EntityKindServer, s.servers, mirror.Server.Clone, now)},
		Channels: Table[string, mirror.Channel]{View: viewOf(s, mirror.EntityKindChannel, s.channels, mirror.CloneChannel, now)},
		Roles:    Table[mirror.RoleKey, mirror.Role]{View: viewOf(s, mirror.EntityKindRole, s.roles, mirror.Role.Clone, now)},
		Messages: Table[mirror.MessageKey, mirror.Message]{View: viewOf(s, mirror.EntityKindMessage, s.messages, mirror.Message.Clone, now)},
		Emojis:   Table[string, mirror.Emoji]{View: viewOf(s, mirror.EntityKindEmoji, s.emojis, mirror.Emoji.Clone, now)},
	}
	if err := fn(tx); err != nil {
		return fmt.Errorf("store update: %w", err)
	}

	return nil
}

// View runs fn with shared access.
func (s *Store) View(fn func(*ReadTx) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.clock()
	tx := &ReadTx{
		store:    s,
		Users:    viewOf(s, mirror.EntityKindUser, s.users, mirror.User.Clone, now),
		Members:  viewOf(s, mirror.EntityKindMember, s.members, mirror.Member.Clone, now),
		Servers:  viewOf(s, mirror.EntityKindServer, s.servers, mirror.Server.Clone, now),
		Channels: viewOf(s, mirror.EntityKindChannel, s.channels, mirror.CloneChannel, now),
		Roles:    viewOf(s, mirror.EntityKindRole, s.roles, mirror.Role.Clone, now),
		Messages: viewOf(s, mirror.EntityKindMessage, s.messages, mirror.Message.Clone, now),
		Emojis:   viewOf(s, mirror.EntityKindEmoji, s.emojis, mirror.Emoji.Clone, now),
	}
	if err := fn(tx); err != nil {
		return fmt.Errorf("store view: %w", err)
	}

	return nil
}

func viewOf[K comparable, V any](
	s *Store,
	kind mirror.EntityKind,
	data *container[K, V],
	clone func(V) V,
	now time.Time,
) View[K, V] {
	return View[K, V]{
		kind:       kind,
		data:       data,
		tombstones: s.tombstones,
		clone:      clone,
		now:        now,
	}
}

// Stats counts live entries per container.
type Stats struct {
	Users      int
	Members    int
	Servers    int
	Channels   int
	Roles      int
	Messages   int
	Emojis     int
	Tombstones int
}

// Stats returns live entry counts.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.clock()

	return Stats{
		Users:      s.users.count(now),
		Members:    s.members.count(now),
		Servers:    s.servers.count(now),
		Channels:   s.channels.count(now),
		Roles:      s.roles.count(now),
		Messages:   s.messages.count(now),
		Emojis:     s.emojis.count(now),
		Tombstones: s.tombstones.count(now),
	}
}
