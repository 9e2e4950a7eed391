// Package bootstrap turns the gateway's Ready snapshot into a populated
// cache. The snapshot is ingested in one store transaction; member lists
// are then fetched over REST per server, where a failure only affects that
// server.
package bootstrap

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"ex-mirror/internal/store"
	"ex-mirror/pkg/mirror"
)

const defaultConcurrency = 4

// Bootstrapper ingests Ready snapshots.
type Bootstrapper struct {
	store       *store.Store
	fetcher     mirror.Fetcher
	concurrency int
	logger      *slog.Logger
	clock       func() time.Time

	users singleflight.Group
}

// Option mutates bootstrapper construction configuration.
type Option func(*Bootstrapper)

// WithConcurrency bounds how many servers are hydrated at once.
func WithConcurrency(limit int) Option {
	return func(b *Bootstrapper) {
		if limit > 0 {
			b.concurrency = limit
		}
	}
}

// WithLogger configures the bootstrap logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bootstrapper) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithClock injects the time source used for elapsed time reporting.
func WithClock(clock func() time.Time) Option {
	return func(b *Bootstrapper) {
		if clock != nil {
			b.clock = clock
		}
	}
}

// New creates a bootstrapper writing into cache.
func New(cache *store.Store, fetcher mirror.Fetcher, options ...Option) *Bootstrapper {
	bootstrapper := &Bootstrapper{
		store:       cache,
		fetcher:     fetcher,
		concurrency: defaultConcurrency,
		logger:      slog.Default(),
		clock:       time.Now,
	}
	for _, option := range options {
		option(bootstrapper)
	}

	return bootstrapper
}

// Bootstrap ingests snapshot. A failed self lookup wraps
// mirror.ErrBootstrapFatal; failed member hydration is reported per server
// in the returned report and does not fail the call.
func (b *Bootstrapper) Bootstrap(ctx context.Context, snapshot mirror.ReadySnapshot) (mirror.BootstrapReport, error) {
	started := b.clock()
	if b.fetcher == nil {
		return mirror.BootstrapReport{}, fmt.Errorf("bootstrap: no fetcher: %w", mirror.ErrBootstrapFatal)
	}

	self, err := b.fetcher.FetchSelf(ctx)
	if err != nil {
		return mirror.BootstrapReport{}, fmt.Errorf("bootstrap fetch self: %w: %w", mirror.ErrBootstrapFatal, err)
	}

	if err := b.ingest(self, snapshot); err != nil {
		return mirror.BootstrapReport{}, fmt.Errorf("bootstrap ingest: %w: %w", mirror.ErrBootstrapFatal, err)
	}

	tally := &hydration{}
	var group errgroup.Group
	group.SetLimit(b.concurrency)
	for _, server := range snapshot.Servers {
		serverID := server.ID
		group.Go(func() error {
			if err := b.hydrateServer(ctx, serverID); err != nil {
				tally.fail(&mirror.BootstrapPartialError{ServerID: serverID, Err: err})
				b.logger.WarnContext(ctx, "server hydration failed", "server_id", serverID, "error", err)
			}
			return nil
		})
	}
	_ = group.Wait()

	stats := b.store.Stats()

	return mirror.BootstrapReport{
		Self:     self,
		Servers:  stats.Servers,
		Channels: stats.Channels,
		Roles:    stats.Roles,
		Emojis:   stats.Emojis,
		Members:  stats.Members,
		Users:    stats.Users,
		Failures: tally.sortedFailures(),
		Skipped:  snapshot.Skipped,
		Elapsed:  b.clock().Sub(started),
	}, nil
}

// ingest writes the snapshot in one transaction so readers never observe a
// half-populated cache.
func (b *Bootstrapper) ingest(self mirror.User, snapshot mirror.ReadySnapshot) error {
	return b.store.Update(func(tx *store.Tx) error {
		for _, user := range snapshot.Users {
			tx.Users.Set(user.ID, user)
		}
		tx.SetSelf(self)
		for _, server := range snapshot.Servers {
			tx.Servers.Set(server.ID, server)
		}
		for _, role := range snapshot.Roles {
			tx.Roles.Set(role.Key(), role)
		}
		for _, channel := range snapshot.Channels {
			tx.Channels.Set(channel.ChannelID(), channel)
		}
		for _, member := range snapshot.Members {
			tx.Members.Set(member.ID, member)
		}
		for _, emoji := range snapshot.Emojis {
			tx.Emojis.Set(emoji.ID, emoji)
		}

		return nil
	})
}

// hydrateServer fetches one server's members, then every member's user that
// is not cached yet. User lookups are shared across servers.
func (b *Bootstrapper) hydrateServer(ctx context.Context, serverID string) error {
	members, err := b.fetcher.FetchMembers(ctx, serverID)
	if err != nil {
		return fmt.Errorf("fetch members: %w", err)
	}

	var missing []string
	err = b.store.Update(func(tx *store.Tx) error {
		for _, member := range members {
			member.ID.ServerID = serverID
			tx.Members.Set(member.ID, member)
			if _, cached := tx.Users.Get(member.ID.UserID); !cached {
				missing = append(missing, member.ID.UserID)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	var userErrs []error
	for _, userID := range missing {
		_, err, _ := b.users.Do(userID, func() (any, error) {
			return nil, b.fetchUser(ctx, userID)
		})
		if err != nil {
			userErrs = append(userErrs, fmt.Errorf("fetch user %s: %w", userID, err))
		}
	}

	return errors.Join(userErrs...)
}

// fetchUser stores userID's account unless another server's hydration
// already did.
func (b *Bootstrapper) fetchUser(ctx context.Context, userID string) error {
	var cached bool
	_ = b.store.View(func(tx *store.ReadTx) error {
		_, cached = tx.Users.Get(userID)
		return nil
	})
	if cached {
		return nil
	}

	user, err := b.fetcher.FetchUser(ctx, userID)
	if err != nil {
		return err
	}

	return b.store.Update(func(tx *store.Tx) error {
		if _, found := tx.Users.Get(user.ID); !found {
			tx.Users.Set(user.ID, user)
		}
		return nil
	})
}

// hydration collects failures across server goroutines.
type hydration struct {
	mu       sync.Mutex
	failures []*mirror.BootstrapPartialError
}

func (h *hydration) fail(failure *mirror.BootstrapPartialError) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.failures = append(h.failures, failure)
}

func (h *hydration) sortedFailures() []*mirror.BootstrapPartialError {
	h.mu.Lock()
	defer h.mu.Unlock()

	failures := slices.Clone(h.failures)
	slices.SortFunc(failures, func(a, b *mirror.BootstrapPartialError) int {
		return cmp.Compare(a.ServerID, b.ServerID)
	})

	return failures
}
