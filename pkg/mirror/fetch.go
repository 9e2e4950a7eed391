package mirror

import "context"

// Fetcher is the REST surface the cache needs for bootstrap and joins.
type Fetcher interface {
	// FetchSelf returns the authenticated account.
	FetchSelf(ctx context.Context) (User, error)
	// FetchMembers lists every member of one server.
	FetchMembers(ctx context.Context, serverID string) ([]Member, error)
	// FetchUser returns one user.
	FetchUser(ctx context.Context, userID string) (User, error)
	// FetchMember returns one membership.
	FetchMember(ctx context.Context, serverID, userID string) (Member, error)
}
