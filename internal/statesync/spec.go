// Package statesync defines the per-entity-kind contract that lets four
// unrelated entity kinds (threads, calendar entries, known users, the
// current user) share one consistency-checking and delta-fetch algorithm.
package statesync

import (
	"context"

	"github.com/tbalsam/ripple/internal/wire"
)

// Collection is a fetched set of items keyed by id. Scalar specs (current
// user) use a single well-known key.
type Collection map[string]any

// CurrentUserKey is the sole collection key used by the current-user spec.
const CurrentUserKey = "self"

// Principal is the authenticated identity a fetch acts as.
type Principal interface {
	UserID() string
	// CalendarQuery is the server-recorded query of the principal's
	// session; specs that are query-dependent scope FetchAll to it.
	CalendarQuery() wire.CalendarQuery
}

// Spec is the uniform contract one entity kind exposes to the consistency
// checker and the full-resync builder.
type Spec interface {
	// HashKey is the top-level key for the kind's collection hash.
	HashKey() string
	// InnerHashKey prefixes composite per-item keys ("<kind>|<id>").
	// Empty for scalar kinds, which are never expanded item-by-item.
	InnerHashKey() string
	// FetchAll fetches the principal's complete current set.
	FetchAll(ctx context.Context, p Principal) (Collection, error)
	// FetchByIDs fetches a subset for targeted repair.
	FetchByIDs(ctx context.Context, p Principal, ids []string) (Collection, error)
	// FetchFullSnapshot fetches the set for an initial full sync; for
	// query-dependent kinds it is scoped to the client-declared query
	// rather than the session's recorded one.
	FetchFullSnapshot(ctx context.Context, p Principal, query wire.CalendarQuery) (Collection, error)
	// ApplyRepair adds a still-existing item to the repair payload.
	ApplyRepair(changes *wire.StateChanges, item any)
	// ApplyDeletion marks an id for deletion on the client.
	ApplyDeletion(changes *wire.StateChanges, id string)
}

// Store is the subset of the query layer the built-in specs need.
type Store interface {
	GetThreadInfos(ctx context.Context, userID string) (map[string]wire.ThreadInfo, error)
	GetThreadInfosByID(ctx context.Context, userID string, ids []string) (map[string]wire.ThreadInfo, error)
	GetEntryInfos(ctx context.Context, userID string, query wire.CalendarQuery) ([]wire.EntryInfo, error)
	GetEntryInfosByID(ctx context.Context, userID string, ids []string) ([]wire.EntryInfo, error)
	GetKnownUserInfos(ctx context.Context, userID string) (map[string]wire.UserInfo, error)
	GetUserInfosByID(ctx context.Context, ids []string) (map[string]wire.UserInfo, error)
	GetCurrentUserInfo(ctx context.Context, userID string) (wire.CurrentUserInfo, error)
}

// Specs bundles the four built-in specs in a fixed order.
func Specs(store Store) []Spec {
	return []Spec{
		NewThreadsSpec(store),
		NewEntriesSpec(store),
		NewUsersSpec(store),
		NewCurrentUserSpec(store),
	}
}
