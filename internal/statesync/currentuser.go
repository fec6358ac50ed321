package statesync

import (
	"context"

	"github.com/tbalsam/ripple/internal/wire"
)

// CurrentUserSpec syncs the scalar record describing the principal itself.
// It is never expanded item-by-item, so InnerHashKey is empty and the
// collection always holds exactly one item under CurrentUserKey.
type CurrentUserSpec struct {
	store Store
}

// NewCurrentUserSpec creates the current-user spec over the given store.
func NewCurrentUserSpec(store Store) *CurrentUserSpec {
	return &CurrentUserSpec{store: store}
}

func (s *CurrentUserSpec) HashKey() string      { return "currentUserInfo" }
func (s *CurrentUserSpec) InnerHashKey() string { return "" }

func (s *CurrentUserSpec) FetchAll(ctx context.Context, p Principal) (Collection, error) {
	info, err := s.store.GetCurrentUserInfo(ctx, p.UserID())
	if err != nil {
		return nil, err
	}
	return Collection{CurrentUserKey: info}, nil
}

func (s *CurrentUserSpec) FetchByIDs(ctx context.Context, p Principal, ids []string) (Collection, error) {
	return s.FetchAll(ctx, p)
}

func (s *CurrentUserSpec) FetchFullSnapshot(ctx context.Context, p Principal, query wire.CalendarQuery) (Collection, error) {
	return s.FetchAll(ctx, p)
}

func (s *CurrentUserSpec) ApplyRepair(changes *wire.StateChanges, item any) {
	if info, ok := item.(wire.CurrentUserInfo); ok {
		changes.CurrentUserInfo = &info
	}
}

// ApplyDeletion is a no-op: the current user cannot be deleted out from
// under its own session, a mismatch is always repaired with a fresh copy.
func (s *CurrentUserSpec) ApplyDeletion(changes *wire.StateChanges, id string) {}
