package statesync

import (
	"context"

	"github.com/tbalsam/ripple/internal/wire"
)

// UsersSpec syncs the set of users known to the principal, meaning every
// user they share a thread with.
type UsersSpec struct {
	store Store
}

// NewUsersSpec creates the user spec over the given store.
func NewUsersSpec(store Store) *UsersSpec {
	return &UsersSpec{store: store}
}

func (s *UsersSpec) HashKey() string      { return "userInfos" }
func (s *UsersSpec) InnerHashKey() string { return "userInfo" }

func (s *UsersSpec) FetchAll(ctx context.Context, p Principal) (Collection, error) {
	userInfos, err := s.store.GetKnownUserInfos(ctx, p.UserID())
	if err != nil {
		return nil, err
	}
	return userCollection(userInfos), nil
}

func (s *UsersSpec) FetchByIDs(ctx context.Context, p Principal, ids []string) (Collection, error) {
	userInfos, err := s.store.GetUserInfosByID(ctx, ids)
	if err != nil {
		return nil, err
	}
	return userCollection(userInfos), nil
}

func (s *UsersSpec) FetchFullSnapshot(ctx context.Context, p Principal, query wire.CalendarQuery) (Collection, error) {
	return s.FetchAll(ctx, p)
}

func (s *UsersSpec) ApplyRepair(changes *wire.StateChanges, item any) {
	if info, ok := item.(wire.UserInfo); ok {
		changes.UserInfos = append(changes.UserInfos, info)
	}
}

func (s *UsersSpec) ApplyDeletion(changes *wire.StateChanges, id string) {
	changes.DeleteUserInfoIDs = append(changes.DeleteUserInfoIDs, id)
}

func userCollection(userInfos map[string]wire.UserInfo) Collection {
	collection := make(Collection, len(userInfos))
	for id, info := range userInfos {
		collection[id] = info
	}
	return collection
}
