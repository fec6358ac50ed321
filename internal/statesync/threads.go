package statesync

import (
	"context"

	"github.com/tbalsam/ripple/internal/wire"
)

// ThreadsSpec syncs chat thread records.
type ThreadsSpec struct {
	store Store
}

// NewThreadsSpec creates the thread spec over the given store.
func NewThreadsSpec(store Store) *ThreadsSpec {
	return &ThreadsSpec{store: store}
}

func (s *ThreadsSpec) HashKey() string      { return "threadInfos" }
func (s *ThreadsSpec) InnerHashKey() string { return "threadInfo" }

func (s *ThreadsSpec) FetchAll(ctx context.Context, p Principal) (Collection, error) {
	threadInfos, err := s.store.GetThreadInfos(ctx, p.UserID())
	if err != nil {
		return nil, err
	}
	return threadCollection(threadInfos), nil
}

func (s *ThreadsSpec) FetchByIDs(ctx context.Context, p Principal, ids []string) (Collection, error) {
	threadInfos, err := s.store.GetThreadInfosByID(ctx, p.UserID(), ids)
	if err != nil {
		return nil, err
	}
	return threadCollection(threadInfos), nil
}

func (s *ThreadsSpec) FetchFullSnapshot(ctx context.Context, p Principal, query wire.CalendarQuery) (Collection, error) {
	return s.FetchAll(ctx, p)
}

func (s *ThreadsSpec) ApplyRepair(changes *wire.StateChanges, item any) {
	if info, ok := item.(wire.ThreadInfo); ok {
		changes.RawThreadInfos = append(changes.RawThreadInfos, info)
	}
}

func (s *ThreadsSpec) ApplyDeletion(changes *wire.StateChanges, id string) {
	changes.DeleteThreadIDs = append(changes.DeleteThreadIDs, id)
}

func threadCollection(threadInfos map[string]wire.ThreadInfo) Collection {
	collection := make(Collection, len(threadInfos))
	for id, info := range threadInfos {
		collection[id] = info
	}
	return collection
}
