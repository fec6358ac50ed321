package statesync

import (
	"context"

	"github.com/tbalsam/ripple/internal/wire"
)

// EntriesSpec syncs calendar entries. Unlike the other kinds its universe
// depends on a calendar query, so full-sync fetches are scoped to the
// client-declared query while consistency checks use the session's one.
type EntriesSpec struct {
	store Store
}

// NewEntriesSpec creates the entry spec over the given store.
func NewEntriesSpec(store Store) *EntriesSpec {
	return &EntriesSpec{store: store}
}

func (s *EntriesSpec) HashKey() string      { return "entryInfos" }
func (s *EntriesSpec) InnerHashKey() string { return "entryInfo" }

func (s *EntriesSpec) FetchAll(ctx context.Context, p Principal) (Collection, error) {
	entryInfos, err := s.store.GetEntryInfos(ctx, p.UserID(), p.CalendarQuery())
	if err != nil {
		return nil, err
	}
	return entryCollection(entryInfos), nil
}

func (s *EntriesSpec) FetchByIDs(ctx context.Context, p Principal, ids []string) (Collection, error) {
	entryInfos, err := s.store.GetEntryInfosByID(ctx, p.UserID(), ids)
	if err != nil {
		return nil, err
	}
	return entryCollection(entryInfos), nil
}

func (s *EntriesSpec) FetchFullSnapshot(ctx context.Context, p Principal, query wire.CalendarQuery) (Collection, error) {
	entryInfos, err := s.store.GetEntryInfos(ctx, p.UserID(), query)
	if err != nil {
		return nil, err
	}
	return entryCollection(entryInfos), nil
}

func (s *EntriesSpec) ApplyRepair(changes *wire.StateChanges, item any) {
	if info, ok := item.(wire.EntryInfo); ok {
		changes.RawEntryInfos = append(changes.RawEntryInfos, info)
	}
}

func (s *EntriesSpec) ApplyDeletion(changes *wire.StateChanges, id string) {
	changes.DeleteEntryIDs = append(changes.DeleteEntryIDs, id)
}

func entryCollection(entryInfos []wire.EntryInfo) Collection {
	collection := make(Collection, len(entryInfos))
	for _, info := range entryInfos {
		collection[info.ID] = info
	}
	return collection
}
