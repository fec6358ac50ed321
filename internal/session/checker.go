package session

import (
	"context"
	"fmt"
	"strings"

	"github.com/tbalsam/ripple/internal/models"
	"github.com/tbalsam/ripple/internal/statesync"
	"github.com/tbalsam/ripple/internal/wire"
)

const (
	threadsHashKey     = "threadInfos"
	entriesHashKey     = "entryInfos"
	usersHashKey       = "userInfos"
	currentUserHashKey = "currentUserInfo"
)

// StateCheckState classifies where a consistency-check round stands.
type StateCheckState string

const (
	// StateValidated means the client's hashes matched everything checked.
	StateValidated StateCheckState = "state_validated"
	// StateCheck means a proactive round should start with one hash per
	// collection.
	StateCheck StateCheckState = "state_check"
	// StateInvalid means the client reported mismatched keys.
	StateInvalid StateCheckState = "state_invalid"
)

// StateCheckStatus is the input to a consistency-check round.
type StateCheckStatus struct {
	State       StateCheckState
	InvalidKeys []string
}

// StateCheckResult is what a round produced: a follow-up CHECK_STATE
// request, a session update, or both.
type StateCheckResult struct {
	CheckStateRequest *wire.ServerRequest
	SessionUpdate     *models.SessionUpdate
}

// CheckState drives one round of the hash-based drift-detection protocol.
//
// A validated round just advances lastValidated. A proactive round hashes
// each collection whole and asks the client to compare. An invalid round
// narrows down: mismatched collections expand to per-item hashes with the
// collection marked fail-unmentioned, mismatched items resolve to repairs
// or deletions, and the scalar current-user key is repaired directly. When
// narrowing leaves nothing further to check the session is re-validated
// immediately instead of waiting for another client round trip.
func (m *Manager) CheckState(ctx context.Context, viewer *Viewer, status StateCheckStatus) (StateCheckResult, error) {
	switch status.State {
	case StateValidated:
		return m.validatedResult(), nil
	case StateCheck:
		request, err := m.proactiveCheckRequest(ctx, viewer)
		if err != nil {
			return StateCheckResult{}, err
		}
		return StateCheckResult{CheckStateRequest: request}, nil
	}
	return m.resolveInvalidKeys(ctx, viewer, status.InvalidKeys)
}

func (m *Manager) validatedResult() StateCheckResult {
	now := m.now().UnixMilli()
	return StateCheckResult{SessionUpdate: &models.SessionUpdate{LastValidated: &now}}
}

func (m *Manager) proactiveCheckRequest(ctx context.Context, viewer *Viewer) (*wire.ServerRequest, error) {
	hashesToCheck := wire.HashesToCheck{}
	for _, spec := range m.specs {
		collection, err := spec.FetchAll(ctx, viewer)
		if err != nil {
			return nil, fmt.Errorf("fetch %s: %w", spec.HashKey(), err)
		}
		collectionHash, err := statesync.HashCollection(collection)
		if err != nil {
			return nil, err
		}
		hashesToCheck[spec.HashKey()] = collectionHash
	}
	return &wire.ServerRequest{
		Type:          wire.RequestCheckState,
		HashesToCheck: hashesToCheck,
	}, nil
}

func (m *Manager) resolveInvalidKeys(ctx context.Context, viewer *Viewer, invalidKeys []string) (StateCheckResult, error) {
	specPerHashKey := map[string]statesync.Spec{}
	specPerInnerHashKey := map[string]statesync.Spec{}
	for _, spec := range m.specs {
		specPerHashKey[spec.HashKey()] = spec
		if inner := spec.InnerHashKey(); inner != "" {
			specPerInnerHashKey[inner] = spec
		}
	}

	// One fetch per spec: whole collection for collection-level failures,
	// the failed subset otherwise.
	fetchAll := map[string]bool{}
	idsToFetch := map[string][]string{}
	for _, key := range invalidKeys {
		if _, ok := specPerHashKey[key]; ok {
			fetchAll[key] = true
			continue
		}
		if innerKey, id, ok := splitItemKey(key); ok {
			if spec, known := specPerInnerHashKey[innerKey]; known {
				idsToFetch[spec.HashKey()] = append(idsToFetch[spec.HashKey()], id)
			}
		}
	}
	fetched := map[string]statesync.Collection{}
	for _, spec := range m.specs {
		var (
			collection statesync.Collection
			err        error
		)
		if fetchAll[spec.HashKey()] {
			collection, err = spec.FetchAll(ctx, viewer)
		} else if ids := idsToFetch[spec.HashKey()]; len(ids) > 0 {
			collection, err = spec.FetchByIDs(ctx, viewer, ids)
		} else {
			continue
		}
		if err != nil {
			return StateCheckResult{}, fmt.Errorf("fetch %s: %w", spec.HashKey(), err)
		}
		fetched[spec.HashKey()] = collection
	}

	hashesToCheck := wire.HashesToCheck{}
	failUnmentioned := map[string]bool{}
	stateChanges := wire.StateChanges{}
	for _, key := range invalidKeys {
		if spec, ok := specPerHashKey[key]; ok {
			if spec.InnerHashKey() == "" {
				// Scalar kind: no narrowing possible, repair directly.
				for _, item := range fetched[key] {
					spec.ApplyRepair(&stateChanges, item)
				}
				continue
			}
			// Narrow down which items mismatch before sending content.
			for id, item := range fetched[key] {
				itemHash, err := statesync.HashItem(item)
				if err != nil {
					return StateCheckResult{}, err
				}
				hashesToCheck[spec.InnerHashKey()+"|"+id] = itemHash
			}
			failUnmentioned[key] = true
			continue
		}
		innerKey, id, ok := splitItemKey(key)
		if !ok {
			continue
		}
		spec, known := specPerInnerHashKey[innerKey]
		if !known {
			continue
		}
		if item, exists := fetched[spec.HashKey()][id]; exists {
			spec.ApplyRepair(&stateChanges, item)
		} else {
			spec.ApplyDeletion(&stateChanges, id)
		}
	}

	if err := m.backfillUserInfos(ctx, viewer, &stateChanges); err != nil {
		return StateCheckResult{}, err
	}

	request := &wire.ServerRequest{Type: wire.RequestCheckState}
	if len(hashesToCheck) > 0 {
		request.HashesToCheck = hashesToCheck
	}
	if len(failUnmentioned) > 0 {
		request.FailUnmentioned = failUnmentioned
	}
	if !stateChanges.IsEmpty() {
		request.StateChanges = &stateChanges
	}

	result := StateCheckResult{CheckStateRequest: request}
	if len(hashesToCheck) == 0 {
		validated := m.validatedResult()
		result.SessionUpdate = validated.SessionUpdate
	}
	return result, nil
}

// backfillUserInfos supplies {id, username} for every user referenced by a
// repaired thread or entry. Clients too old to check user-info hashes
// themselves still render user-dependent fields off these records.
func (m *Manager) backfillUserInfos(ctx context.Context, viewer *Viewer, changes *wire.StateChanges) error {
	if viewer.HasMinCodeVersion(userInfosHashCodeVersion) {
		return nil
	}
	referenced := map[string]bool{}
	for _, thread := range changes.RawThreadInfos {
		referenced[thread.CreatorID] = true
		for _, memberID := range thread.MemberIDs {
			referenced[memberID] = true
		}
	}
	for _, entry := range changes.RawEntryInfos {
		referenced[entry.CreatorID] = true
	}
	for _, info := range changes.UserInfos {
		delete(referenced, info.ID)
	}
	if len(referenced) == 0 {
		return nil
	}
	ids := make([]string, 0, len(referenced))
	for id := range referenced {
		ids = append(ids, id)
	}
	userInfos, err := m.store.GetUserInfosByID(ctx, ids)
	if err != nil {
		return fmt.Errorf("backfill user infos: %w", err)
	}
	for _, info := range userInfos {
		changes.UserInfos = append(changes.UserInfos, info)
	}
	return nil
}

// CommitStateCheck persists the session update a check round produced and
// mirrors lastValidated onto the viewer.
func (m *Manager) CommitStateCheck(ctx context.Context, viewer *Viewer, result StateCheckResult) error {
	if result.SessionUpdate == nil || !viewer.LoggedIn() {
		return nil
	}
	if err := m.store.CommitSessionUpdate(ctx, viewer.SessionID(), *result.SessionUpdate); err != nil {
		return fmt.Errorf("commit state check: %w", err)
	}
	if result.SessionUpdate.LastValidated != nil {
		viewer.lastValidated = *result.SessionUpdate.LastValidated
	}
	return nil
}

func splitItemKey(key string) (innerKey, id string, ok bool) {
	innerKey, id, ok = strings.Cut(key, "|")
	if !ok || innerKey == "" || id == "" {
		return "", "", false
	}
	return innerKey, id, true
}
