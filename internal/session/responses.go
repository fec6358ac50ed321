package session

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/tbalsam/ripple/internal/crypto"
	"github.com/tbalsam/ripple/internal/logger"
	"github.com/tbalsam/ripple/internal/models"
	"github.com/tbalsam/ripple/internal/wire"
)

// ProcessClientResponsesResult aggregates what a batch of client responses
// produced: follow-up server requests, an optional state-check trigger and
// the outcome of any activity updates.
type ProcessClientResponsesResult struct {
	ServerRequests       []wire.ServerRequest
	StateCheckStatus     *StateCheckStatus
	ActivityUpdateResult *wire.UpdateActivityResult
}

// ProcessClientResponses applies a batch of client responses. Responses
// with unknown tags are skipped so newer clients keep working. A malformed
// but known response never reaches this point, wire parsing rejects it.
func (m *Manager) ProcessClientResponses(ctx context.Context, viewer *Viewer, responses []wire.ClientResponse) (ProcessClientResponsesResult, error) {
	result := ProcessClientResponsesResult{}
	now := m.now().UnixMilli()

	missingPlatform := viewer.cookie.Platform == ""
	missingPlatformDetails := viewer.cookie.PlatformDetails == nil

	clientSentPlatformDetails := false
	for _, response := range responses {
		if response.Type == wire.RequestPlatformDetails {
			clientSentPlatformDetails = true
		}
	}

	var activityUpdates []wire.ActivityUpdate
	for _, response := range responses {
		if !response.Known {
			logger.Debugf("skipping client response with unknown tag %q", response.Type)
			continue
		}
		switch response.Type {
		case wire.RequestPlatform:
			// PLATFORM_DETAILS supersedes PLATFORM when both are present.
			if clientSentPlatformDetails {
				continue
			}
			if err := m.store.SetCookiePlatform(ctx, viewer.CookieID(), response.Platform); err != nil {
				return result, err
			}
			viewer.cookie.Platform = response.Platform
			missingPlatform = false

		case wire.RequestPlatformDetails:
			details := *response.PlatformDetails
			if err := m.store.SetCookiePlatformDetails(ctx, viewer.CookieID(), details); err != nil {
				return result, err
			}
			viewer.cookie.Platform = details.Platform
			viewer.SetPlatformDetails(details)
			missingPlatform = false
			missingPlatformDetails = false

		case wire.RequestThreadInconsistency, wire.RequestEntryInconsistency:
			err := m.store.CreateReport(ctx, models.CreateReportParams{
				ID:        uuid.NewString(),
				UserID:    viewer.UserID(),
				Type:      string(response.Type),
				Report:    response.InconsistencyReport,
				CreatedAt: now,
			})
			if err != nil {
				return result, err
			}

		case wire.RequestInitialActivityUpdates:
			activityUpdates = append(activityUpdates, response.ActivityUpdates...)

		case wire.RequestCheckState:
			var invalidKeys []string
			for key, matched := range response.HashResults {
				if !matched {
					invalidKeys = append(invalidKeys, key)
				}
			}
			status := StateCheckStatus{State: StateValidated}
			if len(invalidKeys) > 0 {
				status = StateCheckStatus{State: StateInvalid, InvalidKeys: invalidKeys}
			}
			result.StateCheckStatus = &status

		case wire.RequestSignedIdentityKeysBlob:
			blob := *response.SignedIdentityKeysBlob
			valid, err := crypto.VerifySignedIdentityKeysBlob(blob.Payload, blob.Signature)
			if err != nil || !valid {
				logger.Warnf("rejecting signed identity keys blob for cookie %s: %v", viewer.CookieID(), err)
				continue
			}
			if err := m.store.SetCookieSignedIdentityKeysBlob(ctx, viewer.CookieID(), blob); err != nil {
				return result, err
			}
			viewer.cookie.SignedIdentityKeysBlob = &blob

		case wire.RequestMoreOneTimeKeys:
			if err := m.store.CreateOneTimeKeys(ctx, viewer.CookieID(), response.OneTimeKeys, now); err != nil {
				return result, err
			}
		}
	}

	if len(activityUpdates) > 0 {
		activityResult, err := m.UpdateActivity(ctx, viewer, activityUpdates)
		if err != nil {
			return result, err
		}
		result.ActivityUpdateResult = &activityResult
	}

	if result.StateCheckStatus == nil && viewer.LoggedIn() &&
		viewer.LastValidated()+StateCheckFrequency.Milliseconds() < now {
		result.StateCheckStatus = &StateCheckStatus{State: StateCheck}
	}

	if missingPlatform {
		result.ServerRequests = append(result.ServerRequests, wire.ServerRequest{Type: wire.RequestPlatform})
	}
	if missingPlatformDetails {
		result.ServerRequests = append(result.ServerRequests, wire.ServerRequest{Type: wire.RequestPlatformDetails})
	}
	requests, err := m.keyMaintenanceRequests(ctx, viewer)
	if err != nil {
		return result, err
	}
	result.ServerRequests = append(result.ServerRequests, requests...)
	return result, nil
}

// keyMaintenanceRequests asks the client for identity material the cookie
// is missing: a signed identity keys blob, or a refill of banked one-time
// keys.
func (m *Manager) keyMaintenanceRequests(ctx context.Context, viewer *Viewer) ([]wire.ServerRequest, error) {
	var requests []wire.ServerRequest
	if !viewer.HasSignedIdentityKeysBlob() {
		requests = append(requests, wire.ServerRequest{Type: wire.RequestSignedIdentityKeysBlob})
		return requests, nil
	}
	count, err := m.store.CountOneTimeKeys(ctx, viewer.CookieID())
	if err != nil {
		return nil, fmt.Errorf("count one-time keys: %w", err)
	}
	if count < oneTimeKeyRefillThreshold {
		requests = append(requests, wire.ServerRequest{Type: wire.RequestMoreOneTimeKeys})
	}
	return requests, nil
}
