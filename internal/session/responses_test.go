package session

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tbalsam/ripple/internal/models"
	"github.com/tbalsam/ripple/internal/wire"
)

func TestProcessClientResponsesPlatformDetails(t *testing.T) {
	var persisted *wire.PlatformDetails
	store := &fakeStore{
		setCookiePlatformDetails: func(ctx context.Context, id string, details wire.PlatformDetails) error {
			persisted = &details
			return nil
		},
	}
	manager := newTestManager(store, testClock)
	viewer := loggedInViewer("100", "session-1")
	viewer.lastValidated = testClock.UnixMilli()

	result, err := manager.ProcessClientResponses(context.Background(), viewer, []wire.ClientResponse{
		{
			Type:            wire.RequestPlatformDetails,
			PlatformDetails: &wire.PlatformDetails{Platform: "android", CodeVersion: 85},
			Known:           true,
		},
	})
	require.NoError(t, err)
	require.NotNil(t, persisted)
	require.Equal(t, "android", persisted.Platform)
	require.Equal(t, 85, viewer.PlatformDetails().CodeVersion)
	require.Empty(t, result.ServerRequests)
	require.Nil(t, result.StateCheckStatus)
}

func TestProcessClientResponsesPlatformSupersededByDetails(t *testing.T) {
	platformCalls := 0
	store := &fakeStore{
		setCookiePlatform: func(ctx context.Context, id, platform string) error {
			platformCalls++
			return nil
		},
	}
	manager := newTestManager(store, testClock)
	viewer := loggedInViewer("100", "session-1")
	viewer.lastValidated = testClock.UnixMilli()

	_, err := manager.ProcessClientResponses(context.Background(), viewer, []wire.ClientResponse{
		{Type: wire.RequestPlatform, Platform: "ios", Known: true},
		{
			Type:            wire.RequestPlatformDetails,
			PlatformDetails: &wire.PlatformDetails{Platform: "ios", CodeVersion: 85},
			Known:           true,
		},
	})
	require.NoError(t, err)
	require.Zero(t, platformCalls)
}

func TestProcessClientResponsesRecordsInconsistencyReports(t *testing.T) {
	var reports []models.CreateReportParams
	store := &fakeStore{
		createReport: func(ctx context.Context, arg models.CreateReportParams) error {
			reports = append(reports, arg)
			return nil
		},
	}
	manager := newTestManager(store, testClock)
	viewer := loggedInViewer("100", "session-1")
	viewer.lastValidated = testClock.UnixMilli()

	report := json.RawMessage(`{"type":"THREAD_INCONSISTENCY","beforeAction":{}}`)
	_, err := manager.ProcessClientResponses(context.Background(), viewer, []wire.ClientResponse{
		{Type: wire.RequestThreadInconsistency, InconsistencyReport: report, Known: true},
	})
	require.NoError(t, err)
	require.Len(t, reports, 1)
	require.Equal(t, string(wire.RequestThreadInconsistency), reports[0].Type)
	require.Equal(t, "100", reports[0].UserID)
}

func TestProcessClientResponsesActivityUpdates(t *testing.T) {
	store := &fakeStore{
		updateActivity: func(ctx context.Context, arg models.UpdateActivityParams) (wire.UpdateActivityResult, error) {
			require.Equal(t, "100", arg.UserID)
			require.Len(t, arg.Updates, 2)
			return wire.UpdateActivityResult{UnfocusedToUnread: []string{"8001"}}, nil
		},
	}
	manager := newTestManager(store, testClock)
	viewer := loggedInViewer("100", "session-1")
	viewer.lastValidated = testClock.UnixMilli()

	result, err := manager.ProcessClientResponses(context.Background(), viewer, []wire.ClientResponse{
		{
			Type: wire.RequestInitialActivityUpdates,
			ActivityUpdates: []wire.ActivityUpdate{
				{Focus: true, ThreadID: "8000"},
				{Focus: false, ThreadID: "8001"},
			},
			Known: true,
		},
	})
	require.NoError(t, err)
	require.NotNil(t, result.ActivityUpdateResult)
	require.Equal(t, []string{"8001"}, result.ActivityUpdateResult.UnfocusedToUnread)
}

func TestProcessClientResponsesCheckStateHashResults(t *testing.T) {
	manager := newTestManager(&fakeStore{}, testClock)
	viewer := loggedInViewer("100", "session-1")
	viewer.lastValidated = testClock.UnixMilli()

	result, err := manager.ProcessClientResponses(context.Background(), viewer, []wire.ClientResponse{
		{
			Type:        wire.RequestCheckState,
			HashResults: map[string]bool{"threadInfos": true, "entryInfos": false},
			Known:       true,
		},
	})
	require.NoError(t, err)
	require.NotNil(t, result.StateCheckStatus)
	require.Equal(t, StateInvalid, result.StateCheckStatus.State)
	require.Equal(t, []string{"entryInfos"}, result.StateCheckStatus.InvalidKeys)

	result, err = manager.ProcessClientResponses(context.Background(), viewer, []wire.ClientResponse{
		{
			Type:        wire.RequestCheckState,
			HashResults: map[string]bool{"threadInfos": true},
			Known:       true,
		},
	})
	require.NoError(t, err)
	require.NotNil(t, result.StateCheckStatus)
	require.Equal(t, StateValidated, result.StateCheckStatus.State)
}

func TestProcessClientResponsesSchedulesPeriodicCheck(t *testing.T) {
	manager := newTestManager(&fakeStore{}, testClock)
	viewer := loggedInViewer("100", "session-1")
	viewer.lastValidated = testClock.Add(-StateCheckFrequency - 1).UnixMilli()

	result, err := manager.ProcessClientResponses(context.Background(), viewer, nil)
	require.NoError(t, err)
	require.NotNil(t, result.StateCheckStatus)
	require.Equal(t, StateCheck, result.StateCheckStatus.State)
}

func TestProcessClientResponsesSkipsUnknownTags(t *testing.T) {
	manager := newTestManager(&fakeStore{}, testClock)
	viewer := loggedInViewer("100", "session-1")
	viewer.lastValidated = testClock.UnixMilli()

	result, err := manager.ProcessClientResponses(context.Background(), viewer, []wire.ClientResponse{
		{Type: "FUTURE_RESPONSE_TYPE", Known: false},
	})
	require.NoError(t, err)
	require.Nil(t, result.StateCheckStatus)
	require.Nil(t, result.ActivityUpdateResult)
}

func TestProcessClientResponsesRequestsMissingPlatformInfo(t *testing.T) {
	manager := newTestManager(&fakeStore{}, testClock)
	viewer := anonymousViewer("anon-cookie", "session-1")
	viewer.lastValidated = testClock.UnixMilli()

	result, err := manager.ProcessClientResponses(context.Background(), viewer, nil)
	require.NoError(t, err)

	types := make([]wire.ServerRequestType, 0, len(result.ServerRequests))
	for _, request := range result.ServerRequests {
		types = append(types, request.Type)
	}
	require.Contains(t, types, wire.RequestPlatform)
	require.Contains(t, types, wire.RequestPlatformDetails)
	require.Contains(t, types, wire.RequestSignedIdentityKeysBlob)
}

func TestProcessClientResponsesRequestsKeyRefillWhenLow(t *testing.T) {
	store := &fakeStore{
		countOneTimeKeys: func(ctx context.Context, cookieID string) (int, error) {
			return 1, nil
		},
	}
	manager := newTestManager(store, testClock)
	viewer := loggedInViewer("100", "session-1")
	viewer.lastValidated = testClock.UnixMilli()

	result, err := manager.ProcessClientResponses(context.Background(), viewer, nil)
	require.NoError(t, err)
	require.Len(t, result.ServerRequests, 1)
	require.Equal(t, wire.RequestMoreOneTimeKeys, result.ServerRequests[0].Type)
}

func TestProcessClientResponsesBanksOneTimeKeys(t *testing.T) {
	var banked []string
	store := &fakeStore{
		createOneTimeKeys: func(ctx context.Context, cookieID string, keys []string, now int64) error {
			banked = keys
			return nil
		},
	}
	manager := newTestManager(store, testClock)
	viewer := loggedInViewer("100", "session-1")
	viewer.lastValidated = testClock.UnixMilli()

	_, err := manager.ProcessClientResponses(context.Background(), viewer, []wire.ClientResponse{
		{Type: wire.RequestMoreOneTimeKeys, OneTimeKeys: []string{"k1", "k2"}, Known: true},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"k1", "k2"}, banked)
}
