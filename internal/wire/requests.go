package wire

import (
	"encoding/json"
	"fmt"
)

// ServerRequestType tags both server requests and the client responses that
// answer them.
type ServerRequestType string

const (
	RequestPlatform               ServerRequestType = "PLATFORM"
	RequestPlatformDetails        ServerRequestType = "PLATFORM_DETAILS"
	RequestThreadInconsistency    ServerRequestType = "THREAD_INCONSISTENCY"
	RequestEntryInconsistency     ServerRequestType = "ENTRY_INCONSISTENCY"
	RequestInitialActivityUpdates ServerRequestType = "INITIAL_ACTIVITY_UPDATES"
	RequestCheckState             ServerRequestType = "CHECK_STATE"
	RequestSignedIdentityKeysBlob ServerRequestType = "SIGNED_IDENTITY_KEYS_BLOB"
	RequestMoreOneTimeKeys        ServerRequestType = "MORE_ONE_TIME_KEYS"
)

// ClientResponse is one variant of the client-response tagged union. A
// response whose tag the server does not recognize is carried through with
// only Type set; the processor tolerates and skips it.
type ClientResponse struct {
	Type ServerRequestType

	// RequestPlatform
	Platform string

	// RequestPlatformDetails
	PlatformDetails *PlatformDetails

	// RequestThreadInconsistency / RequestEntryInconsistency
	InconsistencyReport json.RawMessage

	// RequestInitialActivityUpdates
	ActivityUpdates []ActivityUpdate

	// RequestCheckState
	HashResults map[string]bool

	// RequestSignedIdentityKeysBlob
	SignedIdentityKeysBlob *SignedIdentityKeysBlob

	// RequestMoreOneTimeKeys
	OneTimeKeys []string

	// Known reports whether the tag was recognized at parse time.
	Known bool
}

type rawClientResponse struct {
	Type                   *ServerRequestType      `json:"type"`
	Platform               string                  `json:"platform"`
	PlatformDetails        *PlatformDetails        `json:"platformDetails"`
	ActivityUpdates        []ActivityUpdate        `json:"activityUpdates"`
	HashResults            map[string]bool         `json:"hashResults"`
	SignedIdentityKeysBlob *SignedIdentityKeysBlob `json:"signedIdentityKeysBlob"`
	OneTimeKeys            []string                `json:"keys"`
}

func parseClientResponses(raws []json.RawMessage) ([]ClientResponse, error) {
	responses := make([]ClientResponse, 0, len(raws))
	for _, data := range raws {
		response, err := parseClientResponse(data)
		if err != nil {
			return nil, err
		}
		responses = append(responses, response)
	}
	return responses, nil
}

// parseClientResponse validates a single client response. Known tags are
// checked against their exact schema; unknown tags are preserved unvalidated
// so newer clients can send responses this server version ignores.
func parseClientResponse(data []byte) (ClientResponse, error) {
	var raw rawClientResponse
	if err := json.Unmarshal(data, &raw); err != nil {
		return ClientResponse{}, fmt.Errorf("malformed client response: %w", err)
	}
	if raw.Type == nil {
		return ClientResponse{}, fmt.Errorf("client response missing type")
	}
	response := ClientResponse{Type: *raw.Type, Known: true}
	switch *raw.Type {
	case RequestPlatform:
		if raw.Platform == "" {
			return ClientResponse{}, fmt.Errorf("PLATFORM response missing platform")
		}
		response.Platform = raw.Platform
	case RequestPlatformDetails:
		if raw.PlatformDetails == nil || raw.PlatformDetails.Platform == "" {
			return ClientResponse{}, fmt.Errorf("PLATFORM_DETAILS response missing platformDetails")
		}
		response.PlatformDetails = raw.PlatformDetails
	case RequestThreadInconsistency, RequestEntryInconsistency:
		response.InconsistencyReport = append(json.RawMessage(nil), data...)
	case RequestInitialActivityUpdates:
		response.ActivityUpdates = raw.ActivityUpdates
	case RequestCheckState:
		if raw.HashResults == nil {
			return ClientResponse{}, fmt.Errorf("CHECK_STATE response missing hashResults")
		}
		response.HashResults = raw.HashResults
	case RequestSignedIdentityKeysBlob:
		if raw.SignedIdentityKeysBlob == nil ||
			raw.SignedIdentityKeysBlob.Payload == "" ||
			raw.SignedIdentityKeysBlob.Signature == "" {
			return ClientResponse{}, fmt.Errorf("SIGNED_IDENTITY_KEYS_BLOB response incomplete")
		}
		response.SignedIdentityKeysBlob = raw.SignedIdentityKeysBlob
	case RequestMoreOneTimeKeys:
		if len(raw.OneTimeKeys) == 0 {
			return ClientResponse{}, fmt.Errorf("MORE_ONE_TIME_KEYS response missing keys")
		}
		response.OneTimeKeys = raw.OneTimeKeys
	default:
		response.Known = false
	}
	return response, nil
}

// ServerRequest is a server-to-client request delivered in a REQUESTS frame.
type ServerRequest struct {
	Type ServerRequestType `json:"type"`

	// CHECK_STATE only.
	HashesToCheck   HashesToCheck   `json:"hashesToCheck,omitempty"`
	FailUnmentioned map[string]bool `json:"failUnmentioned,omitempty"`
	StateChanges    *StateChanges   `json:"stateChanges,omitempty"`
}
