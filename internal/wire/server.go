package wire

import "encoding/json"

// ServerMessageType tags outbound socket frames.
type ServerMessageType string

const (
	ServerMessageStateSync              ServerMessageType = "STATE_SYNC"
	ServerMessageRequests               ServerMessageType = "REQUESTS"
	ServerMessageError                  ServerMessageType = "ERROR"
	ServerMessageAuthError              ServerMessageType = "AUTH_ERROR"
	ServerMessageActivityUpdateResponse ServerMessageType = "ACTIVITY_UPDATE_RESPONSE"
	ServerMessagePong                   ServerMessageType = "PONG"
	ServerMessageUpdates                ServerMessageType = "UPDATES"
	ServerMessageMessages               ServerMessageType = "MESSAGES"
	ServerMessageAPIResponse            ServerMessageType = "API_RESPONSE"
	ServerMessageCompressed             ServerMessageType = "COMPRESSED_MESSAGE"
)

// ServerMessage is one variant of the outbound tagged union. Each concrete
// type marshals with its fixed tag.
type ServerMessage interface {
	ServerMessageType() ServerMessageType
}

// StateSyncType distinguishes full from incremental sync payloads.
type StateSyncType string

const (
	StateSyncFull        StateSyncType = "FULL"
	StateSyncIncremental StateSyncType = "INCREMENTAL"
)

// FullStateSyncPayload is a complete snapshot of all tracked state.
type FullStateSyncPayload struct {
	Type               StateSyncType         `json:"type"`
	MessagesResult     MessagesResult        `json:"messagesResult"`
	ThreadInfos        map[string]ThreadInfo `json:"threadInfos"`
	CurrentUserInfo    CurrentUserInfo       `json:"currentUserInfo"`
	RawEntryInfos      []EntryInfo           `json:"rawEntryInfos"`
	UserInfos          []UserInfo            `json:"userInfos"`
	UpdatesCurrentAsOf int64                 `json:"updatesCurrentAsOf"`
	// SessionID is set iff the server replaced the client's session.
	SessionID string `json:"sessionID,omitempty"`
}

// IncrementalStateSyncPayload carries only the delta since a known-good
// watermark.
type IncrementalStateSyncPayload struct {
	Type            StateSyncType `json:"type"`
	MessagesResult  MessagesResult `json:"messagesResult"`
	UpdatesResult   UpdatesResult  `json:"updatesResult"`
	DeltaEntryInfos []EntryInfo    `json:"deltaEntryInfos"`
	DeletedEntryIDs []string       `json:"deletedEntryIDs"`
	UserInfos       []UserInfo     `json:"userInfos"`
}

// StateSyncMessage answers an INITIAL frame.
type StateSyncMessage struct {
	Type       ServerMessageType `json:"type"`
	ResponseTo int64             `json:"responseTo"`
	// Payload is a FullStateSyncPayload or IncrementalStateSyncPayload.
	Payload any `json:"payload"`
}

func (m StateSyncMessage) ServerMessageType() ServerMessageType { return ServerMessageStateSync }

// NewStateSyncMessage builds a STATE_SYNC frame.
func NewStateSyncMessage(responseTo int64, payload any) StateSyncMessage {
	return StateSyncMessage{Type: ServerMessageStateSync, ResponseTo: responseTo, Payload: payload}
}

// RequestsMessage carries server requests; ResponseTo is nil for requests
// initiated by the server rather than answering a client frame.
type RequestsMessage struct {
	Type       ServerMessageType `json:"type"`
	ResponseTo *int64            `json:"responseTo,omitempty"`
	Payload    RequestsPayload   `json:"payload"`
}

// RequestsPayload wraps the request list.
type RequestsPayload struct {
	ServerRequests []ServerRequest `json:"serverRequests"`
}

func (m RequestsMessage) ServerMessageType() ServerMessageType { return ServerMessageRequests }

// NewRequestsMessage builds a REQUESTS frame answering a client frame.
func NewRequestsMessage(responseTo int64, requests []ServerRequest) RequestsMessage {
	return RequestsMessage{
		Type:       ServerMessageRequests,
		ResponseTo: &responseTo,
		Payload:    RequestsPayload{ServerRequests: requests},
	}
}

// NewUnsolicitedRequestsMessage builds a server-initiated REQUESTS frame.
func NewUnsolicitedRequestsMessage(requests []ServerRequest) RequestsMessage {
	return RequestsMessage{
		Type:    ServerMessageRequests,
		Payload: RequestsPayload{ServerRequests: requests},
	}
}

// ErrorMessage reports a recoverable or fatal protocol error.
type ErrorMessage struct {
	Type       ServerMessageType `json:"type"`
	ResponseTo *int64            `json:"responseTo,omitempty"`
	Message    string            `json:"message"`
	Payload    any               `json:"payload,omitempty"`
}

func (m ErrorMessage) ServerMessageType() ServerMessageType { return ServerMessageError }

// NewErrorMessage builds an ERROR frame. responseTo may be nil when the
// offending frame could not be parsed far enough to recover its id.
func NewErrorMessage(responseTo *int64, message string, payload any) ErrorMessage {
	return ErrorMessage{Type: ServerMessageError, ResponseTo: responseTo, Message: message, Payload: payload}
}

// AuthErrorMessage reports a fatal credential failure, optionally carrying a
// replacement anonymous credential.
type AuthErrorMessage struct {
	Type          ServerMessageType `json:"type"`
	ResponseTo    int64             `json:"responseTo"`
	Message       string            `json:"message"`
	SessionChange *SessionChange    `json:"sessionChange,omitempty"`
}

func (m AuthErrorMessage) ServerMessageType() ServerMessageType { return ServerMessageAuthError }

// ActivityUpdateResponseMessage acks activity updates sent in client
// responses.
type ActivityUpdateResponseMessage struct {
	Type       ServerMessageType    `json:"type"`
	ResponseTo int64                `json:"responseTo"`
	Payload    UpdateActivityResult `json:"payload"`
}

func (m ActivityUpdateResponseMessage) ServerMessageType() ServerMessageType {
	return ServerMessageActivityUpdateResponse
}

// PongMessage answers a PING.
type PongMessage struct {
	Type       ServerMessageType `json:"type"`
	ResponseTo int64             `json:"responseTo"`
}

func (m PongMessage) ServerMessageType() ServerMessageType { return ServerMessagePong }

// NewPongMessage builds a PONG frame.
func NewPongMessage(responseTo int64) PongMessage {
	return PongMessage{Type: ServerMessagePong, ResponseTo: responseTo}
}

// UpdatesMessage pushes externally produced updates to the client.
type UpdatesMessage struct {
	Type    ServerMessageType `json:"type"`
	Payload UpdatesPayload    `json:"payload"`
}

// UpdatesPayload wraps an updates result plus the users it references.
type UpdatesPayload struct {
	UpdatesResult UpdatesResult `json:"updatesResult"`
	UserInfos     []UserInfo    `json:"userInfos"`
}

func (m UpdatesMessage) ServerMessageType() ServerMessageType { return ServerMessageUpdates }

// MessagesMessage pushes externally produced chat messages to the client.
type MessagesMessage struct {
	Type    ServerMessageType `json:"type"`
	Payload MessagesPayload   `json:"payload"`
}

// MessagesPayload wraps a messages result.
type MessagesPayload struct {
	MessagesResult MessagesResult `json:"messagesResult"`
}

func (m MessagesMessage) ServerMessageType() ServerMessageType { return ServerMessageMessages }

// APIResponseMessage answers an API_REQUEST frame.
type APIResponseMessage struct {
	Type       ServerMessageType `json:"type"`
	ResponseTo int64             `json:"responseTo"`
	Payload    any               `json:"payload"`
}

func (m APIResponseMessage) ServerMessageType() ServerMessageType { return ServerMessageAPIResponse }

// CompressedMessage wraps another server message whose serialized form
// benefited from compression.
type CompressedMessage struct {
	Type    ServerMessageType `json:"type"`
	Payload CompressedPayload `json:"payload"`
}

// CompressedPayload carries the compressed bytes of a serialized frame.
type CompressedPayload struct {
	Algo string `json:"algo"`
	Data string `json:"data"`
}

func (m CompressedMessage) ServerMessageType() ServerMessageType { return ServerMessageCompressed }

// EncodeServerMessage serializes an outbound frame.
func EncodeServerMessage(message ServerMessage) ([]byte, error) {
	return json.Marshal(message)
}
