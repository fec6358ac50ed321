package wire

import (
	"encoding/json"
	"fmt"
)

// ClientMessageType tags inbound socket frames.
type ClientMessageType string

const (
	ClientMessageInitial    ClientMessageType = "INITIAL"
	ClientMessageResponses  ClientMessageType = "RESPONSES"
	ClientMessagePing       ClientMessageType = "PING"
	ClientMessageAckUpdates ClientMessageType = "ACK_UPDATES"
	ClientMessageAPIRequest ClientMessageType = "API_REQUEST"
)

// ClientMessage is one variant of the inbound tagged union. Concrete types
// are InitialMessage, ResponsesMessage, PingMessage, AckUpdatesMessage and
// APIRequestMessage.
type ClientMessage interface {
	MessageID() int64
	MessageType() ClientMessageType
}

// InitialMessage must be the first frame on a connection; it establishes or
// reattaches the session.
type InitialMessage struct {
	ID                    int64
	SessionIdentification SessionIdentification
	SessionState          SessionState
	ClientResponses       []ClientResponse
}

func (m InitialMessage) MessageID() int64               { return m.ID }
func (m InitialMessage) MessageType() ClientMessageType { return ClientMessageInitial }

// ResponsesMessage carries client responses to earlier server requests.
type ResponsesMessage struct {
	ID              int64
	ClientResponses []ClientResponse
}

func (m ResponsesMessage) MessageID() int64               { return m.ID }
func (m ResponsesMessage) MessageType() ClientMessageType { return ClientMessageResponses }

// PingMessage is answered with a PONG and never counts as activity.
type PingMessage struct {
	ID int64
}

func (m PingMessage) MessageID() int64               { return m.ID }
func (m PingMessage) MessageType() ClientMessageType { return ClientMessagePing }

// AckUpdatesMessage advances the session's update watermark.
type AckUpdatesMessage struct {
	ID          int64
	CurrentAsOf int64
}

func (m AckUpdatesMessage) MessageID() int64               { return m.ID }
func (m AckUpdatesMessage) MessageType() ClientMessageType { return ClientMessageAckUpdates }

// APIRequestMessage tunnels a JSON endpoint call over the socket.
type APIRequestMessage struct {
	ID       int64
	Endpoint string
	Input    json.RawMessage
}

func (m APIRequestMessage) MessageID() int64               { return m.ID }
func (m APIRequestMessage) MessageType() ClientMessageType { return ClientMessageAPIRequest }

type rawClientMessage struct {
	Type    *ClientMessageType `json:"type"`
	ID      *int64             `json:"id"`
	Payload json.RawMessage    `json:"payload"`
}

type rawInitialPayload struct {
	SessionIdentification *SessionIdentification `json:"sessionIdentification"`
	SessionState          *SessionState          `json:"sessionState"`
	ClientResponses       []json.RawMessage      `json:"clientResponses"`
}

type rawResponsesPayload struct {
	ClientResponses []json.RawMessage `json:"clientResponses"`
}

type rawAckUpdatesPayload struct {
	CurrentAsOf *int64 `json:"currentAsOf"`
}

type rawAPIRequestPayload struct {
	Endpoint string          `json:"endpoint"`
	Input    json.RawMessage `json:"input"`
}

// ParseClientMessage validates an inbound frame against the exact schema of
// its tag and returns the typed variant. Every schema failure is an error;
// nothing is silently dropped.
func ParseClientMessage(data []byte) (ClientMessage, error) {
	var raw rawClientMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("malformed socket frame: %w", err)
	}
	if raw.Type == nil {
		return nil, fmt.Errorf("socket frame missing type")
	}
	if raw.ID == nil {
		return nil, fmt.Errorf("socket frame missing id")
	}
	id := *raw.ID

	switch *raw.Type {
	case ClientMessageInitial:
		var p rawInitialPayload
		if err := unmarshalPayload(raw.Payload, &p); err != nil {
			return nil, err
		}
		if p.SessionIdentification == nil {
			return nil, fmt.Errorf("INITIAL missing sessionIdentification")
		}
		if p.SessionState == nil {
			return nil, fmt.Errorf("INITIAL missing sessionState")
		}
		if err := validateCalendarQuery(p.SessionState.CalendarQuery); err != nil {
			return nil, err
		}
		responses, err := parseClientResponses(p.ClientResponses)
		if err != nil {
			return nil, err
		}
		if p.SessionState.WatchedIDs == nil {
			p.SessionState.WatchedIDs = []string{}
		}
		return InitialMessage{
			ID:                    id,
			SessionIdentification: *p.SessionIdentification,
			SessionState:          *p.SessionState,
			ClientResponses:       responses,
		}, nil

	case ClientMessageResponses:
		var p rawResponsesPayload
		if err := unmarshalPayload(raw.Payload, &p); err != nil {
			return nil, err
		}
		responses, err := parseClientResponses(p.ClientResponses)
		if err != nil {
			return nil, err
		}
		return ResponsesMessage{ID: id, ClientResponses: responses}, nil

	case ClientMessagePing:
		return PingMessage{ID: id}, nil

	case ClientMessageAckUpdates:
		var p rawAckUpdatesPayload
		if err := unmarshalPayload(raw.Payload, &p); err != nil {
			return nil, err
		}
		if p.CurrentAsOf == nil {
			return nil, fmt.Errorf("ACK_UPDATES missing currentAsOf")
		}
		if *p.CurrentAsOf < 0 {
			return nil, fmt.Errorf("ACK_UPDATES currentAsOf must be non-negative")
		}
		return AckUpdatesMessage{ID: id, CurrentAsOf: *p.CurrentAsOf}, nil

	case ClientMessageAPIRequest:
		var p rawAPIRequestPayload
		if err := unmarshalPayload(raw.Payload, &p); err != nil {
			return nil, err
		}
		if p.Endpoint == "" {
			return nil, fmt.Errorf("API_REQUEST missing endpoint")
		}
		return APIRequestMessage{ID: id, Endpoint: p.Endpoint, Input: p.Input}, nil
	}
	return nil, fmt.Errorf("unknown socket frame type %q", *raw.Type)
}

func unmarshalPayload(data json.RawMessage, dst any) error {
	if len(data) == 0 {
		return fmt.Errorf("socket frame missing payload")
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("malformed socket payload: %w", err)
	}
	return nil
}

func validateCalendarQuery(q CalendarQuery) error {
	if q.StartDate == "" || q.EndDate == "" {
		return fmt.Errorf("calendarQuery missing date range")
	}
	if q.EndDate < q.StartDate {
		return fmt.Errorf("calendarQuery endDate before startDate")
	}
	for _, filter := range q.Filters {
		switch filter.Type {
		case CalendarFilterThreads:
			if len(filter.ThreadIDs) == 0 {
				return fmt.Errorf("threads calendar filter missing threadIDs")
			}
		case CalendarFilterNotDeleted:
		default:
			return fmt.Errorf("unknown calendar filter type %q", filter.Type)
		}
	}
	return nil
}
