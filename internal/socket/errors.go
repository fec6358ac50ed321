// Package socket implements the per-connection WebSocket protocol engine:
// inbound frame dispatch, ordered outbound delivery, fan-out subscription
// and the error/close semantics clients depend on.
package socket

// Protocol error codes. Clients match on these strings, they must not
// change.
const (
	ErrCodeAlreadyInitialized       = "socket_already_initialized"
	ErrCodeUninitialized            = "socket_uninitialized"
	ErrCodeResponseTimeout          = "socket_response_timeout"
	ErrCodeDeauthorized             = "socket_deauthorized"
	ErrCodeClientVersionUnsupported = "client_version_unsupported"
	ErrCodeNotLoggedIn              = "not_logged_in"
	ErrCodeSessionMutated           = "session_mutated_from_socket"
	ErrCodeEndpointUnsafe           = "endpoint_unsafe_for_socket"
	ErrCodeInvalidMessage           = "invalid_message"
	ErrCodeInternal                 = "internal_error"
)

// WebSocket close codes, fixed for client compatibility.
const (
	CloseDeauthorized             = 4100
	CloseClientVersionUnsupported = 4101
	CloseNotLoggedIn              = 4102
	CloseSessionMutated           = 4103
)

// ServerError is a protocol-level failure with a client-visible code.
type ServerError struct {
	Code    string
	Payload any
}

func (e *ServerError) Error() string { return e.Code }

// NewServerError wraps a code in a ServerError.
func NewServerError(code string) *ServerError {
	return &ServerError{Code: code}
}
