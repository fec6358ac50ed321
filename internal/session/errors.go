// Package session implements credential validation, session continuation
// and the hash-based consistency-check protocol driven by the socket layer.
package session

import "errors"

var (
	// ErrInvalidCredentials means the presented cookie does not exist or
	// its secret does not match. The socket closes with code 4100 after
	// issuing a replacement anonymous credential.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrNotLoggedIn means the credential is valid but anonymous, and the
	// attempted operation requires a logged-in user. Close code 4102.
	ErrNotLoggedIn = errors.New("not logged in")

	// ErrClientVersionUnsupported means the client build is too old to
	// speak the current protocol. Close code 4101.
	ErrClientVersionUnsupported = errors.New("client version unsupported")

	// ErrNoQueryComparison means the recorded and declared calendar
	// queries cannot be meaningfully compared, so continuation falls back
	// to a fresh session and full resync.
	ErrNoQueryComparison = errors.New("calendar queries are not comparable")
)
