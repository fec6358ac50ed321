// Package api holds the JSON endpoint registry shared by the REST surface
// and the socket tunnel, plus the responders themselves.
package api

import (
	"context"
	"encoding/json"

	"github.com/tbalsam/ripple/internal/session"
)

// Responder handles one JSON endpoint call on behalf of a viewer.
type Responder func(ctx context.Context, viewer *session.Viewer, input json.RawMessage) (any, error)

// Endpoint is a registered responder plus its socket policy. Endpoints
// that replace credentials or sessions must not run over an established
// socket, which is bound to the credentials it authenticated with.
type Endpoint struct {
	Responder  Responder
	SocketSafe bool
}

// Registry maps endpoint names to responders.
type Registry struct {
	endpoints map[string]Endpoint
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{endpoints: map[string]Endpoint{}}
}

// Register adds or replaces an endpoint.
func (r *Registry) Register(name string, endpoint Endpoint) {
	r.endpoints[name] = endpoint
}

// Lookup returns the endpoint registered under name.
func (r *Registry) Lookup(name string) (Endpoint, bool) {
	endpoint, ok := r.endpoints[name]
	return endpoint, ok
}

// Names returns the registered endpoint names, for diagnostics.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.endpoints))
	for name := range r.endpoints {
		names = append(names, name)
	}
	return names
}
