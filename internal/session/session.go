// Package session provides stable per-session identity for the analytics
// pipeline. A browsing session is keyed by an opaque client key (cookie
// value); the provider maps it to a session id that stays stable across
// page reloads within the session but not across sessions.
package session

import "context"

// Provider resolves a client key to a stable session id, creating one on
// first sight.
type Provider interface {
	// GetOrCreate returns the session id for the client key, generating
	// and persisting a new one if none exists.
	GetOrCreate(ctx context.Context, clientKey string) (string, error)
}
