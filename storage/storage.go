package storage

import (
	"context"
	"errors"
	"time"

	"golang.org/x/oauth2"
)

// Sentinel errors shared by all storage backends.
var (
	// ErrTokenNotFound is returned when no token is stored for a tenant.
	ErrTokenNotFound = errors.New("token not found")

	// ErrStateNotFound is returned when an authorization state is unknown,
	// expired, or already consumed.
	ErrStateNotFound = errors.New("authorization state not found")
)

// TokenStore persists OAuth tokens keyed by tenant. The connector currently
// uses the single tenant "default"; the key exists so a multi-tenant store can
// slot in without an interface change.
// All methods accept context.Context for tracing and cancellation.
type TokenStore interface {
	// SaveToken stores (or replaces) the token for a tenant.
	SaveToken(ctx context.Context, tenant string, token *oauth2.Token) error

	// GetToken retrieves the token for a tenant.
	// Returns ErrTokenNotFound when no record exists.
	GetToken(ctx context.Context, tenant string) (*oauth2.Token, error)

	// DeleteToken removes the token for a tenant. Deleting a missing record
	// is not an error.
	DeleteToken(ctx context.Context, tenant string) error
}

// FlowStore persists in-flight authorization handshakes between /connect and
// /auth/callback, keyed by the state nonce.
// All methods accept context.Context for tracing and cancellation.
type FlowStore interface {
	// SaveAuthState records a new handshake.
	SaveAuthState(ctx context.Context, state *AuthState) error

	// ConsumeAuthState retrieves and deletes a handshake in one step, so a
	// state nonce can only ever be redeemed once.
	// Returns ErrStateNotFound for unknown, expired, or already-consumed
	// states.
	ConsumeAuthState(ctx context.Context, stateID string) (*AuthState, error)
}

// AuthState is one in-flight authorization handshake: the CSRF state nonce
// sent to the upstream authorize endpoint and the PKCE verifier that must
// accompany the eventual code exchange.
type AuthState struct {
	State        string
	CodeVerifier string
	CreatedAt    time.Time
	ExpiresAt    time.Time
}
