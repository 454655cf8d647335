package security

import (
	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

// NewState generates the state nonce recorded at /connect and validated at
// /auth/callback.
func NewState() string {
	return uuid.NewString()
}

// NewCodeVerifier generates a PKCE code verifier (RFC 7636, 43-128 chars,
// URL-safe).
func NewCodeVerifier() string {
	return oauth2.GenerateVerifier()
}

// ChallengeS256 derives the S256 code challenge for a verifier.
func ChallengeS256(verifier string) string {
	return oauth2.S256ChallengeFromVerifier(verifier)
}
