// Package security provides the connector's security plumbing: PKCE and state
// generation for the OAuth handshake, per-IP rate limiting, secure response
// headers, request IDs, token expiry checks, and audit logging.
package security
