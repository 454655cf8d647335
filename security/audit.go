package security

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"
)

// Auditor logs authentication-lifecycle events with sensitive values hashed.
// Disabled auditors drop events silently so call sites never need a nil check.
type Auditor struct {
	logger  *slog.Logger
	enabled bool
}

// NewAuditor creates a security auditor.
func NewAuditor(logger *slog.Logger, enabled bool) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{logger: logger, enabled: enabled}
}

// Event is a single audit record.
type Event struct {
	Type      string
	Tenant    string
	IPAddress string
	Details   map[string]any
	Timestamp time.Time
}

// LogEvent logs an audit event.
func (a *Auditor) LogEvent(event Event) {
	if a == nil || !a.enabled {
		return
	}

	event.Timestamp = time.Now()

	a.logger.Info("security_audit",
		"event_type", event.Type,
		"tenant", event.Tenant,
		"ip_address", event.IPAddress,
		"details", event.Details,
		"timestamp", event.Timestamp,
	)
}

// LogFlowStarted logs the start of an authorization flow.
func (a *Auditor) LogFlowStarted(ipAddress, state string) {
	a.LogEvent(Event{
		Type:      "flow_started",
		IPAddress: ipAddress,
		Details: map[string]any{
			"state_hash": HashForLogging(state),
		},
	})
}

// LogCallbackSuccess logs a completed code exchange.
func (a *Auditor) LogCallbackSuccess(tenant, ipAddress string, hasRefresh bool) {
	a.LogEvent(Event{
		Type:      "callback_success",
		Tenant:    tenant,
		IPAddress: ipAddress,
		Details: map[string]any{
			"has_refresh": hasRefresh,
		},
	})
}

// LogCallbackFailure logs a failed or rejected callback.
func (a *Auditor) LogCallbackFailure(ipAddress, reason string) {
	a.LogEvent(Event{
		Type:      "callback_failure",
		IPAddress: ipAddress,
		Details: map[string]any{
			"reason": reason,
		},
	})
}

// LogTokenRefreshed logs a transparent token refresh.
func (a *Auditor) LogTokenRefreshed(tenant string) {
	a.LogEvent(Event{
		Type:   "token_refreshed",
		Tenant: tenant,
	})
}

// LogDisconnected logs a stored token being dropped.
func (a *Auditor) LogDisconnected(tenant, ipAddress string) {
	a.LogEvent(Event{
		Type:      "disconnected",
		Tenant:    tenant,
		IPAddress: ipAddress,
	})
}

// LogRateLimitExceeded logs a rate limit violation.
func (a *Auditor) LogRateLimitExceeded(ipAddress string) {
	a.LogEvent(Event{
		Type:      "rate_limit_exceeded",
		IPAddress: ipAddress,
	})
}

// HashForLogging returns a short SHA-256 digest of a sensitive value so audit
// records stay correlatable without leaking the value itself.
func HashForLogging(sensitive string) string {
	if sensitive == "" {
		return "<empty>"
	}
	sum := sha256.Sum256([]byte(sensitive))
	return hex.EncodeToString(sum[:])[:16]
}
