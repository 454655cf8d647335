package testutil

import (
	"fmt"
	"net/http"
	"time"
)

// MockTime is a hand-advanced clock. Inject its Now method wherever a
// component takes a time source to pin expiry behavior in tests.
type MockTime struct {
	now time.Time
}

// NewMockTime creates a clock frozen at t.
func NewMockTime(t time.Time) *MockTime {
	return &MockTime{now: t}
}

// Now returns the clock's current time.
func (m *MockTime) Now() time.Time {
	return m.now
}

// Advance moves the clock forward by d.
func (m *MockTime) Advance(d time.Duration) {
	m.now = m.now.Add(d)
}

// Set jumps the clock to t.
func (m *MockTime) Set(t time.Time) {
	m.now = t
}

// ImmediateTimer implements backoff.Timer for retry tests: it fires instantly
// and records every delay it was asked to wait.
type ImmediateTimer struct {
	Delays []time.Duration
	c      chan time.Time
}

// Start implements backoff.Timer.
func (t *ImmediateTimer) Start(d time.Duration) {
	t.Delays = append(t.Delays, d)
	c := make(chan time.Time, 1)
	c <- time.Now()
	t.c = c
}

// C implements backoff.Timer.
func (t *ImmediateTimer) C() <-chan time.Time { return t.c }

// Stop implements backoff.Timer.
func (t *ImmediateTimer) Stop() {}

// JSONHandler answers every request with a fixed status and JSON body.
func JSONHandler(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}
}

// PeopleDocument is a JSON:API People response with one person, one included
// email, and one included phone number.
func PeopleDocument(id, name, email, phone string) string {
	return fmt.Sprintf(`{
		"data": [{
			"type": "Person", "id": %q,
			"attributes": {"name": %q, "first_name": "Test", "last_name": "Person"},
			"relationships": {
				"emails": {"data": [{"type": "Email", "id": "e1"}]},
				"phone_numbers": {"data": [{"type": "PhoneNumber", "id": "p1"}]}
			}
		}],
		"included": [
			{"type": "Email", "id": "e1", "attributes": {"address": %q}},
			{"type": "PhoneNumber", "id": "p1", "attributes": {"number": %q}}
		]
	}`, id, name, email, phone)
}

// ServiceTypesDocument is a single-page JSON:API service_types response.
// Pass sequence -1 to omit the attribute.
func ServiceTypesDocument(entries ...ServiceTypeEntry) string {
	out := `{"data": [`
	for i, e := range entries {
		if i > 0 {
			out += ","
		}
		if e.Sequence >= 0 {
			out += fmt.Sprintf(`{"type": "ServiceType", "id": %q, "attributes": {"name": %q, "sequence": %d}}`,
				e.ID, e.Name, e.Sequence)
		} else {
			out += fmt.Sprintf(`{"type": "ServiceType", "id": %q, "attributes": {"name": %q}}`, e.ID, e.Name)
		}
	}
	return out + `], "links": {"next": null}}`
}

// ServiceTypeEntry is one fixture row for ServiceTypesDocument.
type ServiceTypeEntry struct {
	ID       string
	Name     string
	Sequence int
}

// TokenResponse is a JSON OAuth token endpoint body.
func TokenResponse(accessToken, refreshToken string, expiresIn int) string {
	return fmt.Sprintf(`{"access_token": %q, "refresh_token": %q, "token_type": "Bearer", "expires_in": %d}`,
		accessToken, refreshToken, expiresIn)
}
