package pcoconnect

import "github.com/churchops/pco-connect/pco"

// HealthResponse is the /health body.
type HealthResponse struct {
	OK bool `json:"ok"`
}

// ConnectResult is the /auth/callback success body.
type ConnectResult struct {
	// Connected is true once a token is stored.
	Connected bool `json:"connected"`

	// Tenant is the token slot the connection landed in.
	Tenant string `json:"tenant"`

	// ExpiresIn is the access token lifetime in seconds at storage time.
	ExpiresIn int64 `json:"expires_in"`

	// HasRefresh indicates whether a refresh token was issued.
	HasRefresh bool `json:"has_refresh"`
}

// DisconnectResult is the /auth/disconnect body.
type DisconnectResult struct {
	Connected bool   `json:"connected"`
	Tenant    string `json:"tenant"`
}

// PeopleResponse is the /pco/people/find body.
type PeopleResponse struct {
	Count  int          `json:"count"`
	People []pco.Person `json:"people"`
}

// ServiceTypesResponse is the service-types listing body.
type ServiceTypesResponse struct {
	Count        int               `json:"count"`
	ServiceTypes []pco.ServiceType `json:"service_types"`
}

// ServiceTypeMatchesResponse is the service-type resolve body, ranked best
// first.
type ServiceTypeMatchesResponse struct {
	Query   string            `json:"query"`
	Count   int               `json:"count"`
	Matches []pco.ServiceType `json:"matches"`
}

// PlansResponse is the /pco/services/plans body.
type PlansResponse struct {
	Count int        `json:"count"`
	Plans []pco.Plan `json:"plans"`
}
