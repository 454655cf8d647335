package pcoconnect

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/oauth2"

	"github.com/churchops/pco-connect/pco"
	"github.com/churchops/pco-connect/security"
	"github.com/churchops/pco-connect/storage"
)

const defaultCORSMaxAge = 3600 // 1 hour preflight cache

// Page size bounds for listing endpoints.
const (
	DefaultPeoplePageSize = 5
	DefaultPlansPageSize  = 10
	MaxPageSize           = 100
)

// Handler exposes the connector over HTTP.
type Handler struct {
	server *Server
	logger *slog.Logger
}

// NewHandler creates a new HTTP handler.
func NewHandler(server *Server) *Handler {
	return &Handler{
		server: server,
		logger: server.Logger,
	}
}

// RegisterRoutes attaches all connector routes to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.ServeHealth)
	mux.HandleFunc("/connect", h.ServeConnect)
	mux.HandleFunc("/auth/callback", h.ServeCallback)
	mux.HandleFunc("/auth/disconnect", h.ServeDisconnect)
	mux.HandleFunc("/pco/people/find", h.ServePeopleFind)
	mux.HandleFunc("/pco/services/service-types", h.ServeServiceTypes)
	mux.HandleFunc("/pco/services/service-types/resolve", h.ServeServiceTypeResolve)
	mux.HandleFunc("/pco/services/plans", h.ServePlans)
	mux.HandleFunc("/pco/services/plan", h.ServePlan)
	mux.HandleFunc("/openapi-chatgpt.json", h.ServeOpenAPI)

	// Aliases kept for clients generated against the shorter paths.
	mux.HandleFunc("/pco/services/types", h.ServeServiceTypes)
	mux.HandleFunc("/pco/services/types/resolve", h.ServeServiceTypeResolve)
}

// ServeHealth handles GET /health. It never touches the upstream.
func (h *Handler) ServeHealth(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()

	if h.rejectMethod(w, r, http.MethodGet) {
		return
	}

	h.writeJSON(w, http.StatusOK, HealthResponse{OK: true})
	h.recordHTTPMetrics("health", r.Method, http.StatusOK, startTime)
}

// ServeConnect handles GET /connect: it records a fresh PKCE handshake and
// redirects the browser to the upstream authorization page.
func (h *Handler) ServeConnect(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()

	if h.rejectMethod(w, r, http.MethodGet) {
		return
	}

	clientIP, ok := h.begin(w, r, "connect", startTime)
	if !ok {
		return
	}

	authURL, err := h.server.StartConnect(r.Context(), clientIP)
	if err != nil {
		h.logger.Error("Failed to start connect flow", "error", err, "ip", clientIP)
		h.failRequest(w, r, "connect", startTime, err)
		return
	}

	h.recordHTTPMetrics("connect", r.Method, http.StatusFound, startTime)
	http.Redirect(w, r, authURL, http.StatusFound)
}

// ServeCallback handles GET /auth/callback: state validation, code exchange,
// and token storage.
func (h *Handler) ServeCallback(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()

	if h.rejectMethod(w, r, http.MethodGet) {
		return
	}

	clientIP, ok := h.begin(w, r, "callback", startTime)
	if !ok {
		return
	}

	q := r.URL.Query()

	// The upstream reports user denial and its own failures via the error
	// parameter instead of a code.
	if errParam := q.Get("error"); errParam != "" {
		desc := q.Get("error_description")
		if desc == "" {
			desc = "Authorization was denied by the upstream"
		}
		h.logger.Warn("Authorization callback returned an error", "error", errParam, "ip", clientIP)
		h.writeAPIError(w, ErrAuthFailed(fmt.Sprintf("%s: %s", errParam, desc)))
		h.recordHTTPMetrics("callback", r.Method, http.StatusBadRequest, startTime)
		return
	}

	code := q.Get("code")
	state := q.Get("state")
	if code == "" || state == "" {
		h.writeAPIError(w, ErrInvalidRequest("code and state are required"))
		h.recordHTTPMetrics("callback", r.Method, http.StatusBadRequest, startTime)
		return
	}

	result, err := h.server.CompleteCallback(r.Context(), code, state, clientIP)
	if err != nil {
		h.logger.Error("Callback processing failed", "error", err, "ip", clientIP)
		h.failRequest(w, r, "callback", startTime, err)
		return
	}

	h.writeJSON(w, http.StatusOK, result)
	h.recordHTTPMetrics("callback", r.Method, http.StatusOK, startTime)
}

// ServeDisconnect handles /auth/disconnect: it drops the stored token.
// Disconnecting an already-disconnected tenant is not an error.
func (h *Handler) ServeDisconnect(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()

	if h.rejectMethod(w, r, http.MethodGet, http.MethodPost) {
		return
	}

	clientIP, ok := h.begin(w, r, "disconnect", startTime)
	if !ok {
		return
	}

	if err := h.server.Disconnect(r.Context(), DefaultTenant, clientIP); err != nil {
		h.failRequest(w, r, "disconnect", startTime, err)
		return
	}

	h.writeJSON(w, http.StatusOK, DisconnectResult{Connected: false, Tenant: DefaultTenant})
	h.recordHTTPMetrics("disconnect", r.Method, http.StatusOK, startTime)
}

// ServePeopleFind handles GET /pco/people/find?name=...
func (h *Handler) ServePeopleFind(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()

	if h.rejectMethod(w, r, http.MethodGet) {
		return
	}

	if _, ok := h.begin(w, r, "people_find", startTime); !ok {
		return
	}

	q := r.URL.Query()

	name := q.Get("name")
	if name == "" {
		h.writeAPIError(w, ErrUnprocessable("name is required"))
		h.recordHTTPMetrics("people_find", r.Method, http.StatusUnprocessableEntity, startTime)
		return
	}

	pageSize, apiErr := parsePageSize(q, DefaultPeoplePageSize)
	if apiErr != nil {
		h.writeAPIError(w, apiErr)
		h.recordHTTPMetrics("people_find", r.Method, apiErr.Status, startTime)
		return
	}

	people, err := h.server.Client().FindPeople(r.Context(), name, pageSize, pco.AllowedExtraParams(q))
	if err != nil {
		h.failRequest(w, r, "people_find", startTime, err)
		return
	}

	h.writeJSON(w, http.StatusOK, PeopleResponse{Count: len(people), People: people})
	h.recordHTTPMetrics("people_find", r.Method, http.StatusOK, startTime)
}

// ServeServiceTypes handles the service-types listing.
func (h *Handler) ServeServiceTypes(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()

	if h.rejectMethod(w, r, http.MethodGet) {
		return
	}

	if _, ok := h.begin(w, r, "service_types", startTime); !ok {
		return
	}

	q := r.URL.Query()

	pageSize, apiErr := parsePageSize(q, pco.DefaultServiceTypePageSize)
	if apiErr != nil {
		h.writeAPIError(w, apiErr)
		h.recordHTTPMetrics("service_types", r.Method, apiErr.Status, startTime)
		return
	}
	maxPages, apiErr := parseMaxPages(q)
	if apiErr != nil {
		h.writeAPIError(w, apiErr)
		h.recordHTTPMetrics("service_types", r.Method, apiErr.Status, startTime)
		return
	}

	items, err := h.server.Client().ListServiceTypes(r.Context(), pageSize, maxPages)
	if err != nil {
		h.failRequest(w, r, "service_types", startTime, err)
		return
	}

	h.writeJSON(w, http.StatusOK, ServiceTypesResponse{Count: len(items), ServiceTypes: items})
	h.recordHTTPMetrics("service_types", r.Method, http.StatusOK, startTime)
}

// ServeServiceTypeResolve handles the fuzzy service-type lookup. Matches come
// back ranked best first; no match at all is a 404.
func (h *Handler) ServeServiceTypeResolve(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()

	if h.rejectMethod(w, r, http.MethodGet) {
		return
	}

	if _, ok := h.begin(w, r, "service_type_resolve", startTime); !ok {
		return
	}

	q := r.URL.Query()

	query := q.Get("query")
	if query == "" {
		query = q.Get("name")
	}
	if query == "" {
		h.writeAPIError(w, ErrUnprocessable("query is required"))
		h.recordHTTPMetrics("service_type_resolve", r.Method, http.StatusUnprocessableEntity, startTime)
		return
	}

	items, err := h.server.Client().ListServiceTypes(r.Context(), pco.DefaultServiceTypePageSize, pco.DefaultServiceTypeMaxPages)
	if err != nil {
		h.failRequest(w, r, "service_type_resolve", startTime, err)
		return
	}

	matches := pco.MatchServiceTypes(items, query)
	if len(matches) == 0 {
		h.writeAPIError(w, ErrNotFound(fmt.Sprintf("no service type matched %q", query)))
		h.recordHTTPMetrics("service_type_resolve", r.Method, http.StatusNotFound, startTime)
		return
	}

	h.writeJSON(w, http.StatusOK, ServiceTypeMatchesResponse{Query: query, Count: len(matches), Matches: matches})
	h.recordHTTPMetrics("service_type_resolve", r.Method, http.StatusOK, startTime)
}

// ServePlans handles GET /pco/services/plans: resolve the service type, fetch
// plans with their side-loads flattened, then apply the optional date window.
func (h *Handler) ServePlans(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()

	if h.rejectMethod(w, r, http.MethodGet) {
		return
	}

	if _, ok := h.begin(w, r, "plans", startTime); !ok {
		return
	}

	q := r.URL.Query()

	pageSize, apiErr := parsePageSize(q, DefaultPlansPageSize)
	if apiErr != nil {
		h.writeAPIError(w, apiErr)
		h.recordHTTPMetrics("plans", r.Method, apiErr.Status, startTime)
		return
	}

	serviceTypeID, err := h.server.ResolveServiceType(r.Context(), q.Get("service_type_id"), q.Get("service_type_name"))
	if err != nil {
		h.failRequest(w, r, "plans", startTime, err)
		return
	}
	if serviceTypeID == "" {
		h.writeAPIError(w, ErrUnprocessable(
			"service_type_id or service_type_name is required (no default service type is configured)"))
		h.recordHTTPMetrics("plans", r.Method, http.StatusUnprocessableEntity, startTime)
		return
	}

	plans, err := h.server.Client().PlansForServiceType(r.Context(), serviceTypeID, pageSize, q.Get("include"), pco.AllowedExtraParams(q))
	if err != nil {
		h.failRequest(w, r, "plans", startTime, err)
		return
	}

	plans = pco.FilterPlansByDate(plans, q.Get("from_date"), q.Get("to_date"))

	h.writeJSON(w, http.StatusOK, PlansResponse{Count: len(plans), Plans: plans})
	h.recordHTTPMetrics("plans", r.Method, http.StatusOK, startTime)
}

// ServePlan handles GET /pco/services/plan?plan_id=...: the one endpoint that
// passes the upstream JSON:API document through unflattened.
func (h *Handler) ServePlan(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()

	if h.rejectMethod(w, r, http.MethodGet) {
		return
	}

	if _, ok := h.begin(w, r, "plan", startTime); !ok {
		return
	}

	q := r.URL.Query()

	planID := q.Get("plan_id")
	if planID == "" {
		h.writeAPIError(w, ErrUnprocessable("plan_id is required"))
		h.recordHTTPMetrics("plan", r.Method, http.StatusUnprocessableEntity, startTime)
		return
	}

	include := q.Get("include")
	if include == "" {
		include = pco.DefaultPlanDetailInclude
	}
	query := url.Values{"include": {include}}
	for key, values := range pco.AllowedExtraParams(q) {
		query[key] = values
	}

	resp, err := h.server.Client().Get(r.Context(), "/services/v2/plans/"+url.PathEscape(planID), query)
	if err != nil {
		h.failRequest(w, r, "plan", startTime, err)
		return
	}
	if resp.StatusCode != http.StatusOK {
		h.writeAPIError(w, ErrUpstream(resp.StatusCode, string(resp.Body)))
		h.recordHTTPMetrics("plan", r.Method, resp.StatusCode, startTime)
		return
	}

	// Body goes out verbatim so callers get every JSON:API member, not just
	// the fields the flatteners know about.
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(resp.Body)
	h.recordHTTPMetrics("plan", r.Method, http.StatusOK, startTime)
}

// begin runs the shared request prologue: security headers, CORS, request id,
// and the per-IP rate limit. It reports false when the request was already
// answered.
func (h *Handler) begin(w http.ResponseWriter, r *http.Request, endpoint string, startTime time.Time) (string, bool) {
	config := h.server.Config()

	security.SetSecurityHeaders(w, config.PublicBaseURL)
	h.setCORSHeaders(w, r)

	requestID := security.RequestIDFromRequest(r)
	w.Header().Set(security.RequestIDHeader, requestID)
	*r = *r.WithContext(security.WithRequestID(r.Context(), requestID))

	clientIP := security.ClientIP(r, config.RateLimit.TrustProxy)

	h.logger.Debug("Request",
		"method", r.Method,
		"endpoint", endpoint,
		"ip", clientIP,
		"request_id", requestID)

	if h.server.RateLimiter != nil && !h.server.RateLimiter.Allow(clientIP) {
		h.logger.Warn("Rate limit exceeded", "ip", clientIP, "endpoint", endpoint)
		h.server.Auditor.LogRateLimitExceeded(clientIP)
		h.server.Instrumentation().Metrics().RecordRateLimitExceeded(r.Context())
		h.writeAPIError(w, ErrRateLimited("Rate limit exceeded. Please try again later."))
		h.recordHTTPMetrics(endpoint, r.Method, http.StatusTooManyRequests, startTime)
		return clientIP, false
	}

	return clientIP, true
}

// rejectMethod answers OPTIONS preflights and rejects methods outside the
// allowed set. It reports true when the request was already answered.
func (h *Handler) rejectMethod(w http.ResponseWriter, r *http.Request, allowed ...string) bool {
	if r.Method == http.MethodOptions {
		h.setCORSHeaders(w, r)
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.WriteHeader(http.StatusNoContent)
		return true
	}

	for _, method := range allowed {
		if r.Method == method {
			return false
		}
	}

	h.writeError(w, ErrorCodeInvalidRequest, "Method not allowed", http.StatusMethodNotAllowed)
	return true
}

// failRequest translates an internal error into its HTTP shape and records the
// metric for it.
func (h *Handler) failRequest(w http.ResponseWriter, r *http.Request, endpoint string, startTime time.Time, err error) {
	apiErr := serviceError(err)
	if apiErr.Status >= http.StatusInternalServerError {
		h.logger.Error("Request failed",
			"endpoint", endpoint,
			"error", err,
			"request_id", security.RequestIDFromContext(r.Context()))
	}
	h.writeAPIError(w, apiErr)
	h.recordHTTPMetrics(endpoint, r.Method, apiErr.Status, startTime)
}

// serviceError maps errors from the server and client layers to API errors.
func serviceError(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	var upstream *pco.UpstreamError
	if errors.As(err, &upstream) {
		return ErrUpstream(upstream.StatusCode, upstream.Body)
	}

	// x/oauth2 surfaces token endpoint rejections with the raw response
	// attached; pass the upstream status and body through.
	var retrieve *oauth2.RetrieveError
	if errors.As(err, &retrieve) {
		status := http.StatusBadGateway
		if retrieve.Response != nil {
			status = retrieve.Response.StatusCode
		}
		return ErrUpstream(status, string(retrieve.Body))
	}

	switch {
	case errors.Is(err, ErrNotConnected):
		return ErrUnauthorized("Not connected. Start the /connect flow to authorize.")
	case errors.Is(err, ErrNoCredentials):
		return ErrConfiguration("No upstream credentials configured. Set OAuth or application credentials.")
	case errors.Is(err, storage.ErrStateNotFound):
		return ErrInvalidState("State is unknown, expired, or already used. Restart the /connect flow.")
	}

	return NewAPIError(ErrorCodeServerError, "Internal server error", http.StatusInternalServerError)
}

// parsePageSize reads page_size with a per-endpoint default, bounds 1..100.
func parsePageSize(q url.Values, fallback int) (int, *APIError) {
	raw := q.Get("page_size")
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 || n > MaxPageSize {
		return 0, ErrUnprocessable(fmt.Sprintf("page_size must be an integer between 1 and %d", MaxPageSize))
	}
	return n, nil
}

// parseMaxPages reads the pagination-walk cap, defaulting per the client.
func parseMaxPages(q url.Values) (int, *APIError) {
	raw := q.Get("max_pages")
	if raw == "" {
		return pco.DefaultServiceTypeMaxPages, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, ErrUnprocessable("max_pages must be a positive integer")
	}
	return n, nil
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeAPIError(w http.ResponseWriter, err *APIError) {
	h.writeError(w, err.Code, err.Description, err.Status)
}

func (h *Handler) writeError(w http.ResponseWriter, code, description string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":             code,
		"error_description": description,
	})
}

// setCORSHeaders sets CORS headers for allowed origins. An empty allow list
// admits any origin, which suits a connector fronted by a GPT action client.
func (h *Handler) setCORSHeaders(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return
	}

	if !h.isAllowedOrigin(origin) {
		h.logger.Debug("CORS request from disallowed origin", "origin", origin)
		return
	}

	// Echo back the specific origin rather than "*" so responses stay
	// cacheable per origin.
	w.Header().Set("Access-Control-Allow-Origin", origin)
	w.Header().Add("Vary", "Origin")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
	w.Header().Set("Access-Control-Max-Age", strconv.Itoa(defaultCORSMaxAge))
}

func (h *Handler) isAllowedOrigin(origin string) bool {
	allowed := h.server.Config().CORSOrigins
	if len(allowed) == 0 {
		return true
	}
	for _, candidate := range allowed {
		if candidate == "*" || candidate == origin {
			return true
		}
	}
	return false
}

// recordHTTPMetrics records the request count and duration for an endpoint.
func (h *Handler) recordHTTPMetrics(endpoint, method string, status int, startTime time.Time) {
	inst := h.server.Instrumentation()
	if inst == nil {
		return
	}
	durationMs := float64(time.Since(startTime).Milliseconds())
	inst.Metrics().RecordHTTPRequest(context.Background(), method, endpoint, status, durationMs)
}
