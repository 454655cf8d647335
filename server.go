// Package pcoconnect exposes a simplified REST façade over the Planning
// Center API: OAuth authorization-code login with PKCE, token storage and
// transparent refresh, and flattening of JSON:API responses into simple
// nested objects.
package pcoconnect

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/churchops/pco-connect/instrumentation"
	"github.com/churchops/pco-connect/pco"
	"github.com/churchops/pco-connect/security"
	"github.com/churchops/pco-connect/storage"
)

// ErrNotConnected is returned when a tenant has no stored token; the caller
// must restart the /connect flow.
var ErrNotConnected = errors.New("not connected: no stored token")

// ErrNoCredentials is returned when neither OAuth nor application credentials
// are configured.
var ErrNoCredentials = errors.New("no upstream credentials configured")

// Server coordinates the OAuth token lifecycle and owns the Planning Center
// client. It is the single place tokens are exchanged, refreshed, and read.
type Server struct {
	config *Config

	oauth  *oauth2.Config
	tokens storage.TokenStore
	flows  storage.FlowStore
	client *pco.Client

	Auditor     *security.Auditor
	RateLimiter *security.RateLimiter
	Logger      *slog.Logger

	inst *instrumentation.Instrumentation

	// refreshWindow is how close to expiry a read triggers a refresh.
	refreshWindow time.Duration

	// now is injectable for deterministic expiry tests.
	now func() time.Time
}

// New creates a connector server.
func New(config *Config, tokens storage.TokenStore, flows storage.FlowStore) (*Server, error) {
	if config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if tokens == nil {
		return nil, fmt.Errorf("token store is required")
	}
	if flows == nil {
		return nil, fmt.Errorf("flow store is required")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	inst, err := instrumentation.New(instrumentation.Config{ServiceName: "pco-connect"})
	if err != nil {
		return nil, fmt.Errorf("initializing instrumentation: %w", err)
	}

	srv := &Server{
		config:        config,
		tokens:        tokens,
		flows:         flows,
		Logger:        logger,
		Auditor:       security.NewAuditor(logger, config.EnableAuditLogging),
		inst:          inst,
		refreshWindow: security.DefaultRefreshWindow,
		now:           time.Now,
	}

	if config.RateLimit.Rate > 0 {
		srv.RateLimiter = security.NewRateLimiter(config.RateLimit.Rate, config.RateLimit.Burst, logger)
	}

	baseURL := config.Upstream.BaseURL
	if baseURL == "" {
		baseURL = pco.DefaultBaseURL
	}

	if config.OAuth.Configured() {
		scopes := config.OAuth.Scopes
		if len(scopes) == 0 {
			scopes = defaultScopes
		}
		srv.oauth = &oauth2.Config{
			ClientID:     config.OAuth.ClientID,
			ClientSecret: config.OAuth.ClientSecret,
			RedirectURL:  config.OAuth.RedirectURL,
			Scopes:       scopes,
			Endpoint:     pco.Endpoint(baseURL),
		}
	}

	httpClient := config.HTTPClient
	if httpClient == nil && config.Upstream.Timeout > 0 {
		httpClient = &http.Client{Timeout: config.Upstream.Timeout}
	}

	client, err := pco.NewClient(pco.ClientConfig{
		BaseURL:         baseURL,
		Auth:            srv.authSource(),
		HTTPClient:      httpClient,
		Logger:          logger,
		Instrumentation: inst,
	})
	if err != nil {
		return nil, fmt.Errorf("building upstream client: %w", err)
	}
	srv.client = client

	return srv, nil
}

// Client returns the Planning Center client.
func (s *Server) Client() *pco.Client {
	return s.client
}

// Config returns the server configuration.
func (s *Server) Config() *Config {
	return s.config
}

// Instrumentation returns the server's instrumentation.
func (s *Server) Instrumentation() *instrumentation.Instrumentation {
	return s.inst
}

// Close releases background resources.
func (s *Server) Close() {
	if s.RateLimiter != nil {
		s.RateLimiter.Stop()
	}
}

// authSource picks the upstream authorization: OAuth tokens when the flow is
// configured, static application credentials otherwise.
func (s *Server) authSource() pco.AuthSource {
	if s.config.OAuth.Configured() {
		return pco.BearerAuth{Tokens: tokenProviderFunc(func(ctx context.Context) (string, error) {
			return s.ValidToken(ctx, DefaultTenant)
		})}
	}
	if s.config.AppAuth.Configured() {
		return pco.BasicAuth{AppID: s.config.AppAuth.AppID, Secret: s.config.AppAuth.Secret}
	}
	return unconfiguredAuth{}
}

// tokenProviderFunc adapts a function to pco.TokenProvider.
type tokenProviderFunc func(ctx context.Context) (string, error)

func (f tokenProviderFunc) AccessToken(ctx context.Context) (string, error) {
	return f(ctx)
}

// unconfiguredAuth fails every call until credentials are configured.
type unconfiguredAuth struct{}

func (unconfiguredAuth) Authorize(context.Context, *http.Request) error { return ErrNoCredentials }

// StartConnect begins an authorization handshake: a fresh state nonce and
// PKCE verifier are recorded in the flow store and the upstream authorization
// URL is returned for redirect.
func (s *Server) StartConnect(ctx context.Context, clientIP string) (string, error) {
	if s.oauth == nil {
		return "", ErrNoCredentials
	}

	state := security.NewState()
	verifier := security.NewCodeVerifier()

	now := s.now()
	if err := s.flows.SaveAuthState(ctx, &storage.AuthState{
		State:        state,
		CodeVerifier: verifier,
		CreatedAt:    now,
		ExpiresAt:    now.Add(DefaultAuthStateTTL),
	}); err != nil {
		return "", fmt.Errorf("saving authorization state: %w", err)
	}

	s.Auditor.LogFlowStarted(clientIP, state)
	s.inst.Metrics().RecordFlowStarted(ctx)

	return s.oauth.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier)), nil
}

// CompleteCallback validates the state nonce, exchanges the code, and stores
// the token for the default tenant.
func (s *Server) CompleteCallback(ctx context.Context, code, state, clientIP string) (*ConnectResult, error) {
	if s.oauth == nil {
		return nil, ErrNoCredentials
	}

	authState, err := s.flows.ConsumeAuthState(ctx, state)
	if err != nil {
		s.Auditor.LogCallbackFailure(clientIP, "unknown_or_expired_state")
		s.inst.Metrics().RecordCallbackProcessed(ctx, false)
		return nil, fmt.Errorf("validating state: %w", err)
	}

	token, err := s.Exchange(ctx, code, authState.CodeVerifier)
	if err != nil {
		s.Auditor.LogCallbackFailure(clientIP, "code_exchange_failed")
		s.inst.Metrics().RecordCallbackProcessed(ctx, false)
		return nil, err
	}

	if err := s.tokens.SaveToken(ctx, DefaultTenant, token); err != nil {
		return nil, fmt.Errorf("storing token: %w", err)
	}

	s.Auditor.LogCallbackSuccess(DefaultTenant, clientIP, token.RefreshToken != "")
	s.inst.Metrics().RecordCallbackProcessed(ctx, true)
	s.inst.Metrics().RecordTokenExchange(ctx, DefaultTenant)

	expiresIn := int64(0)
	if !token.Expiry.IsZero() {
		expiresIn = int64(token.Expiry.Sub(s.now()).Seconds())
	}

	return &ConnectResult{
		Connected:  true,
		Tenant:     DefaultTenant,
		ExpiresIn:  expiresIn,
		HasRefresh: token.RefreshToken != "",
	}, nil
}

// Exchange swaps an authorization code for a token. The token endpoint
// accepts client credentials in the body or via HTTP Basic inconsistently, so
// the authentication style is auto-detected: one style probed, the other
// retried on rejection.
func (s *Server) Exchange(ctx context.Context, code, verifier string) (*oauth2.Token, error) {
	if s.oauth == nil {
		return nil, ErrNoCredentials
	}

	ctx = s.oauthContext(ctx)

	opts := []oauth2.AuthCodeOption{}
	if verifier != "" {
		opts = append(opts, oauth2.VerifierOption(verifier))
	}

	token, err := s.oauth.Exchange(ctx, code, opts...)
	if err != nil {
		return nil, fmt.Errorf("exchanging authorization code: %w", err)
	}
	return token, nil
}

// Refresh redeems a refresh token for a fresh token. Any non-2xx from the
// token endpoint is an error; there is no fallback.
func (s *Server) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	if s.oauth == nil {
		return nil, ErrNoCredentials
	}

	ctx = s.oauthContext(ctx)

	source := s.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	token, err := source.Token()
	if err != nil {
		return nil, fmt.Errorf("refreshing token: %w", err)
	}
	return token, nil
}

// ValidToken returns a usable access token for the tenant. A token expiring
// within the refresh window that carries a refresh token is refreshed and
// replaced in the store first; repeated reads inside the window otherwise
// reuse the stored token. This lazy refresh-on-read trades a background timer
// for latency on the first request after near-expiry.
func (s *Server) ValidToken(ctx context.Context, tenant string) (string, error) {
	token, err := s.tokens.GetToken(ctx, tenant)
	if err != nil {
		if errors.Is(err, storage.ErrTokenNotFound) {
			return "", ErrNotConnected
		}
		return "", err
	}

	if token.RefreshToken != "" && security.IsExpiringSoon(token.Expiry, s.refreshWindow, s.now()) {
		fresh, err := s.Refresh(ctx, token.RefreshToken)
		if err != nil {
			return "", err
		}
		// Some token endpoints omit the refresh token on refresh; keep
		// the old one so the chain is not broken.
		if fresh.RefreshToken == "" {
			fresh.RefreshToken = token.RefreshToken
		}
		if err := s.tokens.SaveToken(ctx, tenant, fresh); err != nil {
			return "", fmt.Errorf("storing refreshed token: %w", err)
		}

		s.Auditor.LogTokenRefreshed(tenant)
		s.inst.Metrics().RecordTokenRefresh(ctx, tenant)
		s.Logger.Debug("Token refreshed", "tenant", tenant)

		return fresh.AccessToken, nil
	}

	return token.AccessToken, nil
}

// Disconnect drops the stored token for a tenant.
func (s *Server) Disconnect(ctx context.Context, tenant, clientIP string) error {
	if err := s.tokens.DeleteToken(ctx, tenant); err != nil {
		return err
	}
	s.Auditor.LogDisconnected(tenant, clientIP)
	s.inst.Metrics().RecordTokenDisconnect(ctx, tenant)
	return nil
}

// ResolveServiceType resolves the service type for a plans request:
// explicit id, then explicit name (fuzzy-matched), then the configured
// defaults. An empty result with a nil error means no service type is
// determinable and the caller must demand an explicit parameter.
func (s *Server) ResolveServiceType(ctx context.Context, explicitID, explicitName string) (string, error) {
	if explicitID != "" {
		return explicitID, nil
	}

	if explicitName != "" {
		items, err := s.client.ListServiceTypes(ctx, pco.DefaultServiceTypePageSize, pco.DefaultServiceTypeMaxPages)
		if err != nil {
			return "", err
		}
		matches := pco.MatchServiceTypes(items, explicitName)
		if len(matches) == 0 {
			return "", ErrNotFound(fmt.Sprintf("no service type matched %q", explicitName))
		}
		return matches[0].ID, nil
	}

	return s.client.ResolveDefaultServiceType(ctx,
		s.config.Services.DefaultServiceTypeID,
		s.config.Services.DefaultServiceTypeName)
}

// oauthContext threads the configured HTTP client into x/oauth2 calls.
func (s *Server) oauthContext(ctx context.Context) context.Context {
	if s.config.HTTPClient != nil {
		return context.WithValue(ctx, oauth2.HTTPClient, s.config.HTTPClient)
	}
	return ctx
}
