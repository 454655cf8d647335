package pcoconnect

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/churchops/pco-connect/internal/testutil"
	"github.com/churchops/pco-connect/security"
	"github.com/churchops/pco-connect/storage"
	"github.com/churchops/pco-connect/storage/memory"
)

// newTestServer builds a server wired to upstream with OAuth configured and a
// fresh in-memory store. The store doubles as token and flow storage.
func newTestServer(t *testing.T, upstream string) (*Server, *memory.Store) {
	t.Helper()

	store := memory.New()
	t.Cleanup(store.Stop)

	server, err := New(&Config{
		OAuth: OAuthConfig{
			ClientID:     "client-id",
			ClientSecret: "client-secret",
			RedirectURL:  "https://connector.example.com/auth/callback",
		},
		Upstream: UpstreamConfig{BaseURL: upstream},
	}, store, store)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(server.Close)

	return server, store
}

func TestStartConnect(t *testing.T) {
	server, store := newTestServer(t, "https://upstream.invalid")

	authURL, err := server.StartConnect(context.Background(), "192.0.2.1")
	if err != nil {
		t.Fatalf("StartConnect() error = %v", err)
	}

	parsed, err := url.Parse(authURL)
	if err != nil {
		t.Fatalf("parsing auth URL: %v", err)
	}
	q := parsed.Query()

	if q.Get("client_id") != "client-id" {
		t.Errorf("client_id = %q, want client-id", q.Get("client_id"))
	}
	if q.Get("code_challenge_method") != "S256" {
		t.Errorf("code_challenge_method = %q, want S256", q.Get("code_challenge_method"))
	}

	state := q.Get("state")
	if state == "" {
		t.Fatal("auth URL carries no state")
	}

	// The recorded verifier must hash to the challenge in the URL.
	authState, err := store.ConsumeAuthState(context.Background(), state)
	if err != nil {
		t.Fatalf("ConsumeAuthState() error = %v", err)
	}
	if got := security.ChallengeS256(authState.CodeVerifier); got != q.Get("code_challenge") {
		t.Errorf("code_challenge = %q, want %q derived from the stored verifier", q.Get("code_challenge"), got)
	}
	if authState.ExpiresAt.Sub(authState.CreatedAt) != DefaultAuthStateTTL {
		t.Errorf("state TTL = %v, want %v", authState.ExpiresAt.Sub(authState.CreatedAt), DefaultAuthStateTTL)
	}
}

func TestStartConnectWithoutOAuth(t *testing.T) {
	store := memory.New()
	t.Cleanup(store.Stop)

	server, err := New(&Config{}, store, store)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(server.Close)

	if _, err := server.StartConnect(context.Background(), "192.0.2.1"); !errors.Is(err, ErrNoCredentials) {
		t.Errorf("StartConnect() error = %v, want ErrNoCredentials", err)
	}
}

func TestCompleteCallback(t *testing.T) {
	var tokenCalls int
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/oauth/token" {
			t.Errorf("unexpected upstream path %q", r.URL.Path)
			http.NotFound(w, r)
			return
		}
		tokenCalls++
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parsing token request: %v", err)
		}
		if r.PostForm.Get("code") != "auth-code" {
			t.Errorf("code = %q, want auth-code", r.PostForm.Get("code"))
		}
		if r.PostForm.Get("code_verifier") == "" {
			t.Error("token request carries no code_verifier")
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(testutil.TokenResponse("access-1", "refresh-1", 3600)))
	}))
	defer upstream.Close()

	server, store := newTestServer(t, upstream.URL)
	ctx := context.Background()

	authURL, err := server.StartConnect(ctx, "192.0.2.1")
	if err != nil {
		t.Fatalf("StartConnect() error = %v", err)
	}
	state := mustQueryParam(t, authURL, "state")

	result, err := server.CompleteCallback(ctx, "auth-code", state, "192.0.2.1")
	if err != nil {
		t.Fatalf("CompleteCallback() error = %v", err)
	}

	if !result.Connected || result.Tenant != DefaultTenant || !result.HasRefresh {
		t.Errorf("CompleteCallback() = %+v, want connected default tenant with refresh", result)
	}
	if result.ExpiresIn <= 0 || result.ExpiresIn > 3600 {
		t.Errorf("ExpiresIn = %d, want within (0, 3600]", result.ExpiresIn)
	}
	if tokenCalls != 1 {
		t.Errorf("token endpoint called %d times, want 1", tokenCalls)
	}

	token, err := store.GetToken(ctx, DefaultTenant)
	if err != nil {
		t.Fatalf("GetToken() error = %v", err)
	}
	if token.AccessToken != "access-1" || token.RefreshToken != "refresh-1" {
		t.Errorf("stored token = %q/%q, want access-1/refresh-1", token.AccessToken, token.RefreshToken)
	}

	// The state is single use.
	if _, err := server.CompleteCallback(ctx, "auth-code", state, "192.0.2.1"); !errors.Is(err, storage.ErrStateNotFound) {
		t.Errorf("second CompleteCallback() error = %v, want ErrStateNotFound", err)
	}
}

func TestCompleteCallbackUnknownState(t *testing.T) {
	server, _ := newTestServer(t, "https://upstream.invalid")

	_, err := server.CompleteCallback(context.Background(), "code", "never-issued", "192.0.2.1")
	if !errors.Is(err, storage.ErrStateNotFound) {
		t.Errorf("CompleteCallback() error = %v, want ErrStateNotFound", err)
	}
}

func TestValidTokenLazyRefresh(t *testing.T) {
	var refreshCalls int
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		refreshCalls++
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parsing token request: %v", err)
		}
		if r.PostForm.Get("grant_type") != "refresh_token" {
			t.Errorf("grant_type = %q, want refresh_token", r.PostForm.Get("grant_type"))
		}
		w.Header().Set("Content-Type", "application/json")
		// The refreshed token carries no refresh_token of its own.
		_, _ = w.Write([]byte(`{"access_token": "access-new", "token_type": "Bearer", "expires_in": 3600}`))
	}))
	defer upstream.Close()

	server, store := newTestServer(t, upstream.URL)
	ctx := context.Background()

	// Expiring inside the refresh window.
	err := store.SaveToken(ctx, DefaultTenant, &oauth2.Token{
		AccessToken:  "access-old",
		RefreshToken: "refresh-old",
		Expiry:       time.Now().Add(30 * time.Second),
	})
	if err != nil {
		t.Fatalf("SaveToken() error = %v", err)
	}

	got, err := server.ValidToken(ctx, DefaultTenant)
	if err != nil {
		t.Fatalf("ValidToken() error = %v", err)
	}
	if got != "access-new" {
		t.Errorf("ValidToken() = %q, want the refreshed access-new", got)
	}
	if refreshCalls != 1 {
		t.Errorf("token endpoint called %d times, want 1", refreshCalls)
	}

	stored, err := store.GetToken(ctx, DefaultTenant)
	if err != nil {
		t.Fatalf("GetToken() error = %v", err)
	}
	if stored.RefreshToken != "refresh-old" {
		t.Errorf("RefreshToken = %q, want refresh-old kept when the response omits one", stored.RefreshToken)
	}

	// The fresh token is outside the window, so a second read must not
	// refresh again.
	if _, err := server.ValidToken(ctx, DefaultTenant); err != nil {
		t.Fatalf("second ValidToken() error = %v", err)
	}
	if refreshCalls != 1 {
		t.Errorf("token endpoint called %d times after second read, want still 1", refreshCalls)
	}
}

func TestValidTokenRefreshWindow(t *testing.T) {
	var refreshCalls int
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		refreshCalls++
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(testutil.TokenResponse("access-new", "refresh-new", 3600)))
	}))
	defer upstream.Close()

	server, store := newTestServer(t, upstream.URL)
	ctx := context.Background()

	clock := testutil.NewMockTime(time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC))
	server.now = clock.Now

	expiry := clock.Now().Add(10 * time.Minute)
	err := store.SaveToken(ctx, DefaultTenant, &oauth2.Token{
		AccessToken:  "access-old",
		RefreshToken: "refresh-old",
		Expiry:       expiry,
	})
	if err != nil {
		t.Fatalf("SaveToken() error = %v", err)
	}

	// Well before expiry the stored token is served untouched.
	got, err := server.ValidToken(ctx, DefaultTenant)
	if err != nil {
		t.Fatalf("ValidToken() error = %v", err)
	}
	if got != "access-old" || refreshCalls != 0 {
		t.Errorf("ValidToken() = %q with %d refreshes, want access-old with none", got, refreshCalls)
	}

	// One second short of the window is still outside it.
	clock.Set(expiry.Add(-security.DefaultRefreshWindow - time.Second))
	got, err = server.ValidToken(ctx, DefaultTenant)
	if err != nil {
		t.Fatalf("ValidToken() error = %v", err)
	}
	if got != "access-old" || refreshCalls != 0 {
		t.Errorf("ValidToken() = %q with %d refreshes, want no refresh just outside the window", got, refreshCalls)
	}

	// One second past the window boundary triggers the refresh.
	clock.Set(expiry.Add(-security.DefaultRefreshWindow + time.Second))
	got, err = server.ValidToken(ctx, DefaultTenant)
	if err != nil {
		t.Fatalf("ValidToken() error = %v", err)
	}
	if got != "access-new" {
		t.Errorf("ValidToken() = %q, want the refreshed access-new", got)
	}
	if refreshCalls != 1 {
		t.Errorf("token endpoint called %d times, want 1", refreshCalls)
	}
}

func TestValidTokenFresh(t *testing.T) {
	server, store := newTestServer(t, "https://upstream.invalid")
	ctx := context.Background()

	err := store.SaveToken(ctx, DefaultTenant, &oauth2.Token{
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		Expiry:       time.Now().Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("SaveToken() error = %v", err)
	}

	got, err := server.ValidToken(ctx, DefaultTenant)
	if err != nil {
		t.Fatalf("ValidToken() error = %v", err)
	}
	if got != "access-1" {
		t.Errorf("ValidToken() = %q, want the stored token untouched", got)
	}
}

func TestValidTokenNotConnected(t *testing.T) {
	server, _ := newTestServer(t, "https://upstream.invalid")

	if _, err := server.ValidToken(context.Background(), DefaultTenant); !errors.Is(err, ErrNotConnected) {
		t.Errorf("ValidToken() error = %v, want ErrNotConnected", err)
	}
}

func TestDisconnect(t *testing.T) {
	server, store := newTestServer(t, "https://upstream.invalid")
	ctx := context.Background()

	if err := store.SaveToken(ctx, DefaultTenant, &oauth2.Token{AccessToken: "access-1"}); err != nil {
		t.Fatalf("SaveToken() error = %v", err)
	}
	if err := server.Disconnect(ctx, DefaultTenant, "192.0.2.1"); err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}
	if _, err := store.GetToken(ctx, DefaultTenant); !errors.Is(err, storage.ErrTokenNotFound) {
		t.Errorf("GetToken() error = %v, want ErrTokenNotFound after disconnect", err)
	}
}

func TestResolveServiceType(t *testing.T) {
	upstream := httptest.NewServer(testutil.JSONHandler(http.StatusOK, testutil.ServiceTypesDocument(
		testutil.ServiceTypeEntry{ID: "1", Name: "Sunday Service", Sequence: 1},
		testutil.ServiceTypeEntry{ID: "2", Name: "Youth", Sequence: 2},
	)))
	defer upstream.Close()

	store := memory.New()
	t.Cleanup(store.Stop)

	server, err := New(&Config{
		AppAuth:  AppAuthConfig{AppID: "app", Secret: "secret"},
		Upstream: UpstreamConfig{BaseURL: upstream.URL},
	}, store, store)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(server.Close)
	ctx := context.Background()

	t.Run("explicit id wins", func(t *testing.T) {
		got, err := server.ResolveServiceType(ctx, "explicit-7", "Sunday Service")
		if err != nil {
			t.Fatalf("ResolveServiceType() error = %v", err)
		}
		if got != "explicit-7" {
			t.Errorf("ResolveServiceType() = %q, want explicit-7", got)
		}
	})

	t.Run("explicit name is matched", func(t *testing.T) {
		got, err := server.ResolveServiceType(ctx, "", "youth")
		if err != nil {
			t.Fatalf("ResolveServiceType() error = %v", err)
		}
		if got != "2" {
			t.Errorf("ResolveServiceType() = %q, want 2", got)
		}
	})

	t.Run("unmatched name is not found", func(t *testing.T) {
		_, err := server.ResolveServiceType(ctx, "", "kids")
		var apiErr *APIError
		if !errors.As(err, &apiErr) || apiErr.Status != http.StatusNotFound {
			t.Errorf("ResolveServiceType() error = %v, want a 404 APIError", err)
		}
	})

	t.Run("no parameters and no default", func(t *testing.T) {
		got, err := server.ResolveServiceType(ctx, "", "")
		if err != nil {
			t.Fatalf("ResolveServiceType() error = %v", err)
		}
		if got != "" {
			t.Errorf("ResolveServiceType() = %q, want empty when nothing is determinable", got)
		}
	})
}

func TestResolveServiceTypeConfiguredDefault(t *testing.T) {
	upstream := httptest.NewServer(testutil.JSONHandler(http.StatusOK, testutil.ServiceTypesDocument(
		testutil.ServiceTypeEntry{ID: "9", Name: "Main Gathering", Sequence: 1},
	)))
	defer upstream.Close()

	store := memory.New()
	t.Cleanup(store.Stop)

	server, err := New(&Config{
		AppAuth:  AppAuthConfig{AppID: "app", Secret: "secret"},
		Upstream: UpstreamConfig{BaseURL: upstream.URL},
		Services: ServicesConfig{DefaultServiceTypeName: "Main Gathering"},
	}, store, store)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(server.Close)

	got, err := server.ResolveServiceType(context.Background(), "", "")
	if err != nil {
		t.Fatalf("ResolveServiceType() error = %v", err)
	}
	if got != "9" {
		t.Errorf("ResolveServiceType() = %q, want the configured default's id", got)
	}
}

func mustQueryParam(t *testing.T, rawurl, key string) string {
	t.Helper()
	parsed, err := url.Parse(rawurl)
	if err != nil {
		t.Fatalf("parsing %q: %v", rawurl, err)
	}
	value := parsed.Query().Get(key)
	if value == "" {
		t.Fatalf("url %q carries no %q", rawurl, key)
	}
	return value
}
