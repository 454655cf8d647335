package memory

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/oauth2"

	"github.com/churchops/pco-connect/instrumentation"
	"github.com/churchops/pco-connect/security"
	"github.com/churchops/pco-connect/storage"
)

const defaultCleanupInterval = 1 * time.Minute

// Store is an in-memory implementation of storage.TokenStore and
// storage.FlowStore. A background janitor sweeps expired authorization states.
type Store struct {
	mu sync.RWMutex

	tokens     map[string]*oauth2.Token
	authStates map[string]*storage.AuthState

	logger          *slog.Logger
	cleanupInterval time.Duration

	// Atomic counters for metric callbacks (lock-free reads).
	tokensCount atomic.Int64
	statesCount atomic.Int64

	instrumentation *instrumentation.Instrumentation

	stopCleanup chan struct{}
	stopOnce    sync.Once
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// WithCleanupInterval overrides the janitor interval. Mainly for tests.
func WithCleanupInterval(interval time.Duration) Option {
	return func(s *Store) { s.cleanupInterval = interval }
}

// New creates an in-memory store and starts its cleanup loop.
func New(opts ...Option) *Store {
	s := &Store{
		tokens:      make(map[string]*oauth2.Token),
		authStates:  make(map[string]*storage.AuthState),
		logger:      slog.Default(),
		stopCleanup: make(chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}
	if s.cleanupInterval == 0 {
		s.cleanupInterval = defaultCleanupInterval
	}

	go s.cleanupLoop()

	return s
}

// Stop terminates the cleanup loop. Safe to call more than once.
func (s *Store) Stop() {
	s.stopOnce.Do(func() { close(s.stopCleanup) })
}

// SetInstrumentation attaches instrumentation and registers the storage size
// gauges.
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.instrumentation = inst
	if inst == nil {
		return
	}
	if err := inst.RegisterStorageSizeCallbacks(
		func() int64 { return s.tokensCount.Load() },
		func() int64 { return s.statesCount.Load() },
	); err != nil {
		s.logger.Warn("Failed to register storage size callbacks", "error", err)
	}
}

// SaveToken stores (or replaces) the token for a tenant.
func (s *Store) SaveToken(ctx context.Context, tenant string, token *oauth2.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tokens[tenant] = token
	s.tokensCount.Store(int64(len(s.tokens)))
	return nil
}

// GetToken retrieves the token for a tenant.
func (s *Store) GetToken(ctx context.Context, tenant string) (*oauth2.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	token, ok := s.tokens[tenant]
	if !ok {
		return nil, storage.ErrTokenNotFound
	}
	return token, nil
}

// DeleteToken removes the token for a tenant.
func (s *Store) DeleteToken(ctx context.Context, tenant string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.tokens, tenant)
	s.tokensCount.Store(int64(len(s.tokens)))
	return nil
}

// SaveAuthState records a new authorization handshake.
func (s *Store) SaveAuthState(ctx context.Context, state *storage.AuthState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.authStates[state.State] = state
	s.statesCount.Store(int64(len(s.authStates)))
	return nil
}

// ConsumeAuthState retrieves and deletes a handshake in one step.
func (s *Store) ConsumeAuthState(ctx context.Context, stateID string) (*storage.AuthState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.authStates[stateID]
	if !ok {
		return nil, storage.ErrStateNotFound
	}

	delete(s.authStates, stateID)
	s.statesCount.Store(int64(len(s.authStates)))

	if security.IsExpired(state.ExpiresAt, time.Now()) {
		return nil, storage.ErrStateNotFound
	}

	return state, nil
}

func (s *Store) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanupExpiredStates()
		case <-s.stopCleanup:
			return
		}
	}
}

func (s *Store) cleanupExpiredStates() {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, state := range s.authStates {
		if security.IsExpired(state.ExpiresAt, now) {
			delete(s.authStates, id)
			removed++
		}
	}
	s.statesCount.Store(int64(len(s.authStates)))

	if removed > 0 {
		s.logger.Debug("Swept expired authorization states", "removed", removed, "remaining", len(s.authStates))
	}
}
