package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/churchops/pco-connect/storage"
)

func TestTokenLifecycle(t *testing.T) {
	store := New()
	defer store.Stop()
	ctx := context.Background()

	_, err := store.GetToken(ctx, "default")
	assert.ErrorIs(t, err, storage.ErrTokenNotFound)

	token := &oauth2.Token{AccessToken: "at-1", RefreshToken: "rt-1", Expiry: time.Now().Add(time.Hour)}
	require.NoError(t, store.SaveToken(ctx, "default", token))

	got, err := store.GetToken(ctx, "default")
	require.NoError(t, err)
	assert.Equal(t, "at-1", got.AccessToken)

	// Saving again replaces in place.
	require.NoError(t, store.SaveToken(ctx, "default", &oauth2.Token{AccessToken: "at-2"}))
	got, err = store.GetToken(ctx, "default")
	require.NoError(t, err)
	assert.Equal(t, "at-2", got.AccessToken)

	require.NoError(t, store.DeleteToken(ctx, "default"))
	_, err = store.GetToken(ctx, "default")
	assert.ErrorIs(t, err, storage.ErrTokenNotFound)

	// Deleting an absent token is not an error.
	assert.NoError(t, store.DeleteToken(ctx, "default"))
}

func TestConsumeAuthStateIsOneShot(t *testing.T) {
	store := New()
	defer store.Stop()
	ctx := context.Background()

	now := time.Now()
	require.NoError(t, store.SaveAuthState(ctx, &storage.AuthState{
		State:        "state-1",
		CodeVerifier: "verifier-1",
		CreatedAt:    now,
		ExpiresAt:    now.Add(10 * time.Minute),
	}))

	state, err := store.ConsumeAuthState(ctx, "state-1")
	require.NoError(t, err)
	assert.Equal(t, "verifier-1", state.CodeVerifier)

	_, err = store.ConsumeAuthState(ctx, "state-1")
	assert.ErrorIs(t, err, storage.ErrStateNotFound, "a state must not be redeemable twice")
}

func TestConsumeAuthStateRejectsExpired(t *testing.T) {
	store := New()
	defer store.Stop()
	ctx := context.Background()

	now := time.Now()
	require.NoError(t, store.SaveAuthState(ctx, &storage.AuthState{
		State:     "stale",
		CreatedAt: now.Add(-20 * time.Minute),
		ExpiresAt: now.Add(-10 * time.Minute),
	}))

	_, err := store.ConsumeAuthState(ctx, "stale")
	assert.ErrorIs(t, err, storage.ErrStateNotFound)

	// Expired consumption still removes the entry.
	_, err = store.ConsumeAuthState(ctx, "stale")
	assert.ErrorIs(t, err, storage.ErrStateNotFound)
}

func TestConsumeAuthStateUnknown(t *testing.T) {
	store := New()
	defer store.Stop()

	_, err := store.ConsumeAuthState(context.Background(), "never-saved")
	assert.ErrorIs(t, err, storage.ErrStateNotFound)
}

func TestJanitorSweepsExpiredStates(t *testing.T) {
	store := New(WithCleanupInterval(10 * time.Millisecond))
	defer store.Stop()
	ctx := context.Background()

	now := time.Now()
	require.NoError(t, store.SaveAuthState(ctx, &storage.AuthState{
		State:     "old",
		ExpiresAt: now.Add(-time.Minute),
	}))
	require.NoError(t, store.SaveAuthState(ctx, &storage.AuthState{
		State:     "fresh",
		ExpiresAt: now.Add(time.Hour),
	}))

	assert.Eventually(t, func() bool {
		return store.statesCount.Load() == 1
	}, time.Second, 10*time.Millisecond, "janitor should sweep only the expired state")
}
