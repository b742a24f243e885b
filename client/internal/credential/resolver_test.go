package credential

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/propnest/marketsync/client/internal/storage"
	"github.com/propnest/marketsync/client/internal/types"
)

func signed(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return tok
}

type countingSource struct {
	calls int
	tok   *oauth2.Token
	err   error
}

func (c *countingSource) Token() (*oauth2.Token, error) {
	c.calls++
	return c.tok, c.err
}

func TestResolve_PriorityOrder(t *testing.T) {
	t.Parallel()
	store := storage.NewMemory(0)
	fed := &countingSource{tok: &oauth2.Token{AccessToken: "federated"}}
	r := New(store, WithFederated(fed))
	ctx := context.Background()

	tok, src := r.Resolve(ctx, "")
	assert.Equal(t, "federated", tok)
	assert.Equal(t, SourceFederated, src)

	require.NoError(t, store.Set("currentUser", []byte(`{"user":{"token":"from-profile"}}`)))
	tok, src = r.Resolve(ctx, "")
	assert.Equal(t, "from-profile", tok)
	assert.Equal(t, SourceProfile, src)

	require.NoError(t, store.Set("jwt", []byte("slot-jwt")))
	tok, src = r.Resolve(ctx, "")
	assert.Equal(t, "slot-jwt", tok)
	assert.Equal(t, SourceSlot, src)

	require.NoError(t, store.Set("token", []byte("slot-token")))
	tok, _ = r.Resolve(ctx, "")
	assert.Equal(t, "slot-token", tok, "earlier slots win")

	tok, src = r.Resolve(ctx, "  call-site ")
	assert.Equal(t, "call-site", tok)
	assert.Equal(t, SourceExplicit, src)
}

func TestResolve_FederatedTokenNotPersisted(t *testing.T) {
	t.Parallel()
	store := storage.NewMemory(0)
	fed := &countingSource{tok: (&oauth2.Token{AccessToken: "access"}).WithExtra(map[string]any{"id_token": "id-token"})}
	r := New(store, WithFederated(fed))

	for i := 0; i < 2; i++ {
		tok, src := r.Resolve(context.Background(), "")
		assert.Equal(t, "id-token", tok)
		assert.Equal(t, SourceFederated, src)
	}
	assert.Equal(t, 2, fed.calls, "federated source is consulted per call")
	for _, key := range Slots {
		assert.Equal(t, "", storage.GetString(store, key))
	}
}

func TestResolve_FederatedFailureYieldsNone(t *testing.T) {
	t.Parallel()
	r := New(storage.NewMemory(0), WithFederated(&countingSource{err: errors.New("offline")}))
	tok, src := r.Resolve(context.Background(), "")
	assert.Empty(t, tok)
	assert.Equal(t, SourceNone, src)
}

func TestResolve_SkipsExpiredJWT(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	store := storage.NewMemory(0)
	expiredTok := signed(t, jwt.MapClaims{"sub": "u1", "exp": now.Add(-time.Hour).Unix()})
	validTok := signed(t, jwt.MapClaims{"sub": "u1", "exp": now.Add(time.Hour).Unix()})
	require.NoError(t, store.Set("token", []byte(expiredTok)))
	require.NoError(t, store.Set("authToken", []byte(validTok)))

	r := New(store, WithClock(func() time.Time { return now }))
	tok, src := r.Resolve(context.Background(), "")
	assert.Equal(t, validTok, tok)
	assert.Equal(t, SourceSlot, src)
}

func TestNew_MigratesLegacyKeys(t *testing.T) {
	t.Parallel()
	store := storage.NewMemory(0)
	require.NoError(t, store.Set("sellerToken", []byte("legacy")))
	r := New(store)
	assert.Equal(t, "legacy", storage.GetString(store, "token"))
	assert.Equal(t, "", storage.GetString(store, "sellerToken"))
	tok, _ := r.Resolve(context.Background(), "")
	assert.Equal(t, "legacy", tok)
}

func TestNew_LegacyIgnoredWhenPrimaryPresent(t *testing.T) {
	t.Parallel()
	store := storage.NewMemory(0)
	require.NoError(t, store.Set("token", []byte("current")))
	require.NoError(t, store.Set("adminToken", []byte("legacy")))
	New(store)
	assert.Equal(t, "current", storage.GetString(store, "token"))
	assert.Equal(t, "legacy", storage.GetString(store, "adminToken"))
}

func TestClear_RemovesEverySlot(t *testing.T) {
	t.Parallel()
	store := storage.NewMemory(0)
	r := New(store)
	for _, key := range append(append(append([]string{}, Slots...), ProfileKeys...), LegacyKeys...) {
		require.NoError(t, store.Set(key, []byte(`{"token":"x"}`)))
	}
	require.NoError(t, r.Clear())
	tok, src := r.Resolve(context.Background(), "")
	assert.Empty(t, tok)
	assert.Equal(t, SourceNone, src)
}

func TestStore_WritesPrimarySlot(t *testing.T) {
	t.Parallel()
	store := storage.NewMemory(0)
	r := New(store)
	require.Error(t, r.Store("  "))
	require.NoError(t, r.Store("abc"))
	assert.Equal(t, "abc", storage.GetString(store, Slots[0]))
}

func TestIdentity(t *testing.T) {
	t.Parallel()
	store := storage.NewMemory(0)
	r := New(store)

	_, ok := r.Identity(context.Background())
	assert.False(t, ok)

	require.NoError(t, store.Set("user", []byte(`{"_id":"65a1b2c3d4e5f60718293a4b","role":"seller","token":"opaque"}`)))
	id, ok := r.Identity(context.Background())
	require.True(t, ok)
	assert.Equal(t, types.ID("65a1b2c3d4e5f60718293a4b"), id.Subject)
	assert.Equal(t, types.RoleSeller, id.Role)

	require.NoError(t, store.Set("token", []byte(signed(t, jwt.MapClaims{"userId": "u9", "role": "admin"}))))
	id, ok = r.Identity(context.Background())
	require.True(t, ok)
	assert.Equal(t, types.ID("u9"), id.Subject)
	assert.Equal(t, types.RoleAdmin, id.Role)
}

func TestClaims_OpaqueToken(t *testing.T) {
	t.Parallel()
	_, ok := Claims("not-a-jwt")
	assert.False(t, ok)
	assert.False(t, expired("not-a-jwt", time.Now()))
}
