package services

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"commodity-forecast-api/pkg/kvstore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMakeStorageKeyIgnoresBasisOrder(t *testing.T) {
	a := MakeStorageKey("Urea", []string{"middle east", "brazil", "china"})
	b := MakeStorageKey("urea", []string{"china", "middle east", "brazil"})

	assert.Equal(t, a, b)
	assert.Contains(t, a, SessionKeyPrefix)
	assert.NotEqual(t, a, MakeStorageKey("urea", []string{"china"}))
}

func TestMakeStorageKeyDoesNotReorderInput(t *testing.T) {
	basis := []string{"b", "a"}
	MakeStorageKey("urea", basis)
	assert.Equal(t, []string{"b", "a"}, basis)
}

func TestIsExpired(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	entry := SavedSession{SavedAt: now.Add(-24 * time.Hour).UnixMilli()}
	assert.False(t, IsExpired(entry, now, 24*time.Hour))

	entry.SavedAt = now.Add(-24*time.Hour - time.Millisecond).UnixMilli()
	assert.True(t, IsExpired(entry, now, 24*time.Hour))
}

func TestSessionCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	cache := NewSessionCache(kvstore.NewMemoryStore(), 0)
	assert.Equal(t, 24*time.Hour, cache.MaxAge())

	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	state := ScreenState{
		Commodity:         "urea",
		Basis:             []string{"china", "brazil"},
		FutureDate:        "2026-04-01",
		Status:            StatusSuccess,
		ActiveTab:         "evidence",
		BasePricesByBasis: map[string]string{"china": "400"},
		Bundle:            json.RawMessage(`{"tender":{"tenderAction":"BID"}}`),
	}

	saved, err := cache.Persist(ctx, state, now)
	require.NoError(t, err)
	assert.True(t, saved)

	fresh := ScreenState{Commodity: "urea", Basis: []string{"brazil", "china"}, Status: StatusIdle}
	restored, ok, err := cache.Restore(ctx, fresh, now.Add(time.Hour))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, StatusSuccess, restored.Status)
	assert.Equal(t, "2026-04-01", restored.FutureDate)
	assert.Equal(t, "evidence", restored.ActiveTab)
	assert.Equal(t, "400", restored.BasePricesByBasis["china"])
	assert.JSONEq(t, `{"tender":{"tenderAction":"BID"}}`, string(restored.Bundle))
	assert.Nil(t, restored.Error)
}

func TestSessionCacheRestoreMulti(t *testing.T) {
	ctx := context.Background()
	cache := NewSessionCache(kvstore.NewMemoryStore(), time.Hour)
	now := time.Now()

	key := MakeStorageKey("urea", []string{"a", "b"})
	require.NoError(t, cache.Set(ctx, key, SavedSession{
		Commodity:   "urea",
		Basis:       []string{"a", "b"},
		ActiveIndex: 1,
		Multi:       []json.RawMessage{json.RawMessage(`{"n":1}`), json.RawMessage(`{"n":2}`)},
	}, now))

	restored, ok, err := cache.Restore(ctx, ScreenState{Commodity: "urea", Basis: []string{"b", "a"}}, now)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 0, restored.ActiveIndex)
	assert.Len(t, restored.Multi, 2)
	assert.JSONEq(t, `{"n":1}`, string(restored.Bundle))
	assert.Equal(t, StatusSuccess, restored.Status)
}

func TestSessionCacheExpiredEntryIsDeleted(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemoryStore()
	cache := NewSessionCache(store, 24*time.Hour)
	saved := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	key := MakeStorageKey("urea", []string{"china"})
	require.NoError(t, cache.Set(ctx, key, SavedSession{Commodity: "urea", Basis: []string{"china"}, Result: json.RawMessage(`{}`)}, saved))

	state := ScreenState{Commodity: "urea", Basis: []string{"china"}, Status: StatusIdle, FutureDate: "2026-05-01"}
	restored, ok, err := cache.Restore(ctx, state, saved.Add(25*time.Hour))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, state, restored)
	assert.Equal(t, 0, store.Len())
}

func TestSessionCacheRestoreSkipsWhileLoading(t *testing.T) {
	ctx := context.Background()
	cache := NewSessionCache(kvstore.NewMemoryStore(), time.Hour)
	now := time.Now()

	key := MakeStorageKey("urea", nil)
	require.NoError(t, cache.Set(ctx, key, SavedSession{Commodity: "urea", Result: json.RawMessage(`{"x":1}`)}, now))

	state := ScreenState{Commodity: "urea", Status: StatusLoading}
	restored, ok, err := cache.Restore(ctx, state, now)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, StatusLoading, restored.Status)
}

func TestSessionCacheCorruptEntryIsMiss(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemoryStore()
	require.NoError(t, store.Set(ctx, "k", "{broken"))

	entry, ok, err := NewSessionCache(store, time.Hour).Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, entry)
}

func TestPersistRequiresSuccessWithContent(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemoryStore()
	cache := NewSessionCache(store, time.Hour)

	saved, err := cache.Persist(ctx, ScreenState{Commodity: "urea", Status: StatusError, Result: json.RawMessage(`{}`)}, time.Now())
	require.NoError(t, err)
	assert.False(t, saved)

	saved, err = cache.Persist(ctx, ScreenState{Commodity: "urea", Status: StatusSuccess, Result: json.RawMessage(`null`)}, time.Now())
	require.NoError(t, err)
	assert.False(t, saved)
	assert.Equal(t, 0, store.Len())
}
