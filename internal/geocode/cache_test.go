package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignatzorin/ecolog-backend/internal/clock"
	"github.com/ignatzorin/ecolog-backend/internal/models"
	"github.com/ignatzorin/ecolog-backend/internal/repository"
)

var errStorageDown = errors.New("storage down")

// failingStore отдаёт ошибку на запись, чтение делегирует.
type failingStore struct {
	repository.DocumentStore
}

func (failingStore) Put(context.Context, string, []byte) error { return errStorageDown }

func TestKey_QuantizesToFourDecimals(t *testing.T) {
	assert.Equal(t, "-1.4558|-48.4902", Key(-1.45584, -48.49016))
	assert.Equal(t, "1.0000|2.0000", Key(1, 2))
	assert.Equal(t, Key(-1.45581, -48.49019), Key(-1.45584, -48.49016))
}

func TestKey_RoundsTiesLikeToFixed(t *testing.T) {
	// 1.03125 и 48.03125 точно представимы, половина уходит от нуля
	assert.Equal(t, "1.0313|-48.0313", Key(1.03125, -48.03125))
	assert.Equal(t, "0.0000|-0.0001", Key(math.Copysign(0, -1), -0.00012))
}

func TestCache_StoreAndLookup(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryDocumentRepository()
	clk := clock.NewFake(time.Date(2024, 3, 12, 12, 0, 0, 0, time.UTC))
	cache := NewCache(store, clk)

	_, ok := cache.Lookup(ctx, -1.4558, -48.4902)
	assert.False(t, ok)

	require.NoError(t, cache.Store(ctx, -1.4558, -48.4902, "Umarizal"))

	place, ok := cache.Lookup(ctx, -1.45581, -48.49019)
	require.True(t, ok)
	assert.Equal(t, "Umarizal", place)

	// Новый экземпляр читает сохранённый документ.
	reloaded := NewCache(store, clk)
	place, ok = reloaded.Lookup(ctx, -1.4558, -48.4902)
	require.True(t, ok)
	assert.Equal(t, "Umarizal", place)

	raw, err := store.Get(ctx, repository.DocumentGeocodeCache)
	require.NoError(t, err)
	var doc map[string]models.GeocodeEntry
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Equal(t, clk.Now().UnixMilli(), doc["-1.4558|-48.4902"].CachedAt)
}

func TestCache_ExpiryBoundary(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2024, 3, 12, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		name   string
		offset time.Duration
		hit    bool
	}{
		{"ttl minus 1ms", CacheTTL - time.Millisecond, true},
		{"exactly ttl", CacheTTL, true},
		{"ttl plus 1ms", CacheTTL + time.Millisecond, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := repository.NewMemoryDocumentRepository()
			clk := clock.NewFake(start)
			cache := NewCache(store, clk)
			require.NoError(t, cache.Store(ctx, -1.4, -48.5, "Marco"))

			clk.Set(start.Add(tc.offset))
			_, ok := cache.Lookup(ctx, -1.4, -48.5)
			assert.Equal(t, tc.hit, ok)

			if !tc.hit {
				// Просроченная запись вычищена из документа.
				raw, err := store.Get(ctx, repository.DocumentGeocodeCache)
				require.NoError(t, err)
				assert.JSONEq(t, `{}`, string(raw))
				assert.Zero(t, cache.Len(ctx))
			}
		})
	}
}

func TestCache_Clear(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryDocumentRepository()
	cache := NewCache(store, clock.NewFake(time.Now()))

	require.NoError(t, cache.Store(ctx, 1, 1, "A"))
	require.NoError(t, cache.Clear(ctx))

	_, ok := cache.Lookup(ctx, 1, 1)
	assert.False(t, ok)
	_, err := store.Get(ctx, repository.DocumentGeocodeCache)
	assert.ErrorIs(t, err, repository.ErrDocumentNotFound)
}

func TestCache_CorruptDocumentStartsEmpty(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryDocumentRepository()
	require.NoError(t, store.Put(ctx, repository.DocumentGeocodeCache, []byte(`{not json`)))

	cache := NewCache(store, clock.NewFake(time.Now()))
	_, ok := cache.Lookup(ctx, 1, 1)
	assert.False(t, ok)

	require.NoError(t, cache.Store(ctx, 1, 1, "A"))
	place, ok := cache.Lookup(ctx, 1, 1)
	assert.True(t, ok)
	assert.Equal(t, "A", place)
}

func TestCache_PersistFailureLeavesCacheUnchanged(t *testing.T) {
	ctx := context.Background()
	cache := NewCache(failingStore{repository.NewMemoryDocumentRepository()}, clock.NewFake(time.Now()))

	err := cache.Store(ctx, 1, 1, "A")
	assert.ErrorIs(t, err, errStorageDown)

	_, ok := cache.Lookup(ctx, 1, 1)
	assert.False(t, ok)
}

func TestEstimatePlace(t *testing.T) {
	assert.Equal(t, "Umarizal", EstimatePlace(-1.46, -48.49))
	assert.Equal(t, "Marco", EstimatePlace(-1.445, -48.46))
	assert.Equal(t, "Ananindeua", EstimatePlace(-1.36, -48.37))
	assert.Equal(t, "Centro / Outros", EstimatePlace(-1.43, -48.45))
}
