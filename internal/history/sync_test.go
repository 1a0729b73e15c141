package history

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"exgateway/config"
	"exgateway/pkg/binance"
	kv "exgateway/pkg/storage/redis"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// scriptFetcher returns one scripted response per call, in order, and keeps
// every requested window for inspection.
type scriptFetcher struct {
	responses []fetchResponse
	windows   []window
}

type fetchResponse struct {
	trades []binance.Trade
	err    error
}

func (f *scriptFetcher) FetchTrades(_ context.Context, _, _ string, start, end time.Time) ([]binance.Trade, error) {
	f.windows = append(f.windows, window{start: start, end: end})
	if len(f.responses) == 0 {
		return nil, nil
	}
	resp := f.responses[0]
	f.responses = f.responses[1:]
	return resp.trades, resp.err
}

func newTestSyncer(fetcher TradeFetcher, store kv.Store) *Syncer {
	s := NewSyncer(fetcher, store, config.HistoryConfig{
		KeyPrefix: "tradecache",
		Window:    7 * 24 * time.Hour,
		Retention: 90 * 24 * time.Hour,
		CacheTTL:  30 * 24 * time.Hour,
	}, zap.NewNop())
	s.now = func() time.Time { return testNow }
	return s
}

func trade(id int64, at time.Time) binance.Trade {
	return binance.Trade{ID: id, OrderID: id * 10, Symbol: "BTCUSDT", Price: "50000", Qty: "0.1", Time: at.UnixMilli()}
}

func seedCache(t *testing.T, store kv.Store, key string, lastSync time.Time, trades []binance.Trade) {
	t.Helper()
	payload, err := json.Marshal(tradeCache{LastSyncTime: lastSync.UnixMilli(), Trades: trades})
	require.NoError(t, err)
	require.NoError(t, store.Set(context.Background(), key, string(payload), 0))
}

func loadCacheForTest(t *testing.T, store kv.Store, key string) tradeCache {
	t.Helper()
	val, err := store.Get(context.Background(), key)
	require.NoError(t, err)
	var cache tradeCache
	require.NoError(t, json.Unmarshal([]byte(val), &cache))
	return cache
}

func assertSortedUnique(t *testing.T, trades []binance.Trade) {
	t.Helper()
	seen := make(map[int64]bool, len(trades))
	for i, tr := range trades {
		assert.False(t, seen[tr.ID], "duplicate trade id %d", tr.ID)
		seen[tr.ID] = true
		if i > 0 {
			assert.LessOrEqual(t, trades[i-1].Time, tr.Time, "trades out of order at %d", i)
		}
	}
}

func TestFullModeWalksThirteenWindows(t *testing.T) {
	fetcher := &scriptFetcher{}
	store := kv.NewMemoryStore()
	s := newTestSyncer(fetcher, store)

	trades, err := s.GetTrades(context.Background(), "user1", "")
	require.NoError(t, err)
	assert.Empty(t, trades)

	// 90 days in 7-day strides: 12 full windows plus one clipped remainder.
	assert.Len(t, fetcher.windows, 13)
	assert.Equal(t, testNow, fetcher.windows[0].end)
	assert.Equal(t, testNow.Add(-90*24*time.Hour), fetcher.windows[len(fetcher.windows)-1].start)

	cache := loadCacheForTest(t, store, s.cacheKey("user1", ""))
	assert.Equal(t, testNow.UnixMilli(), cache.LastSyncTime)
}

func TestFullModeInterruptedKeepsPartialAndAdvancesWatermark(t *testing.T) {
	fetcher := &scriptFetcher{responses: []fetchResponse{
		{trades: []binance.Trade{trade(3, testNow.Add(-time.Hour))}},
		{trades: []binance.Trade{trade(2, testNow.Add(-8*24*time.Hour))}},
		{trades: []binance.Trade{trade(1, testNow.Add(-15*24*time.Hour))}},
		{err: &binance.RateLimitError{RetryAfter: 4 * time.Second}},
	}}
	store := kv.NewMemoryStore()
	s := newTestSyncer(fetcher, store)

	trades, err := s.GetTrades(context.Background(), "user1", "")
	require.NoError(t, err)

	// Walk stopped after the fourth request; the three fetched pages remain.
	assert.Len(t, fetcher.windows, 4)
	require.Len(t, trades, 3)
	assert.Equal(t, []int64{1, 2, 3}, []int64{trades[0].ID, trades[1].ID, trades[2].ID})
	assertSortedUnique(t, trades)

	// Watermark still advances to now, so the next call backfills the
	// remainder instead of repeating the full fetch.
	cache := loadCacheForTest(t, store, s.cacheKey("user1", ""))
	assert.Equal(t, testNow.UnixMilli(), cache.LastSyncTime)
}

func TestIncrementalMergeDeduplicates(t *testing.T) {
	existing := trade(1, testNow.Add(-3*24*time.Hour))
	fetcher := &scriptFetcher{responses: []fetchResponse{
		// The retried delivery of trade 1 must not duplicate it.
		{trades: []binance.Trade{trade(2, testNow.Add(-time.Hour)), existing}},
	}}
	store := kv.NewMemoryStore()
	s := newTestSyncer(fetcher, store)
	key := s.cacheKey("user1", "")
	seedCache(t, store, key, testNow.Add(-2*24*time.Hour), []binance.Trade{existing})

	trades, err := s.GetTrades(context.Background(), "user1", "")
	require.NoError(t, err)

	require.Len(t, fetcher.windows, 1)
	assert.Equal(t, testNow.Add(-2*24*time.Hour).UnixMilli(), fetcher.windows[0].start.UnixMilli())
	assert.Equal(t, testNow, fetcher.windows[0].end)

	require.Len(t, trades, 2)
	assert.Equal(t, int64(1), trades[0].ID)
	assert.Equal(t, int64(2), trades[1].ID)
	assertSortedUnique(t, trades)
}

func TestIncrementalFailureReturnsCachedUnchanged(t *testing.T) {
	cached := []binance.Trade{trade(1, testNow.Add(-3*24*time.Hour)), trade(2, testNow.Add(-2*24*time.Hour))}
	fetcher := &scriptFetcher{responses: []fetchResponse{
		{err: &binance.UpstreamError{Status: 503, Message: "maintenance"}},
	}}
	store := kv.NewMemoryStore()
	s := newTestSyncer(fetcher, store)
	key := s.cacheKey("user1", "")
	seedCache(t, store, key, testNow.Add(-24*time.Hour), cached)

	trades, err := s.GetTrades(context.Background(), "user1", "")

	require.NoError(t, err, "staleness beats unavailability for a history read")
	assert.Equal(t, cached, trades)

	// The cache entry itself is untouched.
	cache := loadCacheForTest(t, store, key)
	assert.Equal(t, testNow.Add(-24*time.Hour).UnixMilli(), cache.LastSyncTime)
}

func TestBackfillTenDayOldCache(t *testing.T) {
	t0 := testNow.Add(-10 * 24 * time.Hour)
	existing := trade(1, t0)
	fetcher := &scriptFetcher{responses: []fetchResponse{
		{trades: []binance.Trade{trade(2, t0.Add(2 * 24 * time.Hour)), existing}},
		{trades: []binance.Trade{trade(3, t0.Add(9 * 24 * time.Hour))}},
	}}
	store := kv.NewMemoryStore()
	s := newTestSyncer(fetcher, store)
	key := s.cacheKey("user1", "")
	seedCache(t, store, key, t0, []binance.Trade{existing})

	trades, err := s.GetTrades(context.Background(), "user1", "")
	require.NoError(t, err)

	// ceil(10/7) = 2 weekly windows walked forward from the watermark.
	require.Len(t, fetcher.windows, 2)
	assert.Equal(t, t0, fetcher.windows[0].start)
	assert.Equal(t, t0.Add(7*24*time.Hour), fetcher.windows[0].end)
	assert.Equal(t, t0.Add(7*24*time.Hour), fetcher.windows[1].start)
	assert.Equal(t, testNow, fetcher.windows[1].end)

	require.Len(t, trades, 3)
	assert.Equal(t, int64(1), trades[0].ID, "pre-existing trade survives exactly once")
	assertSortedUnique(t, trades)

	cache := loadCacheForTest(t, store, key)
	assert.Equal(t, testNow.UnixMilli(), cache.LastSyncTime)
}

func TestSymbolFilterStartsOwnLineage(t *testing.T) {
	fetcher := &scriptFetcher{}
	store := kv.NewMemoryStore()
	s := newTestSyncer(fetcher, store)

	assert.NotEqual(t, s.cacheKey("user1", ""), s.cacheKey("user1", "BTCUSDT"))
	assert.NotEqual(t, s.cacheKey("user1", "BTCUSDT"), s.cacheKey("user2", "BTCUSDT"))
}

// downStore fails every operation, as if the shared store were unreachable.
type downStore struct{}

func (downStore) Get(context.Context, string) (string, error) {
	return "", errors.New("connection refused")
}
func (downStore) Set(context.Context, string, string, time.Duration) error {
	return errors.New("connection refused")
}
func (downStore) Incr(context.Context, string, time.Duration) (int64, error) {
	return 0, errors.New("connection refused")
}
func (downStore) Del(context.Context, ...string) error {
	return errors.New("connection refused")
}

func TestStoreUnreachableDegradesToUncachedFetch(t *testing.T) {
	fetcher := &scriptFetcher{responses: []fetchResponse{
		{trades: []binance.Trade{trade(7, testNow.Add(-time.Hour))}},
	}}
	s := newTestSyncer(fetcher, downStore{})

	trades, err := s.GetTrades(context.Background(), "user1", "")

	require.NoError(t, err)
	assert.Len(t, fetcher.windows, 13, "degraded path still runs the full walk")
	require.Len(t, trades, 1)
	assert.Equal(t, int64(7), trades[0].ID)
}

func TestStoreUnreachableAndFetchFailing(t *testing.T) {
	fetcher := &scriptFetcher{responses: []fetchResponse{
		{err: &binance.BanError{Until: testNow.Add(time.Hour)}},
	}}
	s := newTestSyncer(fetcher, downStore{})

	_, err := s.GetTrades(context.Background(), "user1", "")

	// Nothing was collected at all; the walk's error surfaces.
	var ban *binance.BanError
	require.ErrorAs(t, err, &ban)
}
