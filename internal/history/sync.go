// Package history maintains the per-credential cache of historical fills.
// Each call picks one of three strategies by the cache's age: a full trailing
// fetch, a single incremental window, or a forward backfill walk. Merges are
// idempotent and keyed by trade id, so concurrent instances racing on the
// same cache converge: last writer wins.
package history

import (
	"context"
	"sort"
	"time"

	"exgateway/config"
	"exgateway/pkg/binance"
	kv "exgateway/pkg/storage/redis"

	"go.uber.org/zap"
)

// TradeFetcher issues one history request for a window. Implemented by the
// gateway on top of the request executor.
type TradeFetcher interface {
	FetchTrades(ctx context.Context, userID, symbol string, start, end time.Time) ([]binance.Trade, error)
}

type Syncer struct {
	fetcher TradeFetcher
	store   kv.Store
	cfg     config.HistoryConfig
	logger  *zap.Logger

	now func() time.Time
}

func NewSyncer(fetcher TradeFetcher, store kv.Store, cfg config.HistoryConfig, logger *zap.Logger) *Syncer {
	return &Syncer{
		fetcher: fetcher,
		store:   store,
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
	}
}

// window is one fetchable time span, at most cfg.Window wide.
type window struct {
	start time.Time
	end   time.Time
}

// GetTrades returns the cached fill history for one user, refreshed according
// to the cache's age. An empty symbol means all symbols; a symbol filter
// starts its own cache lineage.
func (s *Syncer) GetTrades(ctx context.Context, userID, symbol string) ([]binance.Trade, error) {
	key := s.cacheKey(userID, symbol)
	now := s.now()

	cache, err := s.loadCache(ctx, key)
	if err != nil {
		// The cache store is down. A degraded, uncached response beats no
		// response: run the full walk straight against the exchange.
		s.logger.Warn("trade cache store unreachable, fetching uncached",
			zap.String("user", userID), zap.Error(err))
		return s.fetchUncached(ctx, userID, symbol, now)
	}

	switch {
	case cache == nil || now.Sub(time.UnixMilli(cache.LastSyncTime)) > s.cfg.Retention:
		return s.syncFull(ctx, key, userID, symbol, now)
	case now.Sub(time.UnixMilli(cache.LastSyncTime)) < s.cfg.Window:
		return s.syncIncremental(ctx, key, userID, symbol, cache, now)
	default:
		return s.syncBackfill(ctx, key, userID, symbol, cache, now)
	}
}

// syncFull replaces the cache with the maximum supported trailing window,
// walking backward from now one window at a time. An interrupted walk keeps
// the pages fetched so far and still advances the watermark, so the next
// call backfills the remainder instead of repeating the full fetch.
func (s *Syncer) syncFull(ctx context.Context, key, userID, symbol string, now time.Time) ([]binance.Trade, error) {
	merged := make(map[int64]binance.Trade)
	s.walk(ctx, userID, symbol, backwardWindows(now, s.cfg.Retention, s.cfg.Window), merged)

	trades := sortedTrades(merged)
	s.saveCache(ctx, key, trades, now)
	return trades, nil
}

// syncIncremental issues a single request for [watermark, now] and merges the
// result into the cache. On any failure the existing cached trades come back
// unchanged: for a read-only history view, staleness beats unavailability.
func (s *Syncer) syncIncremental(ctx context.Context, key, userID, symbol string, cache *tradeCache, now time.Time) ([]binance.Trade, error) {
	fresh, err := s.fetcher.FetchTrades(ctx, userID, symbol, time.UnixMilli(cache.LastSyncTime), now)
	if err != nil {
		s.logger.Warn("incremental sync failed, serving cached trades",
			zap.String("user", userID), zap.Error(err))
		return cache.Trades, nil
	}

	merged := make(map[int64]binance.Trade, len(cache.Trades)+len(fresh))
	mergeTrades(merged, cache.Trades, fresh)

	trades := sortedTrades(merged)
	s.saveCache(ctx, key, trades, now)
	return trades, nil
}

// syncBackfill walks forward in windows from the watermark to now and merges
// every page into the existing cache. A ban or rate limit mid-walk stops the
// walk early; whatever was merged already is kept.
func (s *Syncer) syncBackfill(ctx context.Context, key, userID, symbol string, cache *tradeCache, now time.Time) ([]binance.Trade, error) {
	merged := make(map[int64]binance.Trade, len(cache.Trades))
	mergeTrades(merged, cache.Trades)

	s.walk(ctx, userID, symbol, forwardWindows(time.UnixMilli(cache.LastSyncTime), now, s.cfg.Window), merged)

	trades := sortedTrades(merged)
	s.saveCache(ctx, key, trades, now)
	return trades, nil
}

// fetchUncached runs the full walk without touching the store. Only when no
// page at all succeeded does the walk's error surface.
func (s *Syncer) fetchUncached(ctx context.Context, userID, symbol string, now time.Time) ([]binance.Trade, error) {
	merged := make(map[int64]binance.Trade)
	err := s.walk(ctx, userID, symbol, backwardWindows(now, s.cfg.Retention, s.cfg.Window), merged)
	if len(merged) == 0 && err != nil {
		return nil, err
	}
	return sortedTrades(merged), nil
}

// walk fetches each window in order and merges the pages into merged. The
// first error aborts the walk and is returned; pages merged before the abort
// stay in place. An empty page is a valid result and the walk continues.
func (s *Syncer) walk(ctx context.Context, userID, symbol string, windows []window, merged map[int64]binance.Trade) error {
	for _, w := range windows {
		page, err := s.fetcher.FetchTrades(ctx, userID, symbol, w.start, w.end)
		if err != nil {
			s.logger.Warn("history walk aborted",
				zap.String("user", userID),
				zap.String("kind", string(binance.Classify(err))),
				zap.Time("window_start", w.start),
				zap.Error(err),
			)
			return err
		}
		mergeTrades(merged, page)
	}
	return nil
}

// backwardWindows covers the trailing span ending at now, newest window
// first. The last window is clipped to the span's far edge.
func backwardWindows(now time.Time, span, width time.Duration) []window {
	var out []window
	oldest := now.Add(-span)

	for end := now; end.After(oldest); {
		start := end.Add(-width)
		if start.Before(oldest) {
			start = oldest
		}
		out = append(out, window{start: start, end: end})
		end = start
	}
	return out
}

// forwardWindows covers [from, to] in width-sized steps, oldest first. The
// final window is clipped so it never reaches past to.
func forwardWindows(from, to time.Time, width time.Duration) []window {
	var out []window

	for start := from; start.Before(to); {
		end := start.Add(width)
		if end.After(to) {
			end = to
		}
		out = append(out, window{start: start, end: end})
		start = end
	}
	return out
}

// mergeTrades folds pages into dst keyed by trade id, last write wins. A
// retried request delivering the same trade twice cannot create duplicates.
func mergeTrades(dst map[int64]binance.Trade, pages ...[]binance.Trade) {
	for _, page := range pages {
		for _, t := range page {
			dst[t.ID] = t
		}
	}
}

// sortedTrades flattens the merge map ascending by execution time, ties
// broken by id so the order is deterministic.
func sortedTrades(m map[int64]binance.Trade) []binance.Trade {
	out := make([]binance.Trade, 0, len(m))
	for _, t := range m {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Time != out[j].Time {
			return out[i].Time < out[j].Time
		}
		return out[i].ID < out[j].ID
	})
	return out
}
