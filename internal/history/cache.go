package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"exgateway/pkg/binance"
	kv "exgateway/pkg/storage/redis"

	"go.uber.org/zap"
)

// tradeCache is the persisted shape of one credential+filter cache lineage.
// Trades are sorted ascending by execution time and deduplicated by id.
type tradeCache struct {
	LastSyncTime int64           `json:"lastSyncTime"` // watermark, ms since epoch
	Trades       []binance.Trade `json:"trades"`
}

func (s *Syncer) cacheKey(userID, symbol string) string {
	if symbol == "" {
		symbol = "all"
	}
	return fmt.Sprintf("%s:%s:%s", s.cfg.KeyPrefix, userID, symbol)
}

// loadCache reads one cache entry. A missing key comes back as (nil, nil);
// any other error means the store itself is unreachable.
func (s *Syncer) loadCache(ctx context.Context, key string) (*tradeCache, error) {
	val, err := s.store.Get(ctx, key)
	if errors.Is(err, kv.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var cache tradeCache
	if err := json.Unmarshal([]byte(val), &cache); err != nil {
		// A corrupt entry is treated as absent; the next sync rewrites it.
		return nil, nil
	}
	return &cache, nil
}

// saveCache persists the merged result. Best effort: a failed write degrades
// the next call to a wider fetch, nothing more.
func (s *Syncer) saveCache(ctx context.Context, key string, trades []binance.Trade, syncedAt time.Time) {
	payload, err := json.Marshal(tradeCache{
		LastSyncTime: syncedAt.UnixMilli(),
		Trades:       trades,
	})
	if err != nil {
		return
	}
	if err := s.store.Set(ctx, key, string(payload), s.cfg.CacheTTL); err != nil {
		s.logger.Warn("failed to persist trade cache", zap.String("key", key), zap.Error(err))
	}
}
