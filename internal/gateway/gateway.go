// Package gateway is the library boundary callers use: a small function-call
// surface over the exchange, with every outbound request mediated by the
// shared rate-limit protocol.
package gateway

import (
	"context"
	"time"

	"exgateway/config"
	"exgateway/internal/credentials"
	"exgateway/internal/executor"
	"exgateway/internal/history"
	"exgateway/internal/pricecache"
	"exgateway/internal/ratelimit"
	"exgateway/pkg/binance"
	"exgateway/pkg/storage/postgres"
	kv "exgateway/pkg/storage/redis"

	"go.uber.org/zap"
)

type Gateway struct {
	cfg    *config.Config
	logger *zap.Logger

	rest    *binance.RESTClient
	exec    *executor.Executor
	creds   credentials.Store
	history *history.Syncer
	prices  *pricecache.Service

	audit *postgres.PostgresClient // nil when the audit DB is not configured
}

// New wires the gateway together. The audit client may be nil; audit writes
// are best effort and a missing database only disables them.
func New(cfg *config.Config, store kv.Store, creds credentials.Store, audit *postgres.PostgresClient, logger *zap.Logger) *Gateway {
	rest := binance.NewRESTClient(
		cfg.Exchange.SpotBaseURL,
		cfg.Exchange.FuturesBaseURL,
		cfg.Exchange.Timeout,
		cfg.Exchange.RecvWindow,
	)
	ctrl := ratelimit.NewController(store, cfg.RateLimit, logger)
	exec := executor.New(ctrl, logger)

	g := &Gateway{
		cfg:    cfg,
		logger: logger,
		rest:   rest,
		exec:   exec,
		creds:  creds,
		audit:  audit,
	}

	g.history = history.NewSyncer(g, store, cfg.History, logger)

	ws := binance.NewWSClient(cfg.Exchange.StreamURL, logger)
	g.prices = pricecache.NewService(
		func(ctx context.Context) (pricecache.StreamConn, error) {
			return ws.Dial(ctx)
		},
		g.pollTickers,
		cfg.PriceCache,
		logger,
	)

	return g
}

// Start brings up the live price cache.
func (g *Gateway) Start() {
	g.prices.Start()
}

// Stop shuts the price cache down.
func (g *Gateway) Stop() {
	g.prices.Stop()
}

// GetAccountInfo fetches the caller's spot account snapshot.
func (g *Gateway) GetAccountInfo(ctx context.Context, userID string) (*binance.AccountInfo, error) {
	cred, err := g.creds.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	var info *binance.AccountInfo
	err = g.exec.Do(ctx, func(ctx context.Context) error {
		var reqErr error
		info, reqErr = g.rest.AccountInfo(ctx, cred)
		return reqErr
	})
	if err != nil {
		return nil, err
	}
	return info, nil
}

// GetPositions fetches the caller's open futures positions.
func (g *Gateway) GetPositions(ctx context.Context, userID string) ([]binance.Position, error) {
	cred, err := g.creds.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	var positions []binance.Position
	err = g.exec.Do(ctx, func(ctx context.Context) error {
		var reqErr error
		positions, reqErr = g.rest.Positions(ctx, cred)
		return reqErr
	})
	if err != nil {
		return nil, err
	}
	return positions, nil
}

// GetOpenOrders lists the caller's open orders, optionally for one symbol.
func (g *Gateway) GetOpenOrders(ctx context.Context, userID, symbol string) ([]binance.Order, error) {
	cred, err := g.creds.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	var orders []binance.Order
	err = g.exec.Do(ctx, func(ctx context.Context) error {
		var reqErr error
		orders, reqErr = g.rest.OpenOrders(ctx, cred, symbol)
		return reqErr
	})
	if err != nil {
		return nil, err
	}
	return orders, nil
}

// CancelOrder cancels an open order by exchange order id.
func (g *Gateway) CancelOrder(ctx context.Context, userID, symbol string, orderID int64) (*binance.Order, error) {
	cred, err := g.creds.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	var order *binance.Order
	err = g.exec.Do(ctx, func(ctx context.Context) error {
		var reqErr error
		order, reqErr = g.rest.CancelOrder(ctx, cred, symbol, orderID)
		return reqErr
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

// GetUserTrades returns the caller's fill history through the synchronizer's
// cache. An empty symbol means all symbols.
func (g *Gateway) GetUserTrades(ctx context.Context, userID, symbol string) ([]binance.Trade, error) {
	return g.history.GetTrades(ctx, userID, symbol)
}

// GetExchangeInfo fetches exchange trading metadata.
func (g *Gateway) GetExchangeInfo(ctx context.Context) (*binance.ExchangeInfo, error) {
	var info *binance.ExchangeInfo
	err := g.exec.Do(ctx, func(ctx context.Context) error {
		var reqErr error
		info, reqErr = g.rest.ExchangeInfo(ctx)
		return reqErr
	})
	if err != nil {
		return nil, err
	}
	return info, nil
}

// GetSpotPrice returns the latest spot ticker for a symbol from the price
// cache, with the time it was last observed.
func (g *Gateway) GetSpotPrice(symbol string) (binance.TickerPrice, time.Time, bool) {
	return g.prices.GetPrice(binance.SegmentSpot, symbol)
}

// GetFuturesPrice returns the latest futures ticker for a symbol.
func (g *Gateway) GetFuturesPrice(symbol string) (binance.TickerPrice, time.Time, bool) {
	return g.prices.GetPrice(binance.SegmentFutures, symbol)
}

// StreamHealthy reports whether the streaming price feed is currently
// connected. Cache freshness is a separate question; check the timestamps
// the price getters return.
func (g *Gateway) StreamHealthy() bool {
	return g.prices.Healthy()
}

// FetchTrades implements history.TradeFetcher: one executor-mediated history
// request per window.
func (g *Gateway) FetchTrades(ctx context.Context, userID, symbol string, start, end time.Time) ([]binance.Trade, error) {
	cred, err := g.creds.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	var trades []binance.Trade
	err = g.exec.Do(ctx, func(ctx context.Context) error {
		var reqErr error
		trades, reqErr = g.rest.UserTrades(ctx, cred, symbol, start, end)
		return reqErr
	})
	if err != nil {
		return nil, err
	}
	return trades, nil
}

// pollTickers is the price cache's HTTP path. It runs through the executor
// so fallback polling respects the shared backoff state.
func (g *Gateway) pollTickers(ctx context.Context, seg binance.Segment) ([]binance.TickerPrice, error) {
	var tickers []binance.TickerPrice
	err := g.exec.Do(ctx, func(ctx context.Context) error {
		var reqErr error
		tickers, reqErr = g.rest.Ticker24h(ctx, seg)
		return reqErr
	})
	if err != nil {
		return nil, err
	}
	return tickers, nil
}
