// Package pricecache keeps a best-effort-fresh in-memory ticker table per
// process. The spot segment is fed by the streaming ticker feed and falls
// back to HTTP polling while the stream is down; the futures segment has no
// streaming source and is polled on every fallback tick.
package pricecache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"exgateway/config"
	"exgateway/pkg/binance"

	"go.uber.org/zap"
)

// State is the streaming connection's lifecycle state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateClosing
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// StreamConn is one live streaming session. *binance.WSConn satisfies it.
type StreamConn interface {
	ReadTickers() ([]binance.TickerPrice, error)
	Close() error
}

// DialFunc opens a new streaming session.
type DialFunc func(ctx context.Context) (StreamConn, error)

// PollFunc fetches the full ticker table for one segment over HTTP. Wired
// through the request executor, so fallback polling respects the shared
// rate-limit state.
type PollFunc func(ctx context.Context, seg binance.Segment) ([]binance.TickerPrice, error)

// Service owns the table, the streaming session and the fallback loop. One
// instance per process with an explicit Start/Stop lifecycle; tests can run
// several side by side.
type Service struct {
	table  *Table
	dial   DialFunc
	poll   PollFunc
	cfg    config.PriceCacheConfig
	logger *zap.Logger

	state  atomic.Int32
	forced atomic.Bool // set when the session-lifetime timer tears the conn down

	connMu sync.Mutex
	conn   StreamConn

	cancel context.CancelFunc
	wg     sync.WaitGroup

	now func() time.Time
}

func NewService(dial DialFunc, poll PollFunc, cfg config.PriceCacheConfig, logger *zap.Logger) *Service {
	return &Service{
		table:  NewTable(),
		dial:   dial,
		poll:   poll,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// Start populates the table with one immediate HTTP fetch for both segments,
// then brings up the stream and the fallback loop.
func (s *Service) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.refresh(ctx, binance.SegmentSpot)
	s.refresh(ctx, binance.SegmentFutures)

	s.wg.Add(2)
	go s.runStream(ctx)
	go s.runFallback(ctx)
}

// Stop tears down the stream and waits for both loops to exit. The live
// connection is closed explicitly: the read loop blocks inside the transport
// and cannot observe context cancellation on its own.
func (s *Service) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.closeConn()
	s.wg.Wait()
	s.setState(StateDisconnected)
}

func (s *Service) setConn(conn StreamConn) {
	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()
}

func (s *Service) closeConn() {
	s.connMu.Lock()
	if s.conn != nil {
		s.conn.Close()
	}
	s.connMu.Unlock()
}

// GetPrice returns the latest ticker for a symbol in a segment, with the
// time it was last observed. Callers needing freshness guarantees must check
// that timestamp; Healthy says nothing about staleness.
func (s *Service) GetPrice(seg binance.Segment, symbol string) (binance.TickerPrice, time.Time, bool) {
	return s.table.Get(seg, symbol)
}

// Healthy reflects only the streaming connection's state.
func (s *Service) Healthy() bool {
	return s.State() == StateConnected
}

func (s *Service) State() State {
	return State(s.state.Load())
}

func (s *Service) setState(st State) {
	s.state.Store(int32(st))
}

// runStream drives the connect/read/reconnect cycle. Reconnect attempt n
// waits ReconnectDelay×min(n,5); after MaxReconnects consecutive failures the
// loop gives up for the life of the process and the fallback poll carries the
// spot segment alone.
func (s *Service) runStream(ctx context.Context) {
	defer s.wg.Done()

	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}

		if attempt > 0 {
			if attempt > s.cfg.MaxReconnects {
				s.setState(StateDisconnected)
				s.logger.Error("stream reconnect attempts exhausted, relying on fallback polling",
					zap.Int("attempts", s.cfg.MaxReconnects))
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.reconnectDelay(attempt)):
			}
		}

		s.setState(StateConnecting)
		conn, err := s.dial(ctx)
		if err != nil {
			s.setState(StateErrored)
			attempt++
			s.logger.Warn("stream dial failed", zap.Int("attempt", attempt), zap.Error(err))
			continue
		}

		attempt = 0
		s.setConn(conn)
		s.setState(StateConnected)

		// Preempt the server-side session cap: tear the connection down
		// shortly before the protocol's maximum lifetime, healthy or not.
		s.forced.Store(false)
		lifetime := time.AfterFunc(s.cfg.SessionLifetime, func() {
			s.forced.Store(true)
			s.setState(StateClosing)
			conn.Close()
		})

		s.readLoop(conn)

		lifetime.Stop()
		conn.Close()
		s.setConn(nil)
		s.setState(StateDisconnected)

		if s.forced.Load() {
			s.logger.Info("stream session lifetime reached, reconnecting")
			continue // proactive teardown, redial immediately
		}
		attempt = 1
	}
}

func (s *Service) readLoop(conn StreamConn) {
	for {
		tickers, err := conn.ReadTickers()
		if err != nil {
			if !s.forced.Load() {
				s.setState(StateErrored)
				s.logger.Warn("stream read failed", zap.Error(err))
			}
			return
		}
		if len(tickers) == 0 {
			continue
		}
		s.table.Merge(binance.SegmentSpot, tickers, s.now())
	}
}

func (s *Service) reconnectDelay(attempt int) time.Duration {
	// Linear backoff capped at 5× the base delay.
	factor := attempt
	if factor > 5 {
		factor = 5
	}
	return s.cfg.ReconnectDelay * time.Duration(factor)
}

// runFallback bounds staleness even through extended outages: the futures
// segment is refreshed on every tick, the spot segment whenever the stream is
// not currently connected.
func (s *Service) runFallback(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.FallbackInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.refresh(ctx, binance.SegmentFutures)
			if s.State() != StateConnected {
				s.refresh(ctx, binance.SegmentSpot)
			}
		}
	}
}

func (s *Service) refresh(ctx context.Context, seg binance.Segment) {
	tickers, err := s.poll(ctx, seg)
	if err != nil {
		s.logger.Warn("ticker poll failed",
			zap.String("segment", string(seg)), zap.Error(err))
		return
	}
	s.table.Replace(seg, tickers, s.now())
	s.logger.Debug("segment refreshed over http",
		zap.String("segment", string(seg)), zap.Int("symbols", len(tickers)))
}
