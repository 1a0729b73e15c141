package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"exgateway/config"
	"exgateway/pkg/binance"
	kv "exgateway/pkg/storage/redis"

	"go.uber.org/zap"
)

// backoffSteps is the delay sequence for consecutive 429s, indexed by attempt
// and clamped to the last value.
var backoffSteps = []time.Duration{
	1 * time.Second,
	2 * time.Second,
	4 * time.Second,
	8 * time.Second,
	16 * time.Second,
}

// Controller decides before every request whether the caller must wait, and
// records backoff state after throttling responses. Its state lives in the
// shared store, not in the process: the exchange enforces limits per source
// IP, every instance shares one egress IP, so one instance's violation must
// be visible to all of them.
type Controller struct {
	store  kv.Store
	cfg    config.RateLimitConfig
	logger *zap.Logger

	now func() time.Time
}

func NewController(store kv.Store, cfg config.RateLimitConfig, logger *zap.Logger) *Controller {
	return &Controller{
		store:  store,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

func (c *Controller) banKey() string     { return c.cfg.KeyPrefix + ":banned" }
func (c *Controller) backoffKey() string { return c.cfg.KeyPrefix + ":backoff_until" }
func (c *Controller) counterKey() string { return c.cfg.KeyPrefix + ":fail_count" }

// Admit returns nil when the caller may proceed. A non-nil result is the
// error the caller must fail with: *binance.BanError while the shared ban
// flag is set, *binance.RateLimitError while a backoff deadline is pending.
// No network call may be made after a refusal.
//
// A stale backoff deadline is deleted on the way through. If the shared
// store itself is unreachable the controller fails open: refusing every
// request because Redis is down would turn a coordination aid into an
// outage.
func (c *Controller) Admit(ctx context.Context) error {
	if val, err := c.store.Get(ctx, c.banKey()); err == nil {
		until := parseUnixMilli(val)
		return &binance.BanError{Until: until}
	} else if !errors.Is(err, kv.ErrNotFound) {
		c.logger.Warn("rate state unreachable, admitting", zap.Error(err))
		return nil
	}

	val, err := c.store.Get(ctx, c.backoffKey())
	if errors.Is(err, kv.ErrNotFound) {
		return nil
	}
	if err != nil {
		c.logger.Warn("rate state unreachable, admitting", zap.Error(err))
		return nil
	}

	deadline := parseUnixMilli(val)
	remaining := deadline.Sub(c.now())
	if remaining > 0 {
		return &binance.RateLimitError{RetryAfter: remaining}
	}

	// Deadline already elapsed: clear the stale bookkeeping.
	if err := c.store.Del(ctx, c.backoffKey()); err != nil {
		c.logger.Warn("failed to clear stale backoff", zap.Error(err))
	}
	return nil
}

// RecordSuccess clears the shared failure counter after a 2xx response. The
// ban flag is deliberately left alone: bans require manual intervention.
func (c *Controller) RecordSuccess(ctx context.Context) {
	if err := c.store.Del(ctx, c.counterKey()); err != nil {
		c.logger.Warn("failed to reset failure counter", zap.Error(err))
	}
}

// RecordFailure books the shared state for one non-2xx response and returns
// the typed error the in-flight call must fail with. It never retries
// anything itself; it only makes sure the next Admit is delayed or refused.
func (c *Controller) RecordFailure(ctx context.Context, se *binance.StatusError) error {
	switch se.Status {
	case http.StatusTeapot: // the exchange's explicit IP-ban signal
		until := c.now().Add(c.cfg.BanCooldown)
		if err := c.store.Set(ctx, c.banKey(), formatUnixMilli(until), c.cfg.BanCooldown); err != nil {
			c.logger.Error("failed to store ban flag", zap.Error(err))
		}
		c.logger.Warn("exchange ban recorded", zap.Time("until", until))
		return &binance.BanError{Until: until}

	case http.StatusTooManyRequests:
		return c.recordThrottle(ctx, se)

	default:
		return &binance.UpstreamError{Status: se.Status, Message: se.Message}
	}
}

func (c *Controller) recordThrottle(ctx context.Context, se *binance.StatusError) error {
	attempt, err := c.store.Incr(ctx, c.counterKey(), c.cfg.CounterTTL)
	if err != nil {
		c.logger.Warn("failed to bump failure counter", zap.Error(err))
		attempt = 1
	}

	if attempt > int64(c.cfg.RetryBudget) {
		// Budget spent. Reset the counter and leave one final backoff
		// window in place so Admit keeps refusing until it elapses.
		final := backoffSteps[len(backoffSteps)-1]
		deadline := c.now().Add(final)
		if err := c.store.Del(ctx, c.counterKey()); err != nil {
			c.logger.Warn("failed to reset failure counter", zap.Error(err))
		}
		if err := c.store.Set(ctx, c.backoffKey(), formatUnixMilli(deadline), final); err != nil {
			c.logger.Error("failed to store backoff deadline", zap.Error(err))
		}
		return &binance.RateLimitError{RetryAfter: final, Exhausted: true}
	}

	delay := backoffSteps[min(int(attempt)-1, len(backoffSteps)-1)]
	if se.RetryAfter > delay {
		delay = se.RetryAfter // trust the server's hint when it is larger
	}

	deadline := c.now().Add(delay)
	if err := c.store.Set(ctx, c.backoffKey(), formatUnixMilli(deadline), delay); err != nil {
		c.logger.Error("failed to store backoff deadline", zap.Error(err))
	}
	c.logger.Warn("throttled by exchange",
		zap.Int64("attempt", attempt),
		zap.Duration("delay", delay),
	)

	return &binance.RateLimitError{RetryAfter: delay}
}

func parseUnixMilli(val string) time.Time {
	ms, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func formatUnixMilli(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}
