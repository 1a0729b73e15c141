// Package executor wraps each outbound exchange call with the shared
// rate-limit protocol: admission before the call, bookkeeping after it, and
// translation of raw HTTP failures into the gateway's error taxonomy.
package executor

import (
	"context"
	"errors"

	"exgateway/pkg/binance"

	"go.uber.org/zap"
)

// Controller is the slice of the rate-limit controller the executor needs.
type Controller interface {
	Admit(ctx context.Context) error
	RecordSuccess(ctx context.Context)
	RecordFailure(ctx context.Context, se *binance.StatusError) error
}

// RequestFunc performs exactly one signed network call.
type RequestFunc func(ctx context.Context) error

// Executor holds no mutable state of its own: all bookkeeping goes through
// the controller, so one executor is safe for any number of concurrent
// callers.
type Executor struct {
	ctrl   Controller
	logger *zap.Logger
}

func New(ctrl Controller, logger *zap.Logger) *Executor {
	return &Executor{
		ctrl:   ctrl,
		logger: logger,
	}
}

// Do runs one request under the rate-limit contract. A refused admission
// fails immediately without touching the network: quota is too scarce to
// spend on calls that will certainly be rejected. The executor never retries
// a failed call; it only keeps the backoff bookkeeping so the next call is
// delayed or refused appropriately.
func (e *Executor) Do(ctx context.Context, fn RequestFunc) error {
	if err := e.ctrl.Admit(ctx); err != nil {
		e.logger.Debug("request refused before dispatch",
			zap.String("kind", string(binance.Classify(err))),
		)
		return err
	}

	err := fn(ctx)
	if err == nil {
		e.ctrl.RecordSuccess(ctx)
		return nil
	}

	var se *binance.StatusError
	if errors.As(err, &se) {
		return e.ctrl.RecordFailure(ctx, se)
	}

	// Timeout, DNS, connection reset: no definitive signal was received from
	// the exchange, so shared rate state stays untouched.
	return &binance.TransportError{Err: err}
}
