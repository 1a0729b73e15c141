package gateway

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"exgateway/pkg/binance"
	"exgateway/pkg/storage/postgres"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const clientOrderPrefix = "exgw-"

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

func (s Side) valid() bool {
	return s == SideBuy || s == SideSell
}

// OrderRequest is the tagged union over supported order kinds. Each kind
// carries only its valid fields and is checked at construction time via
// Validate, not deep inside the call chain.
type OrderRequest interface {
	Validate() error
	params() url.Values
}

// MarketOrder executes immediately at the best available price.
type MarketOrder struct {
	Symbol   string
	Side     Side
	Quantity decimal.Decimal
}

func (o MarketOrder) Validate() error {
	return validateCommon(o.Symbol, o.Side, o.Quantity)
}

func (o MarketOrder) params() url.Values {
	v := url.Values{}
	v.Set("symbol", o.Symbol)
	v.Set("side", string(o.Side))
	v.Set("type", "MARKET")
	v.Set("quantity", o.Quantity.String())
	return v
}

// LimitOrder rests on the book at the given price.
type LimitOrder struct {
	Symbol      string
	Side        Side
	Quantity    decimal.Decimal
	Price       decimal.Decimal
	TimeInForce string // defaults to GTC
}

func (o LimitOrder) Validate() error {
	if err := validateCommon(o.Symbol, o.Side, o.Quantity); err != nil {
		return err
	}
	if !o.Price.IsPositive() {
		return fmt.Errorf("limit order price must be positive, got %s", o.Price)
	}
	return nil
}

func (o LimitOrder) params() url.Values {
	tif := o.TimeInForce
	if tif == "" {
		tif = "GTC"
	}

	v := url.Values{}
	v.Set("symbol", o.Symbol)
	v.Set("side", string(o.Side))
	v.Set("type", "LIMIT")
	v.Set("quantity", o.Quantity.String())
	v.Set("price", o.Price.String())
	v.Set("timeInForce", tif)
	return v
}

// StopMarketOrder fires a market order once the stop price is reached.
type StopMarketOrder struct {
	Symbol    string
	Side      Side
	Quantity  decimal.Decimal
	StopPrice decimal.Decimal
}

func (o StopMarketOrder) Validate() error {
	if err := validateCommon(o.Symbol, o.Side, o.Quantity); err != nil {
		return err
	}
	if !o.StopPrice.IsPositive() {
		return fmt.Errorf("stop price must be positive, got %s", o.StopPrice)
	}
	return nil
}

func (o StopMarketOrder) params() url.Values {
	v := url.Values{}
	v.Set("symbol", o.Symbol)
	v.Set("side", string(o.Side))
	v.Set("type", "STOP_LOSS")
	v.Set("quantity", o.Quantity.String())
	v.Set("stopPrice", o.StopPrice.String())
	return v
}

func validateCommon(symbol string, side Side, quantity decimal.Decimal) error {
	if symbol == "" {
		return fmt.Errorf("order symbol is required")
	}
	if !side.valid() {
		return fmt.Errorf("invalid order side: %q", side)
	}
	if !quantity.IsPositive() {
		return fmt.Errorf("order quantity must be positive, got %s", quantity)
	}
	return nil
}

// CreateOrder validates and places an order for the given user. A generated
// client order id makes placement idempotent downstream (the audit table
// dedupes on it). A confirmed order is recorded in the audit log on a
// detached task that never blocks or fails the call.
func (g *Gateway) CreateOrder(ctx context.Context, userID string, req OrderRequest) (*binance.Order, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid order: %w", err)
	}

	cred, err := g.creds.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	params := req.params()
	params.Set("newClientOrderId", clientOrderPrefix+uuid.NewString())

	var order *binance.Order
	err = g.exec.Do(ctx, func(ctx context.Context) error {
		var reqErr error
		order, reqErr = g.rest.CreateOrder(ctx, cred, params)
		return reqErr
	})
	if err != nil {
		return nil, err
	}

	g.auditOrder(userID, order)
	return order, nil
}

// auditOrder writes the audit row on its own goroutine with its own timeout.
// The caller never waits for it and never sees its failure.
func (g *Gateway) auditOrder(userID string, order *binance.Order) {
	if g.audit == nil {
		return
	}

	record := postgres.ToOrderAuditRecord(userID, order)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := g.audit.InsertOrderAudit(ctx, record); err != nil {
			g.logger.Warn("order audit write failed",
				zap.String("user", userID),
				zap.String("client_order_id", record.ClientOrderID),
				zap.Error(err),
			)
		}
	}()
}
