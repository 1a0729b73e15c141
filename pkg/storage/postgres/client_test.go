package postgres_test

import (
	"testing"
	"time"

	"exgateway/pkg/binance"
	"exgateway/pkg/storage/postgres"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// go test -v --run ^TestPostgresInvalidDSN$
func TestPostgresInvalidDSN(t *testing.T) {
	invalidDSN := "host=invalid port=5432 user=fail password=fail dbname=fail sslmode=disable"

	_, err := postgres.NewClient(invalidDSN)
	if err == nil {
		t.Fatal("expected error for invalid DSN, got nil")
	}
}

func TestToOrderAuditRecord(t *testing.T) {
	order := &binance.Order{
		Symbol:        "BTCUSDT",
		OrderID:       987654,
		ClientOrderID: "exgw-abc123",
		TransactTime:  1_700_000_000_000,
		Price:         "50000",
		OrigQty:       "0.5",
		ExecutedQty:   "0.5",
		Status:        "FILLED",
		Type:          "LIMIT",
		Side:          "BUY",
	}

	record := postgres.ToOrderAuditRecord("user-1", order)
	require.NotNil(t, record)

	assert.Equal(t, "user-1", record.UserID)
	assert.Equal(t, "exgw-abc123", record.ClientOrderID)
	assert.Equal(t, int64(987654), record.OrderID)
	assert.Equal(t, "BTCUSDT", record.Symbol)
	assert.Equal(t, "BUY", record.Side)
	assert.Equal(t, "LIMIT", record.Type)
	assert.Equal(t, "FILLED", record.Status)
	assert.Equal(t, "0.5", record.Quantity)
	assert.Equal(t, "50000", record.Price)
	assert.Equal(t, time.UnixMilli(1_700_000_000_000), record.PlacedAt)
}
