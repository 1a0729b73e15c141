package postgres

import (
	"context"
	"time"

	"exgateway/pkg/binance"

	"gorm.io/gorm/clause"
)

// InsertOrderAudit stores one audit row, silently skipping duplicates: the
// client order id is unique, so a retried write of the same order is a no-op.
func (p *PostgresClient) InsertOrderAudit(ctx context.Context, record *OrderAuditRecord) error {
	return p.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "client_order_id"},
		},
		DoNothing: true,
	}).Create(record).Error
}

// RecentOrderAudits lists the latest audit rows for one user, newest first.
func (p *PostgresClient) RecentOrderAudits(ctx context.Context, userID string, limit int) ([]OrderAuditRecord, error) {
	var records []OrderAuditRecord
	err := p.DB.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("placed_at DESC").
		Limit(limit).
		Find(&records).Error

	if err != nil {
		return nil, err
	}
	return records, nil
}

// ToOrderAuditRecord converts a confirmed exchange order into an audit row.
func ToOrderAuditRecord(userID string, order *binance.Order) *OrderAuditRecord {
	return &OrderAuditRecord{
		UserID:        userID,
		ClientOrderID: order.ClientOrderID,
		OrderID:       order.OrderID,
		Symbol:        order.Symbol,
		Side:          order.Side,
		Type:          order.Type,
		Status:        order.Status,
		Quantity:      order.OrigQty,
		Price:         order.Price,
		PlacedAt:      time.UnixMilli(order.TransactTime),
	}
}
