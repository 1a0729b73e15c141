package postgres

import "time"

// OrderAuditRecord is one placed order written by the gateway's detached
// audit path. Writes are best effort; the table is never on a request's
// critical path.
type OrderAuditRecord struct {
	ID uint `gorm:"primaryKey"`

	UserID        string `gorm:"type:text;not null;index:idx_audit_user"`
	ClientOrderID string `gorm:"type:text;not null;uniqueIndex:idx_audit_client_order_id"`
	OrderID       int64  `gorm:"not null"`

	Symbol string `gorm:"type:text;not null;index:idx_audit_symbol"`
	Side   string `gorm:"type:varchar(8);not null"`
	Type   string `gorm:"type:varchar(16);not null"`
	Status string `gorm:"type:varchar(24);not null"`

	Quantity string `gorm:"type:numeric;not null"`
	Price    string `gorm:"type:numeric"`

	PlacedAt   time.Time `gorm:"not null;index:idx_audit_placed_at"`
	RecordedAt time.Time `gorm:"autoCreateTime"`
}

// TableName overrides the default table name for GORM.
func (OrderAuditRecord) TableName() string {
	return "order_audit"
}
