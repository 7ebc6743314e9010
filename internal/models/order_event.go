package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderEvent records a processed order-shipment fact. The unique order_id /
// trx_key indexes make shipment processing replay-safe: a second delivery
// of the same event inserts nothing and triggers nothing.
type OrderEvent struct {
	ID      uint64 `gorm:"primaryKey;autoIncrement"`
	OrderID uint64 `gorm:"not null;uniqueIndex"`
	BuyerID uint64 `gorm:"not null;index"`
	TrxKey  string `gorm:"type:varchar(100);not null;uniqueIndex"`

	Quantity int             `gorm:"not null"`
	UnitPV   decimal.Decimal `gorm:"type:numeric(30,10);not null"`
	TotalPV  decimal.Decimal `gorm:"type:numeric(30,10);not null"`

	Status string `gorm:"type:varchar(20);not null;default:'shipped';index"`

	ShippedAt time.Time `gorm:"type:timestamptz;not null;index"`
	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
}

func (OrderEvent) TableName() string {
	return "order_events"
}

const (
	OrderStatusShipped  = "shipped"
	OrderStatusRefunded = "refunded"
)
