package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PointsEntry is the shopping-points ledger, same idempotency shape as the
// wallet transactions.
type PointsEntry struct {
	ID     uint64 `gorm:"primaryKey;autoIncrement"`
	UserID uint64 `gorm:"not null;index;index:idx_points_unique,unique"`

	TrxType string          `gorm:"type:varchar(1);not null;index:idx_points_unique,unique"`
	Amount  decimal.Decimal `gorm:"type:numeric(30,10);not null"`

	SourceType string `gorm:"type:varchar(30);not null;index:idx_points_unique,unique"`
	SourceID   uint64 `gorm:"not null;index;index:idx_points_unique,unique"`

	AdjustmentBatchID *uint64 `gorm:"index"`
	ReversalOfID      *uint64 `gorm:"uniqueIndex"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
}

func (PointsEntry) TableName() string {
	return "points_entries"
}

func (p PointsEntry) SignedAmount() decimal.Decimal {
	if p.TrxType == TrxMinus {
		return p.Amount.Neg()
	}
	return p.Amount
}
