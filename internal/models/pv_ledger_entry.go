package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PVLedgerEntry is an immutable point-value movement along the placement
// chain. Amount is always positive; the sign lives in TrxType. A reversal
// entry carries the opposite TrxType and points back via ReversalOfID.
//
// The composite unique index is the idempotency guard: re-processing the
// same source event is an insert-or-ignore no-op.
type PVLedgerEntry struct {
	ID         uint64 `gorm:"primaryKey;autoIncrement"`
	UserID     uint64 `gorm:"not null;index;index:idx_pv_ledger_unique,unique"`
	FromUserID uint64 `gorm:"not null;index"`

	Position string `gorm:"type:varchar(1);not null;index:idx_pv_ledger_unique,unique"`
	Depth    int    `gorm:"not null"`

	Amount  decimal.Decimal `gorm:"type:numeric(30,10);not null"`
	TrxType string          `gorm:"type:varchar(1);not null;index:idx_pv_ledger_unique,unique"`

	SourceType string `gorm:"type:varchar(30);not null;index:idx_pv_ledger_unique,unique"`
	SourceID   uint64 `gorm:"not null;index;index:idx_pv_ledger_unique,unique"`

	AdjustmentBatchID *uint64 `gorm:"index"`
	ReversalOfID      *uint64 `gorm:"uniqueIndex"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime;index"`
}

func (PVLedgerEntry) TableName() string {
	return "pv_ledger_entries"
}

const (
	TrxPlus  = "+"
	TrxMinus = "-"

	SourceOrder               = "order"
	SourceWeeklySettlement    = "weekly_settlement"
	SourceQuarterlySettlement = "quarterly_settlement"
	SourceAdjustment          = "adjustment"
)

// SignedAmount folds TrxType into the magnitude.
func (e PVLedgerEntry) SignedAmount() decimal.Decimal {
	if e.TrxType == TrxMinus {
		return e.Amount.Neg()
	}
	return e.Amount
}
