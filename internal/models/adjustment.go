package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// AdjustmentBatch groups the compensating rows that undo one order's
// effects. A batch created before the relevant period finalized is
// finalized immediately; otherwise it stays pending for manual finalize.
type AdjustmentBatch struct {
	ID       uint64 `gorm:"primaryKey;autoIncrement"`
	BatchKey string `gorm:"type:varchar(64);not null;uniqueIndex"`

	ReasonType    string `gorm:"type:varchar(30);not null;index"`
	ReferenceType string `gorm:"type:varchar(30);not null"`
	ReferenceID   uint64 `gorm:"not null;index"`

	FinalizedAt *time.Time `gorm:"type:timestamptz;index"`
	CreatedAt   time.Time  `gorm:"type:timestamptz;autoCreateTime"`
}

func (AdjustmentBatch) TableName() string {
	return "adjustment_batches"
}

// AdjustmentEntry records one compensating movement (signed) written while
// finalizing a batch, keyed back to the row it reverses.
type AdjustmentEntry struct {
	ID      uint64 `gorm:"primaryKey;autoIncrement"`
	BatchID uint64 `gorm:"not null;index"`

	AssetType string `gorm:"type:varchar(10);not null"` // pv | wallet | points
	UserID    uint64 `gorm:"not null;index"`

	Amount       decimal.Decimal `gorm:"type:numeric(30,10);not null"`
	ReversalOfID uint64          `gorm:"not null;index"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
}

func (AdjustmentEntry) TableName() string {
	return "adjustment_entries"
}

const (
	AssetPV     = "pv"
	AssetWallet = "wallet"
	AssetPoints = "points"

	ReasonRefund     = "refund"
	ReasonCorrection = "correction"
)
