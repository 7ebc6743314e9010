package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// WalletTransaction is the append-only money record backing the wallet
// balance projection. The composite unique index is the at-most-once
// payment guard per (recipient, bonus type, source); reversals are unique
// on ReversalOfID.
type WalletTransaction struct {
	ID     uint64 `gorm:"primaryKey;autoIncrement"`
	UserID uint64 `gorm:"not null;index;index:idx_wallet_trx_unique,unique"`

	TrxType string          `gorm:"type:varchar(1);not null;index:idx_wallet_trx_unique,unique"`
	Amount  decimal.Decimal `gorm:"type:numeric(30,10);not null"`

	BonusType  string `gorm:"type:varchar(30);not null;index:idx_wallet_trx_unique,unique"`
	SourceType string `gorm:"type:varchar(30);not null;index:idx_wallet_trx_unique,unique"`
	SourceID   uint64 `gorm:"not null;index;index:idx_wallet_trx_unique,unique"`

	AdjustmentBatchID *uint64 `gorm:"index"`
	ReversalOfID      *uint64 `gorm:"uniqueIndex"`

	Note string `gorm:"type:varchar(255)"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime;index"`
}

func (WalletTransaction) TableName() string {
	return "wallet_transactions"
}

func (t WalletTransaction) SignedAmount() decimal.Decimal {
	if t.TrxType == TrxMinus {
		return t.Amount.Neg()
	}
	return t.Amount
}
