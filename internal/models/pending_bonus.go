package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PendingBonus holds a bonus owed to a not-yet-activated recipient.
// pending -> released credits the balance and links the wallet transaction;
// pending -> rejected is an administrative denial with no credit.
type PendingBonus struct {
	ID          uint64 `gorm:"primaryKey;autoIncrement"`
	RecipientID uint64 `gorm:"not null;index;index:idx_pending_bonus_unique,unique"`

	BonusType string          `gorm:"type:varchar(30);not null;index:idx_pending_bonus_unique,unique"`
	Amount    decimal.Decimal `gorm:"type:numeric(30,10);not null"`

	SourceType string `gorm:"type:varchar(30);not null;index:idx_pending_bonus_unique,unique"`
	SourceID   uint64 `gorm:"not null;index:idx_pending_bonus_unique,unique"`

	AccruedPeriodKey string `gorm:"type:varchar(20);not null;index"`

	Status      string `gorm:"type:varchar(20);not null;default:'pending';index"`
	ReleaseMode string `gorm:"type:varchar(10);not null;default:'auto'"`

	ReleasedRefID  *uint64    `gorm:"index"`
	ReleasedAt     *time.Time `gorm:"type:timestamptz"`
	RejectedReason string     `gorm:"type:varchar(255)"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (PendingBonus) TableName() string {
	return "pending_bonuses"
}

const (
	PendingStatusPending  = "pending"
	PendingStatusReleased = "released"
	PendingStatusRejected = "rejected"

	ReleaseModeAuto   = "auto"
	ReleaseModeManual = "manual"

	BonusDirect           = "direct"
	BonusLevelPair        = "level_pair"
	BonusPair             = "pair"
	BonusMatching         = "matching"
	BonusConsumerDividend = "consumer_dividend"
	BonusLeaderDividend   = "leader_dividend"
)
