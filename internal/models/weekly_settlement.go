package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// WeeklySettlement is one pair/matching settlement run. The period is
// immutable once FinalizedAt is set; the unique period key closes the
// double-finalize race at the index level.
type WeeklySettlement struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement"`
	PeriodKey string `gorm:"type:varchar(20);not null;uniqueIndex"`

	PeriodStart time.Time `gorm:"type:timestamptz;not null"`
	PeriodEnd   time.Time `gorm:"type:timestamptz;not null"`

	TotalPV           decimal.Decimal `gorm:"type:numeric(30,10);not null"`
	FixedSales        decimal.Decimal `gorm:"type:numeric(30,10);not null"`
	GlobalReserve     decimal.Decimal `gorm:"type:numeric(30,10);not null"`
	BudgetCap         decimal.Decimal `gorm:"type:numeric(30,10);not null"`
	VariablePotential decimal.Decimal `gorm:"type:numeric(30,10);not null"`
	KFactor           decimal.Decimal `gorm:"type:numeric(10,4);not null"`

	PlanVersion  string         `gorm:"type:varchar(20);not null"`
	PlanSnapshot datatypes.JSON `gorm:"type:jsonb"`

	FinalizedAt *time.Time `gorm:"type:timestamptz;index"`
	CreatedAt   time.Time  `gorm:"type:timestamptz;autoCreateTime"`
}

func (WeeklySettlement) TableName() string {
	return "weekly_settlements"
}

// WeeklySettlementUserSummary snapshots one user's numbers in a weekly run.
type WeeklySettlementUserSummary struct {
	ID           uint64 `gorm:"primaryKey;autoIncrement"`
	SettlementID uint64 `gorm:"not null;index;index:idx_weekly_summary_unique,unique"`
	UserID       uint64 `gorm:"not null;index;index:idx_weekly_summary_unique,unique"`

	Rank string `gorm:"type:varchar(30);not null"`

	LeftPVInitial  decimal.Decimal `gorm:"type:numeric(30,10);not null"`
	RightPVInitial decimal.Decimal `gorm:"type:numeric(30,10);not null"`

	PairCount           int64           `gorm:"not null"`
	PairTheoretical     decimal.Decimal `gorm:"type:numeric(30,10);not null"`
	PairCappedPotential decimal.Decimal `gorm:"type:numeric(30,10);not null"`
	PairPaid            decimal.Decimal `gorm:"type:numeric(30,10);not null"`

	MatchingPotential decimal.Decimal `gorm:"type:numeric(30,10);not null"`
	MatchingPaid      decimal.Decimal `gorm:"type:numeric(30,10);not null"`

	CapAmount decimal.Decimal `gorm:"type:numeric(30,10);not null"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
}

func (WeeklySettlementUserSummary) TableName() string {
	return "weekly_settlement_user_summaries"
}
