package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// QuarterlySettlement distributes the consumer and leader dividend pools
// for one quarter.
type QuarterlySettlement struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement"`
	PeriodKey string `gorm:"type:varchar(20);not null;uniqueIndex"`

	PeriodStart time.Time `gorm:"type:timestamptz;not null"`
	PeriodEnd   time.Time `gorm:"type:timestamptz;not null"`

	TotalPV      decimal.Decimal `gorm:"type:numeric(30,10);not null"`
	ConsumerPool decimal.Decimal `gorm:"type:numeric(30,10);not null"`
	LeaderPool   decimal.Decimal `gorm:"type:numeric(30,10);not null"`

	ConsumerUnitValue decimal.Decimal `gorm:"type:numeric(30,10);not null"`
	LeaderUnitValue   decimal.Decimal `gorm:"type:numeric(30,10);not null"`

	PlanVersion  string         `gorm:"type:varchar(20);not null"`
	PlanSnapshot datatypes.JSON `gorm:"type:jsonb"`

	FinalizedAt *time.Time `gorm:"type:timestamptz;index"`
	CreatedAt   time.Time  `gorm:"type:timestamptz;autoCreateTime"`
}

func (QuarterlySettlement) TableName() string {
	return "quarterly_settlements"
}

// DividendLog is one user's share of one pool in a quarterly run.
type DividendLog struct {
	ID           uint64 `gorm:"primaryKey;autoIncrement"`
	SettlementID uint64 `gorm:"not null;index;index:idx_dividend_unique,unique"`
	UserID       uint64 `gorm:"not null;index;index:idx_dividend_unique,unique"`
	Pool         string `gorm:"type:varchar(20);not null;index:idx_dividend_unique,unique"`

	Shares    int64           `gorm:"not null"`
	Score     decimal.Decimal `gorm:"type:numeric(30,10);not null"`
	UnitValue decimal.Decimal `gorm:"type:numeric(30,10);not null"`
	Amount    decimal.Decimal `gorm:"type:numeric(30,10);not null"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
}

func (DividendLog) TableName() string {
	return "dividend_logs"
}

const (
	PoolConsumer = "consumer"
	PoolLeader   = "leader"
)
