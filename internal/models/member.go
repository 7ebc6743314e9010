package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Member is the engine-side projection of the externally-owned member
// record: placement/sponsor links plus the balance projections this engine
// maintains. WalletBalance and PointsBalance are only ever mutated inside
// the same transaction as the wallet/points row that justifies the change.
type Member struct {
	ID        uint64  `gorm:"primaryKey"`
	SponsorID *uint64 `gorm:"index"`

	PlacementParentID *uint64 `gorm:"index"`
	PlacementSide     string  `gorm:"type:varchar(1)"` // L or R relative to the parent

	Rank        string     `gorm:"type:varchar(30);not null;default:'member';index"`
	Activated   bool       `gorm:"not null;default:false;index"`
	ActivatedAt *time.Time `gorm:"type:timestamptz"`

	WalletBalance decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0"`
	PointsBalance decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (Member) TableName() string {
	return "members"
}

const (
	SideLeft  = "L"
	SideRight = "R"
)
