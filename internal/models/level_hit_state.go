package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// LevelHitState tracks, per (user, depth), how much PV has arrived from
// each side of the binary pair at that depth. Rewarded flips to true
// exactly once, when both sides become non-zero.
type LevelHitState struct {
	UserID uint64 `gorm:"primaryKey;autoIncrement:false"`
	Depth  int    `gorm:"primaryKey;autoIncrement:false"`

	LeftAmount  decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0"`
	RightAmount decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0"`

	Rewarded    bool            `gorm:"not null;default:false"`
	BonusAmount decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0"`
	RewardedAt  *time.Time      `gorm:"type:timestamptz"`

	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (LevelHitState) TableName() string {
	return "level_hit_states"
}
