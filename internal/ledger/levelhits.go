package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"compengine/internal/models"
	"compengine/internal/repository"
)

// Tracker accumulates per-(user, depth) binary pair hits and signals the
// one-time level-pair reward. All methods run inside the caller's
// transaction; the row lock taken by the read keeps concurrent shipments
// from both claiming the reward.
type Tracker struct {
	Repo repository.Repository
}

// RegisterHit adds amount to the side's bucket and reports whether this
// update made the pair newly complete (both sides non-zero, not yet
// rewarded). The caller must mark the reward in the same transaction as
// paying or deferring it.
func (t *Tracker) RegisterHit(ctx context.Context, tx *gorm.DB, userID uint64, depth int, side string, amount decimal.Decimal) (bool, error) {
	if side != models.SideLeft && side != models.SideRight {
		return false, fmt.Errorf("invalid side %q", side)
	}
	st, err := t.Repo.GetLevelHitForUpdateTx(ctx, tx, userID, depth)
	if err != nil {
		return false, err
	}
	if st == nil {
		st = &models.LevelHitState{UserID: userID, Depth: depth}
	}
	if side == models.SideLeft {
		st.LeftAmount = st.LeftAmount.Add(amount)
	} else {
		st.RightAmount = st.RightAmount.Add(amount)
	}
	eligible := !st.Rewarded &&
		st.LeftAmount.IsPositive() &&
		st.RightAmount.IsPositive()
	if err := t.Repo.SaveLevelHitTx(ctx, tx, st); err != nil {
		return false, err
	}
	return eligible, nil
}

// MarkRewarded flips the one-time reward flag. It must be called in the
// same transaction that pays or defers the bonus; the earlier row lock is
// still held there.
func (t *Tracker) MarkRewarded(ctx context.Context, tx *gorm.DB, userID uint64, depth int, bonusAmount decimal.Decimal, at time.Time) error {
	st, err := t.Repo.GetLevelHitForUpdateTx(ctx, tx, userID, depth)
	if err != nil {
		return err
	}
	if st == nil {
		return fmt.Errorf("level hit state missing for user %d depth %d", userID, depth)
	}
	if st.Rewarded {
		return nil
	}
	st.Rewarded = true
	st.BonusAmount = bonusAmount
	st.RewardedAt = &at
	return t.Repo.SaveLevelHitTx(ctx, tx, st)
}
