package bonus

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"compengine/internal/models"
	"compengine/internal/repository"
)

var ErrPendingNotFound = errors.New("pending bonus not found")

// Queue releases or rejects accrued pending bonuses. Release runs one
// transaction per bonus so a failure on one row cannot corrupt another's
// state; the aggregate result reports per-item outcomes.
type Queue struct {
	Repo   repository.Repository
	Logger *zap.Logger
}

type ReleaseResult struct {
	PendingID uint64
	BonusType string
	Amount    string
	Released  bool
	Err       string
}

// ReleaseOnActivation releases every auto-mode pending bonus owed to the
// user. Called when the activation state flips inactive -> active; safe to
// re-run (released rows are skipped by the status guard).
func (q *Queue) ReleaseOnActivation(ctx context.Context, userID uint64) ([]ReleaseResult, error) {
	status := models.PendingStatusPending
	mode := models.ReleaseModeAuto
	items, err := q.Repo.ListPendingBonuses(ctx, repository.ListPendingParams{
		RecipientID: &userID,
		Status:      &status,
		ReleaseMode: &mode,
		Limit:       1000,
	})
	if err != nil {
		return nil, err
	}
	results := make([]ReleaseResult, 0, len(items))
	for _, item := range items {
		r := ReleaseResult{PendingID: item.ID, BonusType: item.BonusType, Amount: item.Amount.String()}
		if err := q.releaseOne(ctx, item); err != nil {
			r.Err = err.Error()
			if q.Logger != nil {
				q.Logger.Warn("pending bonus release failed",
					zap.Uint64("pending_id", item.ID),
					zap.Uint64("recipient_id", item.RecipientID),
					zap.Error(err),
				)
			}
		} else {
			r.Released = true
		}
		results = append(results, r)
	}
	return results, nil
}

func (q *Queue) releaseOne(ctx context.Context, item models.PendingBonus) error {
	now := time.Now().UTC()
	return q.Repo.InTx(ctx, func(tx *gorm.DB) error {
		trx := &models.WalletTransaction{
			UserID:     item.RecipientID,
			TrxType:    models.TrxPlus,
			Amount:     item.Amount,
			BonusType:  item.BonusType,
			SourceType: item.SourceType,
			SourceID:   item.SourceID,
			Note:       "pending release",
		}
		inserted, err := q.Repo.InsertWalletTransactionTx(ctx, tx, trx)
		if err != nil {
			return err
		}
		refID := trx.ID
		if inserted {
			if err := q.Repo.AddWalletBalanceTx(ctx, tx, item.RecipientID, item.Amount); err != nil {
				return err
			}
		} else {
			// The credit already exists (an earlier release got past the
			// insert); the conflict-do-nothing insert left trx.ID zero, so
			// recover the real id for the back-reference.
			existing, err := q.Repo.ListWalletTransactionsBySource(ctx, item.SourceType, item.SourceID)
			if err != nil {
				return err
			}
			for _, t := range existing {
				if t.UserID == item.RecipientID && t.BonusType == item.BonusType && t.TrxType == models.TrxPlus && t.ReversalOfID == nil {
					refID = t.ID
					break
				}
			}
		}
		// Status guard: only a still-pending row transitions, so a
		// concurrent or repeated release credits nothing twice.
		flipped, err := q.Repo.MarkPendingReleasedTx(ctx, tx, item.ID, refID, now)
		if err != nil {
			return err
		}
		if !flipped && inserted {
			return errors.New("pending row changed concurrently")
		}
		return nil
	})
}

// Reject denies a pending bonus administratively. No credit is written.
func (q *Queue) Reject(ctx context.Context, pendingID uint64, reason string) error {
	item, err := q.Repo.GetPendingBonus(ctx, pendingID)
	if err != nil {
		return err
	}
	if item == nil {
		return ErrPendingNotFound
	}
	ok, err := q.Repo.MarkPendingRejected(ctx, pendingID, reason)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("pending bonus is not in pending state")
	}
	return nil
}
