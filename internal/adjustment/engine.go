package adjustment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"compengine/internal/models"
	"compengine/internal/period"
	"compengine/internal/plan"
	"compengine/internal/repository"
	"compengine/internal/tree"
)

var (
	ErrOrderNotFound    = errors.New("order not found")
	ErrOrderRefunded    = errors.New("order already refunded")
	ErrBatchNotFound    = errors.New("adjustment batch not found")
	ErrAlreadyFinalized = errors.New("adjustment batch already finalized")
)

// Engine writes compensating rows for refunded orders. Nothing is ever
// updated or deleted: every undo is a new row keyed back to the row it
// reverses, so replaying a finalize inserts nothing.
type Engine struct {
	Repo   repository.Repository
	Tree   *tree.Service
	Logger *zap.Logger
}

// CreateRefundAdjustment marks the order refunded and opens a batch for its
// compensating rows. When the order's week has not been finalized yet the
// batch finalizes immediately; once the week is settled the clawback needs a
// manual finalize.
func (e *Engine) CreateRefundAdjustment(ctx context.Context, orderID uint64, reasonType string) (*models.AdjustmentBatch, error) {
	if reasonType == "" {
		reasonType = models.ReasonRefund
	}
	ev, err := e.Repo.GetOrderEventByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if ev == nil {
		return nil, ErrOrderNotFound
	}
	if ev.Status == models.OrderStatusRefunded {
		return nil, ErrOrderRefunded
	}

	weekKey := period.WeekKeyOf(ev.ShippedAt)
	settled, err := e.Repo.GetWeeklySettlementByKey(ctx, weekKey)
	if err != nil {
		return nil, err
	}
	autoFinalize := settled == nil || settled.FinalizedAt == nil

	batch := &models.AdjustmentBatch{
		BatchKey:      uuid.NewString(),
		ReasonType:    reasonType,
		ReferenceType: "order",
		ReferenceID:   orderID,
	}
	err = e.Repo.InTx(ctx, func(tx *gorm.DB) error {
		if err := e.Repo.MarkOrderRefundedTx(ctx, tx, orderID); err != nil {
			return err
		}
		return e.Repo.InsertAdjustmentBatchTx(ctx, tx, batch)
	})
	if err != nil {
		return nil, err
	}

	if autoFinalize {
		if err := e.FinalizeBatch(ctx, batch.ID); err != nil {
			return nil, err
		}
		return e.Repo.GetAdjustmentBatch(ctx, batch.ID)
	}
	if e.Logger != nil {
		e.Logger.Info("refund adjustment pending manual finalize",
			zap.Uint64("order_id", orderID),
			zap.String("batch_key", batch.BatchKey),
			zap.String("period_key", weekKey),
		)
	}
	return batch, nil
}

// FinalizeBatch writes every compensating row for the batch in one
// transaction: exact reversals of the order's PV, wallet and points rows,
// rejection of its still-pending bonuses, and the pro-rata pair/matching
// clawback when the order's week was already settled.
func (e *Engine) FinalizeBatch(ctx context.Context, batchID uint64) error {
	batch, err := e.Repo.GetAdjustmentBatch(ctx, batchID)
	if err != nil {
		return err
	}
	if batch == nil {
		return ErrBatchNotFound
	}
	if batch.FinalizedAt != nil {
		return ErrAlreadyFinalized
	}
	ev, err := e.Repo.GetOrderEventByOrderID(ctx, batch.ReferenceID)
	if err != nil {
		return err
	}
	if ev == nil {
		return ErrOrderNotFound
	}

	pvEntries, err := e.Repo.ListPVEntriesBySource(ctx, models.SourceOrder, ev.OrderID)
	if err != nil {
		return err
	}
	walletTrx, err := e.Repo.ListWalletTransactionsBySource(ctx, models.SourceOrder, ev.OrderID)
	if err != nil {
		return err
	}
	pointsEntries, err := e.Repo.ListPointsEntriesBySource(ctx, models.SourceOrder, ev.OrderID)
	if err != nil {
		return err
	}
	claws, err := e.computeClawbacks(ctx, ev, pvEntries)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	return e.Repo.InTx(ctx, func(tx *gorm.DB) error {
		ok, err := e.Repo.SetAdjustmentFinalizedTx(ctx, tx, batchID, now)
		if err != nil {
			return err
		}
		if !ok {
			return ErrAlreadyFinalized
		}

		for idx := range pvEntries {
			if err := e.reversePVEntry(ctx, tx, batchID, &pvEntries[idx]); err != nil {
				return err
			}
		}
		for idx := range walletTrx {
			if err := e.reverseWalletTrx(ctx, tx, batchID, &walletTrx[idx]); err != nil {
				return err
			}
		}
		for idx := range pointsEntries {
			if err := e.reversePointsEntry(ctx, tx, batchID, &pointsEntries[idx]); err != nil {
				return err
			}
		}

		rejected, err := e.Repo.MarkPendingRejectedBySourceTx(ctx, tx, models.SourceOrder, ev.OrderID, "order refunded")
		if err != nil {
			return err
		}
		if rejected > 0 && e.Logger != nil {
			e.Logger.Info("rejected pending bonuses of refunded order",
				zap.Uint64("order_id", ev.OrderID),
				zap.Int64("count", rejected),
			)
		}

		for _, c := range claws {
			if err := e.writeClawback(ctx, tx, batchID, c); err != nil {
				return err
			}
		}
		return nil
	})
}

func (e *Engine) reversePVEntry(ctx context.Context, tx *gorm.DB, batchID uint64, orig *models.PVLedgerEntry) error {
	if orig.ReversalOfID != nil {
		return nil
	}
	rev := &models.PVLedgerEntry{
		UserID:            orig.UserID,
		FromUserID:        orig.FromUserID,
		Position:          orig.Position,
		Depth:             orig.Depth,
		Amount:            orig.Amount,
		TrxType:           flip(orig.TrxType),
		SourceType:        models.SourceAdjustment,
		SourceID:          batchID,
		AdjustmentBatchID: &batchID,
		ReversalOfID:      &orig.ID,
	}
	inserted, err := e.Repo.InsertPVEntryTx(ctx, tx, rev)
	if err != nil {
		return err
	}
	if !inserted {
		return nil
	}
	return e.Repo.InsertAdjustmentEntryTx(ctx, tx, &models.AdjustmentEntry{
		BatchID:      batchID,
		AssetType:    models.AssetPV,
		UserID:       orig.UserID,
		Amount:       orig.SignedAmount().Neg(),
		ReversalOfID: orig.ID,
	})
}

func (e *Engine) reverseWalletTrx(ctx context.Context, tx *gorm.DB, batchID uint64, orig *models.WalletTransaction) error {
	if orig.ReversalOfID != nil {
		return nil
	}
	rev := &models.WalletTransaction{
		UserID:            orig.UserID,
		TrxType:           flip(orig.TrxType),
		Amount:            orig.Amount,
		BonusType:         orig.BonusType,
		SourceType:        models.SourceAdjustment,
		SourceID:          batchID,
		AdjustmentBatchID: &batchID,
		ReversalOfID:      &orig.ID,
		Note:              fmt.Sprintf("reversal of wallet trx %d", orig.ID),
	}
	inserted, err := e.Repo.InsertWalletTransactionTx(ctx, tx, rev)
	if err != nil {
		return err
	}
	if !inserted {
		return nil
	}
	delta := orig.SignedAmount().Neg()
	if err := e.Repo.AddWalletBalanceTx(ctx, tx, orig.UserID, delta); err != nil {
		return err
	}
	return e.Repo.InsertAdjustmentEntryTx(ctx, tx, &models.AdjustmentEntry{
		BatchID:      batchID,
		AssetType:    models.AssetWallet,
		UserID:       orig.UserID,
		Amount:       delta,
		ReversalOfID: orig.ID,
	})
}

func (e *Engine) reversePointsEntry(ctx context.Context, tx *gorm.DB, batchID uint64, orig *models.PointsEntry) error {
	if orig.ReversalOfID != nil {
		return nil
	}
	rev := &models.PointsEntry{
		UserID:            orig.UserID,
		TrxType:           flip(orig.TrxType),
		Amount:            orig.Amount,
		SourceType:        models.SourceAdjustment,
		SourceID:          batchID,
		AdjustmentBatchID: &batchID,
		ReversalOfID:      &orig.ID,
	}
	inserted, err := e.Repo.InsertPointsEntryTx(ctx, tx, rev)
	if err != nil {
		return err
	}
	if !inserted {
		return nil
	}
	delta := orig.SignedAmount().Neg()
	if err := e.Repo.AddPointsBalanceTx(ctx, tx, orig.UserID, delta); err != nil {
		return err
	}
	return e.Repo.InsertAdjustmentEntryTx(ctx, tx, &models.AdjustmentEntry{
		BatchID:      batchID,
		AssetType:    models.AssetPoints,
		UserID:       orig.UserID,
		Amount:       delta,
		ReversalOfID: orig.ID,
	})
}

// clawback is one pair or matching payout recovery against a finalized
// weekly settlement.
type clawback struct {
	UserID       uint64
	BonusType    string
	Amount       decimal.Decimal
	ReversalOfID uint64
}

// clawTotals accumulates recoveries per (user, bonus type), clamping every
// addition against the remaining room of what that user was actually paid.
// Several ancestors of one order can share a sponsor; the cap must hold on
// the sum, not per contribution.
type clawTotals struct {
	index map[clawKey]int
	list  []clawback
}

type clawKey struct {
	userID    uint64
	bonusType string
}

func newClawTotals() *clawTotals {
	return &clawTotals{index: map[clawKey]int{}}
}

// add applies amount against the payout's remaining room and reports the
// portion actually applied.
func (t *clawTotals) add(userID uint64, bonusType string, amount, paid decimal.Decimal, reversalOf uint64) decimal.Decimal {
	k := clawKey{userID, bonusType}
	if at, ok := t.index[k]; ok {
		room := paid.Sub(t.list[at].Amount)
		if amount.GreaterThan(room) {
			amount = room
		}
		if !amount.IsPositive() {
			return decimal.Zero
		}
		t.list[at].Amount = t.list[at].Amount.Add(amount)
		return amount
	}
	if amount.GreaterThan(paid) {
		amount = paid
	}
	if !amount.IsPositive() {
		return decimal.Zero
	}
	t.index[k] = len(t.list)
	t.list = append(t.list, clawback{
		UserID:       userID,
		BonusType:    bonusType,
		Amount:       amount,
		ReversalOfID: reversalOf,
	})
	return amount
}

// computeClawbacks recovers the share of finalized pair payouts the
// refunded order's PV bought, at the settlement's own snapshot rates, capped
// at what each user was actually paid. Matching recoveries follow each pair
// recovery up the sponsor chain at the snapshot's generation rates.
func (e *Engine) computeClawbacks(ctx context.Context, ev *models.OrderEvent, pvEntries []models.PVLedgerEntry) ([]clawback, error) {
	weekKey := period.WeekKeyOf(ev.ShippedAt)
	ws, err := e.Repo.GetWeeklySettlementByKey(ctx, weekKey)
	if err != nil {
		return nil, err
	}
	if ws == nil || ws.FinalizedAt == nil {
		return nil, nil
	}

	var snap plan.Plan
	if err := json.Unmarshal(ws.PlanSnapshot, &snap); err != nil {
		return nil, fmt.Errorf("decode plan snapshot of %s: %w", ws.PeriodKey, err)
	}
	if !snap.PairUnitPV.IsPositive() {
		return nil, nil
	}

	payouts, err := e.Repo.ListWalletTransactionsBySource(ctx, models.SourceWeeklySettlement, ws.ID)
	if err != nil {
		return nil, err
	}
	payoutByUser := make(map[uint64]map[string]*models.WalletTransaction)
	for idx := range payouts {
		t := &payouts[idx]
		if t.TrxType != models.TrxPlus {
			continue
		}
		if payoutByUser[t.UserID] == nil {
			payoutByUser[t.UserID] = make(map[string]*models.WalletTransaction)
		}
		payoutByUser[t.UserID][t.BonusType] = t
	}

	totals := newClawTotals()
	for _, entry := range pvEntries {
		if entry.TrxType != models.TrxPlus {
			continue
		}
		summary, err := e.Repo.GetWeeklyUserSummary(ctx, ws.ID, entry.UserID)
		if err != nil {
			return nil, err
		}
		if summary == nil || !summary.PairPaid.IsPositive() {
			continue
		}
		pairTrx := payoutByUser[entry.UserID][models.BonusPair]
		if pairTrx == nil {
			continue
		}

		claw := entry.Amount.Div(snap.PairUnitPV).Mul(snap.PairUnitAmount).Mul(ws.KFactor)
		applied := totals.add(entry.UserID, models.BonusPair, claw, summary.PairPaid, pairTrx.ID)
		if !applied.IsPositive() {
			continue
		}

		chain, err := e.Tree.SponsorChain(ctx, entry.UserID, snap.ManagementMaxGenerations)
		if err != nil {
			return nil, err
		}
		for gen, sponsorID := range chain {
			rate := snap.RateForGeneration(gen + 1)
			if !rate.IsPositive() {
				continue
			}
			matchTrx := payoutByUser[sponsorID][models.BonusMatching]
			if matchTrx == nil {
				continue
			}
			mSummary, err := e.Repo.GetWeeklyUserSummary(ctx, ws.ID, sponsorID)
			if err != nil {
				return nil, err
			}
			if mSummary == nil || !mSummary.MatchingPaid.IsPositive() {
				continue
			}
			totals.add(sponsorID, models.BonusMatching, applied.Mul(rate), mSummary.MatchingPaid, matchTrx.ID)
		}
	}
	return totals.list, nil
}

func (e *Engine) writeClawback(ctx context.Context, tx *gorm.DB, batchID uint64, c clawback) error {
	trx := &models.WalletTransaction{
		UserID:            c.UserID,
		TrxType:           models.TrxMinus,
		Amount:            c.Amount,
		BonusType:         c.BonusType,
		SourceType:        models.SourceAdjustment,
		SourceID:          batchID,
		AdjustmentBatchID: &batchID,
		Note:              fmt.Sprintf("clawback of settlement payout %d", c.ReversalOfID),
	}
	inserted, err := e.Repo.InsertWalletTransactionTx(ctx, tx, trx)
	if err != nil {
		return err
	}
	if !inserted {
		return nil
	}
	if err := e.Repo.AddWalletBalanceTx(ctx, tx, c.UserID, c.Amount.Neg()); err != nil {
		return err
	}
	return e.Repo.InsertAdjustmentEntryTx(ctx, tx, &models.AdjustmentEntry{
		BatchID:      batchID,
		AssetType:    models.AssetWallet,
		UserID:       c.UserID,
		Amount:       c.Amount.Neg(),
		ReversalOfID: c.ReversalOfID,
	})
}

func flip(trxType string) string {
	if trxType == models.TrxPlus {
		return models.TrxMinus
	}
	return models.TrxPlus
}
