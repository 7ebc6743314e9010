package bonus

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"compengine/internal/ledger"
	"compengine/internal/models"
	"compengine/internal/period"
	"compengine/internal/plan"
	"compengine/internal/repository"
	"compengine/internal/tree"
)

// ErrBuyerNotFound aborts shipment processing when the buyer has no member
// projection; nothing is written.
var ErrBuyerNotFound = errors.New("buyer not found")

// ErrRecipientNotFound aborts a payout whose recipient has no member
// projection.
var ErrRecipientNotFound = errors.New("recipient not found")

// OrderShipment is the inbound order-shipment event. Delivery is
// at-least-once; every write keyed off OrderID/TrxKey is idempotent.
type OrderShipment struct {
	OrderID   uint64
	BuyerID   uint64
	Quantity  int
	UnitPV    decimal.Decimal
	TrxKey    string
	ShippedAt time.Time
}

// Issuer reacts to order shipments: credits the PV chain, grants buyer
// shopping points, and pays or defers the direct and level-pair bonuses.
// One gorm transaction per order; a replayed event is a complete no-op.
type Issuer struct {
	Repo   repository.Repository
	Ledger *ledger.Service
	Hits   *ledger.Tracker
	Tree   *tree.Service
	Plan   *plan.Plan
	Logger *zap.Logger
}

type IssueResult struct {
	OrderID   uint64
	Duplicate bool

	TotalPV           decimal.Decimal
	AncestorsCredited int
	DirectPaid        bool
	DirectDeferred    bool
	LevelPairRewards  int
}

func (i *Issuer) ProcessShipment(ctx context.Context, in OrderShipment) (*IssueResult, error) {
	totalPV := in.UnitPV.Mul(decimal.NewFromInt(int64(in.Quantity)))
	shippedAt := in.ShippedAt
	if shippedAt.IsZero() {
		shippedAt = time.Now().UTC()
	}
	periodKey := period.WeekKeyOf(shippedAt)

	res := &IssueResult{OrderID: in.OrderID, TotalPV: totalPV}
	err := i.Repo.InTx(ctx, func(tx *gorm.DB) error {
		ev := &models.OrderEvent{
			OrderID:   in.OrderID,
			BuyerID:   in.BuyerID,
			TrxKey:    in.TrxKey,
			Quantity:  in.Quantity,
			UnitPV:    in.UnitPV,
			TotalPV:   totalPV,
			Status:    models.OrderStatusShipped,
			ShippedAt: shippedAt,
		}
		inserted, err := i.Repo.InsertOrderEventTx(ctx, tx, ev)
		if err != nil {
			return err
		}
		if !inserted {
			res.Duplicate = true
			return nil
		}

		buyer, err := i.Repo.GetMember(ctx, in.BuyerID)
		if err != nil {
			return err
		}
		if buyer == nil {
			return ErrBuyerNotFound
		}

		credits, err := i.Ledger.CreditAlongPlacementChain(ctx, tx, ev)
		if err != nil {
			return err
		}
		res.AncestorsCredited = len(credits)

		if err := i.grantBuyerPoints(ctx, tx, buyer.ID, totalPV, in.OrderID); err != nil {
			return err
		}

		if err := i.issueDirect(ctx, tx, buyer, totalPV, in.OrderID, periodKey, res); err != nil {
			return err
		}

		return i.issueLevelPairs(ctx, tx, credits, totalPV, in.OrderID, periodKey, shippedAt, res)
	})
	if err != nil {
		return nil, err
	}
	if i.Logger != nil && !res.Duplicate {
		i.Logger.Info("shipment processed",
			zap.Uint64("order_id", in.OrderID),
			zap.Uint64("buyer_id", in.BuyerID),
			zap.String("total_pv", totalPV.String()),
			zap.Int("ancestors", res.AncestorsCredited),
			zap.Int("level_pair_rewards", res.LevelPairRewards),
		)
	}
	return res, nil
}

func (i *Issuer) grantBuyerPoints(ctx context.Context, tx *gorm.DB, buyerID uint64, totalPV decimal.Decimal, orderID uint64) error {
	points := totalPV.Mul(i.Plan.PointsRate)
	if !points.IsPositive() {
		return nil
	}
	entry := &models.PointsEntry{
		UserID:     buyerID,
		TrxType:    models.TrxPlus,
		Amount:     points,
		SourceType: models.SourceOrder,
		SourceID:   orderID,
	}
	inserted, err := i.Repo.InsertPointsEntryTx(ctx, tx, entry)
	if err != nil {
		return err
	}
	if !inserted {
		return nil
	}
	return i.Repo.AddPointsBalanceTx(ctx, tx, buyerID, points)
}

func (i *Issuer) issueDirect(ctx context.Context, tx *gorm.DB, buyer *models.Member, totalPV decimal.Decimal, orderID uint64, periodKey string, res *IssueResult) error {
	if buyer.SponsorID == nil {
		return nil
	}
	amount := totalPV.Mul(i.Plan.DirectRate)
	if !amount.IsPositive() {
		return nil
	}
	paid, _, err := PayOrDefer(ctx, tx, i.Repo, *buyer.SponsorID, models.BonusDirect, amount, models.SourceOrder, orderID, periodKey)
	if err != nil {
		return err
	}
	res.DirectPaid = paid
	res.DirectDeferred = !paid
	return nil
}

func (i *Issuer) issueLevelPairs(ctx context.Context, tx *gorm.DB, credits []ledger.CreditResult, totalPV decimal.Decimal, orderID uint64, periodKey string, now time.Time, res *IssueResult) error {
	amount := totalPV.Mul(i.Plan.LevelPairRate)
	for _, c := range credits {
		// A replayed credit must not move the hit buckets again.
		if !c.Inserted || c.Depth > i.Plan.LevelPairMaxDepth {
			continue
		}
		eligible, err := i.Hits.RegisterHit(ctx, tx, c.UserID, c.Depth, c.Side, c.Amount)
		if err != nil {
			return err
		}
		if !eligible || !amount.IsPositive() {
			continue
		}
		if _, _, err := PayOrDefer(ctx, tx, i.Repo, c.UserID, models.BonusLevelPair, amount, models.SourceOrder, orderID, periodKey); err != nil {
			return err
		}
		if err := i.Hits.MarkRewarded(ctx, tx, c.UserID, c.Depth, amount, now); err != nil {
			return err
		}
		res.LevelPairRewards++
	}
	return nil
}

// PayOrDefer credits an activated recipient's wallet (transaction row and
// balance projection in the same unit) or accrues a pending bonus for an
// unactivated one. Idempotent both ways; paid reports which path ran.
func PayOrDefer(ctx context.Context, tx *gorm.DB, repo repository.Repository, recipientID uint64, bonusType string, amount decimal.Decimal, sourceType string, sourceID uint64, periodKey string) (paid bool, refID uint64, err error) {
	recipient, err := repo.GetMember(ctx, recipientID)
	if err != nil {
		return false, 0, err
	}
	if recipient == nil {
		return false, 0, ErrRecipientNotFound
	}
	if !recipient.Activated {
		pending := &models.PendingBonus{
			RecipientID:      recipientID,
			BonusType:        bonusType,
			Amount:           amount,
			SourceType:       sourceType,
			SourceID:         sourceID,
			AccruedPeriodKey: periodKey,
			Status:           models.PendingStatusPending,
			ReleaseMode:      models.ReleaseModeAuto,
		}
		if _, err := repo.InsertPendingBonusTx(ctx, tx, pending); err != nil {
			return false, 0, err
		}
		return false, pending.ID, nil
	}

	trx := &models.WalletTransaction{
		UserID:     recipientID,
		TrxType:    models.TrxPlus,
		Amount:     amount,
		BonusType:  bonusType,
		SourceType: sourceType,
		SourceID:   sourceID,
	}
	inserted, err := repo.InsertWalletTransactionTx(ctx, tx, trx)
	if err != nil {
		return false, 0, err
	}
	if !inserted {
		// Already paid for this source; replay-safe.
		return true, trx.ID, nil
	}
	if err := repo.AddWalletBalanceTx(ctx, tx, recipientID, amount); err != nil {
		return false, 0, err
	}
	return true, trx.ID, nil
}
