package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"compengine/internal/models"
	"compengine/internal/repository"
	"compengine/internal/tree"
)

// Service owns the append-only PV ledger. Balances are always derived by
// summing signed entries over a scope; no running counter exists anywhere.
type Service struct {
	Repo   repository.Repository
	Tree   *tree.Service
	Logger *zap.Logger
}

// CreditResult is one ancestor credit from an order. Inserted=false means
// the entry already existed (replayed event) and must not trigger any
// downstream effect again.
type CreditResult struct {
	UserID   uint64
	Side     string
	Depth    int
	Amount   decimal.Decimal
	EntryID  uint64
	Inserted bool
}

// CreditAlongPlacementChain credits the order's PV to every placement
// ancestor of the buyer. Idempotent per the ledger's composite unique key;
// must run inside the order's transaction.
func (s *Service) CreditAlongPlacementChain(ctx context.Context, tx *gorm.DB, ev *models.OrderEvent) ([]CreditResult, error) {
	hops, err := s.Tree.Chain(ctx, ev.BuyerID)
	if err != nil {
		return nil, err
	}
	results := make([]CreditResult, 0, len(hops))
	for _, hop := range hops {
		entry := &models.PVLedgerEntry{
			UserID:     hop.AncestorID,
			FromUserID: ev.BuyerID,
			Position:   hop.Side,
			Depth:      hop.Depth,
			Amount:     ev.TotalPV,
			TrxType:    models.TrxPlus,
			SourceType: models.SourceOrder,
			SourceID:   ev.OrderID,
		}
		inserted, err := s.Repo.InsertPVEntryTx(ctx, tx, entry)
		if err != nil {
			return nil, err
		}
		results = append(results, CreditResult{
			UserID:   hop.AncestorID,
			Side:     hop.Side,
			Depth:    hop.Depth,
			Amount:   ev.TotalPV,
			EntryID:  entry.ID,
			Inserted: inserted,
		})
	}
	if s.Logger != nil {
		s.Logger.Debug("pv chain credited",
			zap.Uint64("order_id", ev.OrderID),
			zap.Uint64("buyer_id", ev.BuyerID),
			zap.Int("ancestors", len(results)),
		)
	}
	return results, nil
}

// LeftPV sums the signed left-leg entries for a user, optionally only those
// created before the cutoff.
func (s *Service) LeftPV(ctx context.Context, userID uint64, until *time.Time) (decimal.Decimal, error) {
	return s.Repo.SumPVByPosition(ctx, userID, models.SideLeft, until)
}

func (s *Service) RightPV(ctx context.Context, userID uint64, until *time.Time) (decimal.Decimal, error) {
	return s.Repo.SumPVByPosition(ctx, userID, models.SideRight, until)
}

// WeakPV is the smaller of the two legs, the pair-bonus basis.
func (s *Service) WeakPV(ctx context.Context, userID uint64, until *time.Time) (decimal.Decimal, error) {
	left, err := s.LeftPV(ctx, userID, until)
	if err != nil {
		return decimal.Zero, err
	}
	right, err := s.RightPV(ctx, userID, until)
	if err != nil {
		return decimal.Zero, err
	}
	if left.LessThan(right) {
		return left, nil
	}
	return right, nil
}
