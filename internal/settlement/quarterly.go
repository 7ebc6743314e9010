package settlement

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"compengine/internal/bonus"
	"compengine/internal/lock"
	"compengine/internal/models"
	"compengine/internal/period"
	"compengine/internal/plan"
)

// QuarterlyUserResult is one eligible user's share of the quarter's pools.
type QuarterlyUserResult struct {
	ID   uint64
	Rank string

	ConsumerShares int64
	ConsumerAmount decimal.Decimal

	LeaderScore  decimal.Decimal
	LeaderAmount decimal.Decimal
}

type QuarterlyComputation struct {
	PeriodKey   string
	PeriodStart time.Time
	PeriodEnd   time.Time

	Plan *plan.Plan

	TotalPV      decimal.Decimal
	ConsumerPool decimal.Decimal
	LeaderPool   decimal.Decimal

	ConsumerUnitValue decimal.Decimal
	LeaderUnitValue   decimal.Decimal

	Users []QuarterlyUserResult

	SettlementID uint64
	Persisted    bool
}

// QuarterlyInputs feeds the pure quarterly arithmetic.
type QuarterlyInputs struct {
	Plan    *plan.Plan
	TotalPV decimal.Decimal
	// Eligible users only: activated, minimum own purchases and weak PV met.
	Users       []UserPV
	OrderCounts map[uint64]int64
}

// ComputeQuarterly distributes the two pools. Unit values are zero when no
// eligible participant holds shares/score; nobody is paid then.
func ComputeQuarterly(in QuarterlyInputs) *QuarterlyComputation {
	p := in.Plan
	out := &QuarterlyComputation{
		Plan:         p,
		TotalPV:      in.TotalPV,
		ConsumerPool: in.TotalPV.Mul(p.ConsumerPoolRate),
		LeaderPool:   in.TotalPV.Mul(p.LeaderPoolRate),
	}

	totalShares := int64(0)
	totalScore := decimal.Zero
	results := make([]QuarterlyUserResult, 0, len(in.Users))
	for _, u := range in.Users {
		r := QuarterlyUserResult{ID: u.ID, Rank: u.Rank}
		r.ConsumerShares = in.OrderCounts[u.ID]
		totalShares += r.ConsumerShares
		r.LeaderScore = leaderScore(p, u.Rank)
		totalScore = totalScore.Add(r.LeaderScore)
		results = append(results, r)
	}

	if totalShares > 0 {
		out.ConsumerUnitValue = out.ConsumerPool.Div(decimal.NewFromInt(totalShares)).RoundFloor(6)
	}
	if totalScore.IsPositive() {
		out.LeaderUnitValue = out.LeaderPool.Div(totalScore).RoundFloor(6)
	}

	for idx := range results {
		r := &results[idx]
		if r.ConsumerShares > 0 {
			r.ConsumerAmount = decimal.NewFromInt(r.ConsumerShares).Mul(out.ConsumerUnitValue)
		}
		if r.LeaderScore.IsPositive() {
			r.LeaderAmount = r.LeaderScore.Mul(out.LeaderUnitValue)
		}
	}
	out.Users = results
	return out
}

// leaderScore weights a rank for the leader pool. When no score table is
// configured, members at the configured minimum leader rank count as one
// share each.
func leaderScore(p *plan.Plan, rank string) decimal.Decimal {
	if len(p.RankScores) > 0 {
		return p.ScoreForRank(rank)
	}
	if rank == p.LeaderMinRank {
		return decimal.NewFromInt(1)
	}
	return decimal.Zero
}

// RunQuarterly settles one quarter's dividend pools; same lock and
// finalize discipline as the weekly run.
func (e *Engine) RunQuarterly(ctx context.Context, periodKey string, dryRun bool) (*QuarterlyComputation, error) {
	window, err := period.QuarterWindow(periodKey)
	if err != nil {
		return nil, err
	}

	if !dryRun {
		lk, err := e.Locker.Acquire(ctx, "settle:quarterly:"+periodKey, e.lockTTL())
		if errors.Is(err, lock.ErrNotAcquired) {
			return nil, ErrSettlementRunning
		}
		if err != nil {
			return nil, err
		}
		defer func() {
			if rerr := lk.Release(context.WithoutCancel(ctx)); rerr != nil && e.Logger != nil {
				e.Logger.Warn("settlement lock release failed", zap.Error(rerr))
			}
		}()

		existing, err := e.Repo.GetQuarterlySettlementByKey(ctx, periodKey)
		if err != nil {
			return nil, err
		}
		if existing != nil && existing.FinalizedAt != nil {
			return nil, ErrAlreadySettled
		}
	}

	p, err := plan.Resolve(e.PlanCfg, e.PlanOverrides, e.PlanCfg.Version)
	if err != nil {
		return nil, err
	}

	inputs, err := e.gatherQuarterlyInputs(ctx, p, window)
	if err != nil {
		return nil, err
	}

	comp := ComputeQuarterly(inputs)
	comp.PeriodKey = window.Key
	comp.PeriodStart = window.Start
	comp.PeriodEnd = window.End

	if dryRun {
		return comp, nil
	}

	if err := e.persistQuarterly(ctx, comp); err != nil {
		return nil, err
	}
	if e.Logger != nil {
		e.Logger.Info("quarterly settlement finalized",
			zap.String("period_key", periodKey),
			zap.String("consumer_pool", comp.ConsumerPool.String()),
			zap.String("leader_pool", comp.LeaderPool.String()),
			zap.Int("participants", len(comp.Users)),
		)
	}
	return comp, nil
}

func (e *Engine) gatherQuarterlyInputs(ctx context.Context, p *plan.Plan, window period.Window) (QuarterlyInputs, error) {
	in := QuarterlyInputs{Plan: p}

	totalPV, err := e.Repo.SumOrderPVInWindow(ctx, window.Start, window.End)
	if err != nil {
		return in, err
	}
	in.TotalPV = totalPV

	counts, err := e.Repo.CountOrdersByBuyerInWindow(ctx, window.Start, window.End)
	if err != nil {
		return in, err
	}
	in.OrderCounts = counts

	members, err := e.Repo.ListMembers(ctx)
	if err != nil {
		return in, err
	}
	until := window.End
	for _, m := range members {
		if !m.Activated {
			continue
		}
		if counts[m.ID] < int64(p.MinQuarterOrders) {
			continue
		}
		if p.MinQuarterWeakPV.IsPositive() {
			weak, err := e.Ledger.WeakPV(ctx, m.ID, &until)
			if err != nil {
				return in, err
			}
			if weak.LessThan(p.MinQuarterWeakPV) {
				continue
			}
		}
		in.Users = append(in.Users, UserPV{ID: m.ID, Rank: m.Rank, Activated: m.Activated})
	}
	sort.Slice(in.Users, func(i, j int) bool { return in.Users[i].ID < in.Users[j].ID })
	return in, nil
}

func (e *Engine) persistQuarterly(ctx context.Context, comp *QuarterlyComputation) error {
	snapshot, err := comp.Plan.Snapshot()
	if err != nil {
		return err
	}
	now := time.Now().UTC()

	return e.Repo.InTx(ctx, func(tx *gorm.DB) error {
		existing, err := e.Repo.GetQuarterlySettlementByKey(ctx, comp.PeriodKey)
		if err != nil {
			return err
		}
		if existing != nil && existing.FinalizedAt != nil {
			return ErrAlreadySettled
		}

		settlement := &models.QuarterlySettlement{
			PeriodKey:         comp.PeriodKey,
			PeriodStart:       comp.PeriodStart,
			PeriodEnd:         comp.PeriodEnd,
			TotalPV:           comp.TotalPV,
			ConsumerPool:      comp.ConsumerPool,
			LeaderPool:        comp.LeaderPool,
			ConsumerUnitValue: comp.ConsumerUnitValue,
			LeaderUnitValue:   comp.LeaderUnitValue,
			PlanVersion:       comp.Plan.Version,
			PlanSnapshot:      datatypes.JSON(snapshot),
			FinalizedAt:       &now,
		}
		if err := e.Repo.InsertQuarterlySettlementTx(ctx, tx, settlement); err != nil {
			return fmt.Errorf("insert quarterly settlement: %w", err)
		}
		comp.SettlementID = settlement.ID

		logs := make([]models.DividendLog, 0, 2*len(comp.Users))
		for _, u := range comp.Users {
			if u.ConsumerAmount.IsPositive() {
				if _, _, err := bonus.PayOrDefer(ctx, tx, e.Repo, u.ID, models.BonusConsumerDividend, u.ConsumerAmount, models.SourceQuarterlySettlement, settlement.ID, comp.PeriodKey); err != nil {
					return err
				}
				logs = append(logs, models.DividendLog{
					SettlementID: settlement.ID,
					UserID:       u.ID,
					Pool:         models.PoolConsumer,
					Shares:       u.ConsumerShares,
					UnitValue:    comp.ConsumerUnitValue,
					Amount:       u.ConsumerAmount,
				})
			}
			if u.LeaderAmount.IsPositive() {
				if _, _, err := bonus.PayOrDefer(ctx, tx, e.Repo, u.ID, models.BonusLeaderDividend, u.LeaderAmount, models.SourceQuarterlySettlement, settlement.ID, comp.PeriodKey); err != nil {
					return err
				}
				logs = append(logs, models.DividendLog{
					SettlementID: settlement.ID,
					UserID:       u.ID,
					Pool:         models.PoolLeader,
					Score:        u.LeaderScore,
					UnitValue:    comp.LeaderUnitValue,
					Amount:       u.LeaderAmount,
				})
			}
		}
		if err := e.Repo.InsertDividendLogsTx(ctx, tx, logs); err != nil {
			return fmt.Errorf("insert dividend logs: %w", err)
		}
		comp.Persisted = true
		return nil
	})
}
