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
	"compengine/internal/config"
	"compengine/internal/ledger"
	"compengine/internal/lock"
	"compengine/internal/models"
	"compengine/internal/period"
	"compengine/internal/plan"
	"compengine/internal/repository"
	"compengine/internal/tree"
)

var (
	// ErrSettlementRunning surfaces lock contention; the caller may retry
	// after the in-flight run finishes or its lock TTL expires.
	ErrSettlementRunning = errors.New("settlement already running")
	// ErrAlreadySettled rejects a second finalize of the same period.
	ErrAlreadySettled = errors.New("period already settled")
	// ErrPeriodNotFinalized guards reads that only make sense against a
	// finalized run.
	ErrPeriodNotFinalized = errors.New("period not finalized")
)

// Locker serializes settlement runs per period key; *lock.Locker
// satisfies it.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (*lock.Lock, error)
}

// Engine runs the periodic settlement batches. A run for a period is
// serialized by a TTL-bounded redis lock keyed by the period; all writes of
// one run commit in a single transaction.
type Engine struct {
	Repo          repository.Repository
	Ledger        *ledger.Service
	Tree          *tree.Service
	Locker        Locker
	PlanCfg       config.PlanConfig
	PlanOverrides map[string]map[string]any
	LockTTL       time.Duration
	Logger        *zap.Logger
}

func (e *Engine) lockTTL() time.Duration {
	if e.LockTTL > 0 {
		return e.LockTTL
	}
	return 5 * time.Minute
}

// UserPV is one user's settlement input snapshot.
type UserPV struct {
	ID        uint64
	Rank      string
	Activated bool
	Left      decimal.Decimal
	Right     decimal.Decimal
}

// WeeklyInputs is everything the weekly arithmetic needs, gathered up
// front so the computation itself is pure.
type WeeklyInputs struct {
	Plan          *plan.Plan
	TotalPV       decimal.Decimal
	FixedSales    decimal.Decimal
	Users         []UserPV
	SponsorChains map[uint64][]uint64
	// Ranks covers members outside Users that may still receive matching
	// from their sponsees' pairs.
	Ranks map[uint64]string
}

// WeeklyUserResult carries one user's computed numbers.
type WeeklyUserResult struct {
	UserPV

	PairCount           int64
	PairTheoretical     decimal.Decimal
	PairCappedPotential decimal.Decimal
	PairPaid            decimal.Decimal

	MatchingPotential decimal.Decimal
	MatchingPaid      decimal.Decimal

	CapAmount decimal.Decimal
}

// WeeklyComputation is a full weekly run result; Persisted is false for a
// dry run.
type WeeklyComputation struct {
	PeriodKey   string
	PeriodStart time.Time
	PeriodEnd   time.Time

	Plan *plan.Plan

	TotalPV           decimal.Decimal
	FixedSales        decimal.Decimal
	GlobalReserve     decimal.Decimal
	BudgetCap         decimal.Decimal
	Remaining         decimal.Decimal
	VariablePotential decimal.Decimal
	KFactor           decimal.Decimal

	Users []WeeklyUserResult

	SettlementID uint64
	Persisted    bool
}

// KFactor is the budget throttle: 1 when the remaining budget covers the
// whole variable potential, a proportional fraction when it partially does,
// 0 when nothing remains. Floor-rounded to 4 places so the throttled total
// never exceeds the remaining budget.
func KFactor(remaining, variablePotential decimal.Decimal) decimal.Decimal {
	if remaining.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}
	if remaining.GreaterThanOrEqual(variablePotential) {
		return decimal.NewFromInt(1)
	}
	return remaining.Div(variablePotential).RoundFloor(4)
}

// ComputeWeekly runs the pure weekly arithmetic: pair counting with
// per-rank caps, one matching attribution pass up the sponsor chains
// (reused for both potential and paid), and the K-factor throttle.
func ComputeWeekly(in WeeklyInputs) *WeeklyComputation {
	p := in.Plan
	out := &WeeklyComputation{
		Plan:       p,
		TotalPV:    in.TotalPV,
		FixedSales: in.FixedSales,
	}
	out.GlobalReserve = in.TotalPV.Mul(p.GlobalReserveRate)
	out.BudgetCap = in.TotalPV.Mul(p.PayoutFraction)
	out.Remaining = out.BudgetCap.Sub(out.GlobalReserve).Sub(in.FixedSales)

	results := make([]WeeklyUserResult, 0, len(in.Users))
	matching := make(map[uint64]decimal.Decimal)
	variable := decimal.Zero

	for _, u := range in.Users {
		r := WeeklyUserResult{UserPV: u, CapAmount: p.CapForRank(u.Rank)}
		weak := u.Left
		if u.Right.LessThan(weak) {
			weak = u.Right
		}
		if weak.IsPositive() && p.PairUnitPV.IsPositive() {
			r.PairCount = weak.Div(p.PairUnitPV).Floor().IntPart()
		}
		r.PairTheoretical = decimal.NewFromInt(r.PairCount).Mul(p.PairUnitAmount)
		r.PairCappedPotential = r.PairTheoretical
		if r.PairCappedPotential.GreaterThan(r.CapAmount) {
			r.PairCappedPotential = r.CapAmount
		}
		variable = variable.Add(r.PairCappedPotential)
		results = append(results, r)
	}

	// Single attribution pass: each user's capped pair potential drips up
	// the sponsor chain at the generation-tiered rates.
	for _, r := range results {
		if !r.PairCappedPotential.IsPositive() {
			continue
		}
		for gen, sponsorID := range in.SponsorChains[r.ID] {
			rate := p.RateForGeneration(gen + 1)
			if !rate.IsPositive() {
				continue
			}
			share := r.PairCappedPotential.Mul(rate)
			matching[sponsorID] = matching[sponsorID].Add(share)
			variable = variable.Add(share)
		}
	}

	// A sponsor without placement volume of its own can still earn matching
	// from its sponsees' pairs; it needs a result row so the attribution is
	// paid, not only budgeted.
	known := make(map[uint64]struct{}, len(results))
	for _, r := range results {
		known[r.ID] = struct{}{}
	}
	var extra []uint64
	for id := range matching {
		if _, ok := known[id]; !ok {
			extra = append(extra, id)
		}
	}
	sort.Slice(extra, func(i, j int) bool { return extra[i] < extra[j] })
	for _, id := range extra {
		u := UserPV{ID: id, Rank: in.Ranks[id]}
		results = append(results, WeeklyUserResult{UserPV: u, CapAmount: p.CapForRank(u.Rank)})
	}

	out.VariablePotential = variable
	out.KFactor = KFactor(out.Remaining, variable)

	for idx := range results {
		r := &results[idx]
		r.MatchingPotential = matching[r.ID]
		r.PairPaid = r.PairCappedPotential.Mul(out.KFactor)
		r.MatchingPaid = r.MatchingPotential.Mul(out.KFactor)
	}
	out.Users = results
	return out
}

// RunWeekly settles one ISO week. dryRun previews the identical arithmetic
// without acquiring the lock or persisting anything.
func (e *Engine) RunWeekly(ctx context.Context, periodKey string, dryRun bool) (*WeeklyComputation, error) {
	window, err := period.WeekWindow(periodKey)
	if err != nil {
		return nil, err
	}

	if !dryRun {
		lk, err := e.Locker.Acquire(ctx, "settle:weekly:"+periodKey, e.lockTTL())
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

		existing, err := e.Repo.GetWeeklySettlementByKey(ctx, periodKey)
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

	inputs, err := e.gatherWeeklyInputs(ctx, p, window)
	if err != nil {
		return nil, err
	}

	comp := ComputeWeekly(inputs)
	comp.PeriodKey = window.Key
	comp.PeriodStart = window.Start
	comp.PeriodEnd = window.End

	if dryRun {
		return comp, nil
	}

	if err := e.persistWeekly(ctx, comp); err != nil {
		return nil, err
	}
	if e.Logger != nil {
		e.Logger.Info("weekly settlement finalized",
			zap.String("period_key", periodKey),
			zap.String("total_pv", comp.TotalPV.String()),
			zap.String("k_factor", comp.KFactor.String()),
			zap.Int("users", len(comp.Users)),
		)
	}
	return comp, nil
}

func (e *Engine) gatherWeeklyInputs(ctx context.Context, p *plan.Plan, window period.Window) (WeeklyInputs, error) {
	in := WeeklyInputs{Plan: p, SponsorChains: map[uint64][]uint64{}, Ranks: map[uint64]string{}}

	totalPV, err := e.Repo.SumOrderPVInWindow(ctx, window.Start, window.End)
	if err != nil {
		return in, err
	}
	in.TotalPV = totalPV

	// The committed layer: direct/level-pair bonuses already paid out in
	// the window plus the ones accrued as pending for it. A released
	// pending counts once, on the accrual side.
	fixedTypes := []string{models.BonusDirect, models.BonusLevelPair}
	paidFixed, err := e.Repo.SumWalletTransactions(ctx, window.Start, window.End, fixedTypes)
	if err != nil {
		return in, err
	}
	pendingFixed, err := e.Repo.SumPendingAccrued(ctx, window.Key, fixedTypes)
	if err != nil {
		return in, err
	}
	in.FixedSales = paidFixed.Add(pendingFixed)

	members, err := e.Repo.ListMembers(ctx)
	if err != nil {
		return in, err
	}
	// Snapshot at period end: entries written after the window close belong
	// to the next period, never retroactively to this one.
	until := window.End
	for _, m := range members {
		in.Ranks[m.ID] = m.Rank
		left, err := e.Ledger.LeftPV(ctx, m.ID, &until)
		if err != nil {
			return in, err
		}
		right, err := e.Ledger.RightPV(ctx, m.ID, &until)
		if err != nil {
			return in, err
		}
		if left.IsZero() && right.IsZero() {
			continue
		}
		in.Users = append(in.Users, UserPV{
			ID:        m.ID,
			Rank:      m.Rank,
			Activated: m.Activated,
			Left:      left,
			Right:     right,
		})
		chain, err := e.Tree.SponsorChain(ctx, m.ID, p.ManagementMaxGenerations)
		if err != nil {
			return in, err
		}
		in.SponsorChains[m.ID] = chain
	}
	sort.Slice(in.Users, func(i, j int) bool { return in.Users[i].ID < in.Users[j].ID })
	return in, nil
}

func (e *Engine) persistWeekly(ctx context.Context, comp *WeeklyComputation) error {
	snapshot, err := comp.Plan.Snapshot()
	if err != nil {
		return err
	}
	now := time.Now().UTC()

	return e.Repo.InTx(ctx, func(tx *gorm.DB) error {
		// Re-check inside the transaction to close the create race; the
		// unique period-key index is the final guard.
		existing, err := e.Repo.GetWeeklySettlementByKey(ctx, comp.PeriodKey)
		if err != nil {
			return err
		}
		if existing != nil && existing.FinalizedAt != nil {
			return ErrAlreadySettled
		}

		settlement := &models.WeeklySettlement{
			PeriodKey:         comp.PeriodKey,
			PeriodStart:       comp.PeriodStart,
			PeriodEnd:         comp.PeriodEnd,
			TotalPV:           comp.TotalPV,
			FixedSales:        comp.FixedSales,
			GlobalReserve:     comp.GlobalReserve,
			BudgetCap:         comp.BudgetCap,
			VariablePotential: comp.VariablePotential,
			KFactor:           comp.KFactor,
			PlanVersion:       comp.Plan.Version,
			PlanSnapshot:      datatypes.JSON(snapshot),
			FinalizedAt:       &now,
		}
		if err := e.Repo.InsertWeeklySettlementTx(ctx, tx, settlement); err != nil {
			return fmt.Errorf("insert weekly settlement: %w", err)
		}
		comp.SettlementID = settlement.ID

		summaries := make([]models.WeeklySettlementUserSummary, 0, len(comp.Users))
		for _, u := range comp.Users {
			if u.PairPaid.IsPositive() {
				if _, _, err := bonus.PayOrDefer(ctx, tx, e.Repo, u.ID, models.BonusPair, u.PairPaid, models.SourceWeeklySettlement, settlement.ID, comp.PeriodKey); err != nil {
					return err
				}
				if err := e.deductConsumedPV(ctx, tx, comp.Plan, u, settlement.ID); err != nil {
					return err
				}
			}
			if u.MatchingPaid.IsPositive() {
				if _, _, err := bonus.PayOrDefer(ctx, tx, e.Repo, u.ID, models.BonusMatching, u.MatchingPaid, models.SourceWeeklySettlement, settlement.ID, comp.PeriodKey); err != nil {
					return err
				}
			}
			summaries = append(summaries, models.WeeklySettlementUserSummary{
				SettlementID:        settlement.ID,
				UserID:              u.ID,
				Rank:                u.Rank,
				LeftPVInitial:       u.Left,
				RightPVInitial:      u.Right,
				PairCount:           u.PairCount,
				PairTheoretical:     u.PairTheoretical,
				PairCappedPotential: u.PairCappedPotential,
				PairPaid:            u.PairPaid,
				MatchingPotential:   u.MatchingPotential,
				MatchingPaid:        u.MatchingPaid,
				CapAmount:           u.CapAmount,
			})
		}
		if err := e.Repo.InsertWeeklyUserSummariesTx(ctx, tx, summaries); err != nil {
			return fmt.Errorf("insert weekly summaries: %w", err)
		}
		comp.Persisted = true
		return nil
	})
}

// deductConsumedPV writes the negative ledger entries that consume the PV
// matched by the paid pairs, on both legs. The ledger stays append-only;
// no balance field is touched.
func (e *Engine) deductConsumedPV(ctx context.Context, tx *gorm.DB, p *plan.Plan, u WeeklyUserResult, settlementID uint64) error {
	if !u.PairPaid.IsPositive() || !p.PairUnitAmount.IsPositive() {
		return nil
	}
	unitsPaid := u.PairPaid.Div(p.PairUnitAmount).RoundFloor(4)
	consumed := unitsPaid.Mul(p.PairUnitPV)
	for _, side := range []string{models.SideLeft, models.SideRight} {
		entry := &models.PVLedgerEntry{
			UserID:     u.ID,
			FromUserID: u.ID,
			Position:   side,
			Depth:      0,
			Amount:     consumed,
			TrxType:    models.TrxMinus,
			SourceType: models.SourceWeeklySettlement,
			SourceID:   settlementID,
		}
		if _, err := e.Repo.InsertPVEntryTx(ctx, tx, entry); err != nil {
			return err
		}
	}
	return nil
}
