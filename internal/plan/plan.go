package plan

import (
	"encoding/json"
	"fmt"

	"github.com/go-viper/mapstructure/v2"
	"github.com/shopspring/decimal"

	"compengine/internal/config"
)

// Plan is the resolved, decimal-typed compensation rate table used by one
// settlement run or bonus issuance. It is resolved once per run and stored
// verbatim in that run's snapshot so every payout is auditable against the
// exact rates that produced it.
type Plan struct {
	Version string `json:"version"`

	PVPerUnit decimal.Decimal `json:"pv_per_unit"`

	DirectRate        decimal.Decimal `json:"direct_rate"`
	LevelPairRate     decimal.Decimal `json:"level_pair_rate"`
	LevelPairMaxDepth int             `json:"level_pair_max_depth"`

	PairUnitPV     decimal.Decimal            `json:"pair_unit_pv"`
	PairUnitAmount decimal.Decimal            `json:"pair_unit_amount"`
	PairCapByRank  map[string]decimal.Decimal `json:"pair_cap_by_rank"`
	DefaultPairCap decimal.Decimal            `json:"default_pair_cap"`

	ManagementRates          []GenerationRate `json:"management_rates"`
	ManagementMaxGenerations int              `json:"management_max_generations"`

	GlobalReserveRate decimal.Decimal `json:"global_reserve_rate"`
	PayoutFraction    decimal.Decimal `json:"payout_fraction"`

	ConsumerPoolRate decimal.Decimal            `json:"consumer_pool_rate"`
	LeaderPoolRate   decimal.Decimal            `json:"leader_pool_rate"`
	LeaderMinRank    string                     `json:"leader_min_rank"`
	MinQuarterOrders int                        `json:"min_quarter_orders"`
	MinQuarterWeakPV decimal.Decimal            `json:"min_quarter_weak_pv"`
	RankScores       map[string]decimal.Decimal `json:"rank_scores"`

	PointsRate decimal.Decimal `json:"points_rate"`
}

type GenerationRate struct {
	FromGen int             `json:"from_gen"`
	ToGen   int             `json:"to_gen"`
	Rate    decimal.Decimal `json:"rate"`
}

// Resolve builds the plan for the requested version: the base plan config
// with that version's overrides applied. An empty version resolves the base
// plan as-is.
func Resolve(cfg config.PlanConfig, overrides map[string]map[string]any, version string) (*Plan, error) {
	base := cfg
	if version != "" && version != cfg.Version {
		ov, ok := overrides[version]
		if !ok {
			return nil, fmt.Errorf("unknown plan version %q", version)
		}
		if err := mapstructure.Decode(ov, &base); err != nil {
			return nil, fmt.Errorf("apply plan overrides %q: %w", version, err)
		}
		base.Version = version
	}
	return fromConfig(base), nil
}

func fromConfig(c config.PlanConfig) *Plan {
	p := &Plan{
		Version:                  c.Version,
		PVPerUnit:                decimal.NewFromFloat(c.PVPerUnit),
		DirectRate:               decimal.NewFromFloat(c.DirectRate),
		LevelPairRate:            decimal.NewFromFloat(c.LevelPairRate),
		LevelPairMaxDepth:        c.LevelPairMaxDepth,
		PairUnitPV:               decimal.NewFromFloat(c.PairUnitPV),
		PairUnitAmount:           decimal.NewFromFloat(c.PairUnitAmount),
		DefaultPairCap:           decimal.NewFromFloat(c.DefaultPairCap),
		ManagementMaxGenerations: c.ManagementMaxGenerations,
		GlobalReserveRate:        decimal.NewFromFloat(c.GlobalReserveRate),
		PayoutFraction:           decimal.NewFromFloat(c.PayoutFraction),
		ConsumerPoolRate:         decimal.NewFromFloat(c.ConsumerPoolRate),
		LeaderPoolRate:           decimal.NewFromFloat(c.LeaderPoolRate),
		LeaderMinRank:            c.LeaderMinRank,
		MinQuarterOrders:         c.MinQuarterOrders,
		MinQuarterWeakPV:         decimal.NewFromFloat(c.MinQuarterWeakPV),
		PointsRate:               decimal.NewFromFloat(c.PointsRate),
	}
	p.PairCapByRank = make(map[string]decimal.Decimal, len(c.PairCapByRank))
	for rank, cap := range c.PairCapByRank {
		p.PairCapByRank[rank] = decimal.NewFromFloat(cap)
	}
	p.RankScores = make(map[string]decimal.Decimal, len(c.RankScores))
	for rank, score := range c.RankScores {
		p.RankScores[rank] = decimal.NewFromFloat(score)
	}
	p.ManagementRates = make([]GenerationRate, 0, len(c.ManagementRates))
	for _, gr := range c.ManagementRates {
		p.ManagementRates = append(p.ManagementRates, GenerationRate{
			FromGen: gr.FromGen,
			ToGen:   gr.ToGen,
			Rate:    decimal.NewFromFloat(gr.Rate),
		})
	}
	return p
}

// CapForRank returns the weekly pair cap for a rank, falling back to the
// default cap.
func (p *Plan) CapForRank(rank string) decimal.Decimal {
	if cap, ok := p.PairCapByRank[rank]; ok {
		return cap
	}
	return p.DefaultPairCap
}

// RateForGeneration returns the matching rate for a 1-based generation, or
// zero when the generation is beyond every tier.
func (p *Plan) RateForGeneration(gen int) decimal.Decimal {
	for _, gr := range p.ManagementRates {
		if gen >= gr.FromGen && gen <= gr.ToGen {
			return gr.Rate
		}
	}
	return decimal.Zero
}

// ScoreForRank returns the leader-pool weight of a rank (zero when the rank
// carries no score).
func (p *Plan) ScoreForRank(rank string) decimal.Decimal {
	if s, ok := p.RankScores[rank]; ok {
		return s
	}
	return decimal.Zero
}

// Snapshot serializes the plan for storage alongside a settlement run.
func (p *Plan) Snapshot() ([]byte, error) {
	return json.Marshal(p)
}
