package settlement

import (
	"context"

	"compengine/internal/models"
)

// WeeklyReport bundles a finalized weekly run with its per-user rows.
type WeeklyReport struct {
	Settlement models.WeeklySettlement              `json:"settlement"`
	Users      []models.WeeklySettlementUserSummary `json:"users"`
}

func (e *Engine) WeeklyReportByKey(ctx context.Context, periodKey string) (*WeeklyReport, error) {
	ws, err := e.Repo.GetWeeklySettlementByKey(ctx, periodKey)
	if err != nil {
		return nil, err
	}
	if ws == nil || ws.FinalizedAt == nil {
		return nil, ErrPeriodNotFinalized
	}
	users, err := e.Repo.ListWeeklyUserSummaries(ctx, ws.ID)
	if err != nil {
		return nil, err
	}
	return &WeeklyReport{Settlement: *ws, Users: users}, nil
}

// QuarterlyReport bundles a finalized quarterly run with its dividend rows.
type QuarterlyReport struct {
	Settlement models.QuarterlySettlement `json:"settlement"`
	Dividends  []models.DividendLog       `json:"dividends"`
}

func (e *Engine) QuarterlyReportByKey(ctx context.Context, periodKey string) (*QuarterlyReport, error) {
	qs, err := e.Repo.GetQuarterlySettlementByKey(ctx, periodKey)
	if err != nil {
		return nil, err
	}
	if qs == nil || qs.FinalizedAt == nil {
		return nil, ErrPeriodNotFinalized
	}
	logs, err := e.Repo.ListDividendLogs(ctx, qs.ID)
	if err != nil {
		return nil, err
	}
	return &QuarterlyReport{Settlement: *qs, Dividends: logs}, nil
}
