package repository

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"compengine/internal/models"
)

// Repository is the persistence contract of the compensation engine. Write
// paths that must be atomic run inside InTx and use the *Tx variants; the
// insert-or-ignore methods report whether a row was actually written so
// callers can distinguish first processing from replay.
type Repository interface {
	InTx(ctx context.Context, fn func(tx *gorm.DB) error) error

	// Members (projection of the externally-owned member record).
	GetMember(ctx context.Context, id uint64) (*models.Member, error)
	ListMembers(ctx context.Context) ([]models.Member, error)
	SetMemberActivatedTx(ctx context.Context, tx *gorm.DB, id uint64, at time.Time) error
	SetMemberPlacementTx(ctx context.Context, tx *gorm.DB, id uint64, parentID *uint64, side string) error
	AddWalletBalanceTx(ctx context.Context, tx *gorm.DB, userID uint64, delta decimal.Decimal) error
	AddPointsBalanceTx(ctx context.Context, tx *gorm.DB, userID uint64, delta decimal.Decimal) error
	UpsertMember(ctx context.Context, item *models.Member) error

	// Order events.
	InsertOrderEventTx(ctx context.Context, tx *gorm.DB, item *models.OrderEvent) (bool, error)
	GetOrderEventByOrderID(ctx context.Context, orderID uint64) (*models.OrderEvent, error)
	MarkOrderRefundedTx(ctx context.Context, tx *gorm.DB, orderID uint64) error
	SumOrderPVInWindow(ctx context.Context, start, end time.Time) (decimal.Decimal, error)
	CountOrdersByBuyerInWindow(ctx context.Context, start, end time.Time) (map[uint64]int64, error)

	// PV ledger.
	InsertPVEntryTx(ctx context.Context, tx *gorm.DB, item *models.PVLedgerEntry) (bool, error)
	SumPVByPosition(ctx context.Context, userID uint64, position string, until *time.Time) (decimal.Decimal, error)
	ListPVEntriesBySource(ctx context.Context, sourceType string, sourceID uint64) ([]models.PVLedgerEntry, error)
	ListPVEntriesByUser(ctx context.Context, userID uint64, limit, offset int) ([]models.PVLedgerEntry, error)

	// Level hits.
	GetLevelHitForUpdateTx(ctx context.Context, tx *gorm.DB, userID uint64, depth int) (*models.LevelHitState, error)
	SaveLevelHitTx(ctx context.Context, tx *gorm.DB, item *models.LevelHitState) error

	// Pending bonuses.
	InsertPendingBonusTx(ctx context.Context, tx *gorm.DB, item *models.PendingBonus) (bool, error)
	GetPendingBonus(ctx context.Context, id uint64) (*models.PendingBonus, error)
	ListPendingBonuses(ctx context.Context, params ListPendingParams) ([]models.PendingBonus, error)
	SumPendingAccrued(ctx context.Context, periodKey string, bonusTypes []string) (decimal.Decimal, error)
	MarkPendingReleasedTx(ctx context.Context, tx *gorm.DB, id, refID uint64, at time.Time) (bool, error)
	MarkPendingRejected(ctx context.Context, id uint64, reason string) (bool, error)
	MarkPendingRejectedBySourceTx(ctx context.Context, tx *gorm.DB, sourceType string, sourceID uint64, reason string) (int64, error)

	// Wallet transactions.
	InsertWalletTransactionTx(ctx context.Context, tx *gorm.DB, item *models.WalletTransaction) (bool, error)
	ListWalletTransactionsBySource(ctx context.Context, sourceType string, sourceID uint64) ([]models.WalletTransaction, error)
	ListWalletTransactionsByUser(ctx context.Context, userID uint64, limit, offset int) ([]models.WalletTransaction, error)
	SumWalletTransactions(ctx context.Context, start, end time.Time, bonusTypes []string) (decimal.Decimal, error)

	// Points.
	InsertPointsEntryTx(ctx context.Context, tx *gorm.DB, item *models.PointsEntry) (bool, error)
	ListPointsEntriesBySource(ctx context.Context, sourceType string, sourceID uint64) ([]models.PointsEntry, error)

	// Weekly settlements.
	GetWeeklySettlementByKey(ctx context.Context, key string) (*models.WeeklySettlement, error)
	InsertWeeklySettlementTx(ctx context.Context, tx *gorm.DB, item *models.WeeklySettlement) error
	InsertWeeklyUserSummariesTx(ctx context.Context, tx *gorm.DB, items []models.WeeklySettlementUserSummary) error
	ListWeeklySettlements(ctx context.Context, limit, offset int) ([]models.WeeklySettlement, error)
	ListWeeklyUserSummaries(ctx context.Context, settlementID uint64) ([]models.WeeklySettlementUserSummary, error)
	GetWeeklyUserSummary(ctx context.Context, settlementID, userID uint64) (*models.WeeklySettlementUserSummary, error)

	// Quarterly settlements.
	GetQuarterlySettlementByKey(ctx context.Context, key string) (*models.QuarterlySettlement, error)
	InsertQuarterlySettlementTx(ctx context.Context, tx *gorm.DB, item *models.QuarterlySettlement) error
	InsertDividendLogsTx(ctx context.Context, tx *gorm.DB, items []models.DividendLog) error
	ListQuarterlySettlements(ctx context.Context, limit, offset int) ([]models.QuarterlySettlement, error)
	ListDividendLogs(ctx context.Context, settlementID uint64) ([]models.DividendLog, error)

	// Adjustments.
	InsertAdjustmentBatchTx(ctx context.Context, tx *gorm.DB, item *models.AdjustmentBatch) error
	GetAdjustmentBatch(ctx context.Context, id uint64) (*models.AdjustmentBatch, error)
	ListAdjustmentBatches(ctx context.Context, limit, offset int) ([]models.AdjustmentBatch, error)
	SetAdjustmentFinalizedTx(ctx context.Context, tx *gorm.DB, id uint64, at time.Time) (bool, error)
	InsertAdjustmentEntryTx(ctx context.Context, tx *gorm.DB, item *models.AdjustmentEntry) error
	ListAdjustmentEntries(ctx context.Context, batchID uint64) ([]models.AdjustmentEntry, error)
}

type ListPendingParams struct {
	RecipientID *uint64
	Status      *string
	ReleaseMode *string
	PeriodKey   *string
	Limit       int
	Offset      int
}
