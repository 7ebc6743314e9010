package gormrepository

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"compengine/internal/models"
	"compengine/internal/repository"
)

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) InTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(fn)
}

func (s *Store) use(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return s.db
}

// --- Members ----------------------------------------------------------------

func (s *Store) GetMember(ctx context.Context, id uint64) (*models.Member, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.Member
	err := s.db.WithContext(ctx).First(&item, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListMembers(ctx context.Context) ([]models.Member, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.Member
	if err := s.db.WithContext(ctx).Order("id asc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) SetMemberActivatedTx(ctx context.Context, tx *gorm.DB, id uint64, at time.Time) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.use(tx).WithContext(ctx).
		Model(&models.Member{}).
		Where("id = ?", id).
		Updates(map[string]any{"activated": true, "activated_at": at}).Error
}

func (s *Store) SetMemberPlacementTx(ctx context.Context, tx *gorm.DB, id uint64, parentID *uint64, side string) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.use(tx).WithContext(ctx).
		Model(&models.Member{}).
		Where("id = ?", id).
		Updates(map[string]any{"placement_parent_id": parentID, "placement_side": side}).Error
}

func (s *Store) AddWalletBalanceTx(ctx context.Context, tx *gorm.DB, userID uint64, delta decimal.Decimal) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.use(tx).WithContext(ctx).
		Model(&models.Member{}).
		Where("id = ?", userID).
		Update("wallet_balance", gorm.Expr("wallet_balance + ?", delta)).Error
}

func (s *Store) AddPointsBalanceTx(ctx context.Context, tx *gorm.DB, userID uint64, delta decimal.Decimal) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.use(tx).WithContext(ctx).
		Model(&models.Member{}).
		Where("id = ?", userID).
		Update("points_balance", gorm.Expr("points_balance + ?", delta)).Error
}

func (s *Store) UpsertMember(ctx context.Context, item *models.Member) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"sponsor_id",
			"placement_parent_id",
			"placement_side",
			"rank",
			"updated_at",
		}),
	}).Create(item).Error
}

// --- Order events -----------------------------------------------------------

func (s *Store) InsertOrderEventTx(ctx context.Context, tx *gorm.DB, item *models.OrderEvent) (bool, error) {
	if s == nil || s.db == nil || item == nil {
		return false, nil
	}
	res := s.use(tx).WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(item)
	return res.RowsAffected > 0, res.Error
}

func (s *Store) GetOrderEventByOrderID(ctx context.Context, orderID uint64) (*models.OrderEvent, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.OrderEvent
	err := s.db.WithContext(ctx).First(&item, "order_id = ?", orderID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) MarkOrderRefundedTx(ctx context.Context, tx *gorm.DB, orderID uint64) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.use(tx).WithContext(ctx).
		Model(&models.OrderEvent{}).
		Where("order_id = ?", orderID).
		Update("status", models.OrderStatusRefunded).Error
}

// SumOrderPVInWindow sums positive order-sourced ledger entries in the
// window. The ledger, not the order table, is the source of truth for PV.
func (s *Store) SumOrderPVInWindow(ctx context.Context, start, end time.Time) (decimal.Decimal, error) {
	if s == nil || s.db == nil {
		return decimal.Zero, nil
	}
	var out struct{ Total decimal.Decimal }
	err := s.db.WithContext(ctx).
		Model(&models.PVLedgerEntry{}).
		Select("COALESCE(SUM(amount), 0) AS total").
		Where("source_type = ?", models.SourceOrder).
		Where("trx_type = ?", models.TrxPlus).
		Where("created_at >= ? AND created_at < ?", start, end).
		Scan(&out).Error
	return out.Total, err
}

func (s *Store) CountOrdersByBuyerInWindow(ctx context.Context, start, end time.Time) (map[uint64]int64, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var rows []struct {
		BuyerID uint64
		N       int64
	}
	err := s.db.WithContext(ctx).
		Model(&models.OrderEvent{}).
		Select("buyer_id, COUNT(*) AS n").
		Where("status = ?", models.OrderStatusShipped).
		Where("shipped_at >= ? AND shipped_at < ?", start, end).
		Group("buyer_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[uint64]int64, len(rows))
	for _, r := range rows {
		out[r.BuyerID] = r.N
	}
	return out, nil
}

// --- PV ledger --------------------------------------------------------------

func (s *Store) InsertPVEntryTx(ctx context.Context, tx *gorm.DB, item *models.PVLedgerEntry) (bool, error) {
	if s == nil || s.db == nil || item == nil {
		return false, nil
	}
	res := s.use(tx).WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(item)
	return res.RowsAffected > 0, res.Error
}

func (s *Store) SumPVByPosition(ctx context.Context, userID uint64, position string, until *time.Time) (decimal.Decimal, error) {
	if s == nil || s.db == nil {
		return decimal.Zero, nil
	}
	query := s.db.WithContext(ctx).
		Model(&models.PVLedgerEntry{}).
		Select("COALESCE(SUM(CASE WHEN trx_type = '+' THEN amount ELSE -amount END), 0) AS total").
		Where("user_id = ?", userID).
		Where("position = ?", position)
	if until != nil {
		query = query.Where("created_at < ?", *until)
	}
	var out struct{ Total decimal.Decimal }
	err := query.Scan(&out).Error
	return out.Total, err
}

func (s *Store) ListPVEntriesBySource(ctx context.Context, sourceType string, sourceID uint64) ([]models.PVLedgerEntry, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.PVLedgerEntry
	err := s.db.WithContext(ctx).
		Where("source_type = ? AND source_id = ?", sourceType, sourceID).
		Order("id asc").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) ListPVEntriesByUser(ctx context.Context, userID uint64, limit, offset int) ([]models.PVLedgerEntry, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.PVLedgerEntry
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id desc").
		Limit(normalizeLimit(limit, 200)).
		Offset(normalizeOffset(offset)).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

// --- Level hits -------------------------------------------------------------

func (s *Store) GetLevelHitForUpdateTx(ctx context.Context, tx *gorm.DB, userID uint64, depth int) (*models.LevelHitState, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.LevelHitState
	err := s.use(tx).WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&item, "user_id = ? AND depth = ?", userID, depth).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) SaveLevelHitTx(ctx context.Context, tx *gorm.DB, item *models.LevelHitState) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.use(tx).WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "depth"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"left_amount",
			"right_amount",
			"rewarded",
			"bonus_amount",
			"rewarded_at",
			"updated_at",
		}),
	}).Create(item).Error
}

// --- Pending bonuses --------------------------------------------------------

func (s *Store) InsertPendingBonusTx(ctx context.Context, tx *gorm.DB, item *models.PendingBonus) (bool, error) {
	if s == nil || s.db == nil || item == nil {
		return false, nil
	}
	res := s.use(tx).WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(item)
	return res.RowsAffected > 0, res.Error
}

func (s *Store) GetPendingBonus(ctx context.Context, id uint64) (*models.PendingBonus, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.PendingBonus
	err := s.db.WithContext(ctx).First(&item, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListPendingBonuses(ctx context.Context, params repository.ListPendingParams) ([]models.PendingBonus, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.PendingBonus{})
	if params.RecipientID != nil {
		query = query.Where("recipient_id = ?", *params.RecipientID)
	}
	if params.Status != nil && *params.Status != "" {
		query = query.Where("status = ?", *params.Status)
	}
	if params.ReleaseMode != nil && *params.ReleaseMode != "" {
		query = query.Where("release_mode = ?", *params.ReleaseMode)
	}
	if params.PeriodKey != nil && *params.PeriodKey != "" {
		query = query.Where("accrued_period_key = ?", *params.PeriodKey)
	}
	var items []models.PendingBonus
	err := query.
		Order("id asc").
		Limit(normalizeLimit(params.Limit, 200)).
		Offset(normalizeOffset(params.Offset)).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

// SumPendingAccrued sums bonuses accrued for the period that were not
// rejected. Released rows stay counted here, keyed by accrual period; their
// wallet credits are excluded from SumWalletTransactions.
func (s *Store) SumPendingAccrued(ctx context.Context, periodKey string, bonusTypes []string) (decimal.Decimal, error) {
	if s == nil || s.db == nil {
		return decimal.Zero, nil
	}
	query := s.db.WithContext(ctx).
		Model(&models.PendingBonus{}).
		Select("COALESCE(SUM(amount), 0) AS total").
		Where("accrued_period_key = ?", periodKey).
		Where("status <> ?", models.PendingStatusRejected)
	if len(bonusTypes) > 0 {
		query = query.Where("bonus_type IN ?", bonusTypes)
	}
	var out struct{ Total decimal.Decimal }
	err := query.Scan(&out).Error
	return out.Total, err
}

func (s *Store) MarkPendingReleasedTx(ctx context.Context, tx *gorm.DB, id, refID uint64, at time.Time) (bool, error) {
	if s == nil || s.db == nil {
		return false, nil
	}
	res := s.use(tx).WithContext(ctx).
		Model(&models.PendingBonus{}).
		Where("id = ? AND status = ?", id, models.PendingStatusPending).
		Updates(map[string]any{
			"status":          models.PendingStatusReleased,
			"released_ref_id": refID,
			"released_at":     at,
		})
	return res.RowsAffected > 0, res.Error
}

func (s *Store) MarkPendingRejected(ctx context.Context, id uint64, reason string) (bool, error) {
	if s == nil || s.db == nil {
		return false, nil
	}
	res := s.db.WithContext(ctx).
		Model(&models.PendingBonus{}).
		Where("id = ? AND status = ?", id, models.PendingStatusPending).
		Updates(map[string]any{
			"status":          models.PendingStatusRejected,
			"rejected_reason": reason,
		})
	return res.RowsAffected > 0, res.Error
}

func (s *Store) MarkPendingRejectedBySourceTx(ctx context.Context, tx *gorm.DB, sourceType string, sourceID uint64, reason string) (int64, error) {
	res := s.use(tx).WithContext(ctx).
		Model(&models.PendingBonus{}).
		Where("source_type = ? AND source_id = ? AND status = ?", sourceType, sourceID, models.PendingStatusPending).
		Updates(map[string]any{
			"status":          models.PendingStatusRejected,
			"rejected_reason": reason,
		})
	return res.RowsAffected, res.Error
}

// --- Wallet transactions ----------------------------------------------------

func (s *Store) InsertWalletTransactionTx(ctx context.Context, tx *gorm.DB, item *models.WalletTransaction) (bool, error) {
	if s == nil || s.db == nil || item == nil {
		return false, nil
	}
	res := s.use(tx).WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(item)
	return res.RowsAffected > 0, res.Error
}

func (s *Store) ListWalletTransactionsBySource(ctx context.Context, sourceType string, sourceID uint64) ([]models.WalletTransaction, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.WalletTransaction
	err := s.db.WithContext(ctx).
		Where("source_type = ? AND source_id = ?", sourceType, sourceID).
		Order("id asc").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) ListWalletTransactionsByUser(ctx context.Context, userID uint64, limit, offset int) ([]models.WalletTransaction, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.WalletTransaction
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id desc").
		Limit(normalizeLimit(limit, 200)).
		Offset(normalizeOffset(offset)).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

// SumWalletTransactions sums signed wallet movement in the window. Credits
// written by a pending-bonus release are excluded; those amounts are
// accounted once, under their accrual period, by SumPendingAccrued.
func (s *Store) SumWalletTransactions(ctx context.Context, start, end time.Time, bonusTypes []string) (decimal.Decimal, error) {
	if s == nil || s.db == nil {
		return decimal.Zero, nil
	}
	query := s.db.WithContext(ctx).
		Model(&models.WalletTransaction{}).
		Select("COALESCE(SUM(CASE WHEN trx_type = '+' THEN amount ELSE -amount END), 0) AS total").
		Where("created_at >= ? AND created_at < ?", start, end).
		Where("NOT EXISTS (SELECT 1 FROM pending_bonuses pb WHERE pb.released_ref_id = wallet_transactions.id)")
	if len(bonusTypes) > 0 {
		query = query.Where("bonus_type IN ?", bonusTypes)
	}
	var out struct{ Total decimal.Decimal }
	err := query.Scan(&out).Error
	return out.Total, err
}

// --- Points -----------------------------------------------------------------

func (s *Store) InsertPointsEntryTx(ctx context.Context, tx *gorm.DB, item *models.PointsEntry) (bool, error) {
	if s == nil || s.db == nil || item == nil {
		return false, nil
	}
	res := s.use(tx).WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(item)
	return res.RowsAffected > 0, res.Error
}

func (s *Store) ListPointsEntriesBySource(ctx context.Context, sourceType string, sourceID uint64) ([]models.PointsEntry, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.PointsEntry
	err := s.db.WithContext(ctx).
		Where("source_type = ? AND source_id = ?", sourceType, sourceID).
		Order("id asc").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

// --- Weekly settlements -----------------------------------------------------

func (s *Store) GetWeeklySettlementByKey(ctx context.Context, key string) (*models.WeeklySettlement, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.WeeklySettlement
	err := s.db.WithContext(ctx).First(&item, "period_key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) InsertWeeklySettlementTx(ctx context.Context, tx *gorm.DB, item *models.WeeklySettlement) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.use(tx).WithContext(ctx).Create(item).Error
}

func (s *Store) InsertWeeklyUserSummariesTx(ctx context.Context, tx *gorm.DB, items []models.WeeklySettlementUserSummary) error {
	if s == nil || s.db == nil || len(items) == 0 {
		return nil
	}
	return s.use(tx).WithContext(ctx).CreateInBatches(items, 500).Error
}

func (s *Store) ListWeeklySettlements(ctx context.Context, limit, offset int) ([]models.WeeklySettlement, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.WeeklySettlement
	err := s.db.WithContext(ctx).
		Order("period_key desc").
		Limit(normalizeLimit(limit, 100)).
		Offset(normalizeOffset(offset)).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) ListWeeklyUserSummaries(ctx context.Context, settlementID uint64) ([]models.WeeklySettlementUserSummary, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.WeeklySettlementUserSummary
	err := s.db.WithContext(ctx).
		Where("settlement_id = ?", settlementID).
		Order("user_id asc").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) GetWeeklyUserSummary(ctx context.Context, settlementID, userID uint64) (*models.WeeklySettlementUserSummary, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.WeeklySettlementUserSummary
	err := s.db.WithContext(ctx).
		First(&item, "settlement_id = ? AND user_id = ?", settlementID, userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// --- Quarterly settlements --------------------------------------------------

func (s *Store) GetQuarterlySettlementByKey(ctx context.Context, key string) (*models.QuarterlySettlement, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.QuarterlySettlement
	err := s.db.WithContext(ctx).First(&item, "period_key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) InsertQuarterlySettlementTx(ctx context.Context, tx *gorm.DB, item *models.QuarterlySettlement) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.use(tx).WithContext(ctx).Create(item).Error
}

func (s *Store) InsertDividendLogsTx(ctx context.Context, tx *gorm.DB, items []models.DividendLog) error {
	if s == nil || s.db == nil || len(items) == 0 {
		return nil
	}
	return s.use(tx).WithContext(ctx).CreateInBatches(items, 500).Error
}

func (s *Store) ListQuarterlySettlements(ctx context.Context, limit, offset int) ([]models.QuarterlySettlement, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.QuarterlySettlement
	err := s.db.WithContext(ctx).
		Order("period_key desc").
		Limit(normalizeLimit(limit, 100)).
		Offset(normalizeOffset(offset)).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) ListDividendLogs(ctx context.Context, settlementID uint64) ([]models.DividendLog, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.DividendLog
	err := s.db.WithContext(ctx).
		Where("settlement_id = ?", settlementID).
		Order("user_id asc").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

// --- Adjustments ------------------------------------------------------------

func (s *Store) InsertAdjustmentBatchTx(ctx context.Context, tx *gorm.DB, item *models.AdjustmentBatch) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.use(tx).WithContext(ctx).Create(item).Error
}

func (s *Store) GetAdjustmentBatch(ctx context.Context, id uint64) (*models.AdjustmentBatch, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.AdjustmentBatch
	err := s.db.WithContext(ctx).First(&item, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListAdjustmentBatches(ctx context.Context, limit, offset int) ([]models.AdjustmentBatch, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.AdjustmentBatch
	err := s.db.WithContext(ctx).
		Order("id desc").
		Limit(normalizeLimit(limit, 100)).
		Offset(normalizeOffset(offset)).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

// SetAdjustmentFinalizedTx flips finalized_at only when still null; false
// means the batch was already finalized.
func (s *Store) SetAdjustmentFinalizedTx(ctx context.Context, tx *gorm.DB, id uint64, at time.Time) (bool, error) {
	if s == nil || s.db == nil {
		return false, nil
	}
	res := s.use(tx).WithContext(ctx).
		Model(&models.AdjustmentBatch{}).
		Where("id = ? AND finalized_at IS NULL", id).
		Update("finalized_at", at)
	return res.RowsAffected > 0, res.Error
}

func (s *Store) InsertAdjustmentEntryTx(ctx context.Context, tx *gorm.DB, item *models.AdjustmentEntry) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.use(tx).WithContext(ctx).Create(item).Error
}

func (s *Store) ListAdjustmentEntries(ctx context.Context, batchID uint64) ([]models.AdjustmentEntry, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.AdjustmentEntry
	err := s.db.WithContext(ctx).
		Where("batch_id = ?", batchID).
		Order("id asc").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

// --- helpers ----------------------------------------------------------------

func normalizeLimit(limit, def int) int {
	if limit <= 0 || limit > 1000 {
		return def
	}
	return limit
}

func normalizeOffset(offset int) int {
	if offset < 0 {
		return 0
	}
	return offset
}
