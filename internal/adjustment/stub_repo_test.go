package adjustment

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"compengine/internal/models"
	"compengine/internal/repository"
)

// memRepo is a test-only in-memory implementation of repository.Repository
// with the unique-index semantics of the real store on the ledger tables the
// adjustment engine touches.
type memRepo struct {
	nextID uint64

	members   map[uint64]*models.Member
	orders    map[uint64]*models.OrderEvent
	pv        []*models.PVLedgerEntry
	wallet    []*models.WalletTransaction
	points    []*models.PointsEntry
	pendings  []*models.PendingBonus
	weekly    map[string]*models.WeeklySettlement
	summaries map[[2]uint64]*models.WeeklySettlementUserSummary
	batches   map[uint64]*models.AdjustmentBatch
	entries   []*models.AdjustmentEntry
}

func newMemRepo() *memRepo {
	return &memRepo{
		members:   map[uint64]*models.Member{},
		orders:    map[uint64]*models.OrderEvent{},
		weekly:    map[string]*models.WeeklySettlement{},
		summaries: map[[2]uint64]*models.WeeklySettlementUserSummary{},
		batches:   map[uint64]*models.AdjustmentBatch{},
	}
}

func (m *memRepo) id() uint64 {
	m.nextID++
	return m.nextID
}

func (m *memRepo) InTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

func (m *memRepo) GetMember(ctx context.Context, id uint64) (*models.Member, error) {
	member, ok := m.members[id]
	if !ok {
		return nil, nil
	}
	copied := *member
	return &copied, nil
}

func (m *memRepo) ListMembers(ctx context.Context) ([]models.Member, error) {
	return nil, nil
}

func (m *memRepo) SetMemberActivatedTx(ctx context.Context, tx *gorm.DB, id uint64, at time.Time) error {
	return nil
}

func (m *memRepo) SetMemberPlacementTx(ctx context.Context, tx *gorm.DB, id uint64, parentID *uint64, side string) error {
	return nil
}

func (m *memRepo) AddWalletBalanceTx(ctx context.Context, tx *gorm.DB, userID uint64, delta decimal.Decimal) error {
	if member, ok := m.members[userID]; ok {
		member.WalletBalance = member.WalletBalance.Add(delta)
	}
	return nil
}

func (m *memRepo) AddPointsBalanceTx(ctx context.Context, tx *gorm.DB, userID uint64, delta decimal.Decimal) error {
	if member, ok := m.members[userID]; ok {
		member.PointsBalance = member.PointsBalance.Add(delta)
	}
	return nil
}

func (m *memRepo) UpsertMember(ctx context.Context, item *models.Member) error {
	m.members[item.ID] = item
	return nil
}

func (m *memRepo) InsertOrderEventTx(ctx context.Context, tx *gorm.DB, item *models.OrderEvent) (bool, error) {
	if _, ok := m.orders[item.OrderID]; ok {
		return false, nil
	}
	item.ID = m.id()
	m.orders[item.OrderID] = item
	return true, nil
}

func (m *memRepo) GetOrderEventByOrderID(ctx context.Context, orderID uint64) (*models.OrderEvent, error) {
	ev, ok := m.orders[orderID]
	if !ok {
		return nil, nil
	}
	copied := *ev
	return &copied, nil
}

func (m *memRepo) MarkOrderRefundedTx(ctx context.Context, tx *gorm.DB, orderID uint64) error {
	if ev, ok := m.orders[orderID]; ok {
		ev.Status = models.OrderStatusRefunded
	}
	return nil
}

func (m *memRepo) SumOrderPVInWindow(ctx context.Context, start, end time.Time) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

func (m *memRepo) CountOrdersByBuyerInWindow(ctx context.Context, start, end time.Time) (map[uint64]int64, error) {
	return nil, nil
}

func (m *memRepo) InsertPVEntryTx(ctx context.Context, tx *gorm.DB, item *models.PVLedgerEntry) (bool, error) {
	for _, e := range m.pv {
		if e.SourceType == item.SourceType && e.SourceID == item.SourceID &&
			e.UserID == item.UserID && e.Position == item.Position && e.TrxType == item.TrxType {
			return false, nil
		}
		if e.ReversalOfID != nil && item.ReversalOfID != nil && *e.ReversalOfID == *item.ReversalOfID {
			return false, nil
		}
	}
	item.ID = m.id()
	item.CreatedAt = time.Now().UTC()
	m.pv = append(m.pv, item)
	return true, nil
}

func (m *memRepo) SumPVByPosition(ctx context.Context, userID uint64, position string, until *time.Time) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, e := range m.pv {
		if e.UserID == userID && e.Position == position {
			total = total.Add(e.SignedAmount())
		}
	}
	return total, nil
}

func (m *memRepo) ListPVEntriesBySource(ctx context.Context, sourceType string, sourceID uint64) ([]models.PVLedgerEntry, error) {
	var out []models.PVLedgerEntry
	for _, e := range m.pv {
		if e.SourceType == sourceType && e.SourceID == sourceID {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (m *memRepo) ListPVEntriesByUser(ctx context.Context, userID uint64, limit, offset int) ([]models.PVLedgerEntry, error) {
	return nil, nil
}

func (m *memRepo) GetLevelHitForUpdateTx(ctx context.Context, tx *gorm.DB, userID uint64, depth int) (*models.LevelHitState, error) {
	return nil, nil
}

func (m *memRepo) SaveLevelHitTx(ctx context.Context, tx *gorm.DB, item *models.LevelHitState) error {
	return nil
}

func (m *memRepo) InsertPendingBonusTx(ctx context.Context, tx *gorm.DB, item *models.PendingBonus) (bool, error) {
	item.ID = m.id()
	m.pendings = append(m.pendings, item)
	return true, nil
}

func (m *memRepo) GetPendingBonus(ctx context.Context, id uint64) (*models.PendingBonus, error) {
	return nil, nil
}

func (m *memRepo) ListPendingBonuses(ctx context.Context, params repository.ListPendingParams) ([]models.PendingBonus, error) {
	return nil, nil
}

func (m *memRepo) SumPendingAccrued(ctx context.Context, periodKey string, bonusTypes []string) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

func (m *memRepo) MarkPendingReleasedTx(ctx context.Context, tx *gorm.DB, id, refID uint64, at time.Time) (bool, error) {
	return false, nil
}

func (m *memRepo) MarkPendingRejected(ctx context.Context, id uint64, reason string) (bool, error) {
	return false, nil
}

func (m *memRepo) MarkPendingRejectedBySourceTx(ctx context.Context, tx *gorm.DB, sourceType string, sourceID uint64, reason string) (int64, error) {
	var n int64
	for _, p := range m.pendings {
		if p.SourceType == sourceType && p.SourceID == sourceID && p.Status == models.PendingStatusPending {
			p.Status = models.PendingStatusRejected
			p.RejectedReason = reason
			n++
		}
	}
	return n, nil
}

func (m *memRepo) InsertWalletTransactionTx(ctx context.Context, tx *gorm.DB, item *models.WalletTransaction) (bool, error) {
	for _, t := range m.wallet {
		if t.UserID == item.UserID && t.TrxType == item.TrxType && t.BonusType == item.BonusType &&
			t.SourceType == item.SourceType && t.SourceID == item.SourceID {
			return false, nil
		}
		if t.ReversalOfID != nil && item.ReversalOfID != nil && *t.ReversalOfID == *item.ReversalOfID {
			return false, nil
		}
	}
	item.ID = m.id()
	item.CreatedAt = time.Now().UTC()
	m.wallet = append(m.wallet, item)
	return true, nil
}

func (m *memRepo) ListWalletTransactionsBySource(ctx context.Context, sourceType string, sourceID uint64) ([]models.WalletTransaction, error) {
	var out []models.WalletTransaction
	for _, t := range m.wallet {
		if t.SourceType == sourceType && t.SourceID == sourceID {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (m *memRepo) ListWalletTransactionsByUser(ctx context.Context, userID uint64, limit, offset int) ([]models.WalletTransaction, error) {
	var out []models.WalletTransaction
	for _, t := range m.wallet {
		if t.UserID == userID {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (m *memRepo) SumWalletTransactions(ctx context.Context, start, end time.Time, bonusTypes []string) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

func (m *memRepo) InsertPointsEntryTx(ctx context.Context, tx *gorm.DB, item *models.PointsEntry) (bool, error) {
	for _, p := range m.points {
		if p.UserID == item.UserID && p.TrxType == item.TrxType &&
			p.SourceType == item.SourceType && p.SourceID == item.SourceID {
			return false, nil
		}
		if p.ReversalOfID != nil && item.ReversalOfID != nil && *p.ReversalOfID == *item.ReversalOfID {
			return false, nil
		}
	}
	item.ID = m.id()
	m.points = append(m.points, item)
	return true, nil
}

func (m *memRepo) ListPointsEntriesBySource(ctx context.Context, sourceType string, sourceID uint64) ([]models.PointsEntry, error) {
	var out []models.PointsEntry
	for _, p := range m.points {
		if p.SourceType == sourceType && p.SourceID == sourceID {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (m *memRepo) GetWeeklySettlementByKey(ctx context.Context, key string) (*models.WeeklySettlement, error) {
	ws, ok := m.weekly[key]
	if !ok {
		return nil, nil
	}
	copied := *ws
	return &copied, nil
}

func (m *memRepo) InsertWeeklySettlementTx(ctx context.Context, tx *gorm.DB, item *models.WeeklySettlement) error {
	item.ID = m.id()
	m.weekly[item.PeriodKey] = item
	return nil
}

func (m *memRepo) InsertWeeklyUserSummariesTx(ctx context.Context, tx *gorm.DB, items []models.WeeklySettlementUserSummary) error {
	for idx := range items {
		copied := items[idx]
		copied.ID = m.id()
		m.summaries[[2]uint64{copied.SettlementID, copied.UserID}] = &copied
	}
	return nil
}

func (m *memRepo) ListWeeklySettlements(ctx context.Context, limit, offset int) ([]models.WeeklySettlement, error) {
	return nil, nil
}

func (m *memRepo) ListWeeklyUserSummaries(ctx context.Context, settlementID uint64) ([]models.WeeklySettlementUserSummary, error) {
	return nil, nil
}

func (m *memRepo) GetWeeklyUserSummary(ctx context.Context, settlementID, userID uint64) (*models.WeeklySettlementUserSummary, error) {
	s, ok := m.summaries[[2]uint64{settlementID, userID}]
	if !ok {
		return nil, nil
	}
	copied := *s
	return &copied, nil
}

func (m *memRepo) GetQuarterlySettlementByKey(ctx context.Context, key string) (*models.QuarterlySettlement, error) {
	return nil, nil
}

func (m *memRepo) InsertQuarterlySettlementTx(ctx context.Context, tx *gorm.DB, item *models.QuarterlySettlement) error {
	return nil
}

func (m *memRepo) InsertDividendLogsTx(ctx context.Context, tx *gorm.DB, items []models.DividendLog) error {
	return nil
}

func (m *memRepo) ListQuarterlySettlements(ctx context.Context, limit, offset int) ([]models.QuarterlySettlement, error) {
	return nil, nil
}

func (m *memRepo) ListDividendLogs(ctx context.Context, settlementID uint64) ([]models.DividendLog, error) {
	return nil, nil
}

func (m *memRepo) InsertAdjustmentBatchTx(ctx context.Context, tx *gorm.DB, item *models.AdjustmentBatch) error {
	item.ID = m.id()
	m.batches[item.ID] = item
	return nil
}

func (m *memRepo) GetAdjustmentBatch(ctx context.Context, id uint64) (*models.AdjustmentBatch, error) {
	b, ok := m.batches[id]
	if !ok {
		return nil, nil
	}
	copied := *b
	return &copied, nil
}

func (m *memRepo) ListAdjustmentBatches(ctx context.Context, limit, offset int) ([]models.AdjustmentBatch, error) {
	return nil, nil
}

func (m *memRepo) SetAdjustmentFinalizedTx(ctx context.Context, tx *gorm.DB, id uint64, at time.Time) (bool, error) {
	b, ok := m.batches[id]
	if !ok || b.FinalizedAt != nil {
		return false, nil
	}
	b.FinalizedAt = &at
	return true, nil
}

func (m *memRepo) InsertAdjustmentEntryTx(ctx context.Context, tx *gorm.DB, item *models.AdjustmentEntry) error {
	item.ID = m.id()
	m.entries = append(m.entries, item)
	return nil
}

func (m *memRepo) ListAdjustmentEntries(ctx context.Context, batchID uint64) ([]models.AdjustmentEntry, error) {
	var out []models.AdjustmentEntry
	for _, e := range m.entries {
		if e.BatchID == batchID {
			out = append(out, *e)
		}
	}
	return out, nil
}
