package settlement

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"compengine/internal/lock"
	"compengine/internal/models"
	"compengine/internal/repository"
)

// memRepo is a test-only in-memory implementation of repository.Repository
// mirroring the real store's aggregate and unique-index semantics on the
// tables the settlement runs touch. Inserts keep a caller-set CreatedAt so
// tests can place rows inside a period window.
type memRepo struct {
	nextID uint64

	members   map[uint64]*models.Member
	orders    map[uint64]*models.OrderEvent
	pv        []*models.PVLedgerEntry
	wallet    []*models.WalletTransaction
	pendings  []*models.PendingBonus
	weekly    map[string]*models.WeeklySettlement
	summaries map[[2]uint64]*models.WeeklySettlementUserSummary
	quarterly map[string]*models.QuarterlySettlement
	dividends []*models.DividendLog
}

func newMemRepo() *memRepo {
	return &memRepo{
		members:   map[uint64]*models.Member{},
		orders:    map[uint64]*models.OrderEvent{},
		weekly:    map[string]*models.WeeklySettlement{},
		summaries: map[[2]uint64]*models.WeeklySettlementUserSummary{},
		quarterly: map[string]*models.QuarterlySettlement{},
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
	out := make([]models.Member, 0, len(m.members))
	for _, member := range m.members {
		out = append(out, *member)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memRepo) SetMemberActivatedTx(ctx context.Context, tx *gorm.DB, id uint64, at time.Time) error {
	if member, ok := m.members[id]; ok {
		member.Activated = true
		member.ActivatedAt = &at
	}
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
	total := decimal.Zero
	for _, e := range m.pv {
		if e.SourceType != models.SourceOrder || e.TrxType != models.TrxPlus {
			continue
		}
		if e.CreatedAt.Before(start) || !e.CreatedAt.Before(end) {
			continue
		}
		total = total.Add(e.Amount)
	}
	return total, nil
}

func (m *memRepo) CountOrdersByBuyerInWindow(ctx context.Context, start, end time.Time) (map[uint64]int64, error) {
	out := map[uint64]int64{}
	for _, ev := range m.orders {
		if ev.Status != models.OrderStatusShipped {
			continue
		}
		if ev.ShippedAt.Before(start) || !ev.ShippedAt.Before(end) {
			continue
		}
		out[ev.BuyerID]++
	}
	return out, nil
}

func (m *memRepo) InsertPVEntryTx(ctx context.Context, tx *gorm.DB, item *models.PVLedgerEntry) (bool, error) {
	for _, e := range m.pv {
		if e.SourceType == item.SourceType && e.SourceID == item.SourceID &&
			e.UserID == item.UserID && e.Position == item.Position && e.TrxType == item.TrxType {
			return false, nil
		}
	}
	item.ID = m.id()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	m.pv = append(m.pv, item)
	return true, nil
}

func (m *memRepo) SumPVByPosition(ctx context.Context, userID uint64, position string, until *time.Time) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, e := range m.pv {
		if e.UserID != userID || e.Position != position {
			continue
		}
		if until != nil && !e.CreatedAt.Before(*until) {
			continue
		}
		total = total.Add(e.SignedAmount())
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
	for _, p := range m.pendings {
		if p.ID == id {
			copied := *p
			return &copied, nil
		}
	}
	return nil, nil
}

func (m *memRepo) ListPendingBonuses(ctx context.Context, params repository.ListPendingParams) ([]models.PendingBonus, error) {
	return nil, nil
}

func (m *memRepo) SumPendingAccrued(ctx context.Context, periodKey string, bonusTypes []string) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, p := range m.pendings {
		if p.AccruedPeriodKey != periodKey || p.Status == models.PendingStatusRejected {
			continue
		}
		if len(bonusTypes) > 0 && !containsType(bonusTypes, p.BonusType) {
			continue
		}
		total = total.Add(p.Amount)
	}
	return total, nil
}

func (m *memRepo) MarkPendingReleasedTx(ctx context.Context, tx *gorm.DB, id, refID uint64, at time.Time) (bool, error) {
	return false, nil
}

func (m *memRepo) MarkPendingRejected(ctx context.Context, id uint64, reason string) (bool, error) {
	return false, nil
}

func (m *memRepo) MarkPendingRejectedBySourceTx(ctx context.Context, tx *gorm.DB, sourceType string, sourceID uint64, reason string) (int64, error) {
	return 0, nil
}

func (m *memRepo) InsertWalletTransactionTx(ctx context.Context, tx *gorm.DB, item *models.WalletTransaction) (bool, error) {
	for _, t := range m.wallet {
		if t.UserID == item.UserID && t.TrxType == item.TrxType && t.BonusType == item.BonusType &&
			t.SourceType == item.SourceType && t.SourceID == item.SourceID {
			return false, nil
		}
	}
	item.ID = m.id()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
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
	return nil, nil
}

func (m *memRepo) SumWalletTransactions(ctx context.Context, start, end time.Time, bonusTypes []string) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, t := range m.wallet {
		if t.CreatedAt.Before(start) || !t.CreatedAt.Before(end) {
			continue
		}
		if len(bonusTypes) > 0 && !containsType(bonusTypes, t.BonusType) {
			continue
		}
		if m.isReleaseCredit(t.ID) {
			continue
		}
		total = total.Add(t.SignedAmount())
	}
	return total, nil
}

// isReleaseCredit mirrors the store's exclusion of wallet rows written by a
// pending-bonus release; those amounts count once, under their accrual
// period.
func (m *memRepo) isReleaseCredit(trxID uint64) bool {
	for _, p := range m.pendings {
		if p.ReleasedRefID != nil && *p.ReleasedRefID == trxID {
			return true
		}
	}
	return false
}

func containsType(types []string, t string) bool {
	for _, v := range types {
		if v == t {
			return true
		}
	}
	return false
}

func (m *memRepo) InsertPointsEntryTx(ctx context.Context, tx *gorm.DB, item *models.PointsEntry) (bool, error) {
	return true, nil
}

func (m *memRepo) ListPointsEntriesBySource(ctx context.Context, sourceType string, sourceID uint64) ([]models.PointsEntry, error) {
	return nil, nil
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
	var out []models.WeeklySettlementUserSummary
	for _, s := range m.summaries {
		if s.SettlementID == settlementID {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
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
	qs, ok := m.quarterly[key]
	if !ok {
		return nil, nil
	}
	copied := *qs
	return &copied, nil
}

func (m *memRepo) InsertQuarterlySettlementTx(ctx context.Context, tx *gorm.DB, item *models.QuarterlySettlement) error {
	item.ID = m.id()
	m.quarterly[item.PeriodKey] = item
	return nil
}

func (m *memRepo) InsertDividendLogsTx(ctx context.Context, tx *gorm.DB, items []models.DividendLog) error {
	for idx := range items {
		copied := items[idx]
		copied.ID = m.id()
		m.dividends = append(m.dividends, &copied)
	}
	return nil
}

func (m *memRepo) ListQuarterlySettlements(ctx context.Context, limit, offset int) ([]models.QuarterlySettlement, error) {
	return nil, nil
}

func (m *memRepo) ListDividendLogs(ctx context.Context, settlementID uint64) ([]models.DividendLog, error) {
	var out []models.DividendLog
	for _, d := range m.dividends {
		if d.SettlementID == settlementID {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (m *memRepo) InsertAdjustmentBatchTx(ctx context.Context, tx *gorm.DB, item *models.AdjustmentBatch) error {
	return nil
}

func (m *memRepo) GetAdjustmentBatch(ctx context.Context, id uint64) (*models.AdjustmentBatch, error) {
	return nil, nil
}

func (m *memRepo) ListAdjustmentBatches(ctx context.Context, limit, offset int) ([]models.AdjustmentBatch, error) {
	return nil, nil
}

func (m *memRepo) SetAdjustmentFinalizedTx(ctx context.Context, tx *gorm.DB, id uint64, at time.Time) (bool, error) {
	return false, nil
}

func (m *memRepo) InsertAdjustmentEntryTx(ctx context.Context, tx *gorm.DB, item *models.AdjustmentEntry) error {
	return nil
}

func (m *memRepo) ListAdjustmentEntries(ctx context.Context, batchID uint64) ([]models.AdjustmentEntry, error) {
	return nil, nil
}

// stubLocker hands out lock handles without redis; marking a key busy makes
// the next Acquire report contention.
type stubLocker struct {
	busy map[string]bool
}

func (l *stubLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (*lock.Lock, error) {
	if l.busy[key] {
		return nil, lock.ErrNotAcquired
	}
	return &lock.Lock{}, nil
}
