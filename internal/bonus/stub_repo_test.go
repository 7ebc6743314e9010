package bonus

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"compengine/internal/models"
	"compengine/internal/repository"
)

// memRepo is a test-only in-memory implementation of repository.Repository
// that mirrors the unique-index semantics of the real store: every
// insert-or-ignore method reports false on a key collision.
type memRepo struct {
	nextID uint64

	members  map[uint64]*models.Member
	orders   map[uint64]*models.OrderEvent
	trxKeys  map[string]struct{}
	pv       []*models.PVLedgerEntry
	hits     map[hitKey]*models.LevelHitState
	pendings []*models.PendingBonus
	wallet   []*models.WalletTransaction
	points   []*models.PointsEntry
}

type hitKey struct {
	userID uint64
	depth  int
}

func newMemRepo() *memRepo {
	return &memRepo{
		members: map[uint64]*models.Member{},
		orders:  map[uint64]*models.OrderEvent{},
		trxKeys: map[string]struct{}{},
		hits:    map[hitKey]*models.LevelHitState{},
	}
}

func (m *memRepo) id() uint64 {
	m.nextID++
	return m.nextID
}

func (m *memRepo) addMember(member *models.Member) {
	m.members[member.ID] = member
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
	if member, ok := m.members[id]; ok {
		member.PlacementParentID = parentID
		member.PlacementSide = side
	}
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
	if _, ok := m.trxKeys[item.TrxKey]; ok {
		return false, nil
	}
	item.ID = m.id()
	item.CreatedAt = time.Now().UTC()
	m.orders[item.OrderID] = item
	m.trxKeys[item.TrxKey] = struct{}{}
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
		if e.SourceType == models.SourceOrder && e.TrxType == models.TrxPlus &&
			!e.CreatedAt.Before(start) && e.CreatedAt.Before(end) && e.Depth == 1 {
			total = total.Add(e.Amount)
		}
	}
	return total, nil
}

func (m *memRepo) CountOrdersByBuyerInWindow(ctx context.Context, start, end time.Time) (map[uint64]int64, error) {
	out := map[uint64]int64{}
	for _, ev := range m.orders {
		if ev.Status != models.OrderStatusRefunded && !ev.ShippedAt.Before(start) && ev.ShippedAt.Before(end) {
			out[ev.BuyerID]++
		}
	}
	return out, nil
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
	var out []models.PVLedgerEntry
	for _, e := range m.pv {
		if e.UserID == userID {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (m *memRepo) GetLevelHitForUpdateTx(ctx context.Context, tx *gorm.DB, userID uint64, depth int) (*models.LevelHitState, error) {
	st, ok := m.hits[hitKey{userID, depth}]
	if !ok {
		return nil, nil
	}
	copied := *st
	return &copied, nil
}

func (m *memRepo) SaveLevelHitTx(ctx context.Context, tx *gorm.DB, item *models.LevelHitState) error {
	copied := *item
	m.hits[hitKey{item.UserID, item.Depth}] = &copied
	return nil
}

func (m *memRepo) InsertPendingBonusTx(ctx context.Context, tx *gorm.DB, item *models.PendingBonus) (bool, error) {
	for _, p := range m.pendings {
		if p.RecipientID == item.RecipientID && p.BonusType == item.BonusType &&
			p.SourceType == item.SourceType && p.SourceID == item.SourceID {
			return false, nil
		}
	}
	item.ID = m.id()
	item.CreatedAt = time.Now().UTC()
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
	var out []models.PendingBonus
	for _, p := range m.pendings {
		if params.RecipientID != nil && p.RecipientID != *params.RecipientID {
			continue
		}
		if params.Status != nil && p.Status != *params.Status {
			continue
		}
		if params.ReleaseMode != nil && p.ReleaseMode != *params.ReleaseMode {
			continue
		}
		if params.PeriodKey != nil && p.AccruedPeriodKey != *params.PeriodKey {
			continue
		}
		out = append(out, *p)
	}
	return out, nil
}

func (m *memRepo) SumPendingAccrued(ctx context.Context, periodKey string, bonusTypes []string) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, p := range m.pendings {
		if p.AccruedPeriodKey != periodKey {
			continue
		}
		for _, bt := range bonusTypes {
			if p.BonusType == bt {
				total = total.Add(p.Amount)
				break
			}
		}
	}
	return total, nil
}

func (m *memRepo) MarkPendingReleasedTx(ctx context.Context, tx *gorm.DB, id, refID uint64, at time.Time) (bool, error) {
	for _, p := range m.pendings {
		if p.ID == id && p.Status == models.PendingStatusPending {
			p.Status = models.PendingStatusReleased
			p.ReleasedRefID = &refID
			p.ReleasedAt = &at
			return true, nil
		}
	}
	return false, nil
}

func (m *memRepo) MarkPendingRejected(ctx context.Context, id uint64, reason string) (bool, error) {
	for _, p := range m.pendings {
		if p.ID == id && p.Status == models.PendingStatusPending {
			p.Status = models.PendingStatusRejected
			p.RejectedReason = reason
			return true, nil
		}
	}
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
	total := decimal.Zero
	for _, t := range m.wallet {
		if t.CreatedAt.Before(start) || !t.CreatedAt.Before(end) {
			continue
		}
		for _, bt := range bonusTypes {
			if t.BonusType == bt {
				total = total.Add(t.SignedAmount())
				break
			}
		}
	}
	return total, nil
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
	item.CreatedAt = time.Now().UTC()
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
	return nil, nil
}

func (m *memRepo) InsertWeeklySettlementTx(ctx context.Context, tx *gorm.DB, item *models.WeeklySettlement) error {
	return nil
}

func (m *memRepo) InsertWeeklyUserSummariesTx(ctx context.Context, tx *gorm.DB, items []models.WeeklySettlementUserSummary) error {
	return nil
}

func (m *memRepo) ListWeeklySettlements(ctx context.Context, limit, offset int) ([]models.WeeklySettlement, error) {
	return nil, nil
}

func (m *memRepo) ListWeeklyUserSummaries(ctx context.Context, settlementID uint64) ([]models.WeeklySettlementUserSummary, error) {
	return nil, nil
}

func (m *memRepo) GetWeeklyUserSummary(ctx context.Context, settlementID, userID uint64) (*models.WeeklySettlementUserSummary, error) {
	return nil, nil
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
