package db

import (
	"compengine/internal/models"
)

func AutoMigrate(db *DB) error {
	if db == nil || db.Gorm == nil || db.SQL == nil {
		return nil
	}

	return db.Gorm.AutoMigrate(
		&models.Member{},
		&models.OrderEvent{},
		&models.PVLedgerEntry{},
		&models.LevelHitState{},
		&models.PendingBonus{},
		&models.WalletTransaction{},
		&models.PointsEntry{},
		&models.WeeklySettlement{},
		&models.WeeklySettlementUserSummary{},
		&models.QuarterlySettlement{},
		&models.DividendLog{},
		&models.AdjustmentBatch{},
		&models.AdjustmentEntry{},
	)
}
