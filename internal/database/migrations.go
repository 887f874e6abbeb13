package database

import (
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/hexnews/backend/internal/feed"
	"github.com/MarcoPoloResearchLab/hexnews/backend/internal/storage"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationBackfillLogEntryKinds = "2026-09-21_backfill_log_entry_kinds"

const backfillBatchSize = 500

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationBackfillLogEntryKinds, apply: backfillLogEntryKinds},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// backfillLogEntryKinds derives the kind column for rows imported without one.
// Payloads that still do not decode keep an empty kind.
func backfillLogEntryKinds(db *gorm.DB) error {
	var entries []storage.LogEntry
	return db.Where("kind = ?", "").FindInBatches(&entries, backfillBatchSize, func(tx *gorm.DB, _ int) error {
		for _, entry := range entries {
			kind := feed.DecodeUpdate([]byte(entry.PayloadJSON)).Kind()
			if kind == "" {
				continue
			}
			if err := tx.Model(&storage.LogEntry{}).
				Where("entry_id = ?", entry.EntryID).
				Update("kind", string(kind)).Error; err != nil {
				return err
			}
		}
		return nil
	}).Error
}
