package database

import (
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/skyportal/client/internal/records"
	"github.com/MarcoPoloResearchLab/skyportal/client/internal/resource"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationBackfillSpectrumParents = "2026-10-01_backfill_spectrum_parents"

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
		{name: migrationBackfillSpectrumParents, apply: backfillSpectrumParents},
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

// backfillSpectrumParents links spectra stored without a parent to the object
// named in their payload.
func backfillSpectrumParents(db *gorm.DB) error {
	return db.Model(&records.Record{}).
		Where("kind = ? AND parent_id = ''", resource.KindSpectrum.String()).
		Where("json_extract(payload_json, '$.obj_id') IS NOT NULL").
		Update("parent_id", gorm.Expr("json_extract(payload_json, '$.obj_id')")).Error
}
