package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/delivery-tracker/internal/repository"
	"gorm.io/gorm"
)

func createSideEffectsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000001_create_side_effects",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.SideEffectModel{}); err != nil {
				return err
			}
			indexes := []string{
				`CREATE INDEX IF NOT EXISTS idx_side_effects_status_kind_created ON side_effects (status, kind, created_at)`,
				`CREATE INDEX IF NOT EXISTS idx_side_effects_retry ON side_effects (next_retry_at) WHERE status = 'QUEUED'`,
				`CREATE INDEX IF NOT EXISTS idx_side_effects_correlation_id ON side_effects (correlation_id)`,
				`CREATE INDEX IF NOT EXISTS idx_side_effects_enrollee_id ON side_effects (enrollee_id)`,
			}
			for _, sql := range indexes {
				if err := tx.Exec(sql).Error; err != nil {
					return err
				}
			}
			return nil
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.SideEffectModel{})
		},
	}
}
