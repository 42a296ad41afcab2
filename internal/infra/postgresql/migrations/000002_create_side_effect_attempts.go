package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/delivery-tracker/internal/repository"
	"gorm.io/gorm"
)

func createSideEffectAttemptsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000002_create_side_effect_attempts",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.SideEffectAttemptModel{}); err != nil {
				return err
			}
			return tx.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS idx_attempts_side_effect_attempt ON side_effect_attempts (side_effect_id, attempt_number)`).Error
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.SideEffectAttemptModel{})
		},
	}
}
