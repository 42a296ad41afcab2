package migrations

import (
	"fmt"

	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

// all lists the side-effect store schema in apply order. IDs are never
// renumbered once released.
func all() []*gormigrate.Migration {
	return []*gormigrate.Migration{
		createSideEffectsTable(),
		createSideEffectAttemptsTable(),
	}
}

func Migrate(db *gorm.DB) error {
	opts := *gormigrate.DefaultOptions
	opts.UseTransaction = true

	if err := gormigrate.New(db, &opts, all()).Migrate(); err != nil {
		return fmt.Errorf("migrate side effect store: %w", err)
	}
	return nil
}
