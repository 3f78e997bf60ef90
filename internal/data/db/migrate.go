package db

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/vitruvius-bim/vitruvius-backend/internal/domain"
)

func AutoMigrateAll(db *gorm.DB) error {
	return db.AutoMigrate(domain.Models()...)
}

// EnsureIndexes adds the postgres-only indexes AutoMigrate cannot express.
func EnsureIndexes(db *gorm.DB) error {
	if db.Dialector.Name() != "postgres" {
		return nil
	}
	// Claim scans only look at runnable rows.
	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_job_run_runnable
		ON job_run (created_at)
		WHERE deleted_at IS NULL AND status IN ('queued', 'failed', 'running');
	`).Error; err != nil {
		return fmt.Errorf("create idx_job_run_runnable: %w", err)
	}
	// Open conflicts per project, newest first.
	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_conflict_project_open
		ON conflict (project_id, created_at DESC)
		WHERE status = 'detected';
	`).Error; err != nil {
		return fmt.Errorf("create idx_conflict_project_open: %w", err)
	}
	return nil
}

func (s *Service) AutoMigrateAll() error {
	s.log.Info("Auto migrating tables...")
	if err := AutoMigrateAll(s.db); err != nil {
		s.log.Error("Auto migration failed", "error", err)
		return err
	}
	if err := EnsureIndexes(s.db); err != nil {
		s.log.Error("Index migration failed", "error", err)
		return err
	}
	return nil
}
