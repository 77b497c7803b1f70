package migrations

import (
	"database/sql"

	"github.com/cadencehq/skillloop/pkg/db"
	"github.com/pkg/errors"
)

// Migration20260301100002CreateExperiments creates the experiments table.
// The partial unique index enforces at most one running experiment per
// skill lineage.
func Migration20260301100002CreateExperiments() db.Migration {
	return db.Migration{
		Version:     20260301100002,
		Description: "Create experiments table",
		Up: func(tx *sql.Tx) error {
			if _, err := tx.Exec(`
				CREATE TABLE IF NOT EXISTS experiments (
					id TEXT PRIMARY KEY,
					skill_name TEXT NOT NULL,
					hypothesis TEXT NOT NULL DEFAULT '',
					baseline_version INTEGER NOT NULL,
					candidate_doc TEXT NOT NULL,
					split_percent INTEGER NOT NULL DEFAULT 50,
					min_sample_size INTEGER NOT NULL,
					status TEXT NOT NULL DEFAULT 'running',
					verdict TEXT,
					started_at DATETIME NOT NULL,
					expires_at DATETIME NOT NULL,
					resolved_at DATETIME
				)
			`); err != nil {
				return errors.Wrap(err, "failed to create experiments table")
			}

			if _, err := tx.Exec(`
				CREATE UNIQUE INDEX IF NOT EXISTS idx_experiments_running
				ON experiments(skill_name) WHERE status = 'running'
			`); err != nil {
				return errors.Wrap(err, "failed to create running experiment index")
			}

			if _, err := tx.Exec(`
				CREATE INDEX IF NOT EXISTS idx_experiments_status ON experiments(status)
			`); err != nil {
				return errors.Wrap(err, "failed to create experiment status index")
			}

			return nil
		},
		Down: func(tx *sql.Tx) error {
			if _, err := tx.Exec("DROP TABLE IF EXISTS experiments"); err != nil {
				return errors.Wrap(err, "failed to drop experiments table")
			}
			return nil
		},
	}
}
