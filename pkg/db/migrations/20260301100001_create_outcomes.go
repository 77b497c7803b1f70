package migrations

import (
	"database/sql"

	"github.com/cadencehq/skillloop/pkg/db"
	"github.com/pkg/errors"
)

// Migration20260301100001CreateOutcomes creates the append-only outcome ledger.
func Migration20260301100001CreateOutcomes() db.Migration {
	return db.Migration{
		Version:     20260301100001,
		Description: "Create outcomes ledger table",
		Up: func(tx *sql.Tx) error {
			if _, err := tx.Exec(`
				CREATE TABLE IF NOT EXISTS outcomes (
					id TEXT PRIMARY KEY,
					skill_name TEXT NOT NULL,
					skill_version INTEGER NOT NULL,
					experiment_id TEXT,
					arm TEXT,
					reward REAL NOT NULL,
					tags TEXT NOT NULL DEFAULT '[]',
					recorded_at DATETIME NOT NULL
				)
			`); err != nil {
				return errors.Wrap(err, "failed to create outcomes table")
			}

			if _, err := tx.Exec(`
				CREATE INDEX IF NOT EXISTS idx_outcomes_skill ON outcomes(skill_name, skill_version, recorded_at)
			`); err != nil {
				return errors.Wrap(err, "failed to create outcomes skill index")
			}

			if _, err := tx.Exec(`
				CREATE INDEX IF NOT EXISTS idx_outcomes_experiment ON outcomes(experiment_id, arm)
			`); err != nil {
				return errors.Wrap(err, "failed to create outcomes experiment index")
			}

			if _, err := tx.Exec(`
				CREATE INDEX IF NOT EXISTS idx_outcomes_recorded_at ON outcomes(recorded_at)
			`); err != nil {
				return errors.Wrap(err, "failed to create outcomes recorded_at index")
			}

			return nil
		},
		Down: func(tx *sql.Tx) error {
			if _, err := tx.Exec("DROP TABLE IF EXISTS outcomes"); err != nil {
				return errors.Wrap(err, "failed to drop outcomes table")
			}
			return nil
		},
	}
}
