package migrations

import (
	"database/sql"

	"github.com/cadencehq/skillloop/pkg/db"
	"github.com/pkg/errors"
)

// Migration20260301100000CreateSkills creates the versioned skills table.
// The primary key on (name, version) is what makes concurrent promotion
// races detectable: the second writer hits a constraint violation.
func Migration20260301100000CreateSkills() db.Migration {
	return db.Migration{
		Version:     20260301100000,
		Description: "Create skills table",
		Up: func(tx *sql.Tx) error {
			if _, err := tx.Exec(`
				CREATE TABLE IF NOT EXISTS skills (
					name TEXT NOT NULL,
					version INTEGER NOT NULL,
					category TEXT NOT NULL,
					platform TEXT,
					status TEXT NOT NULL,
					confidence REAL NOT NULL DEFAULT 0.5,
					tags TEXT NOT NULL DEFAULT '[]',
					when_to_use TEXT NOT NULL DEFAULT '',
					core_patterns TEXT NOT NULL DEFAULT '',
					what_to_avoid TEXT NOT NULL DEFAULT '',
					performance_notes TEXT NOT NULL DEFAULT '',
					total_uses INTEGER NOT NULL DEFAULT 0,
					success_count INTEGER NOT NULL DEFAULT 0,
					failure_streak INTEGER NOT NULL DEFAULT 0,
					created_at DATETIME NOT NULL,
					updated_at DATETIME NOT NULL,
					last_used_at DATETIME,
					last_validated_at DATETIME,
					PRIMARY KEY (name, version)
				)
			`); err != nil {
				return errors.Wrap(err, "failed to create skills table")
			}

			if _, err := tx.Exec(`
				CREATE INDEX IF NOT EXISTS idx_skills_status ON skills(status)
			`); err != nil {
				return errors.Wrap(err, "failed to create skills status index")
			}

			if _, err := tx.Exec(`
				CREATE INDEX IF NOT EXISTS idx_skills_category_status ON skills(category, status)
			`); err != nil {
				return errors.Wrap(err, "failed to create skills category index")
			}

			return nil
		},
		Down: func(tx *sql.Tx) error {
			if _, err := tx.Exec("DROP TABLE IF EXISTS skills"); err != nil {
				return errors.Wrap(err, "failed to drop skills table")
			}
			return nil
		},
	}
}
