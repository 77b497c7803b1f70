// Package migrations contains all database migrations for skillloop.
// Migrations use Rails-style timestamp versioning (YYYYMMDDHHmmss).
package migrations

import (
	"github.com/cadencehq/skillloop/pkg/db"
)

// All returns all registered migrations in the correct order.
// New migrations should be added to this list.
func All() []db.Migration {
	return []db.Migration{
		Migration20260301100000CreateSkills(),
		Migration20260301100001CreateOutcomes(),
		Migration20260301100002CreateExperiments(),
	}
}
