package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/cadencehq/skillloop/pkg/logger"
	"github.com/cadencehq/skillloop/pkg/skills"
)

type outcomeRow struct {
	ID           string         `db:"id"`
	SkillName    string         `db:"skill_name"`
	SkillVersion int            `db:"skill_version"`
	ExperimentID sql.NullString `db:"experiment_id"`
	Arm          sql.NullString `db:"arm"`
	Reward       float64        `db:"reward"`
	Tags         string         `db:"tags"`
	RecordedAt   time.Time      `db:"recorded_at"`
}

func (r *outcomeRow) toOutcome() skills.Outcome {
	return skills.Outcome{
		ID:           r.ID,
		SkillName:    r.SkillName,
		SkillVersion: r.SkillVersion,
		ExperimentID: r.ExperimentID.String,
		Arm:          skills.Arm(r.Arm.String),
		Reward:       r.Reward,
		Tags:         unmarshalTags(r.Tags),
		RecordedAt:   r.RecordedAt,
	}
}

// AppendOutcome records one observation in the ledger. Outcomes are
// immutable once written. The referenced skill version's usage aggregates
// are updated in the same transaction; if the version does not exist the
// outcome is still recorded for audit and ErrNotFound is returned so the
// caller knows its reference is stale.
func (s *Store) AppendOutcome(ctx context.Context, o *skills.Outcome) error {
	if err := o.Validate(); err != nil {
		return err
	}
	if o.ID == "" {
		o.ID = uuid.NewString()
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO outcomes (id, skill_name, skill_version, experiment_id, arm, reward, tags, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, o.ID, o.SkillName, o.SkillVersion,
		nullString(o.ExperimentID), nullString(string(o.Arm)),
		o.Reward, marshalTags(o.Tags), o.RecordedAt.UTC())
	if err != nil {
		return errors.Wrap(err, "failed to insert outcome")
	}

	success := o.Reward >= 0.5
	res, err := tx.ExecContext(ctx, `
		UPDATE skills SET
			total_uses = total_uses + 1,
			success_count = success_count + ?,
			failure_streak = CASE WHEN ? THEN 0 ELSE failure_streak + 1 END,
			last_used_at = ?,
			updated_at = ?
		WHERE name = ? AND version = ?
	`, boolToInt(success), success, o.RecordedAt.UTC(), o.RecordedAt.UTC(), o.SkillName, o.SkillVersion)
	if err != nil {
		return errors.Wrap(err, "failed to update skill usage aggregates")
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit outcome")
	}

	if affected == 0 {
		logger.G(ctx).WithField("skill", o.SkillName).WithField("version", o.SkillVersion).
			Warn("outcome recorded against unknown skill version, kept for audit")
		return errors.Wrapf(skills.ErrNotFound, "skill %q version %d", o.SkillName, o.SkillVersion)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// OutcomeQuery bounds an outcome history read. Zero values mean "no bound":
// Version 0 matches all versions, zero Since matches all time, Limit 0
// means unlimited.
type OutcomeQuery struct {
	Name    string
	Version int
	Since   time.Time
	Limit   int
}

// ListOutcomes returns matching ledger entries in chronological order
// (oldest first). When Limit is set, it keeps the most recent entries.
func (s *Store) ListOutcomes(ctx context.Context, q OutcomeQuery) ([]skills.Outcome, error) {
	query := `
		SELECT id, skill_name, skill_version, experiment_id, arm, reward, tags, recorded_at
		FROM outcomes WHERE skill_name = ?`
	args := []interface{}{q.Name}

	if q.Version > 0 {
		query += " AND skill_version = ?"
		args = append(args, q.Version)
	}
	if !q.Since.IsZero() {
		query += " AND recorded_at >= ?"
		args = append(args, q.Since.UTC())
	}
	query += " ORDER BY recorded_at DESC, id DESC"
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	var rows []outcomeRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrapf(err, "failed to list outcomes for skill %q", q.Name)
	}

	// Reverse into chronological order.
	out := make([]skills.Outcome, len(rows))
	for i := range rows {
		out[len(rows)-1-i] = rows[i].toOutcome()
	}
	return out, nil
}

// ListOutcomesSince returns all ledger entries recorded at or after the
// given time, oldest first, across all skills.
func (s *Store) ListOutcomesSince(ctx context.Context, since time.Time) ([]skills.Outcome, error) {
	var rows []outcomeRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, skill_name, skill_version, experiment_id, arm, reward, tags, recorded_at
		FROM outcomes WHERE recorded_at >= ?
		ORDER BY recorded_at ASC, id ASC
	`, since.UTC())
	if err != nil {
		return nil, errors.Wrap(err, "failed to list outcomes")
	}

	out := make([]skills.Outcome, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toOutcome())
	}
	return out, nil
}

// ExperimentOutcomes returns the per-arm outcome buckets of an experiment,
// each oldest first.
func (s *Store) ExperimentOutcomes(ctx context.Context, experimentID string) (armA, armB []skills.Outcome, err error) {
	var rows []outcomeRow
	err = s.db.SelectContext(ctx, &rows, `
		SELECT id, skill_name, skill_version, experiment_id, arm, reward, tags, recorded_at
		FROM outcomes WHERE experiment_id = ?
		ORDER BY recorded_at ASC, id ASC
	`, experimentID)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "failed to list outcomes for experiment %q", experimentID)
	}

	for i := range rows {
		o := rows[i].toOutcome()
		switch o.Arm {
		case skills.ArmA:
			armA = append(armA, o)
		case skills.ArmB:
			armB = append(armB, o)
		}
	}
	return armA, armB, nil
}
