package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/cadencehq/skillloop/pkg/skills"
)

type skillRow struct {
	Name             string         `db:"name"`
	Version          int            `db:"version"`
	Category         string         `db:"category"`
	Platform         sql.NullString `db:"platform"`
	Status           string         `db:"status"`
	Confidence       float64        `db:"confidence"`
	Tags             string         `db:"tags"`
	WhenToUse        string         `db:"when_to_use"`
	CorePatterns     string         `db:"core_patterns"`
	WhatToAvoid      string         `db:"what_to_avoid"`
	PerformanceNotes string         `db:"performance_notes"`
	TotalUses        int            `db:"total_uses"`
	SuccessCount     int            `db:"success_count"`
	FailureStreak    int            `db:"failure_streak"`
	CreatedAt        time.Time      `db:"created_at"`
	UpdatedAt        time.Time      `db:"updated_at"`
	LastUsedAt       sql.NullTime   `db:"last_used_at"`
	LastValidatedAt  sql.NullTime   `db:"last_validated_at"`
}

func (r *skillRow) toSkill() *skills.Skill {
	return &skills.Skill{
		Name:       r.Name,
		Version:    r.Version,
		Category:   skills.Category(r.Category),
		Platform:   r.Platform.String,
		Status:     skills.Status(r.Status),
		Confidence: r.Confidence,
		Tags:       unmarshalTags(r.Tags),
		Doc: skills.Document{
			WhenToUse:        r.WhenToUse,
			CorePatterns:     r.CorePatterns,
			WhatToAvoid:      r.WhatToAvoid,
			PerformanceNotes: r.PerformanceNotes,
		},
		TotalUses:       r.TotalUses,
		SuccessCount:    r.SuccessCount,
		FailureStreak:   r.FailureStreak,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
		LastUsedAt:      timePtr(r.LastUsedAt),
		LastValidatedAt: timePtr(r.LastValidatedAt),
	}
}

const skillColumns = `name, version, category, platform, status, confidence, tags,
	when_to_use, core_patterns, what_to_avoid, performance_notes,
	total_uses, success_count, failure_streak,
	created_at, updated_at, last_used_at, last_validated_at`

// currentStatusesSQL is the quoted list of statuses a lineage's current
// version may hold, for use in IN clauses.
var currentStatusesSQL = func() string {
	quoted := make([]string, 0, len(skills.CurrentStatuses()))
	for _, st := range skills.CurrentStatuses() {
		quoted = append(quoted, "'"+string(st)+"'")
	}
	return strings.Join(quoted, ", ")
}()

// CreateSkill inserts version 1 of a brand-new skill lineage. The lineage
// must not already exist.
func (s *Store) CreateSkill(ctx context.Context, skill *skills.Skill) error {
	if skill.Version == 0 {
		skill.Version = 1
	}
	if skill.Status == "" {
		skill.Status = skills.StatusSeed
	}
	if err := skill.Validate(); err != nil {
		return err
	}
	if skill.Version != 1 {
		return errors.Errorf("new skill lineage %q must start at version 1, got %d", skill.Name, skill.Version)
	}

	var existing int
	if err := s.db.GetContext(ctx, &existing,
		"SELECT COUNT(*) FROM skills WHERE name = ?", skill.Name); err != nil {
		return errors.Wrap(err, "failed to check for existing lineage")
	}
	if existing > 0 {
		return errors.Errorf("skill lineage %q already exists", skill.Name)
	}

	err := s.insertSkill(ctx, s.db, skill)
	if isUniqueViolation(err) {
		return errors.Wrapf(skills.ErrConflictingPromotion, "skill %q version %d already exists", skill.Name, skill.Version)
	}
	return err
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func (s *Store) insertSkill(ctx context.Context, ex execer, skill *skills.Skill) error {
	_, err := ex.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO skills (%s)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, skillColumns),
		skill.Name, skill.Version, string(skill.Category), nullString(skill.Platform),
		string(skill.Status), skill.Confidence, marshalTags(skill.Tags),
		skill.Doc.WhenToUse, skill.Doc.CorePatterns, skill.Doc.WhatToAvoid, skill.Doc.PerformanceNotes,
		skill.TotalUses, skill.SuccessCount, skill.FailureStreak,
		skill.CreatedAt.UTC(), skill.UpdatedAt.UTC(),
		nullTime(skill.LastUsedAt), nullTime(skill.LastValidatedAt),
	)
	return errors.Wrapf(err, "failed to insert skill %q version %d", skill.Name, skill.Version)
}

// GetCurrent returns the current (non-superseded, non-retired) version of
// the named lineage.
func (s *Store) GetCurrent(ctx context.Context, name string) (*skills.Skill, error) {
	var row skillRow
	err := s.db.GetContext(ctx, &row, fmt.Sprintf(`
		SELECT %s FROM skills
		WHERE name = ? AND status IN (%s)
	`, skillColumns, currentStatusesSQL), name)
	if err == sql.ErrNoRows {
		return nil, errors.Wrapf(skills.ErrNotFound, "no current version for skill %q", name)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load current version of skill %q", name)
	}
	return row.toSkill(), nil
}

// GetVersion returns a specific version of a lineage, regardless of status.
func (s *Store) GetVersion(ctx context.Context, name string, version int) (*skills.Skill, error) {
	var row skillRow
	err := s.db.GetContext(ctx, &row, fmt.Sprintf(`
		SELECT %s FROM skills WHERE name = ? AND version = ?
	`, skillColumns), name, version)
	if err == sql.ErrNoRows {
		return nil, errors.Wrapf(skills.ErrNotFound, "skill %q version %d", name, version)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load skill %q version %d", name, version)
	}
	return row.toSkill(), nil
}

// Filter narrows ListCurrent results.
type Filter struct {
	Category skills.Category // optional
	Platform string          // optional; matches skills with this platform or none
	Statuses []skills.Status // optional; defaults to all current statuses
}

// ListCurrent returns the current version of every matching lineage,
// ordered by confidence descending with most-recently-validated first on
// ties. The result is a consistent point-in-time snapshot.
func (s *Store) ListCurrent(ctx context.Context, f Filter) ([]*skills.Skill, error) {
	query := fmt.Sprintf(`SELECT %s FROM skills WHERE status IN (%s)`, skillColumns, currentStatusesSQL)
	args := []interface{}{}

	if len(f.Statuses) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(f.Statuses)), ", ")
		query = fmt.Sprintf(`SELECT %s FROM skills WHERE status IN (%s)`, skillColumns, placeholders)
		for _, st := range f.Statuses {
			args = append(args, string(st))
		}
	}
	if f.Category != "" {
		query += " AND category = ?"
		args = append(args, string(f.Category))
	}
	if f.Platform != "" {
		query += " AND (platform IS NULL OR platform = ?)"
		args = append(args, f.Platform)
	}
	query += ` ORDER BY confidence DESC, last_validated_at DESC NULLS LAST, name ASC`

	var rows []skillRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "failed to list current skills")
	}

	out := make([]*skills.Skill, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toSkill())
	}
	return out, nil
}

// ListLineage returns all versions of a lineage, oldest first.
func (s *Store) ListLineage(ctx context.Context, name string) ([]*skills.Skill, error) {
	var rows []skillRow
	err := s.db.SelectContext(ctx, &rows, fmt.Sprintf(`
		SELECT %s FROM skills WHERE name = ? ORDER BY version ASC
	`, skillColumns), name)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list lineage for skill %q", name)
	}
	if len(rows) == 0 {
		return nil, errors.Wrapf(skills.ErrNotFound, "skill %q", name)
	}

	out := make([]*skills.Skill, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toSkill())
	}
	return out, nil
}

// SetStatus transitions a skill version's status, enforcing the lifecycle
// state machine.
func (s *Store) SetStatus(ctx context.Context, name string, version int, to skills.Status, at time.Time) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	if err := setStatusTx(ctx, tx, name, version, to, at); err != nil {
		return err
	}

	return errors.Wrap(tx.Commit(), "failed to commit status change")
}

func setStatusTx(ctx context.Context, tx *sqlx.Tx, name string, version int, to skills.Status, at time.Time) error {
	var current string
	err := tx.GetContext(ctx, &current,
		"SELECT status FROM skills WHERE name = ? AND version = ?", name, version)
	if err == sql.ErrNoRows {
		return errors.Wrapf(skills.ErrNotFound, "skill %q version %d", name, version)
	}
	if err != nil {
		return errors.Wrapf(err, "failed to load status of skill %q version %d", name, version)
	}

	from := skills.Status(current)
	if !from.CanTransition(to) {
		return errors.Wrapf(skills.ErrInvalidTransition, "%s -> %s for skill %q version %d", from, to, name, version)
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE skills SET status = ?, updated_at = ? WHERE name = ? AND version = ?",
		string(to), at.UTC(), name, version)
	return errors.Wrapf(err, "failed to update status of skill %q version %d", name, version)
}

// ReactivateVersion returns a version under review to active after an
// experiment resolution. The resolution examined the version's evidence, so
// it counts as a validation touch.
func (s *Store) ReactivateVersion(ctx context.Context, name string, version int, at time.Time) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	if err := setStatusTx(ctx, tx, name, version, skills.StatusActive, at); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE skills SET last_validated_at = ? WHERE name = ? AND version = ?",
		at.UTC(), name, version)
	if err != nil {
		return errors.Wrapf(err, "failed to record validation of skill %q version %d", name, version)
	}

	return errors.Wrap(tx.Commit(), "failed to commit reactivation")
}

// Retire moves the current version of a lineage to the terminal retired
// status. The record is kept for audit.
func (s *Store) Retire(ctx context.Context, name string, at time.Time) error {
	current, err := s.GetCurrent(ctx, name)
	if err != nil {
		return err
	}
	return s.SetStatus(ctx, name, current.Version, skills.StatusRetired, at)
}

// UpdateConfidence writes a recomputed confidence and marks the version as
// validated. Status and version are untouched.
func (s *Store) UpdateConfidence(ctx context.Context, name string, version int, confidence float64, at time.Time) error {
	if confidence < 0 || confidence > 1 {
		return errors.Errorf("confidence must be in [0,1], got %f", confidence)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE skills SET confidence = ?, last_validated_at = ?, updated_at = ?
		WHERE name = ? AND version = ?
	`, confidence, at.UTC(), at.UTC(), name, version)
	if err != nil {
		return errors.Wrapf(err, "failed to update confidence of skill %q version %d", name, version)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if affected == 0 {
		return errors.Wrapf(skills.ErrNotFound, "skill %q version %d", name, version)
	}
	return nil
}

// PromoteParams describes an atomic version promotion.
type PromoteParams struct {
	Name string
	// ExpectedVersion is the version the caller believes is current. If the
	// lineage has moved on, the promotion fails with ErrConflictingPromotion.
	ExpectedVersion int
	Doc             skills.Document
	Confidence      float64
	At              time.Time
}

// PromoteVersion atomically creates the successor version of a lineage and
// supersedes the previous current version. Either both writes commit or
// neither does, so a concurrent selector never sees a lineage with zero or
// two current versions.
func (s *Store) PromoteVersion(ctx context.Context, p PromoteParams) (*skills.Skill, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	var row skillRow
	err = tx.GetContext(ctx, &row, fmt.Sprintf(`
		SELECT %s FROM skills WHERE name = ? AND status IN (%s)
	`, skillColumns, currentStatusesSQL), p.Name)
	if err == sql.ErrNoRows {
		return nil, errors.Wrapf(skills.ErrNotFound, "no current version for skill %q", p.Name)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load current version of skill %q", p.Name)
	}

	current := row.toSkill()
	if current.Version != p.ExpectedVersion {
		return nil, errors.Wrapf(skills.ErrConflictingPromotion,
			"skill %q is at version %d, expected %d", p.Name, current.Version, p.ExpectedVersion)
	}

	successor := &skills.Skill{
		Name:       current.Name,
		Category:   current.Category,
		Platform:   current.Platform,
		Version:    current.Version + 1,
		Status:     skills.StatusActive,
		Confidence: p.Confidence,
		Tags:       current.Tags,
		Doc:        p.Doc,
		CreatedAt:  p.At,
		UpdatedAt:  p.At,
	}
	if err := successor.Validate(); err != nil {
		return nil, err
	}

	if err := s.insertSkill(ctx, tx, successor); err != nil {
		if isUniqueViolation(errors.Cause(err)) {
			return nil, errors.Wrapf(skills.ErrConflictingPromotion,
				"skill %q version %d already exists", p.Name, successor.Version)
		}
		return nil, err
	}

	if err := setStatusTx(ctx, tx, p.Name, current.Version, skills.StatusSuperseded, p.At); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "failed to commit promotion")
	}
	return successor, nil
}
