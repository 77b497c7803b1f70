package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/cadencehq/skillloop/pkg/skills"
)

type experimentRow struct {
	ID              string         `db:"id"`
	SkillName       string         `db:"skill_name"`
	Hypothesis      string         `db:"hypothesis"`
	BaselineVersion int            `db:"baseline_version"`
	CandidateDoc    string         `db:"candidate_doc"`
	SplitPercent    int            `db:"split_percent"`
	MinSampleSize   int            `db:"min_sample_size"`
	Status          string         `db:"status"`
	Verdict         sql.NullString `db:"verdict"`
	StartedAt       time.Time      `db:"started_at"`
	ExpiresAt       time.Time      `db:"expires_at"`
	ResolvedAt      sql.NullTime   `db:"resolved_at"`
}

func (r *experimentRow) toExperiment() (*skills.Experiment, error) {
	var doc skills.Document
	if err := json.Unmarshal([]byte(r.CandidateDoc), &doc); err != nil {
		return nil, errors.Wrapf(err, "failed to decode candidate doc for experiment %q", r.ID)
	}

	exp := &skills.Experiment{
		ID:              r.ID,
		SkillName:       r.SkillName,
		Hypothesis:      r.Hypothesis,
		BaselineVersion: r.BaselineVersion,
		CandidateDoc:    doc,
		SplitPercent:    r.SplitPercent,
		MinSampleSize:   r.MinSampleSize,
		Status:          skills.ExperimentStatus(r.Status),
		StartedAt:       r.StartedAt,
		ExpiresAt:       r.ExpiresAt,
		ResolvedAt:      timePtr(r.ResolvedAt),
	}

	if r.Verdict.Valid {
		var v skills.Verdict
		if err := json.Unmarshal([]byte(r.Verdict.String), &v); err != nil {
			return nil, errors.Wrapf(err, "failed to decode verdict for experiment %q", r.ID)
		}
		exp.Verdict = &v
	}
	return exp, nil
}

const experimentColumns = `id, skill_name, hypothesis, baseline_version, candidate_doc,
	split_percent, min_sample_size, status, verdict, started_at, expires_at, resolved_at`

// OpenExperiment persists a new running experiment. A lineage may have at
// most one running experiment; violating that yields ErrExperimentOpen.
func (s *Store) OpenExperiment(ctx context.Context, exp *skills.Experiment) error {
	if exp.ID == "" {
		exp.ID = uuid.NewString()
	}
	if exp.Status == "" {
		exp.Status = skills.ExperimentRunning
	}
	if exp.Status != skills.ExperimentRunning {
		return errors.Errorf("experiment %q must be opened in running status", exp.ID)
	}
	if exp.MinSampleSize < 2 {
		return errors.Errorf("experiment min sample size must be >= 2, got %d", exp.MinSampleSize)
	}

	doc, err := json.Marshal(exp.CandidateDoc)
	if err != nil {
		return errors.Wrap(err, "failed to encode candidate doc")
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO experiments (id, skill_name, hypothesis, baseline_version, candidate_doc,
			split_percent, min_sample_size, status, started_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, exp.ID, exp.SkillName, exp.Hypothesis, exp.BaselineVersion, string(doc),
		exp.SplitPercent, exp.MinSampleSize, string(exp.Status),
		exp.StartedAt.UTC(), exp.ExpiresAt.UTC())
	if isUniqueViolation(err) {
		return errors.Wrapf(skills.ErrExperimentOpen, "skill %q", exp.SkillName)
	}
	return errors.Wrapf(err, "failed to open experiment for skill %q", exp.SkillName)
}

// GetExperiment loads an experiment by id.
func (s *Store) GetExperiment(ctx context.Context, id string) (*skills.Experiment, error) {
	var row experimentRow
	err := s.db.GetContext(ctx, &row,
		"SELECT "+experimentColumns+" FROM experiments WHERE id = ?", id)
	if err == sql.ErrNoRows {
		return nil, errors.Wrapf(skills.ErrNotFound, "experiment %q", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load experiment %q", id)
	}
	return row.toExperiment()
}

// RunningExperiment returns the open experiment for a lineage, if any.
func (s *Store) RunningExperiment(ctx context.Context, skillName string) (*skills.Experiment, error) {
	var row experimentRow
	err := s.db.GetContext(ctx, &row,
		"SELECT "+experimentColumns+" FROM experiments WHERE skill_name = ? AND status = 'running'", skillName)
	if err == sql.ErrNoRows {
		return nil, errors.Wrapf(skills.ErrNotFound, "no running experiment for skill %q", skillName)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load running experiment for skill %q", skillName)
	}
	return row.toExperiment()
}

// ListRunningExperiments returns all open experiments, oldest first.
func (s *Store) ListRunningExperiments(ctx context.Context) ([]*skills.Experiment, error) {
	var rows []experimentRow
	err := s.db.SelectContext(ctx, &rows,
		"SELECT "+experimentColumns+" FROM experiments WHERE status = 'running' ORDER BY started_at ASC")
	if err != nil {
		return nil, errors.Wrap(err, "failed to list running experiments")
	}

	out := make([]*skills.Experiment, 0, len(rows))
	for i := range rows {
		exp, err := rows[i].toExperiment()
		if err != nil {
			return nil, err
		}
		out = append(out, exp)
	}
	return out, nil
}

// ResolveExperiment records an experiment's terminal status together with
// its evidentiary verdict. Resolved experiments are immutable; resolving
// twice yields ErrExperimentResolved.
func (s *Store) ResolveExperiment(ctx context.Context, id string, status skills.ExperimentStatus, verdict *skills.Verdict, at time.Time) error {
	if !status.Resolved() {
		return errors.Errorf("cannot resolve experiment %q to non-terminal status %q", id, status)
	}
	if verdict == nil {
		return errors.Errorf("experiment %q resolution requires a verdict", id)
	}

	raw, err := json.Marshal(verdict)
	if err != nil {
		return errors.Wrap(err, "failed to encode verdict")
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE experiments SET status = ?, verdict = ?, resolved_at = ?
		WHERE id = ? AND status = 'running'
	`, string(status), string(raw), at.UTC(), id)
	if err != nil {
		return errors.Wrapf(err, "failed to resolve experiment %q", id)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if affected == 0 {
		if _, getErr := s.GetExperiment(ctx, id); getErr != nil {
			return getErr
		}
		return errors.Wrapf(skills.ErrExperimentResolved, "experiment %q", id)
	}
	return nil
}
