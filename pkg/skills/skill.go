// Package skills defines the domain model for the skill knowledge base:
// versioned, confidence-scored skill records, the outcome ledger entries
// recorded against them, and the experiments that compare skill variants.
// Skills are exchanged as plain-text documents with a YAML frontmatter
// metadata block followed by four fixed sections.
package skills

import (
	"time"

	"github.com/pkg/errors"
)

// Category classifies what part of the content pipeline a skill guides.
type Category string

const (
	CategorySource     Category = "source"
	CategoryCreation   Category = "creation"
	CategoryPlatform   Category = "platform"
	CategoryTool       Category = "tool"
	CategoryEngagement Category = "engagement"
	CategoryTiming     Category = "timing"
)

// Categories lists all valid skill categories.
func Categories() []Category {
	return []Category{
		CategorySource, CategoryCreation, CategoryPlatform,
		CategoryTool, CategoryEngagement, CategoryTiming,
	}
}

// ParseCategory validates and converts a string to a Category.
func ParseCategory(s string) (Category, error) {
	for _, c := range Categories() {
		if string(c) == s {
			return c, nil
		}
	}
	return "", errors.Errorf("unknown skill category: %q", s)
}

// Skill is one version of a named unit of procedural knowledge. The name is
// stable across versions; everything else belongs to this version. Only the
// current version of a lineage carries a mutable status; superseded and
// retired versions are frozen.
type Skill struct {
	Name       string
	Category   Category
	Platform   string // optional platform tag
	Version    int    // monotonically increasing per name, starting at 1
	Status     Status
	Confidence float64 // in [0,1]
	Tags       []string
	Doc        Document

	TotalUses     int
	SuccessCount  int
	FailureStreak int

	CreatedAt       time.Time
	UpdatedAt       time.Time
	LastUsedAt      *time.Time
	LastValidatedAt *time.Time
}

// Validate checks structural invariants of a skill record.
func (s *Skill) Validate() error {
	if s.Name == "" {
		return errors.New("skill name is required")
	}
	if _, err := ParseCategory(string(s.Category)); err != nil {
		return err
	}
	if s.Version < 1 {
		return errors.Errorf("skill version must be >= 1, got %d", s.Version)
	}
	if s.Confidence < 0 || s.Confidence > 1 {
		return errors.Errorf("skill confidence must be in [0,1], got %f", s.Confidence)
	}
	if !s.Status.valid() {
		return errors.Errorf("unknown skill status: %q", s.Status)
	}
	return nil
}

// DerivedPrior returns the confidence prior for a version derived from a
// predecessor: the predecessor's confidence decayed toward neutral (0.5) by
// the given factor. A decay of 0.8 keeps 80% of the predecessor's distance
// from neutral.
func DerivedPrior(predecessor, decay float64) float64 {
	return 0.5 + decay*(predecessor-0.5)
}

// TaskContext describes what an agent is about to do so the selector can
// find applicable skills. Category is required; platform and tags narrow
// the match.
type TaskContext struct {
	Category Category
	Platform string
	Tags     []string
}

// Validate checks that the task context is usable for selection.
func (tc TaskContext) Validate() error {
	if _, err := ParseCategory(string(tc.Category)); err != nil {
		return errors.Wrap(err, "task context requires a valid category")
	}
	return nil
}
