package skills

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/yuin/goldmark"
	meta "github.com/yuin/goldmark-meta"
	"github.com/yuin/goldmark/parser"
	"gopkg.in/yaml.v3"
)

// Section headers of the skill document, in their fixed order.
const (
	sectionWhenToUse        = "When to Use"
	sectionCorePatterns     = "Core Patterns"
	sectionWhatToAvoid      = "What to Avoid"
	sectionPerformanceNotes = "Performance Notes"
)

// Document is the free-text body of a skill: four sections in fixed order.
// All sections are immutable once a version is created, except Performance
// Notes, which the system rewrites to record experiment findings and
// synthesis provenance.
type Document struct {
	WhenToUse        string
	CorePatterns     string
	WhatToAvoid      string
	PerformanceNotes string
}

// WithPerformanceNotes returns a copy of the document with only the
// Performance Notes section replaced.
func (d Document) WithPerformanceNotes(notes string) Document {
	d.PerformanceNotes = notes
	return d
}

type frontmatter struct {
	Name          string   `yaml:"name"`
	Category      string   `yaml:"category"`
	Platform      string   `yaml:"platform,omitempty"`
	Confidence    float64  `yaml:"confidence"`
	Status        string   `yaml:"status"`
	Version       int      `yaml:"version"`
	Created       string   `yaml:"created"`
	LastValidated string   `yaml:"last_validated,omitempty"`
	Tags          []string `yaml:"tags,omitempty"`
}

// ParseDocument parses a plain-text skill document (YAML frontmatter plus
// the four fixed sections) into a Skill.
func ParseDocument(raw []byte) (*Skill, error) {
	md := goldmark.New(goldmark.WithExtensions(meta.Meta))

	var buf bytes.Buffer
	pctx := parser.NewContext()
	if err := md.Convert(raw, &buf, parser.WithContext(pctx)); err != nil {
		return nil, errors.Wrap(err, "failed to parse skill document")
	}

	metaData := meta.Get(pctx)
	if metaData == nil {
		return nil, errors.New("skill document is missing frontmatter")
	}

	name := metaString(metaData, "name")
	if name == "" {
		return nil, errors.New("skill name is required in frontmatter")
	}

	category, err := ParseCategory(metaString(metaData, "category"))
	if err != nil {
		return nil, err
	}

	status := Status(metaString(metaData, "status"))
	if status == "" {
		status = StatusSeed
	}
	if !status.valid() {
		return nil, errors.Errorf("unknown skill status in frontmatter: %q", status)
	}

	version := metaInt(metaData, "version")
	if version == 0 {
		version = 1
	}

	confidence := 0.5
	if v, ok := metaFloat(metaData, "confidence"); ok {
		confidence = v
	}

	createdAt, err := metaTime(metaData, "created")
	if err != nil {
		return nil, err
	}
	if createdAt == nil {
		now := time.Now().UTC()
		createdAt = &now
	}

	lastValidated, err := metaTime(metaData, "last_validated")
	if err != nil {
		return nil, err
	}

	skill := &Skill{
		Name:            name,
		Category:        category,
		Platform:        metaString(metaData, "platform"),
		Version:         version,
		Status:          status,
		Confidence:      confidence,
		Tags:            metaStrings(metaData, "tags"),
		Doc:             splitSections(extractBody(string(raw))),
		CreatedAt:       *createdAt,
		UpdatedAt:       *createdAt,
		LastValidatedAt: lastValidated,
	}

	if err := skill.Validate(); err != nil {
		return nil, err
	}
	return skill, nil
}

// RenderDocument serializes a skill back to its plain-text document form.
func RenderDocument(s *Skill) ([]byte, error) {
	fm := frontmatter{
		Name:       s.Name,
		Category:   string(s.Category),
		Platform:   s.Platform,
		Confidence: s.Confidence,
		Status:     string(s.Status),
		Version:    s.Version,
		Created:    s.CreatedAt.UTC().Format(time.RFC3339),
		Tags:       s.Tags,
	}
	if s.LastValidatedAt != nil {
		fm.LastValidated = s.LastValidatedAt.UTC().Format(time.RFC3339)
	}

	metaBlock, err := yaml.Marshal(fm)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal skill frontmatter")
	}

	var b strings.Builder
	b.WriteString("---\n")
	b.Write(metaBlock)
	b.WriteString("---\n\n")

	sections := []struct {
		header string
		body   string
	}{
		{sectionWhenToUse, s.Doc.WhenToUse},
		{sectionCorePatterns, s.Doc.CorePatterns},
		{sectionWhatToAvoid, s.Doc.WhatToAvoid},
		{sectionPerformanceNotes, s.Doc.PerformanceNotes},
	}
	for _, sec := range sections {
		fmt.Fprintf(&b, "## %s\n\n", sec.header)
		body := strings.TrimSpace(sec.body)
		if body != "" {
			b.WriteString(body)
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	return []byte(b.String()), nil
}

// extractBody removes the YAML frontmatter block and returns the markdown body.
func extractBody(content string) string {
	if !strings.HasPrefix(content, "---") {
		return content
	}

	lines := strings.Split(content, "\n")
	end := -1
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "---" {
			end = i
			break
		}
	}
	if end == -1 {
		return content
	}

	return strings.TrimLeft(strings.Join(lines[end+1:], "\n"), "\n")
}

// splitSections divides the body into the four fixed sections. Text before
// the first recognized header is ignored; unrecognized headers become part
// of the preceding section.
func splitSections(body string) Document {
	sections := map[string]*strings.Builder{
		sectionWhenToUse:        {},
		sectionCorePatterns:     {},
		sectionWhatToAvoid:      {},
		sectionPerformanceNotes: {},
	}

	var current *strings.Builder
	for _, line := range strings.Split(body, "\n") {
		if header, ok := strings.CutPrefix(strings.TrimSpace(line), "## "); ok {
			if b, known := sections[strings.TrimSpace(header)]; known {
				current = b
				continue
			}
		}
		if current != nil {
			current.WriteString(line)
			current.WriteString("\n")
		}
	}

	return Document{
		WhenToUse:        strings.TrimSpace(sections[sectionWhenToUse].String()),
		CorePatterns:     strings.TrimSpace(sections[sectionCorePatterns].String()),
		WhatToAvoid:      strings.TrimSpace(sections[sectionWhatToAvoid].String()),
		PerformanceNotes: strings.TrimSpace(sections[sectionPerformanceNotes].String()),
	}
}

func metaString(m map[string]interface{}, key string) string {
	s, _ := m[key].(string)
	return s
}

func metaInt(m map[string]interface{}, key string) int {
	switch v := m[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

func metaFloat(m map[string]interface{}, key string) (float64, bool) {
	switch v := m[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

func metaStrings(m map[string]interface{}, key string) []string {
	raw, ok := m[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func metaTime(m map[string]interface{}, key string) (*time.Time, error) {
	switch v := m[key].(type) {
	case nil:
		return nil, nil
	case time.Time:
		return &v, nil
	case string:
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid %s timestamp in frontmatter", key)
		}
		return &t, nil
	default:
		return nil, errors.Errorf("invalid %s value in frontmatter", key)
	}
}
