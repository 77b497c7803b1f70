package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/cadencehq/skillloop/pkg/presenter"
	"github.com/cadencehq/skillloop/pkg/selector"
	"github.com/cadencehq/skillloop/pkg/skills"
	"github.com/cadencehq/skillloop/pkg/store"
)

type SkillListConfig struct {
	Category string
	Platform string
}

func NewSkillListConfig() *SkillListConfig {
	return &SkillListConfig{}
}

type SkillSelectConfig struct {
	Category  string
	Platform  string
	Tags      []string
	Allowlist []string
	Limit     int
}

func NewSkillSelectConfig() *SkillSelectConfig {
	return &SkillSelectConfig{Limit: 5}
}

var skillCmd = &cobra.Command{
	Use:   "skill",
	Short: "Manage the skill knowledge base",
	Long:  `List, inspect, seed, select, and retire skills.`,
	Run: func(cmd *cobra.Command, _ []string) {
		cmd.Help()
	},
}

var skillListCmd = &cobra.Command{
	Use:   "list",
	Short: "List current skill versions",
	Long:  `List the current version of every skill lineage, ranked by confidence.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		cfg := getSkillListConfigFromFlags(cmd)

		s, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		filter := store.Filter{Platform: cfg.Platform}
		if cfg.Category != "" {
			category, err := skills.ParseCategory(cfg.Category)
			if err != nil {
				return err
			}
			filter.Category = category
		}

		current, err := s.ListCurrent(ctx, filter)
		if err != nil {
			return err
		}
		if len(current) == 0 {
			presenter.Info("No skills found")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tVERSION\tCATEGORY\tSTATUS\tCONFIDENCE\tUSES\tLAST USED")
		for _, skill := range current {
			lastUsed := "never"
			if skill.LastUsedAt != nil {
				lastUsed = skill.LastUsedAt.Format("2006-01-02")
			}
			fmt.Fprintf(w, "%s\tv%d\t%s\t%s\t%.2f\t%d\t%s\n",
				skill.Name, skill.Version, skill.Category, skill.Status,
				skill.Confidence, skill.TotalUses, lastUsed)
		}
		return w.Flush()
	},
}

var skillShowCmd = &cobra.Command{
	Use:   "show <name>",
	Short: "Show a skill document",
	Long: `Render the current version of a skill as its plain-text document.
Use --version to show a specific (possibly superseded) version.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		version, _ := cmd.Flags().GetInt("version")

		s, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		var skill *skills.Skill
		if version > 0 {
			skill, err = s.GetVersion(ctx, args[0], version)
		} else {
			skill, err = s.GetCurrent(ctx, args[0])
		}
		if err != nil {
			return err
		}

		doc, err := skills.RenderDocument(skill)
		if err != nil {
			return err
		}
		fmt.Print(string(doc))
		return nil
	},
}

var skillSeedCmd = &cobra.Command{
	Use:   "seed <dir>",
	Short: "Import skill documents as seed lineages",
	Long: `Import every .md skill document in a directory as version 1 of a new
seed lineage. Files whose lineage already exists are skipped.

Examples:
  skillloop skill seed ./skills
  skillloop skill seed ~/content-playbooks`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		s, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		entries, err := os.ReadDir(args[0])
		if err != nil {
			return errors.Wrapf(err, "failed to read skill directory %q", args[0])
		}

		imported, skipped := 0, 0
		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
				continue
			}
			path := filepath.Join(args[0], entry.Name())

			raw, err := os.ReadFile(path)
			if err != nil {
				return errors.Wrapf(err, "failed to read %q", path)
			}
			skill, err := skills.ParseDocument(raw)
			if err != nil {
				return errors.Wrapf(err, "invalid skill document %q", path)
			}
			skill.Version = 1
			skill.Status = skills.StatusSeed

			if err := s.CreateSkill(ctx, skill); err != nil {
				if strings.Contains(err.Error(), "already exists") {
					skipped++
					continue
				}
				return errors.Wrapf(err, "failed to import %q", path)
			}
			imported++
		}

		presenter.Success(fmt.Sprintf("Imported %d skills (%d skipped)", imported, skipped))
		return nil
	},
}

var skillSelectCmd = &cobra.Command{
	Use:   "select",
	Short: "Select skills for a task context",
	Long: `Return the skills applicable to a task, ranked. Reading a seed skill
through selection activates it.

Examples:
  skillloop skill select --category creation --platform twitter
  skillloop skill select --category timing --tag evening --allow 'twitter_*'`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		cfg := getSkillSelectConfigFromFlags(cmd)

		category, err := skills.ParseCategory(cfg.Category)
		if err != nil {
			return err
		}

		s, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		selected, err := selector.New(s).Select(ctx, skills.TaskContext{
			Category: category,
			Platform: cfg.Platform,
			Tags:     cfg.Tags,
		}, selector.Options{
			Allowlist: cfg.Allowlist,
			Limit:     cfg.Limit,
		})
		if err != nil {
			return err
		}
		if len(selected) == 0 {
			presenter.Info("No applicable skills")
			return nil
		}

		for _, skill := range selected {
			presenter.Section(fmt.Sprintf("%s v%d (%.2f)", skill.Name, skill.Version, skill.Confidence))
			if skill.Doc.WhenToUse != "" {
				fmt.Println(skill.Doc.WhenToUse)
			}
		}
		return nil
	},
}

var skillRetireCmd = &cobra.Command{
	Use:   "retire <name>",
	Short: "Retire a skill lineage",
	Long:  `Move the current version of a lineage to retired. The record is kept for audit.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		s, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		if err := s.Retire(ctx, args[0], time.Now().UTC()); err != nil {
			return err
		}
		presenter.Success(fmt.Sprintf("Retired skill %q", args[0]))
		return nil
	},
}

var skillLineageCmd = &cobra.Command{
	Use:   "lineage <name>",
	Short: "Show all versions of a skill",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		s, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		lineage, err := s.ListLineage(ctx, args[0])
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "VERSION\tSTATUS\tCONFIDENCE\tUSES\tCREATED")
		for _, skill := range lineage {
			fmt.Fprintf(w, "v%d\t%s\t%.2f\t%d\t%s\n",
				skill.Version, skill.Status, skill.Confidence, skill.TotalUses,
				skill.CreatedAt.Format("2006-01-02"))
		}
		return w.Flush()
	},
}

func init() {
	listDefaults := NewSkillListConfig()
	skillListCmd.Flags().StringP("category", "c", listDefaults.Category, "Filter by category")
	skillListCmd.Flags().StringP("platform", "p", listDefaults.Platform, "Filter by platform")

	skillShowCmd.Flags().IntP("version", "v", 0, "Specific version to show (default: current)")

	selectDefaults := NewSkillSelectConfig()
	skillSelectCmd.Flags().StringP("category", "c", selectDefaults.Category, "Task category (required)")
	skillSelectCmd.Flags().StringP("platform", "p", selectDefaults.Platform, "Task platform")
	skillSelectCmd.Flags().StringSliceP("tag", "t", selectDefaults.Tags, "Task context tags")
	skillSelectCmd.Flags().StringSlice("allow", selectDefaults.Allowlist, "Glob allowlist of skill names")
	skillSelectCmd.Flags().IntP("limit", "n", selectDefaults.Limit, "Maximum skills to return")
	skillSelectCmd.MarkFlagRequired("category")

	skillCmd.AddCommand(skillListCmd)
	skillCmd.AddCommand(skillShowCmd)
	skillCmd.AddCommand(skillSeedCmd)
	skillCmd.AddCommand(skillSelectCmd)
	skillCmd.AddCommand(skillRetireCmd)
	skillCmd.AddCommand(skillLineageCmd)
	rootCmd.AddCommand(skillCmd)
}

func getSkillListConfigFromFlags(cmd *cobra.Command) *SkillListConfig {
	cfg := NewSkillListConfig()
	if category, err := cmd.Flags().GetString("category"); err == nil {
		cfg.Category = category
	}
	if platform, err := cmd.Flags().GetString("platform"); err == nil {
		cfg.Platform = platform
	}
	return cfg
}

func getSkillSelectConfigFromFlags(cmd *cobra.Command) *SkillSelectConfig {
	cfg := NewSkillSelectConfig()
	if category, err := cmd.Flags().GetString("category"); err == nil {
		cfg.Category = category
	}
	if platform, err := cmd.Flags().GetString("platform"); err == nil {
		cfg.Platform = platform
	}
	if tags, err := cmd.Flags().GetStringSlice("tag"); err == nil {
		cfg.Tags = tags
	}
	if allow, err := cmd.Flags().GetStringSlice("allow"); err == nil {
		cfg.Allowlist = allow
	}
	if limit, err := cmd.Flags().GetInt("limit"); err == nil {
		cfg.Limit = limit
	}
	return cfg
}
