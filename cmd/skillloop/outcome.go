package main

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/cadencehq/skillloop/pkg/presenter"
	"github.com/cadencehq/skillloop/pkg/skills"
)

type OutcomeRecordConfig struct {
	Version      int
	Reward       float64
	Success      bool
	Magnitude    float64
	Tags         []string
	At           string
	ExperimentID string
	Arm          string
}

func NewOutcomeRecordConfig() *OutcomeRecordConfig {
	return &OutcomeRecordConfig{Reward: -1, Magnitude: 0.5}
}

var outcomeCmd = &cobra.Command{
	Use:   "outcome",
	Short: "Record and inspect skill outcomes",
	Run: func(cmd *cobra.Command, _ []string) {
		cmd.Help()
	},
}

var outcomeRecordCmd = &cobra.Command{
	Use:   "record <skill>",
	Short: "Append an outcome to the ledger",
	Long: `Record one observation of a skill's use. Provide either an explicit
--reward in [0,1] or a --success/--failure result with --magnitude.
Timestamps default to now; pass --at for backfill.

Examples:
  skillloop outcome record twitter_hooks --reward 0.8
  skillloop outcome record twitter_hooks --success --magnitude 0.6 --tag evening
  skillloop outcome record twitter_hooks --reward 0.4 --at 2026-08-01T12:00:00Z`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg := getOutcomeRecordConfigFromFlags(cmd)

		reward := cfg.Reward
		if reward < 0 {
			if !cmd.Flags().Changed("success") && !cmd.Flags().Changed("failure") {
				return errors.New("provide --reward or one of --success/--failure")
			}
			reward = skills.RewardFromResult(cfg.Success, cfg.Magnitude)
		}

		at := time.Now().UTC()
		if cfg.At != "" {
			parsed, err := time.Parse(time.RFC3339, cfg.At)
			if err != nil {
				return errors.Wrap(err, "invalid --at timestamp, want RFC3339")
			}
			at = parsed
		}

		s, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		version := cfg.Version
		if version == 0 {
			current, err := s.GetCurrent(ctx, args[0])
			if err != nil {
				return err
			}
			version = current.Version
		}

		outcome := &skills.Outcome{
			SkillName:    args[0],
			SkillVersion: version,
			ExperimentID: cfg.ExperimentID,
			Arm:          skills.Arm(cfg.Arm),
			Reward:       reward,
			Tags:         cfg.Tags,
			RecordedAt:   at,
		}
		if err := s.AppendOutcome(ctx, outcome); err != nil {
			if errors.Is(err, skills.ErrNotFound) {
				presenter.Warning(fmt.Sprintf("Skill %q v%d does not exist; outcome kept for audit only", args[0], version))
				return nil
			}
			return err
		}

		presenter.Success(fmt.Sprintf("Recorded outcome %.2f for %s v%d", reward, args[0], version))
		return nil
	},
}

func init() {
	defaults := NewOutcomeRecordConfig()
	outcomeRecordCmd.Flags().IntP("version", "v", defaults.Version, "Skill version (default: current)")
	outcomeRecordCmd.Flags().Float64P("reward", "r", defaults.Reward, "Explicit reward in [0,1]")
	outcomeRecordCmd.Flags().Bool("success", false, "Record a successful use")
	outcomeRecordCmd.Flags().Bool("failure", false, "Record a failed use")
	outcomeRecordCmd.Flags().Float64("magnitude", defaults.Magnitude, "Strength of the result in [0,1]")
	outcomeRecordCmd.Flags().StringSliceP("tag", "t", defaults.Tags, "Context tags")
	outcomeRecordCmd.Flags().String("at", defaults.At, "Explicit RFC3339 timestamp for backfill")
	outcomeRecordCmd.Flags().String("experiment", defaults.ExperimentID, "Experiment id this outcome belongs to")
	outcomeRecordCmd.Flags().String("arm", defaults.Arm, "Experiment arm (A or B)")
	outcomeRecordCmd.MarkFlagsMutuallyExclusive("success", "failure")
	outcomeRecordCmd.MarkFlagsMutuallyExclusive("reward", "success")
	outcomeRecordCmd.MarkFlagsMutuallyExclusive("reward", "failure")

	outcomeCmd.AddCommand(outcomeRecordCmd)
	rootCmd.AddCommand(outcomeCmd)
}

func getOutcomeRecordConfigFromFlags(cmd *cobra.Command) *OutcomeRecordConfig {
	cfg := NewOutcomeRecordConfig()
	if v, err := cmd.Flags().GetInt("version"); err == nil {
		cfg.Version = v
	}
	if r, err := cmd.Flags().GetFloat64("reward"); err == nil {
		cfg.Reward = r
	}
	if s, err := cmd.Flags().GetBool("success"); err == nil {
		cfg.Success = s
	}
	if f, err := cmd.Flags().GetBool("failure"); err == nil && f {
		cfg.Success = false
	}
	if m, err := cmd.Flags().GetFloat64("magnitude"); err == nil {
		cfg.Magnitude = m
	}
	if tags, err := cmd.Flags().GetStringSlice("tag"); err == nil {
		cfg.Tags = tags
	}
	if at, err := cmd.Flags().GetString("at"); err == nil {
		cfg.At = at
	}
	if exp, err := cmd.Flags().GetString("experiment"); err == nil {
		cfg.ExperimentID = exp
	}
	if arm, err := cmd.Flags().GetString("arm"); err == nil {
		cfg.Arm = arm
	}
	return cfg
}
