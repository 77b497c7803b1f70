package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cadencehq/skillloop/pkg/loop"
	"github.com/cadencehq/skillloop/pkg/presenter"
)

var cycleCmd = &cobra.Command{
	Use:   "cycle",
	Short: "Run the learning cycle",
	Run: func(cmd *cobra.Command, _ []string) {
		cmd.Help()
	},
}

var cycleRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one full learning cycle",
	Long: `Run one pass of the learning cycle: refresh confidence for every
current skill, flag and mark stale skills, resolve due and expired
experiments (promoting winners), and synthesize new skill candidates from
recent outcome patterns. Step failures are reported but do not stop the
cycle.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		s, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		summary, runErr := loop.New(s, cfg.LoopConfig()).RunCycle(ctx)
		if summary != nil {
			presenter.Section("Cycle summary")
			presenter.Info(fmt.Sprintf("Confidence updated: %d skills", summary.SkillsUpdated))
			presenter.Info(fmt.Sprintf("Flagged stale: %d", len(summary.Flagged)))
			presenter.Info(fmt.Sprintf("Experiments resolved: %d", len(summary.Resolutions)))
			for _, name := range summary.Promoted {
				presenter.Success(fmt.Sprintf("Promoted %s", name))
			}
			for _, c := range summary.Proposed {
				presenter.Info(fmt.Sprintf("Proposed %s (uplift %.2f over %s, n=%d)",
					c.Skill.Name, c.Uplift, c.Source, c.Samples))
			}
		}
		if runErr != nil {
			presenter.Error(runErr, "Some cycle steps failed")
		}
		return nil
	},
}

func init() {
	cycleCmd.AddCommand(cycleRunCmd)
	rootCmd.AddCommand(cycleCmd)
}
