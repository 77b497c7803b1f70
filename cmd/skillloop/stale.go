package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/cadencehq/skillloop/pkg/presenter"
	"github.com/cadencehq/skillloop/pkg/staleness"
)

var staleCmd = &cobra.Command{
	Use:   "stale",
	Short: "Staleness scans and health reports",
	Run: func(cmd *cobra.Command, _ []string) {
		cmd.Help()
	},
}

var staleScanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan active skills for staleness",
	Long: `Scan every active skill for decline, low confidence, or disuse.
By default the scan only reports; pass --mark to transition flagged skills
to stale.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		mark, _ := cmd.Flags().GetBool("mark")

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		s, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		evaluator := staleness.NewEvaluator(s, cfg.LoopConfig().Staleness)
		flags, err := evaluator.Scan(ctx)
		if err != nil {
			return err
		}
		if len(flags) == 0 {
			presenter.Success("No stale skills")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SKILL\tVERSION\tREASON\tDETAIL")
		for _, flag := range flags {
			fmt.Fprintf(w, "%s\tv%d\t%s\t%s\n",
				flag.Skill.Name, flag.Skill.Version, flag.Reason, flag.Detail)
		}
		if err := w.Flush(); err != nil {
			return err
		}

		if mark {
			if err := evaluator.MarkStale(ctx, flags); err != nil {
				return err
			}
			presenter.Success(fmt.Sprintf("Marked %d skills stale", len(flags)))
		}
		return nil
	},
}

var staleHealthCmd = &cobra.Command{
	Use:   "health",
	Short: "Report the health of every current skill",
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

		reports, err := staleness.NewEvaluator(s, cfg.LoopConfig().Staleness).CheckHealth(ctx)
		if err != nil {
			return err
		}
		if len(reports) == 0 {
			presenter.Info("No skills found")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SKILL\tVERSION\tHEALTH\tTREND\tCONFIDENCE\tNOTES")
		for _, r := range reports {
			notes := ""
			if len(r.Reasons) > 0 {
				notes = r.Reasons[0]
			}
			fmt.Fprintf(w, "%s\tv%d\t%s\t%s\t%.2f\t%s\n",
				r.Skill.Name, r.Skill.Version, r.Health, r.Trend, r.Skill.Confidence, notes)
		}
		return w.Flush()
	},
}

func init() {
	staleScanCmd.Flags().Bool("mark", false, "Transition flagged skills to stale")

	staleCmd.AddCommand(staleScanCmd)
	staleCmd.AddCommand(staleHealthCmd)
	rootCmd.AddCommand(staleCmd)
}
