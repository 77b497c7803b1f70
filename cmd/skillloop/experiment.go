package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/cadencehq/skillloop/pkg/experiments"
	"github.com/cadencehq/skillloop/pkg/presenter"
	"github.com/cadencehq/skillloop/pkg/skills"
)

type ExperimentOpenConfig struct {
	Hypothesis    string
	CandidateFile string
}

func NewExperimentOpenConfig() *ExperimentOpenConfig {
	return &ExperimentOpenConfig{}
}

var experimentCmd = &cobra.Command{
	Use:   "experiment",
	Short: "Run A/B experiments between skill versions",
	Run: func(cmd *cobra.Command, _ []string) {
		cmd.Help()
	},
}

var experimentOpenCmd = &cobra.Command{
	Use:   "open <skill>",
	Short: "Open an experiment against a skill's current version",
	Long: `Open an A/B experiment pitting a skill's current version against a
candidate document. The candidate file uses the same format as a skill
document; only its four sections feed the experiment.

Examples:
  skillloop experiment open twitter_hooks --candidate ./variant.md --hypothesis "shorter hooks engage better"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg := getExperimentOpenConfigFromFlags(cmd)

		raw, err := os.ReadFile(cfg.CandidateFile)
		if err != nil {
			return errors.Wrap(err, "failed to read candidate document")
		}
		candidate, err := skills.ParseDocument(raw)
		if err != nil {
			return errors.Wrap(err, "invalid candidate document")
		}

		appCfg, err := loadConfig()
		if err != nil {
			return err
		}

		s, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		engine := experiments.NewEngine(s, appCfg.LoopConfig().Experiments)
		exp, err := engine.Open(ctx, args[0], cfg.Hypothesis, candidate.Doc)
		if err != nil {
			return err
		}

		presenter.Success(fmt.Sprintf("Opened experiment %s on %s v%d (candidate gets %d%% of traffic)",
			exp.ID, exp.SkillName, exp.BaselineVersion, exp.SplitPercent))
		return nil
	},
}

var experimentListCmd = &cobra.Command{
	Use:   "list",
	Short: "List running experiments",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		s, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		running, err := s.ListRunningExperiments(ctx)
		if err != nil {
			return err
		}
		if len(running) == 0 {
			presenter.Info("No running experiments")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSKILL\tBASELINE\tSPLIT\tSTARTED\tEXPIRES")
		for _, exp := range running {
			fmt.Fprintf(w, "%s\t%s\tv%d\t%d%%\t%s\t%s\n",
				exp.ID, exp.SkillName, exp.BaselineVersion, exp.SplitPercent,
				exp.StartedAt.Format("2006-01-02"), exp.ExpiresAt.Format("2006-01-02"))
		}
		return w.Flush()
	},
}

var experimentAssignCmd = &cobra.Command{
	Use:   "assign <experiment-id> <context-key>",
	Short: "Show which arm a context key lands on",
	Long: `Print the deterministic arm assignment for a context key. The same
key always maps to the same arm for the life of the experiment.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		s, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		exp, err := s.GetExperiment(ctx, args[0])
		if err != nil {
			return err
		}

		fmt.Println(string(experiments.Assign(exp, args[1])))
		return nil
	},
}

var experimentResolveCmd = &cobra.Command{
	Use:   "resolve <experiment-id>",
	Short: "Resolve an experiment on its evidence",
	RunE: func(cmd *cobra.Command, args []string) error {
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

		engine := experiments.NewEngine(s, cfg.LoopConfig().Experiments)
		res, err := engine.Resolve(ctx, args[0])
		if err != nil {
			return err
		}

		if !res.Resolved {
			presenter.Warning(res.Reason)
			return nil
		}

		v := res.Verdict
		presenter.Success(fmt.Sprintf("Resolved %s: winner %s (mean A %.3f vs B %.3f, n=%d/%d, p=%.4f)",
			res.Experiment.ID, v.Winner, v.MeanA, v.MeanB, v.SamplesA, v.SamplesB, v.PValue))
		if res.Promoted != nil {
			presenter.Success(fmt.Sprintf("Promoted %s to v%d", res.Promoted.Name, res.Promoted.Version))
		}
		return nil
	},
}

func init() {
	defaults := NewExperimentOpenConfig()
	experimentOpenCmd.Flags().String("hypothesis", defaults.Hypothesis, "What the candidate is expected to improve")
	experimentOpenCmd.Flags().String("candidate", defaults.CandidateFile, "Path to the candidate skill document")
	experimentOpenCmd.MarkFlagRequired("candidate")

	experimentCmd.AddCommand(experimentOpenCmd)
	experimentCmd.AddCommand(experimentListCmd)
	experimentCmd.AddCommand(experimentAssignCmd)
	experimentCmd.AddCommand(experimentResolveCmd)
	rootCmd.AddCommand(experimentCmd)
}

func getExperimentOpenConfigFromFlags(cmd *cobra.Command) *ExperimentOpenConfig {
	cfg := NewExperimentOpenConfig()
	if h, err := cmd.Flags().GetString("hypothesis"); err == nil {
		cfg.Hypothesis = h
	}
	if c, err := cmd.Flags().GetString("candidate"); err == nil {
		cfg.CandidateFile = c
	}
	return cfg
}
