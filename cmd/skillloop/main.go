package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cadencehq/skillloop/pkg/config"
	"github.com/cadencehq/skillloop/pkg/db"
	"github.com/cadencehq/skillloop/pkg/logger"
	"github.com/cadencehq/skillloop/pkg/presenter"
	"github.com/cadencehq/skillloop/pkg/store"
)

func init() {
	// Environment variables
	viper.SetEnvPrefix("SKILLLOOP")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Config file support
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("$HOME/.skillloop")
	viper.AddConfigPath(".")

	config.SetDefaults()

	// Load config file if it exists (ignore errors if it doesn't)
	_ = viper.ReadInConfig()
}

var rootCmd = &cobra.Command{
	Use:   "skillloop",
	Short: "Skill knowledge base and learning loop for content agents",
	Long: `Skillloop maintains a versioned library of procedural skills, records the
outcomes of their use, and runs the learning loop that keeps them honest:
confidence updates, staleness scans, A/B experiments, and synthesis of new
skill candidates from outcome patterns.`,
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		if err := logger.SetLogLevel(viper.GetString("log_level")); err != nil {
			return err
		}
		logger.SetLogFormat(viper.GetString("log_format"))
		presenter.SetQuiet(viper.GetBool("quiet"))
		return nil
	},
	Run: func(cmd *cobra.Command, _ []string) {
		cmd.Help()
		os.Exit(1)
	},
}

// loadConfig resolves the effective configuration, profile applied.
func loadConfig() (config.Config, error) {
	return config.FromViper()
}

// openStore opens the skill database with pending migrations applied.
func openStore(ctx context.Context) (*store.Store, error) {
	return store.Open(ctx, databasePath())
}

func databasePath() string {
	if path := viper.GetString("db_path"); path != "" {
		return path
	}
	path, err := db.DefaultDBPath()
	if err != nil {
		return "skills.db"
	}
	return path
}

func main() {
	rootCmd.PersistentFlags().String("db-path", "", "Path to the skill database (overrides config)")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "Log format (text, json)")
	rootCmd.PersistentFlags().String("profile", "", "Named configuration profile to apply")
	rootCmd.PersistentFlags().Bool("quiet", false, "Suppress non-essential output")

	viper.BindPFlag("db_path", rootCmd.PersistentFlags().Lookup("db-path"))
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("log_format", rootCmd.PersistentFlags().Lookup("log-format"))
	viper.BindPFlag("profile", rootCmd.PersistentFlags().Lookup("profile"))
	viper.BindPFlag("quiet", rootCmd.PersistentFlags().Lookup("quiet"))

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
