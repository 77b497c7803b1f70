package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cadencehq/skillloop/pkg/db"
	"github.com/cadencehq/skillloop/pkg/db/migrations"
	"github.com/cadencehq/skillloop/pkg/presenter"
)

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Database management commands",
	Long:  `Commands for managing the skill database (migrations, status, etc.)`,
	Run: func(cmd *cobra.Command, _ []string) {
		cmd.Help()
	},
}

var dbStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show database migration status",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		conn, err := db.Open(ctx, databasePath())
		if err != nil {
			return err
		}
		defer conn.Close()

		applied, err := db.NewMigrationRunner(conn).GetAppliedVersions(ctx)
		if err != nil {
			return err
		}
		appliedMap := make(map[int64]bool, len(applied))
		for _, v := range applied {
			appliedMap[v] = true
		}

		fmt.Println("Database Migration Status")
		fmt.Println("=========================")
		fmt.Printf("Database: %s\n\n", databasePath())

		appliedCount := 0
		for _, m := range migrations.All() {
			status := "[ ]"
			if appliedMap[m.Version] {
				status = "[x]"
				appliedCount++
			}
			fmt.Printf("%s %d - %s\n", status, m.Version, m.Description)
		}
		fmt.Printf("\nApplied: %d/%d migrations\n", appliedCount, len(migrations.All()))
		return nil
	},
}

var dbRollbackCmd = &cobra.Command{
	Use:   "rollback",
	Short: "Rollback the last database migration",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		conn, err := db.Open(ctx, databasePath())
		if err != nil {
			return err
		}
		defer conn.Close()

		runner := db.NewMigrationRunner(conn)
		applied, err := runner.GetAppliedVersions(ctx)
		if err != nil {
			return err
		}
		if len(applied) == 0 {
			presenter.Warning("No migrations to rollback")
			return nil
		}

		last := applied[len(applied)-1]
		if err := runner.Rollback(ctx, migrations.All()); err != nil {
			return err
		}
		presenter.Success(fmt.Sprintf("Rolled back migration %d", last))
		return nil
	},
}

func init() {
	dbCmd.AddCommand(dbStatusCmd)
	dbCmd.AddCommand(dbRollbackCmd)
	rootCmd.AddCommand(dbCmd)
}
