package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/practicehq/engage/internal/core/config"
	"github.com/practicehq/engage/internal/core/db"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Database migration commands",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply pending migrations",
	RunE:  runMigrateUp,
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show applied and pending migrations",
	RunE:  runMigrateStatus,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateStatusCmd)
}

func resolveDBURL() (string, error) {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return "", fmt.Errorf("failed to load config: %w", err)
	}
	if dbURL != "" {
		cfg.DB.URL = dbURL
	}
	if cfg.DB.URL == "" {
		return "", fmt.Errorf("--db-url or ENGAGE_DB_URL required")
	}
	return cfg.DB.URL, nil
}

func runMigrateUp(cmd *cobra.Command, args []string) error {
	url, err := resolveDBURL()
	if err != nil {
		return err
	}
	database, err := db.Open(url)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer database.Close()

	if err := db.MigrateUp(database); err != nil {
		return err
	}
	fmt.Println("migrations applied")
	return nil
}

func runMigrateStatus(cmd *cobra.Command, args []string) error {
	url, err := resolveDBURL()
	if err != nil {
		return err
	}
	database, err := db.Open(url)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer database.Close()

	statuses, err := db.MigrateStatus(database)
	if err != nil {
		return err
	}
	for _, status := range statuses {
		state := "pending"
		if status.Applied {
			state = fmt.Sprintf("applied %s (%dms)", status.AppliedAt.Format("2006-01-02 15:04:05"), status.ExecutionMs)
		}
		fmt.Printf("%-40s %s\n", status.ID, state)
	}
	return nil
}
