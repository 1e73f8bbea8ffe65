package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/learnertrace/internal/ingest"
	"github.com/alfredjeanlab/learnertrace/internal/store"
	"github.com/alfredjeanlab/learnertrace/internal/store/postgres"
	"github.com/alfredjeanlab/learnertrace/internal/ui"
)

var (
	databaseURL string
	natsURL     string
	jsonOutput  bool
	noColor     bool
)

func defaultDatabaseURL() string {
	if s := os.Getenv("LT_DATABASE_URL"); s != "" {
		return s
	}
	return activeRemoteDatabaseURL()
}

func defaultNATSURL() string {
	if s := os.Getenv("LT_NATS_URL"); s != "" {
		return s
	}
	if u := activeRemoteNATSURL(); u != "" {
		return u
	}
	return "nats://localhost:4222"
}

// openReader connects to the research store for read-only commands. The
// returned pipeline is never started; it only validates and forwards queries.
func openReader() (*ingest.Pipeline, store.Store, error) {
	if databaseURL == "" {
		return nil, nil, fmt.Errorf("no database: set LT_DATABASE_URL, pass --database-url or add a remote")
	}
	s, err := postgres.New(databaseURL)
	if err != nil {
		return nil, nil, err
	}
	return ingest.New(s, ingest.DefaultConfig()), s, nil
}

var rootCmd = &cobra.Command{
	Use:          "lt <command>",
	Short:        "Learner telemetry ingestion service and research data CLI",
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if noColor || !ui.ShouldUseColor() {
			ui.ForceNoColor()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&databaseURL, "database-url", defaultDatabaseURL(), "Postgres connection URL")
	rootCmd.PersistentFlags().StringVar(&natsURL, "nats-url", defaultNATSURL(), "NATS server URL")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddGroup(
		&cobra.Group{ID: "ingest", Title: "Ingestion:"},
		&cobra.Group{ID: "query", Title: "Research data:"},
		&cobra.Group{ID: "system", Title: "System:"},
	)

	cobra.EnableCommandSorting = false
	rootCmd.SetHelpFunc(colorizedHelpFunc())

	// Ingestion
	rootCmd.AddCommand(trackCmd)
	rootCmd.AddCommand(trackBatchCmd)

	// Research data
	rootCmd.AddCommand(eventsCmd)
	rootCmd.AddCommand(countsCmd)
	rootCmd.AddCommand(summaryCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(exportCmd)

	// System
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(remoteCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
