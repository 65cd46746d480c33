package cmd

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/txmigrate/txmigrate/internal/config"
	"github.com/txmigrate/txmigrate/internal/database"
	"github.com/txmigrate/txmigrate/internal/extract"
	"github.com/txmigrate/txmigrate/internal/migrate"
	"github.com/txmigrate/txmigrate/internal/migrate/actions"
	"github.com/txmigrate/txmigrate/internal/migrate/logging"
	"github.com/txmigrate/txmigrate/internal/sqlvalidation"
)

const defaultFailedLog = "failed-tx.jsonl"

var (
	loadEnv      string
	loadFeedPath string
	loadDryRun   bool
	loadEscalate bool
	loadCheckSQL bool
	loadVerbose  bool
)

func init() {
	loadCmd.Flags().StringVar(&loadEnv, "env", "", "Target environment from txmigrate.toml")
	loadCmd.Flags().StringVar(&loadFeedPath, "feed", "", "Path to the JSONL transaction feed (required)")
	loadCmd.Flags().BoolVar(&loadDryRun, "dry-run", false, "Run everything inside one outer transaction and roll it back")
	loadCmd.Flags().BoolVar(&loadEscalate, "escalate-on-error", false, "Abort the run on the first failed transaction group")
	loadCmd.Flags().BoolVar(&loadCheckSQL, "check-sql", false, "Parse-check every generated statement (postgres only)")
	loadCmd.Flags().BoolVar(&loadVerbose, "verbose", false, "Enable debug logging")
	_ = loadCmd.MarkFlagRequired("feed")
	rootCmd.AddCommand(loadCmd)
}

var loadCmd = &cobra.Command{
	Use:   "load",
	Short: "Replay a transaction feed into the target database",
	Run:   runLoad,
}

func runLoad(cmd *cobra.Command, args []string) {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	env, err := config.ResolveEnvironment(cfg, loadEnv)
	if err != nil {
		log.Fatalf("Failed to resolve environment: %v", err)
	}

	driver, err := migrate.NewDriver(env.Driver)
	if err != nil {
		log.Fatalf("Failed to create database driver: %v", err)
	}
	if loadCheckSQL && driver.Name() != "postgres" {
		log.Fatalf("--check-sql requires a postgres target, environment %q uses %s", env.Name, driver.Name())
	}

	db, err := driver.OpenConnection(database.ConnectionConfig{
		DriverType:  env.Driver,
		DatabaseURL: env.DatabaseURL,
	})
	if err != nil {
		log.Fatalf("Failed to open database connection: %v", err)
	}
	defer func() { _ = db.Close() }()

	runLog := logging.NewRunLogger(os.Stderr, loadVerbose)

	failedLogPath := cfg.Load.FailedLog
	if failedLogPath == "" {
		failedLogPath = defaultFailedLog
	}
	failedLog, closer, err := logging.NewFailedTxLogger(failedLogPath)
	if err != nil {
		log.Fatalf("Failed to open failed-tx log: %v", err)
	}
	defer func() { _ = closer.Close() }()

	if cfg.Load.PKStart > 0 {
		actions.SetPKStart(cfg.Load.PKStart)
	}

	feed, err := extract.OpenJSONLFeed(loadFeedPath)
	if err != nil {
		log.Fatalf("Failed to open feed: %v", err)
	}
	defer func() { _ = feed.Close() }()

	opts := migrate.Options{
		DryRun:          loadDryRun,
		EscalateOnError: loadEscalate,
	}
	if loadCheckSQL {
		opts.CheckSQL = sqlvalidation.CheckStatement
	}

	executor := migrate.NewExecutor(db, driver.Dialect(), actions.DefaultRegistry(), opts, runLog, failedLog)
	runErr := executor.Run(context.Background(), feed)
	stats := executor.Stats()

	fmt.Printf("Committed %d transaction groups, %d operations (%.2f tx/min)\n",
		stats.Tx, stats.Ops, stats.TxRate())
	if runErr != nil {
		color.Red("Load aborted: %v", runErr)
		os.Exit(1)
	}
	if loadDryRun {
		color.Yellow("Dry run: all changes rolled back")
	} else {
		color.Green("Load complete")
	}
}
