// Command csync keeps a studio site's curated home page in step with its
// content, migrates the legacy export and runs data hygiene fixers.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/claystudio/contentsync/internal/config"
	"github.com/claystudio/contentsync/internal/logger"
	"github.com/claystudio/contentsync/internal/store"
	"github.com/claystudio/contentsync/internal/ui"
)

var (
	v   = config.New()
	cfg *config.Config
	log = logger.Nop()

	configFile string
)

var rootCmd = &cobra.Command{
	Use:   "csync",
	Short: "Content sync tooling for the studio site",
	Long: `csync keeps the home page sections and the featuredInHome flag of
classes and workshops consistent, migrates the legacy export into the
document store, and runs one-shot data fixers.

Connection settings come from CSYNC_* environment variables, a .env file
or a config file:

  CSYNC_PROJECT_ID   project id (required)
  CSYNC_DATASET      dataset name (default: production)
  CSYNC_TOKEN        write token; without it the store opens read-only
  CSYNC_DATA_DIR     local data directory (default: .csync)`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		loaded, err := config.Load(v, ".", configFile)
		if err != nil {
			fatal("loading config: %v", err)
		}
		if err := loaded.Validate(); err != nil {
			fatal("%v", err)
		}
		cfg = loaded

		l, err := logger.New(logger.Options{Mode: cfg.LogMode, File: cfg.LogFile, Debug: cfg.Debug})
		if err != nil {
			fatal("creating logger: %v", err)
		}
		log = l.With("project", cfg.ProjectID, "dataset", cfg.Dataset)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		runCleanups()
		log.Sync()
	},
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "content", Title: "Content:"},
		&cobra.Group{ID: "maintenance", Title: "Maintenance:"},
	)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configFile, "config", "", "Config file (default: ./config.{yaml,toml,json} if present)")
	flags.String("project", "", "Project id")
	flags.String("dataset", "", "Dataset name")
	flags.String("data-dir", "", "Local data directory")
	flags.String("log-mode", "", "Log output: console or json")
	flags.String("log-file", "", "Also write JSON logs to this rotating file")
	flags.Bool("debug", false, "Enable debug logging")

	// Flags only override the config when set explicitly.
	for key, name := range map[string]string{
		config.KeyProjectID: "project",
		config.KeyDataset:   "dataset",
		config.KeyDataDir:   "data-dir",
		config.KeyLogMode:   "log-mode",
		config.KeyLogFile:   "log-file",
		config.KeyDebug:     "debug",
	} {
		_ = v.BindPFlag(key, flags.Lookup(name))
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// fatal reports a failure and exits with status 1.
func fatal(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	log.Error("command failed", "error", msg)
	fmt.Fprintf(os.Stderr, "%s %s\n", ui.RenderFail(ui.IconFail), msg)
	runCleanups()
	log.Sync()
	os.Exit(1)
}

// storeMode selects how a command opens the dataset database.
type storeMode int

const (
	// storeRead opens read-write when a token is configured, read-only
	// otherwise.
	storeRead storeMode = iota
	// storeWrite fails early when no token is configured.
	storeWrite
	// storeDryRun never writes. A missing store reads as an empty one.
	storeDryRun
)

func modeFor(dryRun bool) storeMode {
	if dryRun {
		return storeDryRun
	}
	return storeWrite
}

// cleanups run before the process exits, including through fatal.
var cleanups []func()

func runCleanups() {
	for i := len(cleanups) - 1; i >= 0; i-- {
		cleanups[i]()
	}
	cleanups = nil
}

// openStore opens the dataset database in the given mode.
func openStore(ctx context.Context, mode storeMode) *store.DB {
	if mode == storeDryRun {
		return openDryRunStore(ctx)
	}
	if mode == storeWrite {
		if err := cfg.RequireToken(); err != nil {
			fatal("%v", err)
		}
	}

	db, err := store.Open(cfg.DBPath(), store.Options{ReadOnly: cfg.ReadOnly()})
	if err != nil {
		fatal("opening store: %v", err)
	}
	if !cfg.ReadOnly() {
		if err := db.InitSchema(ctx); err != nil {
			_ = db.Close()
			fatal("initializing schema: %v", err)
		}
	}
	return db
}

// openDryRunStore opens the existing store read-only. When there is none,
// it opens an empty scratch store that is removed on exit, so a dry run
// leaves no files behind.
func openDryRunStore(ctx context.Context) *store.DB {
	path := cfg.DBPath()
	if _, err := os.Stat(path); err == nil {
		db, err := store.Open(path, store.Options{ReadOnly: true})
		if err != nil {
			fatal("opening store: %v", err)
		}
		return db
	}

	dir, err := os.MkdirTemp("", "csync-dry-run-*")
	if err != nil {
		fatal("creating scratch store: %v", err)
	}
	cleanups = append(cleanups, func() { _ = os.RemoveAll(dir) })

	db, err := store.Open(filepath.Join(dir, filepath.Base(path)), store.Options{})
	if err != nil {
		fatal("opening scratch store: %v", err)
	}
	if err := db.InitSchema(ctx); err != nil {
		_ = db.Close()
		fatal("initializing scratch store: %v", err)
	}
	log.Debug("no store yet, dry run uses an empty scratch store", "path", path)
	return db
}

// signalContext is cancelled on Ctrl+C or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
