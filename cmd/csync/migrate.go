package main

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/claystudio/contentsync/internal/config"
	"github.com/claystudio/contentsync/internal/content"
	"github.com/claystudio/contentsync/internal/migrate"
	"github.com/claystudio/contentsync/internal/ui"
)

var migrateCmd = &cobra.Command{
	Use:     "migrate",
	GroupID: "maintenance",
	Short:   "Migrate the legacy key/value export into the store",
	Long: `Migrate the legacy site export into documents.

The export is a JSON array (or JSON lines) of {"key": ..., "value": ...}
rows. Content, posts, pages, site settings and the menu are converted,
images are uploaded once per URL (the asset cache remembers them between
runs) and every document is written to the staging file before any write.

Document ids are derived from slugs, so running the migration again
replaces documents instead of duplicating them.

Examples:
  csync migrate --rows export.json --staging staging.json
  csync migrate --rows export.json --staging staging.json --review review.md --dry-run`,
	Run: func(cmd *cobra.Command, args []string) {
		rowsPath, _ := cmd.Flags().GetString("rows")
		stagingPath, _ := cmd.Flags().GetString("staging")
		reviewPath, _ := cmd.Flags().GetString("review")
		cachePath, _ := cmd.Flags().GetString("cache")
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		if rowsPath == "" || stagingPath == "" {
			fatal("--rows and --staging are required")
		}
		if cachePath == "" {
			cachePath = cfg.AssetCachePath()
		}

		ctx, cancel := signalContext()
		defer cancel()

		db := openStore(ctx, modeFor(dryRun))
		defer db.Close()

		rows, err := migrate.LoadRows(rowsPath)
		if err != nil {
			fatal("%v", err)
		}
		cache, err := migrate.LoadAssetCache(cachePath)
		if err != nil {
			fatal("%v", err)
		}

		fmt.Printf("%s Migrating %d rows from %s", ui.RenderAccent("→"), len(rows), rowsPath)
		if dryRun {
			fmt.Printf(" %s", ui.RenderWarn("(dry run)"))
		}
		fmt.Println()

		var bar *progressbar.ProgressBar
		opts := migrate.Options{
			StagingPath:  stagingPath,
			ReviewPath:   reviewPath,
			ImageBaseURL: cfg.ImageBaseURL,
			DryRun:       dryRun,
			Progress: func(done, total int) {
				if bar == nil {
					bar = progressbar.NewOptions(total,
						progressbar.OptionSetDescription("Upserting documents"),
						progressbar.OptionSetWriter(os.Stderr),
						progressbar.OptionSetWidth(40),
						progressbar.OptionShowCount(),
						progressbar.OptionSetPredictTime(true),
						progressbar.OptionClearOnFinish(),
					)
				}
				_ = bar.Set(done)
			},
		}

		start := time.Now()
		res, err := migrate.Run(ctx, db, rows, cache, opts, log)
		if bar != nil {
			_ = bar.Finish()
		}
		if err != nil {
			fatal("migration failed: %v", err)
		}

		printMigrationResult(res, stagingPath, time.Since(start))
		if len(res.Errors) > 0 {
			fatal("%d item(s) failed to migrate", len(res.Errors))
		}
	},
}

func printMigrationResult(res *migrate.Result, stagingPath string, elapsed time.Duration) {
	icon := ui.RenderPass(ui.IconPass)
	if len(res.Errors) > 0 {
		icon = ui.RenderWarn(ui.IconWarn)
	}
	fmt.Printf("\n%s Migration finished in %v\n", icon, elapsed.Round(time.Millisecond))
	fmt.Printf("   Rows read: %d (skipped %d)\n", res.RowsRead, res.Skipped)

	types := make([]string, 0, len(res.Built))
	for typ := range res.Built {
		types = append(types, typ)
	}
	sort.Strings(types)
	for _, typ := range types {
		fmt.Printf("   %-16s %d\n", typ+":", res.Built[typ])
	}

	counts := migrate.CountByCategory(res.Documents)
	for _, cat := range content.Categories() {
		if n := counts[cat]; n > 0 {
			fmt.Printf("   %s %d\n", ui.RenderMuted(string(cat)+":"), n)
		}
	}

	fmt.Printf("   Upserted: %d, failed: %d\n", res.Upserted, res.Failed)
	fmt.Printf("   Images: %d uploaded, %d reused, %d failed, %d pending\n",
		res.Images.Uploaded, res.Images.Reused, res.Images.Failed, res.Images.Pending)
	fmt.Printf("   Staging: %s\n", stagingPath)

	if len(res.Errors) > 0 {
		fmt.Printf("\n%s %d error(s):\n", ui.RenderFail(ui.IconFail), len(res.Errors))
		for _, e := range res.Errors {
			fmt.Printf("   %s\n", e)
		}
	}
}

func init() {
	migrateCmd.Flags().String("rows", "", "Legacy export (JSON array or JSON lines)")
	migrateCmd.Flags().String("staging", "", "Write constructed documents here before any upsert")
	migrateCmd.Flags().String("review", "", "Also write a Markdown review file")
	migrateCmd.Flags().String("cache", "", "Asset cache file (default: <data-dir>/asset-cache.json)")
	migrateCmd.Flags().String("image-base-url", "", "Resolve relative image URLs against this base")
	migrateCmd.Flags().Bool("dry-run", false, "Build and stage documents without writing to the store")
	_ = v.BindPFlag(config.KeyImageBaseURL, migrateCmd.Flags().Lookup("image-base-url"))

	rootCmd.AddCommand(migrateCmd)
}
