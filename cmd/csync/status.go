package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/claystudio/contentsync/internal/content"
	"github.com/claystudio/contentsync/internal/store"
	"github.com/claystudio/contentsync/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "content",
	Short:   "Show store contents and home page consistency",
	Long: `Display the store location and document counts, and check that the
home page sections match the featuredInHome flags.

Shows:
  - Store file location and size
  - Documents per type, drafts and assets
  - Featured documents missing from home, and home items not featured`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		path := cfg.DBPath()
		info, err := os.Stat(path)
		if os.IsNotExist(err) {
			fmt.Printf("\n%s Store not initialized at %s\n", ui.RenderWarn(ui.IconWarn), path)
			fmt.Printf("   Run 'csync migrate' or 'csync fix ensure-pages' to create it\n\n")
			return
		}
		if err != nil {
			fatal("checking store: %v", err)
		}

		ctx, cancel := signalContext()
		defer cancel()

		db := openStore(ctx, storeRead)
		defer db.Close()

		stats, err := db.Stats(ctx)
		if err != nil {
			fatal("reading stats: %v", err)
		}

		mode := ui.RenderPass("read-write")
		if cfg.ReadOnly() {
			mode = ui.RenderWarn("read-only (no CSYNC_TOKEN)")
		}

		fmt.Printf("\n%s Store Status\n\n", ui.RenderAccent(cfg.ProjectID+"/"+cfg.Dataset))
		fmt.Printf("Location: %s\n", path)
		fmt.Printf("Size: %s\n", formatSize(info.Size()))
		fmt.Printf("Mode: %s\n", mode)
		fmt.Printf("Documents: %d (%d drafts)\n", stats.Total(), stats.Drafts)

		types := make([]string, 0, len(stats.ByType))
		for typ := range stats.ByType {
			types = append(types, typ)
		}
		sort.Strings(types)
		for _, typ := range types {
			fmt.Printf("   %-16s %d\n", typ+":", stats.ByType[typ])
		}
		fmt.Printf("Assets: %d\n", stats.Assets)

		drift, err := homeDrift(ctx, db)
		if err != nil {
			fmt.Printf("\n%s %v\n\n", ui.RenderWarn(ui.IconWarn), err)
			return
		}
		if len(drift) == 0 {
			fmt.Printf("\n%s Home page matches featuredInHome flags\n\n", ui.RenderPass(ui.IconPass))
			return
		}
		fmt.Printf("\n%s Home page drift:\n", ui.RenderWarn(ui.IconWarn))
		for _, line := range drift {
			fmt.Printf("   %s\n", line)
		}
		fmt.Printf("   Run 'csync sync home' to make flags follow the home page\n\n")
	},
}

// homeDrift lists published offerings whose flag disagrees with the home
// sections.
func homeDrift(ctx context.Context, db *store.DB) ([]string, error) {
	doc, err := db.Get(ctx, content.HomeID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("no home page (%s)", content.HomeID)
	}
	if err != nil {
		return nil, err
	}
	home, err := content.HomeFromDocument(doc)
	if err != nil {
		return nil, err
	}

	docs, err := db.Fetch(ctx, store.Query{Types: content.CategoryTypes(), Drafts: store.DraftsExclude})
	if err != nil {
		return nil, err
	}

	var drift []string
	for _, d := range docs {
		snap, err := content.SnapshotFromDocument(d)
		if err != nil {
			continue
		}
		section := content.SectionFor(snap.Category)
		onHome := home.RefSet(section)[snap.ID]
		switch {
		case snap.Featured && !onHome:
			drift = append(drift, fmt.Sprintf("%s is featured but missing from %s", snap.ID, section))
		case !snap.Featured && onHome:
			drift = append(drift, fmt.Sprintf("%s is on %s but not featured", snap.ID, section))
		}
		if home.RefSet(section.Other())[snap.ID] {
			drift = append(drift, fmt.Sprintf("%s is in the wrong section (%s)", snap.ID, section.Other()))
		}
	}
	return drift, nil
}

func formatSize(size int64) string {
	switch {
	case size > 1024*1024:
		return fmt.Sprintf("%.1f MB", float64(size)/(1024*1024))
	case size > 1024:
		return fmt.Sprintf("%.1f KB", float64(size)/1024)
	default:
		return fmt.Sprintf("%d bytes", size)
	}
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
