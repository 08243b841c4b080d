package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/claystudio/contentsync/internal/content"
	"github.com/claystudio/contentsync/internal/homesync"
	"github.com/claystudio/contentsync/internal/publish"
	"github.com/claystudio/contentsync/internal/store"
	"github.com/claystudio/contentsync/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "content",
	Short:   "Reconcile the home page with content by hand",
	Long: `Run one direction of the home page reconciliation without publishing.

  csync sync content <id>   home sections follow the document's featuredInHome flag
  csync sync home           featuredInHome flags follow the home sections

Both directions are idempotent; running them twice writes nothing new.`,
}

var syncContentCmd = &cobra.Command{
	Use:   "content <id>",
	Short: "Make the home page follow one class or workshop",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := signalContext()
		defer cancel()

		db := openStore(ctx, storeWrite)
		defer db.Close()

		id := content.PublishedID(args[0])
		doc, err := db.Get(ctx, id)
		if err != nil {
			fatal("loading %s: %v", id, err)
		}
		snap, err := content.SnapshotFromDocument(doc)
		if err != nil {
			fatal("%v", err)
		}

		if err := homesync.New(db, log).SyncContentToHome(ctx, snap); err != nil {
			if errors.Is(err, store.ErrRevisionConflict) {
				fatal("home page changed while syncing %s; run the command again", id)
			}
			fatal("syncing %s: %v", id, err)
		}

		state := "removed from"
		if snap.Featured {
			state = "featured on"
		}
		fmt.Printf("%s %s %s the %s section\n",
			ui.RenderPass(ui.IconPass), ui.RenderAccent(id), state, content.SectionFor(snap.Category))
	},
}

var syncHomeCmd = &cobra.Command{
	Use:   "home",
	Short: "Make featuredInHome flags follow the home page",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := signalContext()
		defer cancel()

		db := openStore(ctx, storeWrite)
		defer db.Close()

		doc, err := db.Get(ctx, content.HomeID)
		if errors.Is(err, store.ErrNotFound) {
			fatal("no home page (%s); run 'csync fix ensure-pages' first", content.HomeID)
		}
		if err != nil {
			fatal("loading home page: %v", err)
		}
		home, err := content.HomeFromDocument(doc)
		if err != nil {
			fatal("%v", err)
		}

		patched, err := homesync.New(db, log).SyncHomeToContent(ctx, home)
		if err != nil {
			fatal("syncing home page: %v", err)
		}
		fmt.Printf("%s Home page synced, %d document(s) updated\n", ui.RenderPass(ui.IconPass), patched)
	},
}

// printNotifier prints the hook's sync outcome for interactive commands.
type printNotifier struct{}

func (printNotifier) NotifySync(o publish.Outcome) {
	switch {
	case !o.OK():
		fmt.Printf("%s Published, but home sync failed: %v\n", ui.RenderWarn(ui.IconWarn), o.Err)
		fmt.Printf("   Run 'csync sync content %s' or 'csync sync home' to retry\n", o.ID)
	case o.Direction == publish.DirectionNone:
	case o.Direction == publish.DirectionHomeToContent:
		fmt.Printf("%s Home sync: %d document(s) updated\n", ui.RenderPass(ui.IconPass), o.Patched)
	default:
		fmt.Printf("%s Home sync: %s\n", ui.RenderPass(ui.IconPass), ui.RenderMuted(string(o.Direction)))
	}
}

func init() {
	syncCmd.AddCommand(syncContentCmd)
	syncCmd.AddCommand(syncHomeCmd)
	rootCmd.AddCommand(syncCmd)
}
