package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/claystudio/contentsync/internal/config"
	"github.com/claystudio/contentsync/internal/events"
	"github.com/claystudio/contentsync/internal/publish"
	"github.com/claystudio/contentsync/internal/ui"
	"github.com/claystudio/contentsync/internal/watch"
)

var watchCmd = &cobra.Command{
	Use:     "watch <dir>",
	GroupID: "content",
	Short:   "Publish document files from a directory as they change",
	Long: `Watch a directory of *.json documents and publish them as they change.

Each file holds one document as a flat JSON object with _id and _type.
A written file is stored as a draft and published through the same hook as
'csync publish', so the home page stays in step. A removed file deletes the
document.

With --events-port above zero, a WebSocket feed of publish and sync events
is served on localhost:

  ws://localhost:<port>/ws
  http://localhost:<port>/health

Press Ctrl+C to stop.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		dir := args[0]
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			fatal("%s is not a directory", dir)
		}

		ctx, cancel := signalContext()
		defer cancel()

		db := openStore(ctx, storeWrite)
		defer db.Close()

		var hookOpts []publish.HookOption
		var listener watch.Listener
		if cfg.EventsPort > 0 {
			server := events.NewServer(&events.Config{Port: cfg.EventsPort, Logger: log})
			handler := events.NewHandler(server, log)
			if err := server.Start(); err != nil {
				fatal("starting event server: %v", err)
			}
			defer func() {
				if err := server.Stop(); err != nil {
					log.Warn("event server shutdown", "error", err)
				}
			}()

			if stats, err := db.Stats(ctx); err == nil {
				handler.UpdateStats(stats)
			}
			hookOpts = append(hookOpts, publish.WithNotifier(handler))
			listener = handler

			fmt.Printf("   Events: ws://%s/ws\n", server.Addr())
		}

		d, err := watch.New(db, dir, &watch.Config{
			DebounceInterval: watch.DefaultConfig().DebounceInterval,
			Hook:             publish.NewHook(log, hookOpts...),
			Listener:         listener,
			Logger:           log,
		})
		if err != nil {
			fatal("%v", err)
		}

		fmt.Printf("%s Watching %s\n", ui.RenderAccent("→"), dir)
		fmt.Printf("   Store: %s\n", cfg.DBPath())
		fmt.Printf("\nPress Ctrl+C to stop\n\n")

		if err := d.Start(ctx); err != nil {
			fatal("watch stopped: %v", err)
		}
	},
}

func init() {
	watchCmd.Flags().Int("events-port", 0, "Serve the WebSocket event feed on this port (0 disables)")
	_ = v.BindPFlag(config.KeyEventsPort, watchCmd.Flags().Lookup("events-port"))

	rootCmd.AddCommand(watchCmd)
}
