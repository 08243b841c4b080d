package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/claystudio/contentsync/internal/content"
	"github.com/claystudio/contentsync/internal/publish"
	"github.com/claystudio/contentsync/internal/store"
	"github.com/claystudio/contentsync/internal/ui"
)

var publishCmd = &cobra.Command{
	Use:     "publish <id>",
	GroupID: "content",
	Short:   "Publish a draft and reconcile the home page",
	Long: `Promote the draft of a document to its published id, then run the
home page sync the same way the editor's publish button does.

A failed home sync never undoes the publish; it is reported and can be
retried with 'csync sync'.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := signalContext()
		defer cancel()

		db := openStore(ctx, storeWrite)
		defer db.Close()

		id := content.PublishedID(args[0])
		typ := ""
		if draft, err := db.Get(ctx, content.DraftID(id)); err == nil {
			typ = draft.Type
		} else if doc, err := db.Get(ctx, id); err == nil {
			typ = doc.Type
		}

		hook := publish.NewHook(log, publish.WithNotifier(printNotifier{}))
		action := hook.Wrap(publish.Publisher{Publish: db.Publish})

		done := false
		res := action.Run(publish.Props{
			ID:   id,
			Type: typ,
			Client: func(publish.ClientOptions) (store.Client, error) {
				return db, nil
			},
			OnComplete: func(context.Context) { done = true },
		})

		if err := res.OnHandle(ctx); err != nil {
			fatal("%v", err)
		}
		if done {
			fmt.Printf("%s %s %s\n", ui.RenderPass(ui.IconPass), res.Label, ui.RenderAccent(id))
		}
	},
}

func init() {
	rootCmd.AddCommand(publishCmd)
}
