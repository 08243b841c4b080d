package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/claystudio/contentsync/internal/fixers"
	"github.com/claystudio/contentsync/internal/ui"
)

var fixCmd = &cobra.Command{
	Use:     "fix <" + strings.Join(fixers.Names(), "|") + ">",
	GroupID: "maintenance",
	Short:   "Run a one-shot data fixer",
	Long: `Run a data hygiene fixer. Each fixer plans its mutations first, shows
them, and commits them in one transaction after confirmation. A second run
of the same fixer plans nothing.

  dedupe-singleton   merge duplicate site settings into the canonical id
  split-types        move legacy "content" documents to their category type
  rename-type        rename every document of --from to --to
  remap-slugs        rewrite legacy page slugs and menu links
  ensure-pages       create missing singleton pages

Lookup tables are built in; override them with --table (.toml or .yaml).`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: fixers.Names(),
	Run: func(cmd *cobra.Command, args []string) {
		tablePath, _ := cmd.Flags().GetString("table")
		from, _ := cmd.Flags().GetString("from")
		to, _ := cmd.Flags().GetString("to")
		yes, _ := cmd.Flags().GetBool("yes")
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		tables := fixers.DefaultTables()
		if tablePath != "" {
			loaded, err := fixers.LoadTables(tablePath)
			if err != nil {
				fatal("%v", err)
			}
			tables = loaded
		}

		fixer, err := fixers.Lookup(args[0], fixers.Args{Tables: tables, From: from, To: to})
		if err != nil {
			fatal("%v", err)
		}

		ctx, cancel := signalContext()
		defer cancel()

		db := openStore(ctx, modeFor(dryRun))
		defer db.Close()

		plan, err := fixer.Plan(ctx, db)
		if err != nil {
			fatal("planning %s: %v", fixer.Name(), err)
		}

		fmt.Printf("%s %s\n\n", ui.RenderAccent(fixer.Name()), ui.RenderMuted(fixer.Description()))
		fmt.Print(plan.String())

		if plan.Empty() {
			fmt.Printf("\n%s Nothing to fix\n", ui.RenderPass(ui.IconPass))
			return
		}
		if dryRun {
			fmt.Printf("\n%s Dry run, nothing written\n", ui.RenderWarn(ui.IconWarn))
			return
		}

		if !yes {
			if !ui.IsTerminal(os.Stdin) {
				fatal("refusing to write without confirmation; pass --yes")
			}
			confirmed := false
			err := huh.NewConfirm().
				Title(fmt.Sprintf("Apply %d mutation(s)?", len(plan.Mutations))).
				Affirmative("Apply").
				Negative("Cancel").
				Value(&confirmed).
				Run()
			if err != nil {
				fatal("confirmation: %v", err)
			}
			if !confirmed {
				fmt.Printf("%s Cancelled\n", ui.RenderWarn(ui.IconWarn))
				return
			}
		}

		if err := fixers.Apply(ctx, db, plan, log); err != nil {
			fatal("%v", err)
		}
		fmt.Printf("\n%s Applied %d mutation(s)\n", ui.RenderPass(ui.IconPass), len(plan.Mutations))
	},
}

func init() {
	fixCmd.Flags().String("table", "", "Lookup tables file (.toml or .yaml)")
	fixCmd.Flags().String("from", "", "Source type for rename-type")
	fixCmd.Flags().String("to", "", "Target type for rename-type")
	fixCmd.Flags().BoolP("yes", "y", false, "Apply without asking")
	fixCmd.Flags().Bool("dry-run", false, "Show the plan without writing")

	rootCmd.AddCommand(fixCmd)
}
