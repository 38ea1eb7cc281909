package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/untoldecay/ctxgraph"
	"github.com/untoldecay/ctxgraph/internal/ui"
)

var dealCmd = &cobra.Command{
	Use:     "deal",
	GroupID: "graph",
	Aliases: []string{"deals"},
	Short:   "Manage deals and show deal rollups",
}

var dealUpsertCmd = &cobra.Command{
	Use:   "upsert <slug>",
	Short: "Create or update a deal",
	Long: `Create a deal, or update the name, company or stage of an existing one.
Flags left out keep their current value.

Batches and items link to a deal through their dealSlugHint, or through the
company they target when that company has exactly one deal.`,
	Example: `  cg deal upsert acme-renewal --name "Acme renewal" --company acme --stage negotiation`,
	Args:    cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		name, _ := cmd.Flags().GetString("name")
		company, _ := cmd.Flags().GetString("company")
		stage, _ := cmd.Flags().GetString("stage")

		d := &ctxgraph.Deal{Slug: args[0]}
		existing, err := graph.GetDeal(rootCtx, args[0])
		switch {
		case err == nil:
			*d = *existing
		case !errors.Is(err, ctxgraph.ErrNotFound):
			checkErr(err, "failed to read deal")
		}
		if name != "" {
			d.Name = name
		}
		if company != "" {
			d.CompanySlug = company
		}
		if stage != "" {
			d.Stage = stage
		}
		checkErr(graph.UpsertDeal(rootCtx, d), "failed to save deal")
		logger.Info("saved deal", "slug", d.Slug, "actor", actor)
		if jsonOutput {
			outputJSON(d)
			return
		}
		printOK("saved deal %s", d.Slug)
	},
}

var dealShowCmd = &cobra.Command{
	Use:   "show <slug>",
	Short: "Show a deal rollup",
	Long: `Show a deal with its interactions, metric items and item counts by type
and by trust.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		r, err := graph.DealRollup(rootCtx, args[0])
		checkErr(err, "failed to roll up deal")
		if jsonOutput {
			outputJSON(r)
			return
		}
		fmt.Println(ui.RenderRollup(r, ui.GetWidth()))
	},
}

func init() {
	dealUpsertCmd.Flags().String("name", "", "Display name")
	dealUpsertCmd.Flags().String("company", "", "Company entity slug")
	dealUpsertCmd.Flags().String("stage", "", "Pipeline stage")

	dealCmd.AddCommand(dealUpsertCmd, dealShowCmd)
	rootCmd.AddCommand(dealCmd)
}
