package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/untoldecay/ctxgraph"
	"github.com/untoldecay/ctxgraph/internal/types"
	"github.com/untoldecay/ctxgraph/internal/ui"
)

var itemsCmd = &cobra.Command{
	Use:     "items",
	GroupID: "graph",
	Short:   "Record, query and repair extracted items",
}

var itemsActionableCmd = &cobra.Command{
	Use:   "actionable",
	Short: "List items automation may act on",
	Long: `List items with high or medium trust that carry both a source path and a
quote. Superseded items are never listed. Newest first.

Examples:
  cg items actionable --owner alex-chen
  cg items actionable --type action_item --type promise --min-trust high
  cg items actionable --deal acme-renewal --since "last monday"`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		owner, _ := cmd.Flags().GetString("owner")
		target, _ := cmd.Flags().GetString("target")
		deal, _ := cmd.Flags().GetString("deal")
		typeNames, _ := cmd.Flags().GetStringSlice("type")
		minTrust, _ := cmd.Flags().GetString("min-trust")
		since, _ := cmd.Flags().GetString("since")
		limit, _ := cmd.Flags().GetInt("limit")

		filter := ctxgraph.ItemFilter{
			OwnerSlug:  owner,
			TargetSlug: target,
			DealSlug:   deal,
			MinTrust:   types.TrustLevel(minTrust),
			Since:      sinceFlag(since),
			Limit:      limit,
		}
		if minTrust != "" && !filter.MinTrust.IsValid() {
			FatalError("unknown trust level %q (want high, medium or low)", minTrust)
		}
		for _, n := range typeNames {
			t := types.ItemType(strings.TrimSpace(n))
			if !t.IsValid() {
				FatalError("unknown item type %q", n)
			}
			filter.Types = append(filter.Types, t)
		}

		var items []*types.ExtractedItem
		for it, err := range graph.ActionableItems(rootCtx, filter) {
			checkErr(err, "failed to read items")
			items = append(items, it)
		}
		if jsonOutput {
			outputJSON(items)
			return
		}
		fmt.Println(ui.RenderItems(items, ui.GetWidth()))
	},
}

var itemsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one item with its provenance",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		it, err := graph.GetItem(rootCtx, args[0])
		checkErr(err, "failed to get item")
		if jsonOutput {
			outputJSON(it)
			return
		}
		fmt.Println(ui.RenderItem(it))
		if it.SupersededBy != "" {
			fmt.Println(ui.RenderWarn("superseded by " + it.SupersededBy))
		}
	},
}

var itemsRecordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record a single extracted item",
	Long: `Record one item by hand. The owner is resolved (creating a candidate if
needed), the target is attached only if it resolves, and trust is computed
from provenance.

Example:
  cg items record --type promise --owner "Alex Chen" --target "Acme" \
    --source call --path calls/acme.md --span 00:12:30-00:13:05 \
    --quote "we will send the revised order form before the end of next week" \
    --text "Send revised order form"`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		f := cmd.Flags()
		p := &ctxgraph.ItemPayload{}
		typ, _ := f.GetString("type")
		src, _ := f.GetString("source")
		p.Type = types.ItemType(typ)
		p.SourceType = types.SourceType(src)
		p.Text, _ = f.GetString("text")
		p.OwnerRaw, _ = f.GetString("owner")
		p.TargetRaw, _ = f.GetString("target")
		p.SourcePath, _ = f.GetString("path")
		p.SourceQuote, _ = f.GetString("quote")
		p.SourceSpan, _ = f.GetString("span")
		p.SourceMessageID, _ = f.GetString("message-id")
		p.DealSlugHint, _ = f.GetString("deal")
		if at, _ := f.GetString("at"); at != "" {
			p.OccurredAt = sinceFlag(at)
		}

		res, err := graph.RecordExtractedItem(rootCtx, p)
		checkErr(err, "failed to record item")
		logger.Info("recorded item", "id", res.ItemID, "actor", actor, "trust", res.TrustLevel)
		if jsonOutput {
			outputJSON(res)
			return
		}
		fmt.Println(ui.RenderRecordResult(res))
	},
}

var itemsBackfillCmd = &cobra.Command{
	Use:   "backfill <id>",
	Short: "Attach a missing quote or source path to an item",
	Long: `Fill in provenance an item was recorded without. Values already present
are kept, and trust is recomputed but never lowered.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		quote, _ := cmd.Flags().GetString("quote")
		path, _ := cmd.Flags().GetString("path")
		if quote == "" && path == "" {
			FatalError("nothing to backfill: pass --quote and/or --path")
		}
		res, err := graph.BackfillProvenance(rootCtx, args[0], quote, path)
		checkErr(err, "failed to backfill")
		logger.Info("backfilled provenance", "id", res.ItemID, "actor", actor, "trust", res.TrustLevel)
		if jsonOutput {
			outputJSON(res)
			return
		}
		fmt.Println(ui.RenderRecordResult(res))
	},
}

var itemsRecomputeCmd = &cobra.Command{
	Use:   "recompute <entity>",
	Short: "Re-derive trust for an entity's items",
	Long: `Recompute trust for every item owned by or targeting an entity and retry
targets that did not resolve before. Confirm, merge and alias already do
this; use it after a failure was reported.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		n, err := graph.RecomputeTrust(rootCtx, args[0])
		checkErr(err, "failed to recompute trust")
		if jsonOutput {
			outputJSON(map[string]any{"entity": args[0], "changed": n})
			return
		}
		printOK("%d item(s) updated", n)
	},
}

func init() {
	af := itemsActionableCmd.Flags()
	af.String("owner", "", "Owner entity slug")
	af.String("target", "", "Target entity slug")
	af.String("deal", "", "Deal slug")
	af.StringSlice("type", nil, "Item type (repeatable): action_item, promise, decision, metric, question, deal_mention")
	af.String("min-trust", "", "Minimum trust: high or medium")
	af.String("since", "", "Only items at or after this time")
	af.Int("limit", 100, "Maximum items (0 for all)")

	rf := itemsRecordCmd.Flags()
	rf.String("type", "", "Item type (required)")
	rf.String("text", "", "Item text")
	rf.String("owner", "", "Owner mention (required)")
	rf.String("target", "", "Target mention")
	rf.String("source", "", "Source type: call, email, telegram (required)")
	rf.String("path", "", "Source file path")
	rf.String("quote", "", "Verbatim quote backing the item")
	rf.String("span", "", "Location inside the source (timestamp range, message id, line)")
	rf.String("message-id", "", "Source message id")
	rf.String("deal", "", "Deal slug hint")
	rf.String("at", "", "When it was said (default: now)")
	_ = itemsRecordCmd.MarkFlagRequired("type")
	_ = itemsRecordCmd.MarkFlagRequired("owner")
	_ = itemsRecordCmd.MarkFlagRequired("source")

	itemsBackfillCmd.Flags().String("quote", "", "Quote to attach")
	itemsBackfillCmd.Flags().String("path", "", "Source path to attach")

	itemsCmd.AddCommand(itemsActionableCmd, itemsShowCmd, itemsRecordCmd, itemsBackfillCmd, itemsRecomputeCmd)
	rootCmd.AddCommand(itemsCmd)
}
