package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/untoldecay/ctxgraph"
	"github.com/untoldecay/ctxgraph/internal/types"
	"github.com/untoldecay/ctxgraph/internal/ui"
)

var resolveCmd = &cobra.Command{
	Use:     "resolve <mention>",
	GroupID: "graph",
	Short:   "Map a raw mention to an entity",
	Long: `Resolve a name, alias or handle the way indexing does: exact handle first,
then canonical name, then alias, then earlier mentions. An unmatched
mention becomes a new candidate unless --lookup is given.

With --lookup, a miss prints the closest known names instead.

Examples:
  cg resolve "Alex Chen"
  cg resolve alex@acme.io --source email
  cg resolve "@alexc" --handle-kind telegram --lookup`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		lookup, _ := cmd.Flags().GetBool("lookup")
		handle, _ := cmd.Flags().GetString("handle")
		kind, _ := cmd.Flags().GetString("handle-kind")
		src, _ := cmd.Flags().GetString("source")
		typ, _ := cmd.Flags().GetString("type")

		rc := ctxgraph.ResolveContext{
			Handle:     handle,
			HandleKind: types.HandleKind(kind),
			SourceType: types.SourceType(src),
			EntityType: types.EntityType(typ),
		}
		if kind != "" && !rc.HandleKind.IsValid() {
			FatalError("unknown handle kind %q", kind)
		}

		var (
			res ctxgraph.Resolution
			err error
		)
		if lookup {
			res, err = graph.LookupEntity(rootCtx, args[0], rc)
		} else {
			res, err = graph.ResolveEntity(rootCtx, args[0], rc)
		}
		checkErr(err, "resolution failed")

		if !res.Resolved() {
			hints, herr := graph.SuggestNames(rootCtx, args[0], 5)
			if herr != nil {
				logger.Warn("failed to suggest names", "term", args[0], "error", herr)
			}
			if jsonOutput {
				outputJSON(map[string]any{"resolution": res, "suggestions": hints})
			} else {
				fmt.Println(ui.RenderNameSuggestions(args[0], hints))
				if d := res.Degradation(); errors.Is(d, ctxgraph.ErrResolutionAmbiguous) {
					fmt.Println(ui.RenderWarn(fmt.Sprintf("ambiguous between: %v", res.Ambiguous)))
				}
			}
			os.Exit(3)
		}

		if jsonOutput {
			outputJSON(res)
			return
		}
		label := ui.RenderKind(res.Kind)
		if res.Created {
			label = ui.RenderWarn("new candidate")
		}
		fmt.Printf("%s %s %s\n", ui.RenderBold(res.Slug), label, ui.RenderMuted("via "+string(res.Method)))
	},
}

func init() {
	resolveCmd.Flags().Bool("lookup", false, "Do not create a candidate on a miss")
	resolveCmd.Flags().String("handle", "", "Handle observed with the mention")
	resolveCmd.Flags().String("handle-kind", "", "Handle kind: email, telegram, phone, slack")
	resolveCmd.Flags().String("source", "", "Source type the mention came from: call, email, telegram")
	resolveCmd.Flags().String("type", "", "Entity type for a new candidate (default: person)")
	rootCmd.AddCommand(resolveCmd)
}
