package main

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/spf13/cobra"

	"github.com/untoldecay/ctxgraph"
	"github.com/untoldecay/ctxgraph/internal/types"
	"github.com/untoldecay/ctxgraph/internal/ui"
	"github.com/untoldecay/ctxgraph/internal/watcher"
)

var ingestCmd = &cobra.Command{
	Use:     "ingest <file|dir>...",
	GroupID: "graph",
	Short:   "Index extraction batch files",
	Long: `Index extraction batches produced by the extraction step. Each file holds
one batch, a JSON array of batches, JSON lines, or YAML documents. A
directory argument ingests every batch file directly inside it.

All files are indexed as one run. Invalid batches are reported and skipped;
a batch whose source file is unchanged since the last run is skipped
without re-extraction.

Examples:
  cg ingest inbox/acme-2024-06-03.json
  cg ingest inbox/
  cg ingest --json inbox/*.yaml`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		paths, err := expandBatchArgs(args)
		if err != nil {
			FatalError("%v", err)
		}
		if len(paths) == 0 {
			FatalErrorWithHint("no batch files found", "batch files end in .json, .jsonl, .yaml or .yml")
		}

		report, err := graph.IngestFiles(rootCtx, paths)
		if report != nil {
			printRunReport(report)
		}
		checkErr(err, "index run failed")
		if report.FilesRejected > 0 {
			os.Exit(2)
		}
	},
}

// expandBatchArgs replaces directory arguments with the batch files they
// contain and drops duplicates.
func expandBatchArgs(args []string) ([]string, error) {
	var out []string
	for _, a := range args {
		st, err := os.Stat(a)
		if err != nil {
			return nil, err
		}
		if !st.IsDir() {
			out = append(out, a)
			continue
		}
		entries, err := os.ReadDir(a)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", a, err)
		}
		for _, e := range entries {
			if e.Type().IsRegular() && watcher.IsBatchFile(e.Name()) {
				out = append(out, filepath.Join(a, e.Name()))
			}
		}
	}
	slices.Sort(out)
	return slices.Compact(out), nil
}

func printRunReport(report *ctxgraph.RunReport) {
	if jsonOutput {
		outputJSON(report)
		return
	}
	fmt.Println(ui.RenderRunReport(report, ui.GetWidth()))
}

var noteChangeCmd = &cobra.Command{
	Use:     "note-change <path>",
	GroupID: "graph",
	Short:   "Tell the graph a source file changed",
	Long: `Record a change to a source document and print what indexing should do:

  new              never seen; extract it
  content_changed  content checksum differs; re-extract it
  metadata_only    only metadata changed; recorded, no extraction needed
  unchanged        nothing to do

Exit status is 0 when extraction is needed and 3 when it is not, so shell
pipelines can gate the extraction step on it.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		meta, _ := cmd.Flags().GetString("metadata")
		content, _ := cmd.Flags().GetString("content")
		if meta == "" || content == "" {
			FatalErrorWithHint("--metadata and --content checksums are required", "pass the checksums your file scanner computed")
		}
		d, err := graph.NoteFileChange(rootCtx, ctxgraph.FileChange{
			Path:             args[0],
			MetadataChecksum: meta,
			ContentChecksum:  content,
		})
		checkErr(err, "failed to record change")

		if jsonOutput {
			outputJSON(map[string]any{"path": args[0], "decision": d, "needs_extraction": d.NeedsExtraction()})
		} else {
			label := ui.RenderMuted(string(d))
			if d.NeedsExtraction() {
				label = ui.RenderWarn(string(d))
			}
			fmt.Printf("%s %s\n", args[0], label)
		}
		if !d.NeedsExtraction() {
			os.Exit(3)
		}
	},
}

// statusCmd reports index freshness.
var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "views",
	Short:   "Show index freshness",
	Long: `Show when the index last completed a run and whether it is fresh, stale,
never built, or unknown because the run history could not be read.

Stale data is still served by every query; status only says a refresh is
due. Exit status is 0 when fresh, 1 when never built or indeterminate, and
2 when stale.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		f := graph.FreshnessStatus(rootCtx)
		if jsonOutput {
			out := map[string]any{
				"freshness":     f,
				"horizon_hours": graph.FreshnessHorizon().Hours(),
			}
			if f.Err != nil {
				out["error"] = f.Err.Error()
			}
			outputJSON(out)
		} else {
			fmt.Println(ui.RenderFreshness(f, graph.FreshnessHorizon()))
		}
		switch {
		case f.NeedsRefresh():
			os.Exit(2)
		case f.Err != nil, f.NeedsInitialBuild():
			os.Exit(1)
		}
	},
}

var timelineCmd = &cobra.Command{
	Use:     "timeline <entity>",
	GroupID: "views",
	Short:   "Show interactions and items for an entity, newest first",
	Example: `  cg timeline alex-chen
  cg timeline acme --since "2 weeks ago" --limit 20`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		since, _ := cmd.Flags().GetString("since")
		limit, _ := cmd.Flags().GetInt("limit")
		filter := ctxgraph.TimelineFilter{Since: sinceFlag(since), Limit: limit}

		var entries []types.TimelineEntry
		for e, err := range graph.EntityTimeline(rootCtx, args[0], filter) {
			checkErr(err, "failed to read timeline")
			entries = append(entries, e)
		}
		if jsonOutput {
			outputJSON(entries)
			return
		}
		fmt.Println(ui.RenderTimeline(args[0], entries, ui.GetWidth()))
	},
}

func init() {
	noteChangeCmd.Flags().String("metadata", "", "Metadata checksum (size, mtime, ...)")
	noteChangeCmd.Flags().String("content", "", "Content checksum")
	timelineCmd.Flags().String("since", "", "Only entries at or after this time")
	timelineCmd.Flags().Int("limit", 50, "Maximum entries (0 for all)")

	rootCmd.AddCommand(ingestCmd, noteChangeCmd, statusCmd, timelineCmd)
}
