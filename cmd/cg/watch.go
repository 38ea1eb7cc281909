package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/untoldecay/ctxgraph"
	"github.com/untoldecay/ctxgraph/internal/config"
	"github.com/untoldecay/ctxgraph/internal/ui"
	"github.com/untoldecay/ctxgraph/internal/watcher"
)

var watchCmd = &cobra.Command{
	Use:     "watch <inbox-dir>",
	GroupID: "graph",
	Short:   "Index batch files as they arrive in a directory",
	Long: `Watch an inbox directory and index extraction batches dropped into it.
Bursts of writes are debounced into one run. Batch files already present
are indexed once at startup.

Successfully indexed files can be moved into a done/ subdirectory with
--move-done; rejected ones stay put so they can be fixed and rewritten.

Falls back to polling where filesystem events are unavailable. Set
log.file (or CG_LOG_FILE) to keep a rotated JSON log of every run.

Examples:
  cg watch inbox/
  cg watch inbox/ --move-done --debounce 2s
  CG_WATCH_FORCE_POLLING=true cg watch /mnt/share/inbox`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		dir := args[0]
		moveDone, _ := cmd.Flags().GetBool("move-done")
		debounce := config.GetDuration("watch.debounce")
		if cmd.Flags().Changed("debounce") {
			debounce, _ = cmd.Flags().GetDuration("debounce")
		}

		process := func(paths []string) {
			report, err := graph.IngestFiles(rootCtx, paths)
			if err != nil {
				logger.Error("index run failed", "files", len(paths), "error", err)
				fmt.Fprintf(os.Stderr, "%s index run failed: %v\n", ui.RenderFail("x"), err)
				return
			}
			logger.Info("index run finished",
				"run", report.RunID, "indexed", report.FilesIndexed, "skipped", report.FilesSkipped,
				"locked", report.FilesLocked, "rejected", report.FilesRejected, "items", report.ItemsRecorded)
			printRunReport(report)
			if moveDone {
				moveIndexed(dir, report)
			}
		}

		w, err := watcher.New(dir, process, watcher.Options{
			Debounce:     debounce,
			PollInterval: config.GetDuration("watch.poll-interval"),
			ForcePolling: config.GetBool("watch.force-polling"),
			Logger:       logger,
		})
		if err != nil {
			FatalError("%v", err)
		}
		defer func() { _ = w.Close() }()

		if pending := w.Pending(); len(pending) > 0 {
			process(pending)
		}

		mode := "events"
		if w.Polling() {
			mode = "polling"
		}
		if !jsonOutput {
			fmt.Printf("%s watching %s (%s, debounce %s). Ctrl-C to stop.\n",
				ui.Icon("👀", "*"), dir, mode, debounce.Round(time.Millisecond))
		}
		w.Start(rootCtx)
		<-rootCtx.Done()
		logger.Info("watch stopped", "dir", dir)
	},
}

// moveIndexed moves files whose batches were all indexed or skipped into
// dir/done.
func moveIndexed(dir string, report *ctxgraph.RunReport) {
	done := filepath.Join(dir, "done")
	for _, p := range report.DoneFiles() {
		if err := os.MkdirAll(done, 0o750); err != nil {
			logger.Warn("failed to create done directory", "dir", done, "error", err)
			return
		}
		if err := os.Rename(p, filepath.Join(done, filepath.Base(p))); err != nil {
			logger.Warn("failed to move indexed file", "file", p, "error", err)
		}
	}
}

func init() {
	watchCmd.Flags().Bool("move-done", false, "Move indexed batch files into <inbox-dir>/done")
	watchCmd.Flags().Duration("debounce", watcher.DefaultDebounce, "Quiet period before indexing a burst of changes")
	rootCmd.AddCommand(watchCmd)
}
