package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/untoldecay/ctxgraph"
	"github.com/untoldecay/ctxgraph/internal/config"
	"github.com/untoldecay/ctxgraph/internal/logging"
	"github.com/untoldecay/ctxgraph/internal/ui"
)

// Version is set by the build.
var Version = "0.1.0-dev"

var (
	dbPath     string
	jsonOutput bool
	actor      string
	noColor    bool

	rootCtx    context.Context
	rootCancel context.CancelFunc
	graph      *ctxgraph.Graph
	logger     *slog.Logger
	logCloser  io.Closer
)

// noDBCommands run without opening the graph.
var noDBCommands = map[string]bool{
	"init":       true,
	"version":    true,
	"help":       true,
	"config":     true,
	"completion": true,
}

var rootCmd = &cobra.Command{
	Use:   "cg",
	Short: "cg - context graph for calls, email and chat",
	Long: `cg keeps a local graph of the people, companies and deals that appear in
call transcripts, email and chat, and of the action items, promises,
decisions and metrics extracted from them. Every item carries the quote and
file it came from and a trust level saying how far automation may rely on it.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Initialize(); err != nil {
			return err
		}
		applyFlagOverrides(cmd)

		if noColor {
			_ = os.Setenv("NO_COLOR", "1")
		}
		ui.ApplyColorPreference()

		var err error
		logger, logCloser, err = logging.New(logging.Options{
			Level:      config.GetString("log.level"),
			File:       config.GetString("log.file"),
			MaxSizeMB:  config.GetInt("log.max-size-mb"),
			MaxBackups: config.GetInt("log.max-backups"),
			MaxAgeDays: config.GetInt("log.max-age-days"),
		}, os.Stderr)
		if err != nil {
			return err
		}
		slog.SetDefault(logger)

		if skipsDatabase(cmd) {
			return nil
		}
		return openGraph(cmd.Context())
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if graph != nil {
			if err := graph.Close(); err != nil {
				logger.Warn("failed to close graph", "error", err)
			}
		}
		if logCloser != nil {
			_ = logCloser.Close()
		}
	},
}

func skipsDatabase(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if noDBCommands[c.Name()] {
			return true
		}
	}
	return false
}

// applyFlagOverrides pushes explicitly set persistent flags into config so
// they win over config.yaml and CG_* variables.
func applyFlagOverrides(cmd *cobra.Command) {
	flags := cmd.Flags()
	if flags.Changed("db") {
		config.Set("db", dbPath)
	}
	if flags.Changed("json") {
		config.Set("json", jsonOutput)
	}
	if flags.Changed("actor") {
		config.Set("actor", actor)
	}
	if flags.Changed("log-level") {
		lvl, _ := flags.GetString("log-level")
		config.Set("log.level", lvl)
	}
	if flags.Changed("lock-dir") {
		dir, _ := flags.GetString("lock-dir")
		config.Set("lock-dir", dir)
	}
	jsonOutput = config.GetBool("json")
	actor = config.GetActor(actor)
}

func openGraph(ctx context.Context) error {
	path := config.DBPath()
	if path == "" {
		FatalErrorWithHint("no context graph found", "run 'cg init' to create one, or pass --db")
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		FatalErrorWithHint(fmt.Sprintf("database %s does not exist", path), "run 'cg init' first")
	}
	g, err := ctxgraph.Open(ctx, path, ctxgraph.Options{
		LockDir:     config.LockDir(path),
		Actor:       actor,
		Workers:     config.GetInt("index.workers"),
		LockTimeout: config.GetDuration("index.lock-timeout"),
		Horizon:     config.GetDuration("freshness.horizon"),
		Logger:      logger,
	})
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	graph = g
	logger.Debug("opened graph", "db", path, "actor", actor)
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Database path (default: nearest .ctxgraph/graph.db)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().StringVar(&actor, "actor", "", "Operator name for audit (default: $CG_ACTOR, git user.name, $USER)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("lock-dir", "", "Directory for per-file lock files")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")

	rootCmd.AddGroup(
		&cobra.Group{ID: "setup", Title: "Setup:"},
		&cobra.Group{ID: "graph", Title: "Graph:"},
		&cobra.Group{ID: "views", Title: "Views:"},
		&cobra.Group{ID: "maint", Title: "Maintenance:"},
	)
}

func main() {
	rootCtx, rootCancel = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer rootCancel()

	if err := rootCmd.ExecuteContext(rootCtx); err != nil {
		if jsonOutput {
			outputJSON(map[string]string{"error": err.Error()})
		}
		os.Exit(1)
	}
}
