package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/untoldecay/ctxgraph"
	"github.com/untoldecay/ctxgraph/internal/config"
	"github.com/untoldecay/ctxgraph/internal/storage/sqlite"
	"github.com/untoldecay/ctxgraph/internal/ui"
)

// initConfig is the starter config.yaml written by cg init.
type initConfig struct {
	Log struct {
		Level string `yaml:"level"`
		File  string `yaml:"file"`
	} `yaml:"log"`
	Index struct {
		Workers     int    `yaml:"workers"`
		LockTimeout string `yaml:"lock-timeout"`
	} `yaml:"index"`
	Freshness struct {
		Horizon string `yaml:"horizon"`
	} `yaml:"freshness"`
	Watch struct {
		Debounce     string `yaml:"debounce"`
		PollInterval string `yaml:"poll-interval"`
	} `yaml:"watch"`
}

var initCmd = &cobra.Command{
	Use:     "init",
	GroupID: "setup",
	Short:   "Create a context graph in the current directory",
	Long: `Create .ctxgraph/ with an empty graph database, a lock directory and a
starter config.yaml. Running init again on an existing graph only applies
pending migrations.

Examples:
  cg init
  cg init --dir ~/crm
  cg init --json`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		base, _ := cmd.Flags().GetString("dir")
		if base == "" {
			wd, err := os.Getwd()
			if err != nil {
				FatalError("failed to get working directory: %v", err)
			}
			base = wd
		}
		dir := filepath.Join(base, config.DirName)
		path := filepath.Join(dir, config.DBFileName)
		if p := config.GetString("db"); p != "" {
			path = p
		}
		_, statErr := os.Stat(path)
		existing := statErr == nil

		lockDir := config.LockDir(path)
		g, err := ctxgraph.Open(rootCtx, path, ctxgraph.Options{LockDir: lockDir, Logger: logger})
		checkErr(err, "failed to create database")
		defer func() { _ = g.Close() }()

		cfgPath := filepath.Join(filepath.Dir(path), "config.yaml")
		if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
			if err := writeStarterConfig(cfgPath); err != nil {
				FatalError("%v", err)
			}
		}

		res := ui.InitResult{
			DBPath:        path,
			LockDir:       lockDir,
			ConfigFile:    cfgPath,
			SchemaVersion: sqlite.CurrentSchemaVersion,
			Existing:      existing,
			NextSteps: []string{
				"cg ingest <batch.json>     # index an extraction batch",
				"cg watch <inbox-dir>       # index batches as they arrive",
				"cg status                  # check index freshness",
			},
		}
		if !existing {
			for _, m := range sqlite.ListMigrations() {
				res.Migrations = append(res.Migrations, m.Name)
			}
		}
		if jsonOutput {
			outputJSON(res)
			return
		}
		fmt.Println(ui.RenderInitReport(res, ui.GetWidth()))
	},
}

func writeStarterConfig(path string) error {
	var c initConfig
	c.Log.Level = config.GetString("log.level")
	c.Log.File = config.GetString("log.file")
	c.Index.Workers = config.GetInt("index.workers")
	c.Index.LockTimeout = config.GetDuration("index.lock-timeout").String()
	c.Freshness.Horizon = config.GetDuration("freshness.horizon").String()
	c.Watch.Debounce = config.GetDuration("watch.debounce").String()
	c.Watch.PollInterval = config.GetDuration("watch.poll-interval").String()

	data, err := yaml.Marshal(&c)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	header := []byte("# cg configuration. CG_* environment variables override these values.\n")
	// #nosec G306 - config file is meant to be readable
	if err := os.WriteFile(path, append(header, data...), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

func init() {
	initCmd.Flags().String("dir", "", "Directory to create .ctxgraph in (default: current directory)")
	rootCmd.AddCommand(initCmd)
}
