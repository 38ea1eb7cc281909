package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/untoldecay/ctxgraph/internal/storage/sqlite"
	"github.com/untoldecay/ctxgraph/internal/ui"
)

var migrateCmd = &cobra.Command{
	Use:     "migrate",
	GroupID: "maint",
	Short:   "Bring the database schema up to date",
	Long: `Apply pending schema migrations. Every command already migrates on open,
so this is mostly useful to check the schema version or, with --list, to
see which migrations exist.

A database written by a newer cg is refused rather than downgraded.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		list, _ := cmd.Flags().GetBool("list")
		migrations := sqlite.ListMigrations()

		if jsonOutput {
			outputJSON(map[string]any{
				"db":             graph.Path(),
				"schema_version": sqlite.CurrentSchemaVersion,
				"migrations":     migrations,
			})
			return
		}

		printOK("%s is at schema %s", graph.Path(), sqlite.CurrentSchemaVersion)
		if !list {
			return
		}
		fmt.Println()
		for _, m := range migrations {
			fmt.Printf("  %s  %s\n", ui.RenderAccent(fmt.Sprintf("%-24s", m.Name)), ui.RenderMuted(m.Description))
		}
	},
}

func init() {
	migrateCmd.Flags().Bool("list", false, "List registered migrations")
	rootCmd.AddCommand(migrateCmd)
}
