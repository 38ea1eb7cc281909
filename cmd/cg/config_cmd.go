package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/untoldecay/ctxgraph/internal/config"
	"github.com/untoldecay/ctxgraph/internal/ui"
)

var configCmd = &cobra.Command{
	Use:     "config",
	GroupID: "setup",
	Short:   "Show effective configuration",
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every setting with its value and where it came from",
	Long: `List settings after applying defaults, config.yaml and CG_* environment
variables, in that order of increasing precedence. Flags override all of
them for a single command.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		settings := config.Settings()
		if jsonOutput {
			outputJSON(map[string]any{
				"config_file": config.ConfigFileUsed(),
				"db":          config.DBPath(),
				"settings":    settings,
			})
			return
		}
		if f := config.ConfigFileUsed(); f != "" {
			fmt.Printf("%s %s\n", ui.RenderBold("config file:"), f)
		} else {
			fmt.Printf("%s %s\n", ui.RenderBold("config file:"), ui.RenderMuted("none"))
		}
		fmt.Printf("%s %s\n\n", ui.RenderBold("database:"), config.DBPath())

		t := ui.NewTable(ui.GetWidth(), "Key", "Value", "Source", "Env")
		for _, s := range settings {
			source := string(s.Source)
			if s.Source != config.SourceDefault {
				source = ui.RenderAccent(source)
			}
			t.Row(s.Key, fmt.Sprint(s.Value), source, ui.RenderMuted(config.EnvKey(s.Key)))
		}
		fmt.Println(t.String())
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the cg version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		if jsonOutput {
			outputJSON(map[string]string{"version": Version})
			return
		}
		fmt.Printf("cg version %s\n", Version)
	},
}

func init() {
	configCmd.AddCommand(configListCmd)
	rootCmd.AddCommand(configCmd, versionCmd)
}
