package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/untoldecay/ctxgraph"
	"github.com/untoldecay/ctxgraph/internal/config"
	"github.com/untoldecay/ctxgraph/internal/resolver"
	"github.com/untoldecay/ctxgraph/internal/types"
	"github.com/untoldecay/ctxgraph/internal/ui"
)

var entityCmd = &cobra.Command{
	Use:     "entity",
	GroupID: "graph",
	Aliases: []string{"entities"},
	Short:   "Review and curate people, companies, products and groups",
}

var entityListCmd = &cobra.Command{
	Use:   "list",
	Short: "List entities, most recently seen first",
	Example: `  cg entity list --candidates
  cg entity list --type company --all`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		candidates, _ := cmd.Flags().GetBool("candidates")
		canonical, _ := cmd.Flags().GetBool("canonical")
		all, _ := cmd.Flags().GetBool("all")
		typ, _ := cmd.Flags().GetString("type")
		limit, _ := cmd.Flags().GetInt("limit")
		if candidates && canonical {
			FatalError("--candidates and --canonical are mutually exclusive")
		}

		filter := ctxgraph.EntityFilter{IncludeInactive: all, Type: types.EntityType(typ), Limit: limit}
		switch {
		case candidates:
			k := types.Candidate
			filter.Kind = &k
		case canonical:
			k := types.Canonical
			filter.Kind = &k
		}
		ents, err := graph.ListEntities(rootCtx, filter)
		checkErr(err, "failed to list entities")
		if jsonOutput {
			outputJSON(ents)
			return
		}
		fmt.Println(ui.RenderEntities(ents, ui.GetWidth()))
	},
}

var entityShowCmd = &cobra.Command{
	Use:   "show <slug>",
	Short: "Show an entity with its handles and aliases",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		e, err := graph.GetEntity(rootCtx, args[0])
		checkErr(err, "failed to get entity")
		if jsonOutput {
			outputJSON(e)
			return
		}
		fmt.Println(ui.RenderEntity(e))
	},
}

var entityAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Add a known (canonical) entity",
	Example: `  cg entity add "Alex Chen" --handle email:alex@acme.io --alias AC
  cg entity add "Acme Corp" --type company --slug acme`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		slug, _ := cmd.Flags().GetString("slug")
		typ, _ := cmd.Flags().GetString("type")
		aliases, _ := cmd.Flags().GetStringSlice("alias")
		handles, _ := cmd.Flags().GetStringSlice("handle")

		t := types.EntityType(typ)
		if !t.IsValid() {
			FatalError("unknown entity type %q", typ)
		}
		if slug == "" {
			slug = resolver.Slugify(args[0])
		}
		e := types.NewCanonical(slug, args[0], t)
		e.Aliases = aliases
		for _, h := range handles {
			handle, err := parseHandle(h)
			if err != nil {
				FatalError("%v", err)
			}
			e.Handles = append(e.Handles, handle)
		}
		checkErr(graph.CreateEntity(rootCtx, e), "failed to add entity")
		logger.Info("added entity", "slug", slug, "actor", actor)
		if jsonOutput {
			outputJSON(e)
			return
		}
		printOK("added %s (%s)", args[0], slug)
	},
}

var entityConfirmCmd = &cobra.Command{
	Use:   "confirm <slug>...",
	Short: "Promote candidates to canonical",
	Long: `Promote candidate entities to canonical. Items they own or target are
re-scored, so their trust can rise to high.`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		for _, slug := range args {
			checkErr(graph.ConfirmEntity(rootCtx, slug), "failed to confirm "+slug)
			logger.Info("confirmed entity", "slug", slug, "actor", actor)
			if !jsonOutput {
				printOK("confirmed %s", slug)
			}
		}
		if jsonOutput {
			outputJSON(map[string]any{"confirmed": args})
		}
	},
}

var entityMergeCmd = &cobra.Command{
	Use:   "merge <candidate> <canonical>",
	Short: "Merge a candidate into a canonical entity",
	Long: `Fold a candidate into a canonical entity. Items, interactions, handles and
past mentions move to the canonical entity, and the candidate is kept as a
merged tombstone so its slug keeps resolving. Merges cannot be undone.`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		yes, _ := cmd.Flags().GetBool("yes")
		if !yes && !jsonOutput && ui.IsInputTerminal() {
			q := fmt.Sprintf("Merge %s into %s? This cannot be undone.", args[0], args[1])
			if !ui.PromptYesNo(os.Stdin, os.Stdout, q, false) {
				fmt.Println("Cancelled.")
				return
			}
		}
		res, err := graph.MergeEntities(rootCtx, args[0], args[1])
		if errors.Is(err, ctxgraph.ErrMergeConflict) {
			FatalErrorWithHint(err.Error(), "only an active candidate can be merged into an active canonical entity")
		}
		checkErr(err, "merge failed")
		logger.Info("merged entity", "from", res.From, "into", res.Into, "actor", actor)
		if jsonOutput {
			outputJSON(res)
			return
		}
		printOK("merged %s into %s: %d owned and %d targeted items, %d interactions, %d mentions",
			res.From, res.Into, res.OwnedItemsMoved, res.TargetedItemsMoved, res.InteractionRefsMoved, res.MentionKeysRepointed)
	},
}

var entityDeactivateCmd = &cobra.Command{
	Use:   "deactivate <slug>",
	Short: "Stop resolving mentions to an entity",
	Long: `Mark an entity inactive. Its handles and name stop matching new mentions;
existing items keep pointing at it.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		checkErr(graph.DeactivateEntity(rootCtx, args[0]), "failed to deactivate")
		logger.Info("deactivated entity", "slug", args[0], "actor", actor)
		if jsonOutput {
			outputJSON(map[string]string{"deactivated": args[0]})
			return
		}
		printOK("deactivated %s", args[0])
	},
}

var entityAliasCmd = &cobra.Command{
	Use:   "alias <slug> <alias>",
	Short: "Add an alias mentions can resolve by",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		checkErr(graph.AddAlias(rootCtx, args[0], args[1]), "failed to add alias")
		logger.Info("added alias", "slug", args[0], "alias", args[1], "actor", actor)
		if jsonOutput {
			outputJSON(map[string]string{"slug": args[0], "alias": args[1]})
			return
		}
		printOK("%s is now also known as %q", args[0], args[1])
	},
}

var entityHandleCmd = &cobra.Command{
	Use:     "handle <slug> <kind:value>",
	Short:   "Attach a contact handle",
	Example: `  cg entity handle alex-chen email:alex@acme.io`,
	Args:    cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		h, err := parseHandle(args[1])
		if err != nil {
			FatalError("%v", err)
		}
		checkErr(graph.AddHandle(rootCtx, args[0], h.Kind, h.Value), "failed to add handle")
		logger.Info("added handle", "slug", args[0], "kind", h.Kind, "actor", actor)
		if jsonOutput {
			outputJSON(map[string]any{"slug": args[0], "handle": h})
			return
		}
		printOK("%s: %s %s", args[0], h.Kind, h.Value)
	},
}

var entitySuggestCmd = &cobra.Command{
	Use:   "suggest",
	Short: "List candidates that look like known entities",
	Long: `Compare every active candidate with canonical entities of the same type
by edit distance over names and aliases. Nothing is merged.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		suggestions := loadSuggestions(cmd)
		if jsonOutput {
			outputJSON(suggestions)
			return
		}
		fmt.Println(ui.RenderSuggestions(suggestions, ui.GetWidth()))
	},
}

var entityReviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Interactively approve suggested merges",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		suggestions := loadSuggestions(cmd)
		if len(suggestions) == 0 {
			fmt.Println(ui.RenderMuted("No merge suggestions."))
			return
		}
		approved, err := ui.ReviewMerges(suggestions)
		if errors.Is(err, ui.ErrNotInteractive) {
			FatalErrorWithHint("review needs an interactive terminal", "use 'cg entity suggest' and 'cg entity merge'")
		}
		if err != nil {
			FatalError("%v", err)
		}
		for _, s := range approved {
			res, err := graph.MergeEntities(rootCtx, s.CandidateSlug, s.CanonicalSlug)
			if err != nil {
				fmt.Printf("%s %s -> %s: %v\n", ui.RenderFail("x"), s.CandidateSlug, s.CanonicalSlug, err)
				continue
			}
			logger.Info("merged entity", "from", res.From, "into", res.Into, "actor", actor)
			printOK("merged %s into %s", res.From, res.Into)
		}
	},
}

var entityHistoryCmd = &cobra.Command{
	Use:   "history <slug>",
	Short: "Show operator actions taken on an entity",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		limit, _ := cmd.Flags().GetInt("limit")
		events, err := graph.EntityHistory(rootCtx, args[0], limit)
		checkErr(err, "failed to read history")
		if jsonOutput {
			outputJSON(events)
			return
		}
		if len(events) == 0 {
			fmt.Println(ui.RenderMuted("No recorded actions."))
			return
		}
		t := ui.NewTable(ui.GetWidth(), "When", "Action", "Value", "Actor")
		for _, ev := range events {
			t.Row(ev.CreatedAt.Local().Format("2006-01-02 15:04"), string(ev.Type), ev.NewValue, ev.Actor)
		}
		fmt.Println(t.String())
	},
}

func loadSuggestions(cmd *cobra.Command) []ctxgraph.MergeSuggestion {
	maxDist := config.GetInt("suggest.max-distance")
	if cmd.Flags().Changed("max-distance") {
		maxDist, _ = cmd.Flags().GetInt("max-distance")
	}
	suggestions, err := graph.SuggestMerges(rootCtx, maxDist)
	checkErr(err, "failed to compute suggestions")
	return suggestions
}

var entityImportCmd = &cobra.Command{
	Use:   "import <roster.toml>",
	Short: "Import known entities from a TOML roster",
	Long: `Add canonical entities from a roster file. Entities that already exist get
any new aliases and handles; nothing is removed.

  [[entity]]
  name = "Alex Chen"
  type = "person"
  aliases = ["AC"]
  handles = ["email:alex@acme.io"]

  [[entity]]
  slug = "acme"
  name = "Acme Corp"
  type = "company"`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		entries, err := loadRoster(args[0])
		if err != nil {
			FatalError("%v", err)
		}
		var added, updated int
		for _, e := range entries {
			_, err := graph.GetEntity(rootCtx, e.Slug)
			switch {
			case errors.Is(err, ctxgraph.ErrNotFound):
				checkErr(graph.CreateEntity(rootCtx, e), "failed to add "+e.Slug)
				added++
				continue
			case err != nil:
				checkErr(err, "failed to read "+e.Slug)
			}
			for _, a := range e.Aliases {
				checkErr(graph.AddAlias(rootCtx, e.Slug, a), "failed to add alias to "+e.Slug)
			}
			for _, h := range e.Handles {
				checkErr(graph.AddHandle(rootCtx, e.Slug, h.Kind, h.Value), "failed to add handle to "+e.Slug)
			}
			updated++
		}
		logger.Info("imported roster", "file", args[0], "added", added, "updated", updated, "actor", actor)
		if jsonOutput {
			outputJSON(map[string]int{"added": added, "updated": updated})
			return
		}
		printOK("%d added, %d updated", added, updated)
	},
}

func init() {
	entityListCmd.Flags().Bool("candidates", false, "Only candidates")
	entityListCmd.Flags().Bool("canonical", false, "Only canonical entities")
	entityListCmd.Flags().Bool("all", false, "Include inactive and merged entities")
	entityListCmd.Flags().String("type", "", "Only this entity type")
	entityListCmd.Flags().Int("limit", 0, "Maximum entities (0 for all)")

	entityAddCmd.Flags().String("slug", "", "Slug (default: derived from the name)")
	entityAddCmd.Flags().String("type", string(types.EntityPerson), "Entity type: person, company, product, group")
	entityAddCmd.Flags().StringSlice("alias", nil, "Alias (repeatable)")
	entityAddCmd.Flags().StringSlice("handle", nil, "Handle as kind:value (repeatable)")

	entityHistoryCmd.Flags().Int("limit", 0, "Maximum events (0 for all)")
	entityMergeCmd.Flags().BoolP("yes", "y", false, "Do not ask for confirmation")
	entitySuggestCmd.Flags().Int("max-distance", 2, "Maximum edit distance")
	entityReviewCmd.Flags().Int("max-distance", 2, "Maximum edit distance")

	entityCmd.AddCommand(entityListCmd, entityShowCmd, entityAddCmd, entityConfirmCmd, entityMergeCmd,
		entityDeactivateCmd, entityAliasCmd, entityHandleCmd, entitySuggestCmd, entityReviewCmd, entityImportCmd, entityHistoryCmd)
	rootCmd.AddCommand(entityCmd)
}
