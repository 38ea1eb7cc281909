package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/untoldecay/ctxgraph"
	"github.com/untoldecay/ctxgraph/internal/ui"
)

// outputJSON writes v to stdout as indented JSON.
func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding JSON: %v\n", err)
		os.Exit(1)
	}
}

// FatalError prints an error and exits with status 1. With --json the error
// goes to stdout as an object instead.
func FatalError(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if jsonOutput {
		outputJSON(map[string]string{"error": msg})
	} else {
		fmt.Fprintf(os.Stderr, "%s %s\n", ui.RenderFail("Error:"), msg)
	}
	os.Exit(1)
}

// FatalErrorWithHint is FatalError with a suggested next step.
func FatalErrorWithHint(msg, hint string) {
	if jsonOutput {
		outputJSON(map[string]string{"error": msg, "hint": hint})
	} else {
		fmt.Fprintf(os.Stderr, "%s %s\n", ui.RenderFail("Error:"), msg)
		fmt.Fprintf(os.Stderr, "%s %s\n", ui.RenderMuted("Hint:"), hint)
	}
	os.Exit(1)
}

// checkErr exits on err, adding a hint for errors an operator can act on.
func checkErr(err error, what string) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, ctxgraph.ErrNotFound):
		FatalErrorWithHint(fmt.Sprintf("%s: %v", what, err), "check the slug with 'cg entity list' or 'cg entity suggest'")
	case errors.Is(err, ctxgraph.ErrSchemaTooNew):
		FatalErrorWithHint(fmt.Sprintf("%s: %v", what, err), "upgrade cg; this database was written by a newer version")
	case errors.Is(err, ctxgraph.ErrStoreUnavailable):
		FatalErrorWithHint(fmt.Sprintf("%s: %v", what, err), "another process may hold the database; retry shortly")
	default:
		FatalError("%s: %v", what, err)
	}
}

// printOK prints a success line.
func printOK(format string, args ...any) {
	fmt.Printf("%s %s\n", ui.RenderPass(ui.Icon("✓", "ok")), fmt.Sprintf(format, args...))
}
