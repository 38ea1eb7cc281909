package indexer

import (
	"slices"

	"github.com/untoldecay/ctxgraph/internal/provenance"
	"github.com/untoldecay/ctxgraph/internal/types"
)

// FileOutcome says what a run did with one extraction batch.
type FileOutcome string

const (
	OutcomeIndexed  FileOutcome = "indexed"
	OutcomeSkipped  FileOutcome = "skipped"  // checksums unchanged or metadata only
	OutcomeLocked   FileOutcome = "locked"   // another run holds the path
	OutcomeRejected FileOutcome = "rejected" // failed validation
)

// FileResult is the per-batch part of a RunReport.
type FileResult struct {
	Path          string                     `json:"path"`
	Outcome       FileOutcome                `json:"outcome"`
	Decision      types.FileDecision         `json:"decision,omitempty"`
	InteractionID string                     `json:"interaction_id,omitempty"`
	Participants  []string                   `json:"participants,omitempty"`
	Items         []*provenance.RecordResult `json:"items,omitempty"`
	Error         string                     `json:"error,omitempty"`

	// BatchFile is the file the batch was decoded from, when it came from one.
	BatchFile string `json:"batch_file,omitempty"`

	candidates int
}

// RunReport summarizes an indexing run.
type RunReport struct {
	RunID             int64           `json:"run_id"`
	Status            types.RunStatus `json:"status"`
	FilesSeen         int             `json:"files_seen"`
	FilesIndexed      int             `json:"files_indexed"`
	FilesSkipped      int             `json:"files_skipped"`
	FilesLocked       int             `json:"files_locked"`
	FilesRejected     int             `json:"files_rejected"`
	ItemsRecorded     int             `json:"items_recorded"`
	ItemsDuplicate    int             `json:"items_duplicate"`
	ItemsSuperseded   int             `json:"items_superseded"`
	ItemsDegraded     int             `json:"items_degraded"`
	CandidatesCreated int             `json:"candidates_created"`
	Files             []FileResult    `json:"files"`
}

func (r *RunReport) add(f FileResult) {
	r.Files = append(r.Files, f)
	r.FilesSeen++
	switch f.Outcome {
	case OutcomeIndexed:
		r.FilesIndexed++
	case OutcomeSkipped:
		r.FilesSkipped++
	case OutcomeLocked:
		r.FilesLocked++
	case OutcomeRejected:
		r.FilesRejected++
	}
	r.CandidatesCreated += f.candidates
	for _, it := range f.Items {
		switch {
		case it.Duplicate:
			r.ItemsDuplicate++
		default:
			r.ItemsRecorded++
		}
		if it.OwnerCreated {
			r.CandidatesCreated++
		}
		r.ItemsSuperseded += len(it.Superseded)
		if len(it.Degradations) > 0 {
			r.ItemsDegraded++
		}
	}
}

// DoneFiles lists the batch files whose batches were all indexed or
// skipped, sorted. A file with any locked or rejected batch is left out.
func (r *RunReport) DoneFiles() []string {
	ok := make(map[string]bool)
	for _, f := range r.Files {
		if f.BatchFile == "" {
			continue
		}
		done := f.Outcome == OutcomeIndexed || f.Outcome == OutcomeSkipped
		if prev, seen := ok[f.BatchFile]; seen {
			done = done && prev
		}
		ok[f.BatchFile] = done
	}
	var out []string
	for p, done := range ok {
		if done {
			out = append(out, p)
		}
	}
	slices.Sort(out)
	return out
}
