// Package indexer runs extraction batches into the graph: checksum gate,
// per-path lock, entity resolution and item recording, bracketed by an
// index run row.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/untoldecay/ctxgraph/internal/lockfile"
	"github.com/untoldecay/ctxgraph/internal/provenance"
	"github.com/untoldecay/ctxgraph/internal/resolver"
	"github.com/untoldecay/ctxgraph/internal/storage"
	"github.com/untoldecay/ctxgraph/internal/types"
	"github.com/untoldecay/ctxgraph/internal/validation"
)

// Defaults for Options.
const (
	DefaultWorkers     = 4
	DefaultLockTimeout = 30 * time.Second
)

// Options tune an Indexer. Zero values take the defaults.
type Options struct {
	Workers     int
	LockTimeout time.Duration
	Logger      *slog.Logger
}

// Indexer turns extraction batches into entities, interactions and items.
type Indexer struct {
	store    storage.Storage
	resolver *resolver.Resolver
	attacher *provenance.Attacher
	locker   *lockfile.PathLocker
	opts     Options
	logger   *slog.Logger
}

// New returns an indexer.
func New(store storage.Storage, res *resolver.Resolver, att *provenance.Attacher, locker *lockfile.PathLocker, opts Options) *Indexer {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = DefaultLockTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Indexer{
		store:    store,
		resolver: res,
		attacher: att,
		locker:   locker,
		opts:     opts,
		logger:   logger,
	}
}

// Run indexes batches as one index run. Invalid batches are rejected into
// the report and locked paths are reported as locked; neither fails the
// run. A store failure aborts the run, which is then recorded as failed.
func (ix *Indexer) Run(ctx context.Context, batches []types.Extraction) (*RunReport, error) {
	return ix.run(ctx, batches, nil, nil)
}

// IndexFiles decodes the batch files at paths and indexes them as one run.
// A file that cannot be decoded is reported as rejected.
func (ix *Indexer) IndexFiles(ctx context.Context, paths []string) (*RunReport, error) {
	var (
		batches  []types.Extraction
		origins  []string
		rejected []FileResult
	)
	for _, p := range paths {
		got, err := validation.DecodeFile(p)
		if err != nil {
			ix.logger.Warn("rejected batch file", "file", p, "error", err)
			rejected = append(rejected, FileResult{Path: p, BatchFile: p, Outcome: OutcomeRejected, Error: err.Error()})
			continue
		}
		batches = append(batches, got...)
		for range got {
			origins = append(origins, p)
		}
	}
	return ix.run(ctx, batches, origins, rejected)
}

func (ix *Indexer) run(ctx context.Context, batches []types.Extraction, origins []string, pre []FileResult) (*RunReport, error) {
	runID, err := ix.store.BeginRun(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin run: %w", err)
	}
	report := &RunReport{RunID: runID, Status: types.RunRunning}
	for _, f := range pre {
		report.add(f)
	}

	results := make([]FileResult, len(batches))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ix.opts.Workers)
	for i := range batches {
		g.Go(func() error {
			res, err := ix.indexOne(gctx, &batches[i])
			if err != nil {
				return fmt.Errorf("%s: %w", batches[i].File.Path, err)
			}
			if origins != nil {
				res.BatchFile = origins[i]
			}
			results[i] = res
			return nil
		})
	}
	runErr := g.Wait()

	for _, r := range results {
		if r.Outcome != "" {
			report.add(r)
		}
	}

	run := &types.IndexRun{
		ID:            runID,
		FilesSeen:     report.FilesSeen,
		ItemsRecorded: report.ItemsRecorded,
		Status:        types.RunSuccess,
	}
	if runErr != nil {
		run.Status = types.RunFailed
		run.Error = runErr.Error()
	}
	// The run row is closed even when ctx was cancelled.
	if err := ix.store.FinishRun(context.WithoutCancel(ctx), run); err != nil {
		return report, errors.Join(runErr, fmt.Errorf("failed to finish run %d: %w", runID, err))
	}
	report.Status = run.Status

	ix.logger.Info("index run finished",
		"run", runID, "status", run.Status,
		"files", report.FilesSeen, "indexed", report.FilesIndexed, "skipped", report.FilesSkipped,
		"locked", report.FilesLocked, "rejected", report.FilesRejected,
		"items", report.ItemsRecorded, "candidates", report.CandidatesCreated)
	if runErr != nil {
		return report, fmt.Errorf("index run %d failed: %w", runID, runErr)
	}
	return report, nil
}

// indexOne processes one batch. Only store failures are returned as errors.
func (ix *Indexer) indexOne(ctx context.Context, e *types.Extraction) (FileResult, error) {
	res := FileResult{Path: e.File.Path}

	if err := validation.PrepareExtraction(e); err != nil {
		ix.logger.Warn("rejected extraction", "file", e.File.Path, "error", err)
		res.Outcome = OutcomeRejected
		res.Error = err.Error()
		return res, nil
	}

	lockCtx, cancel := context.WithTimeout(ctx, ix.opts.LockTimeout)
	unlock, err := ix.locker.Lock(lockCtx, e.File.Path)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		ix.logger.Warn("path locked, skipping", "file", e.File.Path, "error", err)
		res.Outcome = OutcomeLocked
		res.Error = err.Error()
		return res, nil
	}
	defer unlock()

	decision, err := ix.store.DecideFile(ctx, e.File)
	if err != nil {
		return res, fmt.Errorf("failed to check file: %w", err)
	}
	res.Decision = decision
	switch decision {
	case types.FileUnchanged:
		res.Outcome = OutcomeSkipped
		return res, nil
	case types.FileMetadataOnly:
		if err := ix.store.RecordFileMetadata(ctx, e.File); err != nil {
			return res, err
		}
		ix.logger.Debug("metadata only change", "file", e.File.Path)
		res.Outcome = OutcomeSkipped
		return res, nil
	}

	var occurred time.Time
	if e.OccurredAt != nil {
		occurred = e.OccurredAt.UTC()
	}

	participants, err := ix.resolveParticipants(ctx, e, occurred, &res)
	if err != nil {
		return res, err
	}

	interaction := &types.Interaction{
		FilePath:     e.File.Path,
		SourceType:   e.SourceType,
		Title:        e.Title,
		OccurredAt:   occurred,
		Participants: participants,
	}
	interaction.DealSlug, err = ix.hintedDeal(ctx, e.DealSlugHint)
	if err != nil {
		return res, err
	}
	if _, err := ix.store.UpsertInteraction(ctx, interaction); err != nil {
		if !errors.Is(err, storage.ErrInteractionImmutable) {
			return res, fmt.Errorf("failed to store interaction: %w", err)
		}
		ix.logger.Warn("interaction already linked to another deal", "file", e.File.Path, "error", err)
		interaction.DealSlug = ""
		if _, err := ix.store.UpsertInteraction(ctx, interaction); err != nil {
			return res, fmt.Errorf("failed to store interaction: %w", err)
		}
	}
	res.InteractionID = interaction.ID
	res.Participants = participants

	origin := provenance.Origin{
		InteractionID: interaction.ID,
		ExtractionKey: ExtractionKey(e.File),
	}
	for i := range e.Items {
		rec, err := ix.attacher.RecordFrom(ctx, &e.Items[i], origin)
		if err != nil {
			return res, fmt.Errorf("items[%d]: %w", i, err)
		}
		res.Items = append(res.Items, rec)
	}

	if err := ix.store.MarkFileProcessed(ctx, e.File, e.SourceType); err != nil {
		return res, err
	}
	res.Outcome = OutcomeIndexed
	ix.logger.Debug("indexed file", "file", e.File.Path, "decision", decision,
		"participants", len(participants), "items", len(res.Items))
	return res, nil
}

// ExtractionKey identifies the extraction of one version of a file: its
// path and content checksum. Re-extracting changed content yields a new key.
func ExtractionKey(f types.FileChange) string {
	return f.Path + "@" + f.ContentChecksum
}

// resolveParticipants maps batch participants to entity slugs, creating
// candidates for unknown ones. Duplicates collapse.
func (ix *Indexer) resolveParticipants(ctx context.Context, e *types.Extraction, seen time.Time, res *FileResult) ([]string, error) {
	var slugs []string
	dup := make(map[string]bool)
	for _, p := range e.Participants {
		raw := p.Raw
		if raw == "" {
			raw = p.Handle
		}
		r, err := ix.resolver.Resolve(ctx, raw, resolver.ResolveContext{
			Handle:     p.Handle,
			HandleKind: p.HandleKind,
			SourceType: e.SourceType,
			SeenAt:     seen,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to resolve participant %q: %w", raw, err)
		}
		if r.Created {
			res.candidates++
		}
		if !r.Resolved() || dup[r.Slug] {
			continue
		}
		dup[r.Slug] = true
		slugs = append(slugs, r.Slug)
	}
	return slugs, nil
}

// hintedDeal returns hint when it names an existing deal.
func (ix *Indexer) hintedDeal(ctx context.Context, hint string) (string, error) {
	if hint == "" {
		return "", nil
	}
	d, err := ix.store.GetDeal(ctx, hint)
	switch {
	case err == nil:
		return d.Slug, nil
	case errors.Is(err, storage.ErrNotFound):
		ix.logger.Debug("deal hint names no deal", "hint", hint)
		return "", nil
	}
	return "", fmt.Errorf("failed to look up deal %s: %w", hint, err)
}
