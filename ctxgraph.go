// Package ctxgraph is the public API of the context graph: entity
// resolution, provenance-tracked extracted items, index freshness and the
// read façade over them, backed by a local SQLite store.
//
// A Graph is safe for concurrent use. Several processes may open the same
// store; writes to one source path are serialized by lock files.
package ctxgraph

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/untoldecay/ctxgraph/internal/freshness"
	"github.com/untoldecay/ctxgraph/internal/indexer"
	"github.com/untoldecay/ctxgraph/internal/lockfile"
	"github.com/untoldecay/ctxgraph/internal/provenance"
	"github.com/untoldecay/ctxgraph/internal/queries"
	"github.com/untoldecay/ctxgraph/internal/query"
	"github.com/untoldecay/ctxgraph/internal/resolver"
	"github.com/untoldecay/ctxgraph/internal/storage"
	"github.com/untoldecay/ctxgraph/internal/storage/sqlite"
	"github.com/untoldecay/ctxgraph/internal/types"
)

// Core types
type (
	Entity          = types.Entity
	EntityType      = types.EntityType
	EntityKind      = types.EntityKind
	Handle          = types.Handle
	HandleKind      = types.HandleKind
	ItemPayload     = types.ItemPayload
	ExtractedItem   = types.ExtractedItem
	ItemFilter      = types.ItemFilter
	TimelineFilter  = types.TimelineFilter
	TimelineEntry   = types.TimelineEntry
	Interaction     = types.Interaction
	Deal            = types.Deal
	DealRollup      = types.DealRollup
	FileChange      = types.FileChange
	FileDecision    = types.FileDecision
	Extraction      = types.Extraction
	TrustLevel      = types.TrustLevel
	MergeSuggestion = types.MergeSuggestion
	Event           = types.Event

	ResolveContext = resolver.ResolveContext
	Resolution     = resolver.Resolution
	RecordResult   = provenance.RecordResult
	Freshness      = freshness.Freshness
	RunReport      = indexer.RunReport
	MergeResult    = storage.MergeResult
	EntityFilter   = storage.EntityFilter
	NameSuggestion = queries.NameSuggestion
)

// Errors callers may branch on.
var (
	ErrInvalidPayload       = types.ErrInvalidPayload
	ErrResolutionAmbiguous  = types.ErrResolutionAmbiguous
	ErrProvenanceIncomplete = types.ErrProvenanceIncomplete
	ErrStoreUnavailable     = storage.ErrStoreUnavailable
	ErrNotFound             = storage.ErrNotFound
	ErrMergeConflict        = storage.ErrMergeConflict
	ErrSchemaTooNew         = storage.ErrSchemaTooNew
	ErrSuperseded           = provenance.ErrSuperseded
)

// Options configure Open. Zero values take defaults.
type Options struct {
	// LockDir holds per-path lock files. Defaults to a locks directory
	// next to the database.
	LockDir string

	// Actor is recorded in the entity audit log for operator actions.
	Actor string

	Workers     int
	LockTimeout time.Duration
	Horizon     time.Duration
	Logger      *slog.Logger
}

// Graph wires the store, resolver, attacher, freshness monitor, query
// façade and indexer together.
type Graph struct {
	store    *sqlite.SQLiteStorage
	resolver *resolver.Resolver
	attacher *provenance.Attacher
	monitor  *freshness.Monitor
	facade   *query.Facade
	indexer  *indexer.Indexer
	actor    string
	logger   *slog.Logger
}

// Open opens (creating and migrating if needed) the graph stored at dbPath.
func Open(ctx context.Context, dbPath string, opts Options) (*Graph, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	store, err := sqlite.New(ctx, dbPath)
	if err != nil {
		return nil, err
	}
	lockDir := opts.LockDir
	if lockDir == "" {
		lockDir = filepath.Join(filepath.Dir(dbPath), "locks")
	}
	locker, err := lockfile.NewPathLocker(lockDir)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	var monitorOpts []freshness.Option
	if opts.Horizon > 0 {
		monitorOpts = append(monitorOpts, freshness.WithHorizon(opts.Horizon))
	}
	res := resolver.New(store, logger)
	att := provenance.New(store, res, logger)
	return &Graph{
		store:    store,
		resolver: res,
		attacher: att,
		monitor:  freshness.New(store, monitorOpts...),
		facade:   query.New(store),
		indexer: indexer.New(store, res, att, locker, indexer.Options{
			Workers:     opts.Workers,
			LockTimeout: opts.LockTimeout,
			Logger:      logger,
		}),
		actor:  opts.Actor,
		logger: logger,
	}, nil
}

// Close releases the store.
func (g *Graph) Close() error { return g.store.Close() }

// Store exposes the underlying storage for tooling.
func (g *Graph) Store() storage.Storage { return g.store }

// Path returns the database path.
func (g *Graph) Path() string { return g.store.Path() }

// ResolveEntity maps a raw mention to an entity slug, creating a candidate
// for an unseen mention. The same mention always yields the same slug.
func (g *Graph) ResolveEntity(ctx context.Context, raw string, rc ResolveContext) (Resolution, error) {
	return g.resolver.Resolve(ctx, raw, rc)
}

// LookupEntity is ResolveEntity without candidate creation.
func (g *Graph) LookupEntity(ctx context.Context, raw string, rc ResolveContext) (Resolution, error) {
	return g.resolver.Lookup(ctx, raw, rc)
}

// RecordExtractedItem validates and stores one extracted item with its
// provenance and trust. Invalid payloads return ErrInvalidPayload and
// never reach the resolver.
func (g *Graph) RecordExtractedItem(ctx context.Context, p *ItemPayload) (*RecordResult, error) {
	return g.attacher.Record(ctx, p)
}

// FreshnessStatus reports how current the index is. It never fails: an
// unreadable run history gives an indeterminate status.
func (g *Graph) FreshnessStatus(ctx context.Context) Freshness {
	return g.monitor.Status(ctx)
}

// FreshnessHorizon is the age after which the index counts as stale.
func (g *Graph) FreshnessHorizon() time.Duration { return g.monitor.Horizon() }

// ActionableItems yields items that may drive automation.
func (g *Graph) ActionableItems(ctx context.Context, filter ItemFilter) iter.Seq2[*ExtractedItem, error] {
	return g.facade.ActionableItems(ctx, filter)
}

// EntityTimeline yields interactions and items for an entity, newest first.
func (g *Graph) EntityTimeline(ctx context.Context, slug string, filter TimelineFilter) iter.Seq2[TimelineEntry, error] {
	return g.facade.EntityTimeline(ctx, slug, filter)
}

// DealRollup aggregates a deal's interactions, metrics and item counts.
func (g *Graph) DealRollup(ctx context.Context, slug string) (*DealRollup, error) {
	return g.facade.DealRollup(ctx, slug)
}

// MergeEntities folds a candidate into a canonical entity and re-derives
// trust for the items that now point at the canonical one.
func (g *Graph) MergeEntities(ctx context.Context, candidateSlug, canonicalSlug string) (*MergeResult, error) {
	res, err := g.resolver.Merge(ctx, candidateSlug, canonicalSlug)
	if err != nil {
		return nil, err
	}
	g.audit(ctx, candidateSlug, types.EventMerged, canonicalSlug)
	g.audit(ctx, canonicalSlug, types.EventMergedFrom, candidateSlug)
	g.refreshTrust(ctx, canonicalSlug)
	return res, nil
}

// ConfirmEntity promotes a candidate to canonical and re-derives trust for
// its items.
func (g *Graph) ConfirmEntity(ctx context.Context, slug string) error {
	if err := g.resolver.Confirm(ctx, slug); err != nil {
		return err
	}
	g.audit(ctx, slug, types.EventConfirmed, "")
	g.refreshTrust(ctx, slug)
	return nil
}

// DeactivateEntity stops an entity from being resolved by handle or name.
func (g *Graph) DeactivateEntity(ctx context.Context, slug string) error {
	if err := g.resolver.Deactivate(ctx, slug); err != nil {
		return err
	}
	g.audit(ctx, slug, types.EventDeactivated, "")
	return nil
}

// AddAlias records an operator-confirmed alias and retries unresolved
// item targets.
func (g *Graph) AddAlias(ctx context.Context, slug, alias string) error {
	if err := g.resolver.AddAlias(ctx, slug, alias); err != nil {
		return err
	}
	g.audit(ctx, slug, types.EventAliasAdded, alias)
	g.refreshTrust(ctx, slug)
	return nil
}

// AddHandle attaches a contact handle to an entity.
func (g *Graph) AddHandle(ctx context.Context, slug string, kind HandleKind, value string) error {
	if err := g.resolver.AddHandle(ctx, slug, kind, value); err != nil {
		return err
	}
	g.audit(ctx, slug, types.EventHandleAdded, string(kind)+":"+value)
	g.refreshTrust(ctx, slug)
	return nil
}

// audit appends to the entity audit log. The action is already committed,
// so a failed write is logged and not returned.
func (g *Graph) audit(ctx context.Context, slug string, typ types.EventType, value string) {
	ev := &types.Event{EntitySlug: slug, Type: typ, Actor: g.actor, NewValue: value}
	if err := g.store.RecordEvent(ctx, ev); err != nil {
		g.logger.Warn("failed to record entity event", "entity", slug, "event", typ, "error", err)
	}
}

// EntityHistory returns the operator actions taken on an entity, newest
// first. A limit of 0 returns all of them.
func (g *Graph) EntityHistory(ctx context.Context, slug string, limit int) ([]*Event, error) {
	return g.store.GetEvents(ctx, slug, limit)
}

// refreshTrust re-derives trust after an operator change. The change itself
// is already committed, so failures are logged rather than returned; the
// next change or RecomputeTrust picks them up.
func (g *Graph) refreshTrust(ctx context.Context, slug string) {
	if _, err := g.RecomputeTrust(ctx, slug); err != nil {
		g.logger.Warn("failed to recompute trust", "entity", slug, "error", err)
	}
}

// RecomputeTrust re-derives trust for an entity's items and retries
// unresolved targets. It returns how many items changed.
func (g *Graph) RecomputeTrust(ctx context.Context, slug string) (int, error) {
	changed, err := g.attacher.RecomputeForEntity(ctx, slug)
	if err != nil {
		return changed, err
	}
	attached, err := g.attacher.ResolveTargets(ctx)
	return changed + attached, err
}

// Ingest indexes extraction batches as one index run.
func (g *Graph) Ingest(ctx context.Context, batches []Extraction) (*RunReport, error) {
	return g.indexer.Run(ctx, batches)
}

// IngestFiles decodes batch files (JSON, JSON lines or YAML) and indexes
// them as one index run.
func (g *Graph) IngestFiles(ctx context.Context, paths []string) (*RunReport, error) {
	return g.indexer.IndexFiles(ctx, paths)
}

// NoteFileChange tells the graph a source file changed and returns what an
// indexing run should do with it. A metadata-only change is recorded right
// away; only new files and content changes need re-extraction.
func (g *Graph) NoteFileChange(ctx context.Context, change FileChange) (FileDecision, error) {
	if change.Path == "" {
		return "", fmt.Errorf("%w: file change needs a path", ErrInvalidPayload)
	}
	d, err := g.store.DecideFile(ctx, change)
	if err != nil {
		return "", err
	}
	if d == types.FileMetadataOnly {
		if err := g.store.RecordFileMetadata(ctx, change); err != nil {
			return "", err
		}
	}
	return d, nil
}

// BackfillProvenance attaches a missing quote or path to an item. Existing
// values are kept and trust never goes down.
func (g *Graph) BackfillProvenance(ctx context.Context, itemID, quote, path string) (*RecordResult, error) {
	return g.attacher.Backfill(ctx, itemID, quote, path)
}

// GetEntity returns an entity with its handles and aliases.
func (g *Graph) GetEntity(ctx context.Context, slug string) (*Entity, error) {
	return g.store.GetEntity(ctx, slug)
}

// ListEntities lists entities, most recently seen first.
func (g *Graph) ListEntities(ctx context.Context, filter EntityFilter) ([]*Entity, error) {
	return g.store.ListEntities(ctx, filter)
}

// CreateEntity adds a known entity, typically canonical.
func (g *Graph) CreateEntity(ctx context.Context, e *Entity) error {
	if err := g.store.CreateEntity(ctx, e); err != nil {
		return err
	}
	g.audit(ctx, e.Slug, types.EventEntityCreated, e.DisplayName)
	return nil
}

// GetItem returns an item by id.
func (g *Graph) GetItem(ctx context.Context, id string) (*ExtractedItem, error) {
	return g.store.GetItem(ctx, id)
}

// UpsertDeal creates or updates a deal.
func (g *Graph) UpsertDeal(ctx context.Context, d *Deal) error {
	return g.store.UpsertDeal(ctx, d)
}

// GetDeal returns a deal.
func (g *Graph) GetDeal(ctx context.Context, slug string) (*Deal, error) {
	return g.store.GetDeal(ctx, slug)
}

// SuggestMerges lists candidates that look like duplicates of canonical
// entities. Nothing is merged.
func (g *Graph) SuggestMerges(ctx context.Context, maxDistance int) ([]MergeSuggestion, error) {
	return queries.SuggestMerges(ctx, g.store.UnderlyingDB(), maxDistance)
}

// SuggestNames lists entities a mention that resolved to nothing may have
// meant.
func (g *Graph) SuggestNames(ctx context.Context, term string, limit int) ([]NameSuggestion, error) {
	return queries.SuggestNames(ctx, g.store.UnderlyingDB(), term, limit)
}
