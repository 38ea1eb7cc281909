// Package storage defines the interface for context graph storage backends.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/untoldecay/ctxgraph/internal/types"
)

// ErrDBNotInitialized is returned when the store has not been created yet.
var ErrDBNotInitialized = errors.New("database not initialized")

// ErrStoreUnavailable wraps transport/connection failures of the backing
// store. It is retryable and must never be read as "no data".
var ErrStoreUnavailable = errors.New("store unavailable")

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// ErrMergeConflict is returned when a merge cannot be applied: the canonical
// slug does not exist or is not canonical, or the source was already merged.
// The store is unchanged when it is returned.
var ErrMergeConflict = errors.New("merge conflict")

// ErrEntityInactive is returned when an operation needs an active entity.
var ErrEntityInactive = errors.New("entity inactive")

// ErrInteractionImmutable is returned when an interaction's deal linkage is
// already set to a different deal.
var ErrInteractionImmutable = errors.New("interaction immutable")

// ErrItemChanged is returned when an item's provenance changed between the
// read an update was computed from and the write. Reload and recompute.
var ErrItemChanged = errors.New("item changed concurrently")

// ErrSchemaTooNew is returned when the store was written by a newer major
// schema than this binary understands.
var ErrSchemaTooNew = errors.New("schema version too new")

// EntityFilter narrows entity listings.
type EntityFilter struct {
	Kind            *types.EntityKind
	IncludeInactive bool
	Type            types.EntityType
	Limit           int
}

// CandidateRequest describes a candidate to create for an unmatched mention.
// The store appends -2, -3, ... to BaseSlug until it is free.
type CandidateRequest struct {
	BaseSlug    string
	DisplayName string
	MentionNorm string
	Type        types.EntityType
	SeenAt      time.Time
}

// MergeResult reports how many references a merge moved.
type MergeResult struct {
	From                 string `json:"from"`
	Into                 string `json:"into"`
	OwnedItemsMoved      int    `json:"owned_items_moved"`
	TargetedItemsMoved   int    `json:"targeted_items_moved"`
	InteractionRefsMoved int    `json:"interaction_refs_moved"`
	MentionKeysRepointed int    `json:"mention_keys_repointed"`
}

// InsertOutcome describes what InsertItem did.
type InsertOutcome struct {
	ID         string
	Duplicate  bool     // identical item already present, nothing written
	Superseded []string // ids of earlier-extraction items this one replaced
}

// ProvenanceUpdate carries recomputed provenance fields for an item.
type ProvenanceUpdate struct {
	SourceQuote string
	SourcePath  string
	TargetSlug  string
	TrustLevel  types.TrustLevel
	TrustReason string
	ContentHash string

	// Expected is the item the update was computed from. When set, the
	// write applies only if the stored provenance and trust still match it.
	Expected *types.ExtractedItem
}

// Storage defines the interface for context graph storage backends
type Storage interface {
	// Entities
	GetEntity(ctx context.Context, slug string) (*types.Entity, error)
	ListEntities(ctx context.Context, filter EntityFilter) ([]*types.Entity, error)
	FindEntitiesByHandle(ctx context.Context, kind types.HandleKind, value string) ([]*types.Entity, error)
	FindCanonicalByName(ctx context.Context, nameNorm string) ([]*types.Entity, error)
	FindEntitiesByAlias(ctx context.Context, aliasNorm string) ([]*types.Entity, error)
	// LookupMention follows merged_into to the surviving entity. It returns
	// nil, nil when the mention was never seen.
	LookupMention(ctx context.Context, mentionNorm string) (*types.Entity, error)
	CreateCandidate(ctx context.Context, req CandidateRequest) (*types.Entity, bool, error)
	CreateEntity(ctx context.Context, entity *types.Entity) error
	ConfirmEntity(ctx context.Context, slug string) error
	DeactivateEntity(ctx context.Context, slug string) error
	MergeEntities(ctx context.Context, candidateSlug, canonicalSlug string) (*MergeResult, error)
	AddAlias(ctx context.Context, slug, alias string) error
	AddHandle(ctx context.Context, slug string, kind types.HandleKind, value string) error
	TouchEntity(ctx context.Context, slug string, at time.Time) error

	// Audit log of operator actions
	RecordEvent(ctx context.Context, ev *types.Event) error
	GetEvents(ctx context.Context, slug string, limit int) ([]*types.Event, error)

	// Files and interactions
	GetFile(ctx context.Context, path string) (*types.File, error)
	DecideFile(ctx context.Context, change types.FileChange) (types.FileDecision, error)
	RecordFileMetadata(ctx context.Context, change types.FileChange) error
	MarkFileProcessed(ctx context.Context, change types.FileChange, sourceType types.SourceType) error
	UpsertInteraction(ctx context.Context, interaction *types.Interaction) (bool, error)
	GetInteraction(ctx context.Context, id string) (*types.Interaction, error)
	SetInteractionDeal(ctx context.Context, id, dealSlug string) error

	// Deals
	UpsertDeal(ctx context.Context, deal *types.Deal) error
	GetDeal(ctx context.Context, slug string) (*types.Deal, error)
	FindDealByCompany(ctx context.Context, companySlug string) (*types.Deal, error)

	// Extracted items
	InsertItem(ctx context.Context, item *types.ExtractedItem) (*InsertOutcome, error)
	GetItem(ctx context.Context, id string) (*types.ExtractedItem, error)
	UpdateItemProvenance(ctx context.Context, id string, upd ProvenanceUpdate) error
	ItemsForEntity(ctx context.Context, slug string) ([]*types.ExtractedItem, error)
	ItemsWithUnresolvedTarget(ctx context.Context) ([]*types.ExtractedItem, error)

	// Snapshot reads. Each call runs in one read-only transaction; fn is
	// called per row and may stop the scan by returning an error.
	ScanActionableItems(ctx context.Context, filter types.ItemFilter, fn func(*types.ExtractedItem) error) error
	ScanTimeline(ctx context.Context, slug string, filter types.TimelineFilter, fn func(types.TimelineEntry) error) error
	GetDealRollup(ctx context.Context, slug string) (*types.DealRollup, error)

	// Index runs (freshness state)
	BeginRun(ctx context.Context) (int64, error)
	FinishRun(ctx context.Context, run *types.IndexRun) error
	// LastSuccessfulRun returns nil, nil when no run has succeeded yet.
	LastSuccessfulRun(ctx context.Context) (*types.IndexRun, error)
	StateVersion(ctx context.Context) (int64, error)
	// RunState reads LastSuccessfulRun and StateVersion in one snapshot.
	RunState(ctx context.Context) (*types.IndexRun, int64, error)

	// Metadata (for internal state like schema_version)
	SetMetadata(ctx context.Context, key, value string) error
	GetMetadata(ctx context.Context, key string) (string, error)

	// Lifecycle
	Close() error

	// Database path
	Path() string

	// UnderlyingDB returns the underlying *sql.DB connection.
	// WARNING: Direct database access bypasses the storage layer. Use with caution.
	UnderlyingDB() *sql.DB
}
