package types

import "time"

// File is a source document known to the index.
type File struct {
	Path             string     `json:"path"`
	MetadataChecksum string     `json:"metadata_checksum"`
	ContentChecksum  string     `json:"content_checksum"`
	SourceType       SourceType `json:"source_type"`
	FirstSeenAt      time.Time  `json:"first_seen_at"`
	ProcessedAt      *time.Time `json:"processed_at,omitempty"`
}

// FileChange is a change notification for a source document.
type FileChange struct {
	Path             string `json:"path" yaml:"path"`
	MetadataChecksum string `json:"metadataChecksum" yaml:"metadataChecksum"`
	ContentChecksum  string `json:"contentChecksum" yaml:"contentChecksum"`
}

// FileDecision says what an indexing run should do with a changed file.
type FileDecision string

const (
	FileNew            FileDecision = "new"
	FileContentChanged FileDecision = "content_changed"
	FileMetadataOnly   FileDecision = "metadata_only"
	FileUnchanged      FileDecision = "unchanged"
)

// NeedsExtraction reports whether the decision warrants re-extraction.
// Only a content checksum mismatch (or a never-seen file) does.
func (d FileDecision) NeedsExtraction() bool {
	return d == FileNew || d == FileContentChanged
}

// Interaction is a discrete event (call, email thread, conversation).
type Interaction struct {
	ID           string     `json:"id"`
	FilePath     string     `json:"file_path"`
	SourceType   SourceType `json:"source_type"`
	Title        string     `json:"title,omitempty"`
	OccurredAt   time.Time  `json:"occurred_at"`
	DealSlug     string     `json:"deal_slug,omitempty"`
	Participants []string   `json:"participants,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// Deal is a company/opportunity folder.
type Deal struct {
	Slug        string    `json:"slug"`
	Name        string    `json:"name"`
	CompanySlug string    `json:"company_slug,omitempty"`
	Stage       string    `json:"stage,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Participant is a raw participant mention in an extraction batch.
type Participant struct {
	Raw        string     `json:"raw" yaml:"raw"`
	Handle     string     `json:"handle,omitempty" yaml:"handle,omitempty"`
	HandleKind HandleKind `json:"handleKind,omitempty" yaml:"handleKind,omitempty"`
}

// Extraction is one batch produced by the external extraction step for a
// single source file.
type Extraction struct {
	File         FileChange    `json:"file" yaml:"file"`
	SourceType   SourceType    `json:"sourceType" yaml:"sourceType"`
	Title        string        `json:"title,omitempty" yaml:"title,omitempty"`
	OccurredAt   *time.Time    `json:"occurredAt,omitempty" yaml:"occurredAt,omitempty"`
	Participants []Participant `json:"participants,omitempty" yaml:"participants,omitempty"`
	DealSlugHint string        `json:"dealSlugHint,omitempty" yaml:"dealSlugHint,omitempty"`
	Items        []ItemPayload `json:"items" yaml:"items"`
}

// TimelineEntry is either an interaction or an item, ordered by time.
type TimelineEntry struct {
	At          time.Time      `json:"at"`
	Interaction *Interaction   `json:"interaction,omitempty"`
	Item        *ExtractedItem `json:"item,omitempty"`
}

// DealRollup aggregates everything linked to a deal.
type DealRollup struct {
	Deal         *Deal              `json:"deal"`
	Interactions []*Interaction     `json:"interactions"`
	Metrics      []*ExtractedItem   `json:"metrics"`
	ItemsByType  map[ItemType]int   `json:"items_by_type"`
	ItemsByTrust map[TrustLevel]int `json:"items_by_trust"`
	LastActivity *time.Time         `json:"last_activity,omitempty"`
}

// RunStatus is the outcome of an indexing run.
type RunStatus string

const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunFailed  RunStatus = "failed"
)

// IndexRun records one indexing run.
type IndexRun struct {
	ID            int64      `json:"id"`
	StartedAt     time.Time  `json:"started_at"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
	Status        RunStatus  `json:"status"`
	FilesSeen     int        `json:"files_seen"`
	ItemsRecorded int        `json:"items_recorded"`
	Error         string     `json:"error,omitempty"`
}

// MergeSuggestion pairs a candidate with a canonical entity it may duplicate.
type MergeSuggestion struct {
	CandidateSlug string `json:"candidate_slug"`
	CandidateName string `json:"candidate_name"`
	CanonicalSlug string `json:"canonical_slug"`
	CanonicalName string `json:"canonical_name"`
	Distance      int    `json:"distance"`
}
