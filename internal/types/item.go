package types

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"
)

// Degradations. These are attached to results to explain a lowered
// confidence; they are never returned as failures.
var (
	// ErrResolutionAmbiguous marks a name that matched more than one entity
	// equally well and was therefore not auto-resolved.
	ErrResolutionAmbiguous = errors.New("resolution ambiguous")

	// ErrProvenanceIncomplete marks an item whose quote or path is missing.
	ErrProvenanceIncomplete = errors.New("provenance incomplete")
)

// ErrInvalidPayload is returned by the ingestion boundary for payloads that
// do not match the schema. Such payloads never reach the resolver.
var ErrInvalidPayload = errors.New("invalid payload")

// ItemType is the kind of fact an extracted item records.
type ItemType string

const (
	ItemActionItem  ItemType = "action_item"
	ItemPromise     ItemType = "promise"
	ItemDecision    ItemType = "decision"
	ItemMetric      ItemType = "metric"
	ItemQuestion    ItemType = "question"
	ItemDealMention ItemType = "deal_mention"
)

// IsValid reports whether the item type is known.
func (t ItemType) IsValid() bool {
	switch t {
	case ItemActionItem, ItemPromise, ItemDecision, ItemMetric, ItemQuestion, ItemDealMention:
		return true
	}
	return false
}

// SourceType is the channel an item or interaction came from.
type SourceType string

const (
	SourceCall     SourceType = "call"
	SourceEmail    SourceType = "email"
	SourceTelegram SourceType = "telegram"
)

// IsValid reports whether the source type is known.
func (s SourceType) IsValid() bool {
	switch s {
	case SourceCall, SourceEmail, SourceTelegram:
		return true
	}
	return false
}

// TrustLevel is the confidence tier derived from provenance completeness.
type TrustLevel string

const (
	TrustHigh   TrustLevel = "high"
	TrustMedium TrustLevel = "medium"
	TrustLow    TrustLevel = "low"
)

// IsValid reports whether the trust level is known.
func (t TrustLevel) IsValid() bool {
	switch t {
	case TrustHigh, TrustMedium, TrustLow:
		return true
	}
	return false
}

// Rank orders trust levels: low < medium < high.
func (t TrustLevel) Rank() int {
	switch t {
	case TrustHigh:
		return 2
	case TrustMedium:
		return 1
	}
	return 0
}

// Trust reasons stored with each item.
const (
	ReasonVerified         = "verified"
	ReasonCandidateOwner   = "candidate_owner"
	ReasonUnresolvedTarget = "unresolved_target"
	ReasonCandidateTarget  = "candidate_target"
	ReasonQuoteMissing     = "quote_missing"
	ReasonQuoteTooShort    = "quote_too_short"
	ReasonPathMissing      = "path_missing"
)

// ExtractedItem is the atomic unit of knowledge in the graph.
type ExtractedItem struct {
	ID              string     `json:"id"`
	Type            ItemType   `json:"type"`
	Text            string     `json:"text"`
	OwnerSlug       string     `json:"owner_slug"`
	TargetSlug      string     `json:"target_slug,omitempty"`
	TargetName      string     `json:"target_name,omitempty"`
	DealSlug        string     `json:"deal_slug,omitempty"`
	InteractionID   string     `json:"interaction_id,omitempty"`
	SourceType      SourceType `json:"source_type"`
	SourcePath      string     `json:"source_path,omitempty"`
	SourceMessageID string     `json:"source_message_id,omitempty"`
	SourceQuote     string     `json:"source_quote,omitempty"`
	SourceSpan      string     `json:"source_span"`
	TrustLevel      TrustLevel `json:"trust_level"`
	TrustReason     string     `json:"trust_reason"`
	ContentHash     string     `json:"content_hash"`
	OccurredAt      time.Time  `json:"occurred_at"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	SupersededBy    string     `json:"superseded_by,omitempty"`

	// ExtractionKey names the extraction of a file version that produced
	// the item. Items recorded by hand have none.
	ExtractionKey string `json:"-"`
}

// IsActionable is the hard gate for downstream automation: trust high or
// medium and both a source path and a source quote present.
func (i *ExtractedItem) IsActionable() bool {
	if i.TrustLevel != TrustHigh && i.TrustLevel != TrustMedium {
		return false
	}
	return strings.TrimSpace(i.SourcePath) != "" && strings.TrimSpace(i.SourceQuote) != ""
}

// ComputeContentHash hashes the fields that define an item's content so a
// re-extraction of the same span can be recognised as identical.
func (i *ExtractedItem) ComputeContentHash() string {
	h := sha256.New()
	for _, s := range []string{
		string(i.Type), i.Text, i.OwnerSlug, i.TargetSlug, i.TargetName,
		string(i.SourceType), i.SourcePath, i.SourceMessageID, i.SourceQuote, i.SourceSpan,
	} {
		h.Write([]byte(s))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// ItemPayload is a raw candidate item as produced by the external extraction
// step. It is validated before anything else touches it.
type ItemPayload struct {
	Type            ItemType   `json:"type" yaml:"type"`
	Text            string     `json:"text,omitempty" yaml:"text,omitempty"`
	OwnerRaw        string     `json:"ownerRaw" yaml:"ownerRaw"`
	TargetRaw       string     `json:"targetRaw,omitempty" yaml:"targetRaw,omitempty"`
	SourceType      SourceType `json:"sourceType" yaml:"sourceType"`
	SourcePath      string     `json:"sourcePath" yaml:"sourcePath"`
	SourceMessageID string     `json:"sourceMessageId,omitempty" yaml:"sourceMessageId,omitempty"`
	SourceQuote     string     `json:"sourceQuote" yaml:"sourceQuote"`
	SourceSpan      string     `json:"sourceSpan" yaml:"sourceSpan"`
	DealSlugHint    string     `json:"dealSlugHint,omitempty" yaml:"dealSlugHint,omitempty"`
	OccurredAt      *time.Time `json:"occurredAt,omitempty" yaml:"occurredAt,omitempty"`

	// OwnerHandle optionally carries a platform handle for the owner.
	OwnerHandle     string     `json:"ownerHandle,omitempty" yaml:"ownerHandle,omitempty"`
	OwnerHandleKind HandleKind `json:"ownerHandleKind,omitempty" yaml:"ownerHandleKind,omitempty"`
}

// ContentHash hashes the payload as it was extracted. It does not depend on
// how the owner or target resolved, so re-ingesting the same payload after a
// merge or alias change is still recognised as a duplicate.
func (p *ItemPayload) ContentHash() string {
	h := sha256.New()
	for _, s := range []string{
		string(p.Type), p.Text, NormalizeName(p.OwnerRaw), NormalizeName(p.TargetRaw),
		string(p.SourceType), p.SourcePath, p.SourceMessageID, p.SourceQuote, p.SourceSpan,
	} {
		h.Write([]byte(s))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// ItemFilter narrows actionable item queries.
type ItemFilter struct {
	OwnerSlug  string
	TargetSlug string
	DealSlug   string
	Types      []ItemType
	MinTrust   TrustLevel
	Since      *time.Time
	Limit      int
}

// TimelineFilter narrows entity timeline queries.
type TimelineFilter struct {
	Since *time.Time
	Limit int
}
