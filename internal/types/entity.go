// Package types defines the core data structures of the context graph.
package types

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// EntityType classifies what an entity stands for.
type EntityType string

const (
	EntityPerson  EntityType = "person"
	EntityCompany EntityType = "company"
	EntityProduct EntityType = "product"
	EntityGroup   EntityType = "group"
)

// IsValid reports whether the entity type is one of the known types.
func (t EntityType) IsValid() bool {
	switch t {
	case EntityPerson, EntityCompany, EntityProduct, EntityGroup:
		return true
	}
	return false
}

// EntityKind is the confirmation state shared by every entity with a slug.
type EntityKind int

const (
	// Candidate entities were created from an unmatched mention and await review.
	Candidate EntityKind = iota
	// Canonical entities were confirmed by an operator or imported as known.
	Canonical
)

func (k EntityKind) String() string {
	switch k {
	case Candidate:
		return "candidate"
	case Canonical:
		return "canonical"
	}
	return fmt.Sprintf("EntityKind(%d)", int(k))
}

// EntityState is the lifecycle state of an entity row. Rows are never deleted.
type EntityState string

const (
	StateActive   EntityState = "active"
	StateInactive EntityState = "inactive"
	StateMerged   EntityState = "merged"
)

// HandleKind names the platform a contact handle belongs to.
type HandleKind string

const (
	HandleEmail    HandleKind = "email"
	HandleTelegram HandleKind = "telegram"
	HandlePhone    HandleKind = "phone"
	HandleSlack    HandleKind = "slack"
)

// IsValid reports whether the handle kind is known.
func (k HandleKind) IsValid() bool {
	switch k {
	case HandleEmail, HandleTelegram, HandlePhone, HandleSlack:
		return true
	}
	return false
}

// Handle is a contact handle attached to an entity.
type Handle struct {
	Kind  HandleKind `json:"kind"`
	Value string     `json:"value"`
}

// Entity is a canonical or candidate person, company, product or group.
//
// Callers must branch on Kind() rather than reading the candidate flag
// directly, so that both variants are always handled.
type Entity struct {
	Slug        string      `json:"slug"`
	DisplayName string      `json:"display_name"`
	Type        EntityType  `json:"type"`
	State       EntityState `json:"state"`
	MergedInto  string      `json:"merged_into,omitempty"`
	Handles     []Handle    `json:"handles,omitempty"`
	Aliases     []string    `json:"aliases,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
	LastSeenAt  time.Time   `json:"last_seen_at"`

	kind EntityKind
}

// NewCandidate returns a candidate entity with the given identity.
func NewCandidate(slug, displayName string, t EntityType) *Entity {
	return &Entity{Slug: slug, DisplayName: displayName, Type: t, State: StateActive, kind: Candidate}
}

// NewCanonical returns a canonical entity with the given identity.
func NewCanonical(slug, displayName string, t EntityType) *Entity {
	return &Entity{Slug: slug, DisplayName: displayName, Type: t, State: StateActive, kind: Canonical}
}

// Kind returns whether the entity is a candidate or canonical.
func (e *Entity) Kind() EntityKind { return e.kind }

// SetKind is used by storage backends when hydrating rows.
func (e *Entity) SetKind(k EntityKind) { e.kind = k }

// IsActive reports whether the entity can still be resolved to.
func (e *Entity) IsActive() bool { return e.State == StateActive }

// MarshalJSON includes the kind, which is otherwise unexported.
func (e *Entity) MarshalJSON() ([]byte, error) {
	type plain Entity
	return json.Marshal(struct {
		*plain
		Kind string `json:"kind"`
	}{(*plain)(e), e.kind.String()})
}

// NormalizeName lowercases and collapses whitespace. All name, alias and
// mention comparisons go through it.
func NormalizeName(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// NormalizeHandle canonicalizes a handle value for lookup.
func NormalizeHandle(kind HandleKind, v string) string {
	v = strings.TrimSpace(strings.ToLower(v))
	switch kind {
	case HandleTelegram, HandleSlack:
		v = strings.TrimPrefix(v, "@")
	case HandlePhone:
		var b strings.Builder
		for _, r := range v {
			if r == '+' || (r >= '0' && r <= '9') {
				b.WriteRune(r)
			}
		}
		v = b.String()
	}
	return v
}
