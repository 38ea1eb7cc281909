// Package validation checks extraction payloads at the ingestion boundary.
// Nothing that fails here reaches the resolver or the store.
package validation

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/untoldecay/ctxgraph/internal/types"
)

// FieldError describes one field that failed validation. It matches
// types.ErrInvalidPayload with errors.Is.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *FieldError) Unwrap() error { return types.ErrInvalidPayload }

func invalid(field, format string, args ...any) error {
	return &FieldError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// PayloadValidator validates an item payload and returns an error if validation fails.
// Validators can be composed using Chain() for complex validation logic.
type PayloadValidator func(p *types.ItemPayload) error

// Chain composes multiple validators into a single validator.
// Validators are executed in order and the first error stops the chain.
func Chain(validators ...PayloadValidator) PayloadValidator {
	return func(p *types.ItemPayload) error {
		for _, v := range validators {
			if err := v(p); err != nil {
				return err
			}
		}
		return nil
	}
}

// Present validates that a payload is not nil.
func Present() PayloadValidator {
	return func(p *types.ItemPayload) error {
		if p == nil {
			return invalid("item", "missing")
		}
		return nil
	}
}

// KnownType validates that the item type is one of the enumerated types.
func KnownType() PayloadValidator {
	return func(p *types.ItemPayload) error {
		if p == nil {
			return nil // Let Present() handle nil check if needed
		}
		if p.Type == "" {
			return invalid("type", "required")
		}
		if !p.Type.IsValid() {
			return invalid("type", "unknown item type %q", p.Type)
		}
		return nil
	}
}

// HasOwner validates that the owner mention is not blank.
func HasOwner() PayloadValidator {
	return func(p *types.ItemPayload) error {
		if p == nil {
			return nil
		}
		if strings.TrimSpace(p.OwnerRaw) == "" {
			return invalid("ownerRaw", "required")
		}
		return nil
	}
}

// KnownSource validates that sourceType is call, email or telegram.
func KnownSource() PayloadValidator {
	return func(p *types.ItemPayload) error {
		if p == nil {
			return nil
		}
		if p.SourceType == "" {
			return invalid("sourceType", "required")
		}
		if !p.SourceType.IsValid() {
			return invalid("sourceType", "must be one of call, email, telegram (got %q)", p.SourceType)
		}
		return nil
	}
}

// ValidOwnerHandle validates the optional owner handle pair. A handle
// needs a known kind and a kind needs a handle.
func ValidOwnerHandle() PayloadValidator {
	return func(p *types.ItemPayload) error {
		if p == nil {
			return nil
		}
		return checkHandle("ownerHandle", p.OwnerHandle, p.OwnerHandleKind)
	}
}

// ValidDealHint validates that dealSlugHint, when given, is a slug.
func ValidDealHint() PayloadValidator {
	return func(p *types.ItemPayload) error {
		if p == nil || p.DealSlugHint == "" {
			return nil
		}
		if !IsSlug(p.DealSlugHint) {
			return invalid("dealSlugHint", "%q is not a slug", p.DealSlugHint)
		}
		return nil
	}
}

// NoBlankProvenance rejects locator fields that are set to whitespace. A
// blank quote or path is not checked here: it counts as missing and lowers
// trust when the item is recorded.
func NoBlankProvenance() PayloadValidator {
	return func(p *types.ItemPayload) error {
		if p == nil {
			return nil
		}
		for _, f := range []struct{ name, value string }{
			{"sourceSpan", p.SourceSpan},
			{"sourceMessageId", p.SourceMessageID},
		} {
			if f.value != "" && strings.TrimSpace(f.value) == "" {
				return invalid(f.name, "blank")
			}
		}
		return nil
	}
}

// ForRecord is the chain applied to every payload before it is recorded.
func ForRecord() PayloadValidator {
	return Chain(
		Present(),
		KnownType(),
		HasOwner(),
		KnownSource(),
		ValidOwnerHandle(),
		ValidDealHint(),
		NoBlankProvenance(),
	)
}

// ValidatePayload runs ForRecord against p.
func ValidatePayload(p *types.ItemPayload) error {
	return ForRecord()(p)
}

var slugPattern = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

// IsSlug reports whether s is a lowercase, dash-separated slug.
func IsSlug(s string) bool {
	return slugPattern.MatchString(s)
}

func checkHandle(field, value string, kind types.HandleKind) error {
	switch {
	case value == "" && kind == "":
		return nil
	case value == "":
		return invalid(field, "handle kind %q given without a handle", kind)
	case kind == "":
		return invalid(field+"Kind", "required when %s is set", field)
	case !kind.IsValid():
		return invalid(field+"Kind", "unknown handle kind %q", kind)
	}
	return nil
}
