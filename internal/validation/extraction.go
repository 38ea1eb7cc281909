package validation

import (
	"fmt"
	"strings"

	"github.com/untoldecay/ctxgraph/internal/types"
)

// BatchError is returned when an extraction batch fails validation.
// It contains every problem found so one report covers the whole batch.
type BatchError struct {
	File     string
	Problems []error
}

func (e *BatchError) Error() string {
	if len(e.Problems) == 0 {
		return ""
	}
	var b strings.Builder
	file := e.File
	if file == "" {
		file = "<no file>"
	}
	fmt.Fprintf(&b, "invalid extraction for %s:", file)
	for _, p := range e.Problems {
		fmt.Fprintf(&b, "\n  - %s", p)
	}
	return b.String()
}

func (e *BatchError) Unwrap() error { return types.ErrInvalidPayload }

// PrepareExtraction fills item fields inherited from the batch (source type,
// occurrence time, deal hint) and validates the result. Items keep their own
// values when set.
func PrepareExtraction(e *types.Extraction) error {
	if e == nil {
		return &BatchError{Problems: []error{invalid("extraction", "missing")}}
	}
	for i := range e.Items {
		it := &e.Items[i]
		if it.SourceType == "" {
			it.SourceType = e.SourceType
		}
		if it.OccurredAt == nil && e.OccurredAt != nil {
			t := *e.OccurredAt
			it.OccurredAt = &t
		}
		if it.DealSlugHint == "" {
			it.DealSlugHint = e.DealSlugHint
		}
	}
	return ValidateExtraction(e)
}

// ValidateExtraction checks the batch header, participants and every item.
func ValidateExtraction(e *types.Extraction) error {
	if e == nil {
		return &BatchError{Problems: []error{invalid("extraction", "missing")}}
	}
	var problems []error
	add := func(err error) {
		if err != nil {
			problems = append(problems, err)
		}
	}

	if strings.TrimSpace(e.File.Path) == "" {
		add(invalid("file.path", "required"))
	}
	if e.File.ContentChecksum == "" {
		add(invalid("file.contentChecksum", "required"))
	}
	if e.SourceType == "" {
		add(invalid("sourceType", "required"))
	} else if !e.SourceType.IsValid() {
		add(invalid("sourceType", "must be one of call, email, telegram (got %q)", e.SourceType))
	}
	if e.DealSlugHint != "" && !IsSlug(e.DealSlugHint) {
		add(invalid("dealSlugHint", "%q is not a slug", e.DealSlugHint))
	}

	for i, p := range e.Participants {
		field := fmt.Sprintf("participants[%d]", i)
		if strings.TrimSpace(p.Raw) == "" && p.Handle == "" {
			add(invalid(field, "needs a name or a handle"))
			continue
		}
		add(checkHandle(field+".handle", p.Handle, p.HandleKind))
	}

	validate := ForRecord()
	for i := range e.Items {
		if err := validate(&e.Items[i]); err != nil {
			problems = append(problems, fmt.Errorf("items[%d].%w", i, err))
		}
	}

	if len(problems) > 0 {
		return &BatchError{File: e.File.Path, Problems: problems}
	}
	return nil
}
