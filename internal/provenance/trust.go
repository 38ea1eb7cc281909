// Package provenance binds extracted items to their source and assigns trust.
package provenance

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/untoldecay/ctxgraph/internal/types"
)

// Quote bounds, in words.
const (
	MinQuoteWords = 10
	MaxQuoteWords = 50
)

// Evidence is what trust is computed from.
type Evidence struct {
	QuotePresent  bool
	QuoteTooShort bool
	PathPresent   bool

	// OwnerCanonical is true when the owner resolved to a canonical entity.
	OwnerCanonical bool

	// TargetNamed is true when the payload named a target at all.
	TargetNamed     bool
	TargetResolved  bool
	TargetCanonical bool
}

// ComputeTrust derives the trust level and the reason for it:
//
//	low     quote or path missing
//	high    quote, path, canonical owner, and no target or a canonical target
//	medium  everything else
func ComputeTrust(ev Evidence) (types.TrustLevel, string) {
	switch {
	case !ev.QuotePresent && ev.QuoteTooShort:
		return types.TrustLow, types.ReasonQuoteTooShort
	case !ev.QuotePresent:
		return types.TrustLow, types.ReasonQuoteMissing
	case !ev.PathPresent:
		return types.TrustLow, types.ReasonPathMissing
	case !ev.OwnerCanonical:
		return types.TrustMedium, types.ReasonCandidateOwner
	case ev.TargetNamed && !ev.TargetResolved:
		return types.TrustMedium, types.ReasonUnresolvedTarget
	case ev.TargetNamed && !ev.TargetCanonical:
		return types.TrustMedium, types.ReasonCandidateTarget
	}
	return types.TrustHigh, types.ReasonVerified
}

// NormalizeQuote trims a quote and applies the word bounds. A quote over
// MaxQuoteWords is cut after its last allowed word, keeping the original
// spacing. A quote under MinQuoteWords is dropped: the result is "" with
// ReasonQuoteTooShort. An absent quote gives ReasonQuoteMissing.
func NormalizeQuote(q string) (quote, reason string, truncated bool) {
	q = strings.TrimSpace(q)
	if q == "" {
		return "", types.ReasonQuoteMissing, false
	}
	n, cut := countWords(q, MaxQuoteWords)
	if n < MinQuoteWords {
		return "", types.ReasonQuoteTooShort, false
	}
	if cut < len(q) {
		return q[:cut], "", true
	}
	return q, "", false
}

// countWords counts words up to limit and returns the byte offset just past
// the limit-th word (or len(s) when s has fewer words).
func countWords(s string, limit int) (int, int) {
	words := 0
	inWord := false
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		if unicode.IsSpace(r) {
			if inWord && words == limit {
				return words, i
			}
			inWord = false
		} else if !inWord {
			inWord = true
			words++
		}
		i += size
	}
	return words, len(s)
}
