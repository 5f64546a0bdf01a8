package textutil

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

var caseFolder = cases.Fold()

// Fold canonicalises user-supplied text for comparison and grouping: Unicode
// NFKC normalisation, case folding and whitespace collapsing. "Café  Scarf"
// and "café scarf" fold to the same string.
func Fold(s string) string {
	s = norm.NFKC.String(strings.TrimSpace(s))
	s = caseFolder.String(s)
	return strings.Join(strings.Fields(s), " ")
}

// FoldEmail lowers and normalises an email address without collapsing inner
// whitespace, which is invalid in addresses anyway.
func FoldEmail(s string) string {
	s = norm.NFKC.String(strings.TrimSpace(s))
	return cases.Lower(language.Und).String(s)
}
