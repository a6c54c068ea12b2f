// Package dataset provides the benchmark-side collaborators of the adapter:
// a registry mapping dataset names to their type and image cache root, a
// row record with missing-value semantics, and a TSV loader for benchmark
// files.
package dataset

import "strings"

// OptionLetters is the fixed candidate set of multiple-choice columns, in
// answer order.
var OptionLetters = []string{"A", "B", "C", "D", "E"}

// Row is a single benchmark record. Base64 image payloads stay encoded
// until prompt construction materializes them into the image cache.
type Row struct {
	// Index is the row's unique index within its dataset.
	Index string
	// Question is the raw question text.
	Question string
	// Hint is optional context prepended to multiple-choice questions.
	Hint string
	// Images holds one or more base64-encoded image payloads.
	Images []string
	// ImageNames holds the target file names when the row carries several
	// images. Unused for single-image rows.
	ImageNames []string
	// Columns holds the remaining columns, including the A-E option texts.
	Columns map[string]string
}

// IsMissing reports whether a cell value counts as absent. Benchmark files
// round-trip through tabular tooling that renders absent cells as empty
// strings or "nan".
func IsMissing(value string) bool {
	trimmed := strings.TrimSpace(value)
	return trimmed == "" || strings.EqualFold(trimmed, "nan")
}

// Option returns the text of the given option letter, reporting false when
// the column is absent or missing.
func (r Row) Option(letter string) (string, bool) {
	value, ok := r.Columns[letter]
	if !ok || IsMissing(value) {
		return "", false
	}
	return value, true
}

// HasHint reports whether the row carries a usable hint.
func (r Row) HasHint() bool {
	return !IsMissing(r.Hint)
}
