package core

import (
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
	"github.com/google/uuid"
)

// DefaultKeyFields form the composite key when none are configured.
var DefaultKeyFields = []string{FieldPartNumber, FieldStation, FieldVersion}

// Matcher scores how close two records are.
//
// The score is 1 - d/n where d is the Levenshtein distance between the
// normalized composite keys and n is the rune length of the longer key.
// Two empty keys score 1.
type Matcher struct {
	keyFields []string
}

// NewMatcher returns a Matcher over keyFields. Unknown field names are dropped.
func NewMatcher(keyFields []string) *Matcher {
	var fields []string
	for _, f := range keyFields {
		if IsKnownField(f) {
			fields = append(fields, f)
		}
	}
	if len(fields) == 0 {
		fields = slices.Clone(DefaultKeyFields)
	}
	return &Matcher{keyFields: fields}
}

// KeyFields returns the fields that make up the composite key.
func (m *Matcher) KeyFields() []string {
	return slices.Clone(m.keyFields)
}

// Key returns the normalized composite key of rec.
func (m *Matcher) Key(rec TestData) string {
	parts := make([]string, len(m.keyFields))
	for i, f := range m.keyFields {
		v, _ := rec.Field(f)
		parts[i] = normalize(v)
	}
	return strings.Join(parts, "|")
}

// Similarity returns a score in [0,1]. It is symmetric and Similarity(a, a) is 1.
func (m *Matcher) Similarity(a, b TestData) float64 {
	return keySimilarity(m.Key(a), m.Key(b))
}

func keySimilarity(ka, kb string) float64 {
	if ka == kb {
		return 1
	}
	n := max(utf8.RuneCountInString(ka), utf8.RuneCountInString(kb))
	if n == 0 {
		return 1
	}
	d := levenshtein.ComputeDistance(ka, kb)
	return 1 - float64(d)/float64(n)
}

// Match is one dataset entry that resembles a target record.
type Match struct {
	Index  int      `json:"index"`
	Score  float64  `json:"score"`
	Record TestData `json:"record"`
}

// FindDuplicates returns every record in dataset scoring at least threshold
// against target, ordered by descending score with ties kept in dataset order.
// The entry whose ID equals target.ID is skipped; records with equal content
// but a different ID are still reported.
func (m *Matcher) FindDuplicates(dataset []TestData, target TestData, threshold float64) []Match {
	key := m.Key(target)

	var matches []Match
	for i, rec := range dataset {
		if target.ID != uuid.Nil && rec.ID == target.ID {
			continue
		}
		score := keySimilarity(key, m.Key(rec))
		if score >= threshold {
			matches = append(matches, Match{Index: i, Score: score, Record: rec})
		}
	}

	slices.SortStableFunc(matches, func(a, b Match) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		}
		return 0
	})
	return matches
}
