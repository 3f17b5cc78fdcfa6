package core

// Scoring turns issue counts into a 0-100 quality score. The score is a
// signal only; validity depends on errors alone.
type Scoring struct {
	ErrorPenalty   int `json:"error_penalty"`
	WarningPenalty int `json:"warning_penalty"`
}

// DefaultScoring is used when a profile does not set penalties.
var DefaultScoring = Scoring{ErrorPenalty: 25, WarningPenalty: 10}

// Score returns 100 minus the penalties, clamped to [0,100].
func (s Scoring) Score(errors, warnings int) int {
	score := 100 - errors*s.ErrorPenalty - warnings*s.WarningPenalty
	return min(max(score, 0), 100)
}

// Suggestions returns advice for a result with the given score and
// duplicate count.
func Suggestions(score, duplicates int) []string {
	var out []string
	switch {
	case score >= 90:
		out = append(out, "data quality is excellent")
	case score >= 70:
		out = append(out, "data quality is good; consider resolving the warnings")
	default:
		out = append(out, "review and correct the issues before submitting")
	}
	if duplicates > 0 {
		out = append(out, "check the similar records before adding a new row")
	}
	return out
}
