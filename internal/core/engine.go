package core

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/gridfill/internal/config"
)

// ErrValidationFailed is returned when a record with errors is submitted.
var ErrValidationFailed = errors.New("validation failed")

// EngineConfig holds everything the engine needs to judge records.
type EngineConfig struct {
	Rules     RuleSet
	Checks    []config.CheckSpec
	KeyFields []string
	Threshold float64
	Scoring   Scoring
}

// EngineConfigFromProfile derives the engine settings from a grid profile.
func EngineConfigFromProfile(p *config.Profile) EngineConfig {
	return EngineConfig{
		Rules:     RuleSetFromProfile(p),
		Checks:    p.Checks,
		KeyFields: p.Similarity.KeyFields,
		Threshold: p.Similarity.Threshold,
		Scoring: Scoring{
			ErrorPenalty:   p.Scoring.ErrorPenalty,
			WarningPenalty: p.Scoring.WarningPenalty,
		},
	}
}

type engineState struct {
	validator *Validator
	checks    *CheckSet
	matcher   *Matcher
	scoring   Scoring
	threshold float64
}

func buildState(cfg EngineConfig) (*engineState, error) {
	v, err := NewValidator(cfg.Rules)
	if err != nil {
		return nil, err
	}
	cs, err := NewCheckSet(cfg.Checks)
	if err != nil {
		return nil, err
	}
	sc := cfg.Scoring
	if sc == (Scoring{}) {
		sc = DefaultScoring
	}
	th := cfg.Threshold
	if th <= 0 {
		th = 0.8
	}
	return &engineState{
		validator: v,
		checks:    cs,
		matcher:   NewMatcher(cfg.KeyFields),
		scoring:   sc,
		threshold: th,
	}, nil
}

// Engine validates records, finds near-duplicates, and gates every write to
// the dataset. Read paths are safe for concurrent use; the rule set can be
// swapped at runtime with Reload.
type Engine struct {
	state   atomic.Pointer[engineState]
	dataset *Dataset
}

// NewEngine builds an engine over ds.
func NewEngine(cfg EngineConfig, ds *Dataset) (*Engine, error) {
	st, err := buildState(cfg)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	if ds == nil {
		ds = NewDataset()
	}
	e := &Engine{dataset: ds}
	e.state.Store(st)
	return e, nil
}

// Reload swaps in a new rule set. On error the current one stays active.
func (e *Engine) Reload(cfg EngineConfig) error {
	st, err := buildState(cfg)
	if err != nil {
		return fmt.Errorf("engine reload: %w", err)
	}
	e.state.Store(st)
	return nil
}

// Dataset returns the dataset the engine guards.
func (e *Engine) Dataset() *Dataset {
	return e.dataset
}

// Threshold returns the configured duplicate threshold.
func (e *Engine) Threshold() float64 {
	return e.state.Load().threshold
}

// Similarity scores two records with the active matcher.
func (e *Engine) Similarity(a, b TestData) float64 {
	return e.state.Load().matcher.Similarity(a, b)
}

// FindDuplicates searches the dataset for records resembling target.
// A threshold <= 0 uses the configured one.
func (e *Engine) FindDuplicates(target TestData, threshold float64) []Match {
	st := e.state.Load()
	if threshold <= 0 {
		threshold = st.threshold
	}
	var matches []Match
	e.dataset.read(func(recs []TestData) {
		matches = st.matcher.FindDuplicates(recs, target, threshold)
	})
	return matches
}

// Validate judges rec against the active rules, checks and the dataset.
func (e *Engine) Validate(rec TestData) ValidationResult {
	st := e.state.Load()

	normalized, issues := st.validator.Check(rec)
	issues = append(issues, st.checks.Evaluate(normalized)...)

	var dupes []Match
	e.dataset.read(func(recs []TestData) {
		dupes = st.matcher.FindDuplicates(recs, normalized, st.threshold)
	})
	if len(dupes) > 0 {
		issues = append(issues, Issue{
			Field:    "duplicates",
			Message:  fmt.Sprintf("found %d similar record(s)", len(dupes)),
			Severity: SeverityWarning,
		})
	}

	return st.result(normalized, issues, len(dupes))
}

// ValidateFields judges only the fields rec sets against the active rules.
// Cross-field checks and duplicate detection need a whole record and are
// skipped.
func (e *Engine) ValidateFields(rec TestData) ValidationResult {
	st := e.state.Load()
	normalized, issues := st.validator.CheckFields(rec)
	return st.result(normalized, issues, 0)
}

func (st *engineState) result(rec TestData, issues []Issue, dupes int) ValidationResult {
	res := ValidationResult{
		Errors:   []string{},
		Warnings: []string{},
		Issues:   issues,
		Record:   rec,
	}
	if res.Issues == nil {
		res.Issues = []Issue{}
	}
	for _, is := range issues {
		if is.Severity == SeverityError {
			res.Errors = append(res.Errors, is.String())
		} else {
			res.Warnings = append(res.Warnings, is.String())
		}
	}
	res.IsValid = len(res.Errors) == 0
	res.Score = st.scoring.Score(len(res.Errors), len(res.Warnings))
	res.Suggestions = Suggestions(res.Score, dupes)
	return res
}

// Submit validates rec and appends the normalized record when it is valid.
// The returned error wraps ErrValidationFailed for invalid records.
func (e *Engine) Submit(rec TestData, src Source) (TestData, ValidationResult, error) {
	rec.ID = uuid.Nil
	res := e.Validate(rec)
	if !res.IsValid {
		return TestData{}, res, fmt.Errorf("%w: %d error(s)", ErrValidationFailed, len(res.Errors))
	}
	out := res.Record
	out.Source = src
	stored := e.dataset.Append(out)
	return stored[0], res, nil
}

// Update validates rec and replaces the record at index. Duplicates of the
// record being replaced are not counted against it.
func (e *Engine) Update(index int, rec TestData) (TestData, ValidationResult, error) {
	cur, err := e.dataset.Get(index)
	if err != nil {
		return TestData{}, ValidationResult{}, err
	}
	rec.ID = cur.ID
	res := e.Validate(rec)
	if !res.IsValid {
		return TestData{}, res, fmt.Errorf("%w: %d error(s)", ErrValidationFailed, len(res.Errors))
	}
	stored, err := e.dataset.Replace(index, res.Record)
	if err != nil {
		return TestData{}, res, err
	}
	return stored, res, nil
}

// QualityReport summarizes validation across the whole dataset.
type QualityReport struct {
	TotalRecords   int            `json:"total_records"`
	ValidRecords   int            `json:"valid_records"`
	InvalidRecords int            `json:"invalid_records"`
	AverageScore   float64        `json:"average_score"`
	ErrorCount     int            `json:"error_count"`
	WarningCount   int            `json:"warning_count"`
	Invalid        []int          `json:"invalid"`
	BySource       map[Source]int `json:"by_source"`
	GeneratedAt    time.Time      `json:"generated_at"`
}

// Quality validates every record and aggregates the results.
func (e *Engine) Quality() QualityReport {
	recs := e.dataset.All()
	rep := QualityReport{
		TotalRecords: len(recs),
		Invalid:      []int{},
		BySource:     make(map[Source]int),
		GeneratedAt:  time.Now().UTC(),
	}
	if len(recs) == 0 {
		return rep
	}

	total := 0
	for i, rec := range recs {
		res := e.Validate(rec)
		total += res.Score
		rep.ErrorCount += len(res.Errors)
		rep.WarningCount += len(res.Warnings)
		rep.BySource[rec.Source]++
		if res.IsValid {
			rep.ValidRecords++
		} else {
			rep.InvalidRecords++
			rep.Invalid = append(rep.Invalid, i)
		}
	}
	rep.AverageScore = float64(total) / float64(len(recs))
	return rep
}
