package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ProfileVersion is the only profile schema version this build understands.
const ProfileVersion = 1

//go:embed profiles/default.yaml
var defaultProfile []byte

// Profile describes one target grid: how to find it, how its columns map to
// record fields, and which rules records must satisfy before being written.
type Profile struct {
	Version    int                 `yaml:"version"`
	Name       string              `yaml:"name"`
	Grid       GridProfile         `yaml:"grid"`
	Rules      map[string]RuleSpec `yaml:"rules"`
	Checks     []CheckSpec         `yaml:"checks"`
	Scoring    ScoringSpec         `yaml:"scoring"`
	Similarity SimilaritySpec      `yaml:"similarity"`
}

// GridProfile holds the page layout of the grid.
type GridProfile struct {
	BaseURL string `yaml:"base_url"`

	// KeyField names the record field matched by content-key identifiers.
	KeyField string `yaml:"key_field"`

	// NewRow is where the grid inserts a created row: "last" or "first".
	NewRow string `yaml:"new_row"`

	// Columns maps a record field to its 0-based cell index within a data row.
	Columns map[string]int `yaml:"columns"`

	Selectors SelectorSpec `yaml:"selectors"`
}

// SelectorSpec holds the opaque CSS selectors for grid affordances.
type SelectorSpec struct {
	GridContainer string `yaml:"grid_container"`
	DataRow       string `yaml:"data_row"`
	HeaderRow     string `yaml:"header_row"`
	Search        string `yaml:"search"`
	SaveAll       string `yaml:"save_all"`
	Add           string `yaml:"add"`
	Delete        string `yaml:"delete"`
	Edit          string `yaml:"edit"`
	CommitRow     string `yaml:"commit_row"`
	Confirm       string `yaml:"confirm"`
	CellEditor    string `yaml:"cell_editor"`
}

// RuleSpec is the declarative rule for one record field.
type RuleSpec struct {
	Required      bool     `yaml:"required"`
	Pattern       string   `yaml:"pattern"`
	AllowedValues []string `yaml:"allowed_values"`
	MinLength     int      `yaml:"min_length"`
	Default       *string  `yaml:"default"`
	Severity      string   `yaml:"severity"`
	Message       string   `yaml:"message"`
	Transform     string   `yaml:"transform"`
}

// CheckSpec is a cross-field CEL expression that must evaluate to true.
type CheckSpec struct {
	Name     string `yaml:"name"`
	Expr     string `yaml:"expr"`
	Severity string `yaml:"severity"`
	Message  string `yaml:"message"`
}

// ScoringSpec holds the quality score penalties.
type ScoringSpec struct {
	ErrorPenalty   int `yaml:"error_penalty"`
	WarningPenalty int `yaml:"warning_penalty"`
}

// SimilaritySpec configures duplicate detection.
type SimilaritySpec struct {
	KeyFields []string `yaml:"key_fields"`
	Threshold float64  `yaml:"threshold"`
}

// DefaultProfile returns the embedded profile for the MMT010 grid.
func DefaultProfile() (*Profile, error) {
	return ParseProfile(defaultProfile)
}

// LoadProfile reads a profile from path, or the embedded default when path is empty.
func LoadProfile(path string) (*Profile, error) {
	if path == "" {
		return DefaultProfile()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profile: %w", err)
	}
	p, err := ParseProfile(data)
	if err != nil {
		return nil, fmt.Errorf("profile %s: %w", path, err)
	}
	return p, nil
}

// ParseProfile decodes and validates a YAML profile.
func ParseProfile(data []byte) (*Profile, error) {
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse profile: %w", err)
	}
	if p.Version != ProfileVersion {
		return nil, fmt.Errorf("unsupported profile version %d", p.Version)
	}
	p.applyDefaults()
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

func (p *Profile) applyDefaults() {
	if p.Grid.NewRow == "" {
		p.Grid.NewRow = "last"
	}
	if p.Scoring.ErrorPenalty == 0 && p.Scoring.WarningPenalty == 0 {
		p.Scoring = ScoringSpec{ErrorPenalty: 25, WarningPenalty: 10}
	}
	if len(p.Similarity.KeyFields) == 0 {
		p.Similarity.KeyFields = []string{"part_number", "station", "version"}
	}
	if p.Similarity.Threshold == 0 {
		p.Similarity.Threshold = 0.8
	}
}

// Validate checks the profile for structural problems.
func (p *Profile) Validate() error {
	var errs []string

	if len(p.Grid.Columns) == 0 {
		errs = append(errs, "grid.columns must map at least one field")
	}
	seen := make(map[int]string, len(p.Grid.Columns))
	for field, idx := range p.Grid.Columns {
		if idx < 0 {
			errs = append(errs, fmt.Sprintf("grid.columns.%s: index %d is negative", field, idx))
		}
		if other, ok := seen[idx]; ok {
			errs = append(errs, fmt.Sprintf("grid.columns: %s and %s share index %d", field, other, idx))
		}
		seen[idx] = field
	}
	if p.Grid.KeyField == "" {
		errs = append(errs, "grid.key_field is required")
	} else if _, ok := p.Grid.Columns[p.Grid.KeyField]; !ok {
		errs = append(errs, fmt.Sprintf("grid.key_field %q is not a mapped column", p.Grid.KeyField))
	}
	if p.Grid.NewRow != "last" && p.Grid.NewRow != "first" {
		errs = append(errs, fmt.Sprintf("grid.new_row (%q) must be last or first", p.Grid.NewRow))
	}
	if p.Grid.Selectors.DataRow == "" {
		errs = append(errs, "grid.selectors.data_row is required")
	}
	if p.Grid.Selectors.Add == "" {
		errs = append(errs, "grid.selectors.add is required")
	}

	for field, r := range p.Rules {
		if !validSeverity(r.Severity) {
			errs = append(errs, fmt.Sprintf("rules.%s.severity (%q) must be error or warning", field, r.Severity))
		}
		if r.MinLength < 0 {
			errs = append(errs, fmt.Sprintf("rules.%s.min_length must be non-negative", field))
		}
		switch strings.ToLower(r.Transform) {
		case "", "upper", "trim":
		default:
			errs = append(errs, fmt.Sprintf("rules.%s.transform (%q) must be upper or trim", field, r.Transform))
		}
	}
	for i, c := range p.Checks {
		if c.Name == "" || c.Expr == "" {
			errs = append(errs, fmt.Sprintf("checks[%d]: name and expr are required", i))
		}
		if !validSeverity(c.Severity) {
			errs = append(errs, fmt.Sprintf("checks[%d].severity (%q) must be error or warning", i, c.Severity))
		}
	}

	if p.Scoring.ErrorPenalty < 0 || p.Scoring.WarningPenalty < 0 {
		errs = append(errs, "scoring penalties must be non-negative")
	}
	if p.Similarity.Threshold < 0 || p.Similarity.Threshold > 1 {
		errs = append(errs, fmt.Sprintf("similarity.threshold (%g) must be within 0-1", p.Similarity.Threshold))
	}

	if len(errs) > 0 {
		return errors.New("invalid profile:\n  - " + strings.Join(errs, "\n  - "))
	}
	return nil
}

func validSeverity(s string) bool {
	switch strings.ToLower(s) {
	case "", "error", "warning":
		return true
	}
	return false
}
