package core

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Source tags where a record came from.
type Source string

const (
	SourceManual      Source = "manual"
	SourceManualEdit  Source = "manual-edit"
	SourceBatchImport Source = "batch-import"
	SourceAISuggested Source = "ai-suggested"
)

// Valid reports whether s is a known source tag.
func (s Source) Valid() bool {
	switch s {
	case SourceManual, SourceManualEdit, SourceBatchImport, SourceAISuggested:
		return true
	}
	return false
}

// Field names used by rules, similarity keys and the grid column mapping.
const (
	FieldPartNumber         = "part_number"
	FieldStation            = "station"
	FieldVersion            = "version"
	FieldDescription        = "description"
	FieldManufacturingGroup = "manufacturing_group"
)

// FieldOrder is the declaration order of record fields. Validation issues
// and grid writes follow it.
var FieldOrder = []string{
	FieldPartNumber,
	FieldStation,
	FieldVersion,
	FieldDescription,
	FieldManufacturingGroup,
}

// TestData is one production-configuration row.
type TestData struct {
	ID                 uuid.UUID `json:"id"`
	PartNumber         string    `json:"part_number"`
	Station            string    `json:"station"`
	Version            string    `json:"version"`
	Description        string    `json:"description"`
	ManufacturingGroup string    `json:"manufacturing_group"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
	Source             Source    `json:"source"`
}

// Field returns the value of a named field.
func (d TestData) Field(name string) (string, bool) {
	switch name {
	case FieldPartNumber:
		return d.PartNumber, true
	case FieldStation:
		return d.Station, true
	case FieldVersion:
		return d.Version, true
	case FieldDescription:
		return d.Description, true
	case FieldManufacturingGroup:
		return d.ManufacturingGroup, true
	}
	return "", false
}

// SetField assigns a named field. It returns false for unknown names.
func (d *TestData) SetField(name, value string) bool {
	switch name {
	case FieldPartNumber:
		d.PartNumber = value
	case FieldStation:
		d.Station = value
	case FieldVersion:
		d.Version = value
	case FieldDescription:
		d.Description = value
	case FieldManufacturingGroup:
		d.ManufacturingGroup = value
	default:
		return false
	}
	return true
}

// Fields returns the record's named fields as a map.
func (d TestData) Fields() map[string]string {
	m := make(map[string]string, len(FieldOrder))
	for _, name := range FieldOrder {
		m[name], _ = d.Field(name)
	}
	return m
}

// FromFields builds a record from named field values. Unknown names are ignored.
func FromFields(fields map[string]string) TestData {
	var d TestData
	for name, v := range fields {
		d.SetField(name, v)
	}
	return d
}

// IsKnownField reports whether name is a record field.
func IsKnownField(name string) bool {
	_, ok := TestData{}.Field(name)
	return ok
}

// Severity classifies a validation issue.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is one field-level validation finding. Issues are data and are never
// returned as errors.
type Issue struct {
	Field    string   `json:"field"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}

func (i Issue) String() string {
	if i.Field == "" {
		return i.Message
	}
	return i.Field + ": " + i.Message
}

// ValidationResult is the full verdict on one record.
type ValidationResult struct {
	IsValid     bool     `json:"is_valid"`
	Errors      []string `json:"errors"`
	Warnings    []string `json:"warnings"`
	Suggestions []string `json:"suggestions"`
	Score       int      `json:"score"`
	Issues      []Issue  `json:"issues"`

	// Record is the normalized record (defaults applied, transforms run).
	Record TestData `json:"record"`
}

// ErrorFields returns the distinct fields that carry an error, in issue order.
func (r ValidationResult) ErrorFields() []string {
	var fields []string
	seen := make(map[string]bool)
	for _, is := range r.Issues {
		if is.Severity != SeverityError || seen[is.Field] {
			continue
		}
		seen[is.Field] = true
		fields = append(fields, is.Field)
	}
	return fields
}

// normalize trims, upper-cases and collapses inner whitespace.
func normalize(s string) string {
	return strings.ToUpper(strings.Join(strings.Fields(s), " "))
}
