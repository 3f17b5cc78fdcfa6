package core

// rules.go applies declarative per-field rules to a record.
//
// Each field is evaluated in a fixed order:
//  1. required and absent: error, no further checks for the field
//  2. absent with a default: the default is substituted, no issue
//  3. pattern mismatch
//  4. value outside allowed_values
//  5. shorter than min_length
//
// A value is absent when it is empty after trimming. Rules for names that are
// not record fields are ignored, as are record fields without a rule.

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/JonMunkholm/gridfill/internal/config"
)

// Transform normalizes a value before it is checked.
type Transform string

const (
	TransformNone  Transform = ""
	TransformTrim  Transform = "trim"
	TransformUpper Transform = "upper"
)

func (t Transform) apply(v string) string {
	switch t {
	case TransformTrim:
		return strings.TrimSpace(v)
	case TransformUpper:
		return strings.ToUpper(strings.TrimSpace(v))
	}
	return v
}

// FieldRule is the declarative rule for one field.
type FieldRule struct {
	Required      bool
	Pattern       string
	AllowedValues []string
	MinLength     int
	Default       *string

	// Severity applies to pattern, allowed and length issues. Missing
	// required values are always errors.
	Severity  Severity
	Message   string
	Transform Transform
}

// RuleSet maps a field name to its rule.
type RuleSet map[string]FieldRule

// RuleSetFromProfile converts the profile's rule specs.
func RuleSetFromProfile(p *config.Profile) RuleSet {
	rs := make(RuleSet, len(p.Rules))
	for name, spec := range p.Rules {
		rs[name] = FieldRule{
			Required:      spec.Required,
			Pattern:       spec.Pattern,
			AllowedValues: spec.AllowedValues,
			MinLength:     spec.MinLength,
			Default:       spec.Default,
			Severity:      Severity(strings.ToLower(spec.Severity)),
			Message:       spec.Message,
			Transform:     Transform(strings.ToLower(spec.Transform)),
		}
	}
	return rs
}

type compiledRule struct {
	FieldRule
	re      *regexp.Regexp
	allowed map[string]struct{}
}

// Validator applies a compiled RuleSet. It holds no mutable state and is
// safe for concurrent use.
type Validator struct {
	rules map[string]compiledRule
	order []string
}

// NewValidator compiles rules. Invalid patterns are reported up front.
func NewValidator(rules RuleSet) (*Validator, error) {
	v := &Validator{rules: make(map[string]compiledRule, len(rules))}

	for name, r := range rules {
		if !IsKnownField(name) {
			continue
		}
		cr := compiledRule{FieldRule: r}
		if cr.Severity == "" {
			cr.Severity = SeverityError
		}
		if r.Pattern != "" {
			re, err := regexp.Compile(r.Pattern)
			if err != nil {
				return nil, fmt.Errorf("rule %s: invalid pattern: %w", name, err)
			}
			cr.re = re
		}
		if len(r.AllowedValues) > 0 {
			cr.allowed = make(map[string]struct{}, len(r.AllowedValues))
			for _, a := range r.AllowedValues {
				cr.allowed[a] = struct{}{}
			}
		}
		v.rules[name] = cr
	}

	for _, name := range FieldOrder {
		if _, ok := v.rules[name]; ok {
			v.order = append(v.order, name)
		}
	}

	return v, nil
}

// Fields returns the fields that carry a rule, in evaluation order.
func (v *Validator) Fields() []string {
	return slices.Clone(v.order)
}

// Check validates rec and returns the normalized record with its issues.
func (v *Validator) Check(rec TestData) (TestData, []Issue) {
	var issues []Issue

	for _, name := range v.order {
		r := v.rules[name]
		raw, _ := rec.Field(name)
		val := r.Transform.apply(raw)

		if strings.TrimSpace(val) == "" {
			switch {
			case r.Required:
				issues = append(issues, Issue{Field: name, Message: "required field is empty", Severity: SeverityError})
			case r.Default != nil:
				rec.SetField(name, *r.Default)
			}
			continue
		}
		rec.SetField(name, val)
		issues = append(issues, r.check(name, val)...)
	}

	return rec, issues
}

// CheckFields validates only the fields rec sets. Empty fields are left empty
// and never reported, so a partial record such as a row edit can be judged
// on what it changes.
func (v *Validator) CheckFields(rec TestData) (TestData, []Issue) {
	var issues []Issue

	for _, name := range v.order {
		r := v.rules[name]
		raw, _ := rec.Field(name)
		val := r.Transform.apply(raw)
		if strings.TrimSpace(val) == "" {
			continue
		}
		rec.SetField(name, val)
		issues = append(issues, r.check(name, val)...)
	}

	return rec, issues
}

func (r compiledRule) check(name, val string) []Issue {
	var issues []Issue
	if r.re != nil && !r.re.MatchString(val) {
		issues = append(issues, r.issue(name, fmt.Sprintf("value %q does not match pattern %s", val, r.Pattern)))
	}
	if r.allowed != nil {
		if _, ok := r.allowed[val]; !ok {
			issues = append(issues, r.issue(name, fmt.Sprintf("value %q is not one of [%s]", val, strings.Join(r.AllowedValues, ", "))))
		}
	}
	if r.MinLength > 0 && utf8.RuneCountInString(val) < r.MinLength {
		issues = append(issues, r.issue(name, fmt.Sprintf("must be at least %d characters", r.MinLength)))
	}
	return issues
}

func (r compiledRule) issue(field, msg string) Issue {
	if r.Message != "" {
		msg = r.Message
	}
	return Issue{Field: field, Message: msg, Severity: r.Severity}
}
