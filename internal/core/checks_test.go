package core

import (
	"strings"
	"testing"

	"github.com/JonMunkholm/gridfill/internal/config"
)

func TestCheckSet_Evaluate(t *testing.T) {
	cs, err := NewCheckSet([]config.CheckSpec{
		{Name: "ship_group", Expr: `record.station != "SHIP" || record.manufacturing_group != "DEFAULT"`, Severity: "warning", Message: "SHIP needs a group"},
		{Name: "prefix", Expr: `record.part_number.startsWith("C0")`},
	})
	if err != nil {
		t.Fatalf("NewCheckSet() error = %v", err)
	}
	if cs.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", cs.Len())
	}

	ok := TestData{PartNumber: "C08GL0DIG017A", Station: "FT", ManufacturingGroup: "DEFAULT"}
	if issues := cs.Evaluate(ok); len(issues) != 0 {
		t.Errorf("Evaluate(ok) = %v, want none", issues)
	}

	bad := TestData{PartNumber: "X08GL0DIG017A", Station: "SHIP", ManufacturingGroup: "DEFAULT"}
	issues := cs.Evaluate(bad)
	if len(issues) != 2 {
		t.Fatalf("Evaluate(bad) = %v, want 2 issues", issues)
	}
	if issues[0].Field != "ship_group" || issues[0].Severity != SeverityWarning || issues[0].Message != "SHIP needs a group" {
		t.Errorf("issues[0] = %+v", issues[0])
	}
	if issues[1].Field != "prefix" || issues[1].Severity != SeverityError {
		t.Errorf("issues[1] = %+v", issues[1])
	}
	if !strings.Contains(issues[1].Message, "startsWith") {
		t.Errorf("default message %q should quote the expression", issues[1].Message)
	}
}

func TestNewCheckSet_Errors(t *testing.T) {
	tests := []struct {
		name string
		spec config.CheckSpec
	}{
		{"syntax error", config.CheckSpec{Name: "a", Expr: "record.station =="}},
		{"non-bool result", config.CheckSpec{Name: "b", Expr: "record.station"}},
		{"unknown variable", config.CheckSpec{Name: "c", Expr: "row.station == 'FT'"}},
		{"empty expression", config.CheckSpec{Name: "d", Expr: "  "}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewCheckSet([]config.CheckSpec{tt.spec}); err == nil {
				t.Error("NewCheckSet() expected error")
			}
		})
	}
}

func TestCheckSet_Empty(t *testing.T) {
	cs, err := NewCheckSet(nil)
	if err != nil {
		t.Fatalf("NewCheckSet(nil) error = %v", err)
	}
	if issues := cs.Evaluate(sampleRecord()); issues != nil {
		t.Errorf("Evaluate() = %v, want nil", issues)
	}
}
