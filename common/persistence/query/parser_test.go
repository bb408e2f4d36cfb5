package query

import "testing"

func TestParseSingleConjunct(t *testing.T) {
	ast := Parse("WorkflowType = 'greet'")
	if len(ast.Conjuncts) != 1 {
		t.Fatalf("expected 1 conjunct, got %d", len(ast.Conjuncts))
	}
	c := ast.Conjuncts[0]
	if c.Field != FieldWorkflowType || c.Op != OpEquals || c.Value != "greet" {
		t.Fatalf("unexpected conjunct: %+v", c)
	}
}

func TestParseMultipleConjunctsWithAnd(t *testing.T) {
	ast := Parse("WorkflowType = 'greet' AND Status = 'Running'")
	if len(ast.Conjuncts) != 2 {
		t.Fatalf("expected 2 conjuncts, got %d: %+v", len(ast.Conjuncts), ast.Conjuncts)
	}
}

func TestUnknownFieldFoldsIntoFreeText(t *testing.T) {
	ast := Parse("NotAField = 'whatever' AND alice")
	if len(ast.Conjuncts) != 0 {
		t.Fatalf("expected 0 conjuncts, got %d", len(ast.Conjuncts))
	}
	if ast.FreeText == "" {
		t.Fatalf("expected free text to capture unrecognized clauses")
	}
}

func TestMatchConjunctsAndFreeText(t *testing.T) {
	ast := Parse("Status = 'Running' AND alice")
	fields := map[Field]string{FieldStatus: "Running"}
	if !ast.Match(fields, []string{"alice-workflow"}) {
		t.Fatalf("expected match")
	}
	if ast.Match(map[Field]string{FieldStatus: "Completed"}, []string{"alice-workflow"}) {
		t.Fatalf("expected no match on differing status")
	}
	if ast.Match(fields, []string{"bob-workflow"}) {
		t.Fatalf("expected no match on free text miss")
	}
}

func TestEmptyQueryMatchesEverything(t *testing.T) {
	ast := Parse("")
	if !ast.Match(map[Field]string{}, nil) {
		t.Fatalf("expected empty query to match everything")
	}
}

func TestRangeConjuncts(t *testing.T) {
	ast := Parse("StartTime > '2026-01-01'")
	if len(ast.Conjuncts) != 1 || ast.Conjuncts[0].Op != OpGreaterThan {
		t.Fatalf("expected range conjunct, got %+v", ast.Conjuncts)
	}
	if !ast.Match(map[Field]string{FieldStartTime: "2026-02-01"}, nil) {
		t.Fatalf("expected 2026-02-01 > 2026-01-01")
	}
	if ast.Match(map[Field]string{FieldStartTime: "2025-12-01"}, nil) {
		t.Fatalf("expected 2025-12-01 to fail > 2026-01-01")
	}
}
