// Package query implements the minimal visibility query grammar: zero or
// more `Field = 'value'` conjuncts joined by AND, plus an optional free-text
// term matching workflowId|workflowType|status|taskQueue, and `Field >
// 'iso8601'` / `Field < 'iso8601'` range conjuncts for StartTime/CloseTime.
// This is deliberately not a general expression parser: visibility search
// never needs to expose a Turing-complete query language to callers.
package query

import (
	"strings"
)

// Field is a recognized conjunct field name.
type Field string

const (
	FieldWorkflowType Field = "WorkflowType"
	FieldWorkflowID   Field = "WorkflowId"
	FieldStatus       Field = "Status"
	FieldTaskQueue    Field = "TaskQueue"
	FieldState        Field = "State"
	FieldStartTime    Field = "StartTime"
	FieldCloseTime    Field = "CloseTime"
)

var recognizedFields = map[string]Field{
	"workflowtype": FieldWorkflowType,
	"workflowid":   FieldWorkflowID,
	"status":       FieldStatus,
	"taskqueue":    FieldTaskQueue,
	"state":        FieldState,
	"starttime":    FieldStartTime,
	"closetime":    FieldCloseTime,
}

// Op is the relational operator of a Conjunct.
type Op string

const (
	OpEquals      Op = "="
	OpGreaterThan Op = ">"
	OpLessThan    Op = "<"
)

// Conjunct is one `Field <op> 'value'` clause.
type Conjunct struct {
	Field Field
	Op    Op
	Value string
}

// AST is the normalized, parsed form of a query string: a conjunction of
// field filters plus an optional free-text term. An empty AST matches
// everything.
type AST struct {
	Conjuncts []Conjunct
	FreeText  string
}

// Parse tokenizes on top-level " AND " (case-insensitive) and classifies
// each token as a recognized `Field op 'value'` conjunct or, failing that,
// folds it into the free-text term (spec: "Unknown field tokens fold into
// the free-text term").
func Parse(raw string) *AST {
	ast := &AST{}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ast
	}

	var freeTextParts []string
	for _, clause := range splitAND(raw) {
		clause = strings.TrimSpace(clause)
		if clause == "" {
			continue
		}
		if c, ok := parseClause(clause); ok {
			ast.Conjuncts = append(ast.Conjuncts, c)
			continue
		}
		freeTextParts = append(freeTextParts, clause)
	}
	ast.FreeText = strings.TrimSpace(strings.Join(freeTextParts, " "))
	return ast
}

func splitAND(raw string) []string {
	// Case-insensitive split on the literal token " AND " (with surrounding
	// whitespace tolerated by the TrimSpace in Parse's clause loop).
	var parts []string
	upper := strings.ToUpper(raw)
	for {
		idx := strings.Index(upper, " AND ")
		if idx < 0 {
			parts = append(parts, raw)
			break
		}
		parts = append(parts, raw[:idx])
		raw = raw[idx+5:]
		upper = upper[idx+5:]
	}
	return parts
}

func parseClause(clause string) (Conjunct, bool) {
	for _, op := range []Op{OpEquals, OpGreaterThan, OpLessThan} {
		idx := strings.Index(clause, string(op))
		if idx <= 0 {
			continue
		}
		fieldToken := strings.TrimSpace(clause[:idx])
		valueToken := strings.TrimSpace(clause[idx+1:])
		field, ok := recognizedFields[strings.ToLower(fieldToken)]
		if !ok {
			continue
		}
		value, ok := unquote(valueToken)
		if !ok {
			continue
		}
		return Conjunct{Field: field, Op: op, Value: value}, true
	}
	return Conjunct{}, false
}

func unquote(s string) (string, bool) {
	if len(s) >= 2 && s[0] == '\'' && s[len(s)-1] == '\'' {
		return s[1 : len(s)-1], true
	}
	return "", false
}

// Match evaluates the AST against a projection's fields. Callers supply the
// record's values for the recognized fields plus the set of free-text
// haystack values (workflowId|workflowType|status|taskQueue).
func (a *AST) Match(fields map[Field]string, freeTextHaystack []string) bool {
	for _, c := range a.Conjuncts {
		actual, ok := fields[c.Field]
		if !ok {
			return false
		}
		switch c.Op {
		case OpEquals:
			if actual != c.Value {
				return false
			}
		case OpGreaterThan:
			if actual <= c.Value {
				return false
			}
		case OpLessThan:
			if actual >= c.Value {
				return false
			}
		}
	}
	if a.FreeText == "" {
		return true
	}
	needle := strings.ToLower(a.FreeText)
	for _, hay := range freeTextHaystack {
		if strings.Contains(strings.ToLower(hay), needle) {
			return true
		}
	}
	return false
}
