package fill

import (
	"fmt"
	"strings"
)

// Failure is one field that could not be driven to its expected value.
type Failure struct {
	RowKey   string `json:"row_key"`
	Field    Field  `json:"field"`
	Expected string `json:"expected"`
}

// FailureLog is the ordered, append-only list of failures of one pass.
type FailureLog []Failure

// RowFailures groups the failures of one row.
type RowFailures struct {
	RowKey   string    `json:"row_key"`
	Failures []Failure `json:"failures"`
}

// ByRow groups failures by row key, rows ordered by their first failure.
func (l FailureLog) ByRow() []RowFailures {
	var groups []RowFailures
	index := map[string]int{}
	for _, f := range l {
		i, ok := index[f.RowKey]
		if !ok {
			i = len(groups)
			index[f.RowKey] = i
			groups = append(groups, RowFailures{RowKey: f.RowKey})
		}
		groups[i].Failures = append(groups[i].Failures, f)
	}
	return groups
}

// Summary renders the log for people: a count line followed by one line per row.
func (l FailureLog) Summary() string {
	if len(l) == 0 {
		return "0 failures"
	}
	groups := l.ByRow()
	var b strings.Builder
	fmt.Fprintf(&b, "%d failure(s) across %d row(s)", len(l), len(groups))
	for _, g := range groups {
		parts := make([]string, 0, len(g.Failures))
		for _, f := range g.Failures {
			parts = append(parts, fmt.Sprintf("%s=%q", f.Field, f.Expected))
		}
		fmt.Fprintf(&b, "\n  %s: %s", g.RowKey, strings.Join(parts, ", "))
	}
	return b.String()
}
