package engine

import (
	"sort"
	"sync"

	"github.com/broker-flow-ai/regpack/pkg/ruleset"
)

// Outcome is the result of applying one rule to one row.
type Outcome string

const (
	OutcomePass      Outcome = "PASS"
	OutcomeFail      Outcome = "FAIL"
	OutcomeError     Outcome = "ERROR"
	OutcomeTransform Outcome = "TRANSFORM"
)

// Violation is a FAIL or ERROR outcome. It is never modified after creation.
type Violation struct {
	RuleID   string           `json:"rule_id"`
	Table    string           `json:"table"`
	RowID    any              `json:"row_id"`
	Row      int              `json:"row"`
	Severity ruleset.Severity `json:"severity"`
	Message  string           `json:"message"`
	Outcome  Outcome          `json:"outcome"`
	Error    string           `json:"error,omitempty"`

	tableIdx int
	ruleIdx  int
}

// Sink is an append-only, concurrency-safe violation collector.
type Sink struct {
	mu   sync.Mutex
	recs []Violation
}

// Add appends a batch.
func (s *Sink) Add(vs ...Violation) {
	if len(vs) == 0 {
		return
	}
	s.mu.Lock()
	s.recs = append(s.recs, vs...)
	s.mu.Unlock()
}

// Len returns the number of violations collected so far.
func (s *Sink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.recs)
}

// Sorted returns a copy in table, row, rule order, independent of the order
// in which workers finished.
func (s *Sink) Sorted() []Violation {
	s.mu.Lock()
	out := make([]Violation, len(s.recs))
	copy(out, s.recs)
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.tableIdx != b.tableIdx {
			return a.tableIdx < b.tableIdx
		}
		if a.Row != b.Row {
			return a.Row < b.Row
		}
		return a.ruleIdx < b.ruleIdx
	})
	return out
}
