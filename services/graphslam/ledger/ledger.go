// Package ledger keeps per type counts of registered pose graph edges and of loop closures.
package ledger

import (
	"fmt"
	"strings"
	"sync"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pkg/errors"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

var (
	// ErrDuplicateType is returned when registering an edge type twice.
	ErrDuplicateType = errors.New("edge type already registered")
	// ErrUnknownType is returned when incrementing or querying an edge type that was never registered.
	ErrUnknownType = errors.New("edge type not registered")
)

// Ledger counts edges by type. Types are kept in registration order. A Ledger is safe
// for concurrent use so reporting sinks may read it while a decider writes it.
type Ledger struct {
	mu           sync.Mutex
	counts       *orderedmap.OrderedMap[string, int]
	loopClosures int
}

// New returns an empty ledger.
func New() *Ledger {
	return &Ledger{counts: orderedmap.New[string, int]()}
}

// RegisterType creates a zero count entry for name.
func (l *Ledger) RegisterType(name string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.counts.Get(name); ok {
		return errors.Wrapf(ErrDuplicateType, "%q", name)
	}
	l.counts.Set(name, 0)
	return nil
}

// Increment counts one more edge of type name, and one more loop closure if isLoopClosure.
func (l *Ledger) Increment(name string, isLoopClosure bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	count, ok := l.counts.Get(name)
	if !ok {
		return errors.Wrapf(ErrUnknownType, "%q", name)
	}
	l.counts.Set(name, count+1)
	if isLoopClosure {
		l.loopClosures++
	}
	return nil
}

// TotalCount returns the number of edges over all types.
func (l *Ledger) TotalCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.totalLocked()
}

func (l *Ledger) totalLocked() int {
	total := 0
	for pair := l.counts.Oldest(); pair != nil; pair = pair.Next() {
		total += pair.Value
	}
	return total
}

// CountFor returns the number of edges of type name.
func (l *Ledger) CountFor(name string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	count, ok := l.counts.Get(name)
	if !ok {
		return 0, errors.Wrapf(ErrUnknownType, "%q", name)
	}
	return count, nil
}

// LoopClosureCount returns the number of edges flagged as loop closures.
func (l *Ledger) LoopClosureCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loopClosures
}

// Types returns the registered type names in registration order.
func (l *Ledger) Types() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	names := make([]string, 0, l.counts.Len())
	for pair := l.counts.Oldest(); pair != nil; pair = pair.Next() {
		names = append(names, pair.Key)
	}
	return names
}

// Counts returns a copy of the per type counts.
func (l *Ledger) Counts() map[string]int {
	l.mu.Lock()
	defer l.mu.Unlock()
	counts := make(map[string]int, l.counts.Len())
	for pair := l.counts.Oldest(); pair != nil; pair = pair.Next() {
		counts[pair.Key] = pair.Value
	}
	return counts
}

// Clear brings the ledger back to its empty state, forgetting registered types.
func (l *Ledger) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.counts = orderedmap.New[string, int]()
	l.loopClosures = 0
}

// Summary renders the totals and the per type breakdown in registration order.
func (l *Ledger) Summary() string {
	l.mu.Lock()
	defer l.mu.Unlock()

	var sb strings.Builder
	sb.WriteString("Summary of Edges:\n")
	fmt.Fprintf(&sb, "Total edges: %d\n", l.totalLocked())
	fmt.Fprintf(&sb, "Loop closure edges: %d\n", l.loopClosures)

	t := table.NewWriter()
	t.AppendHeader(table.Row{"Type", "Edges"})
	for pair := l.counts.Oldest(); pair != nil; pair = pair.Next() {
		t.AppendRow(table.Row{pair.Key, pair.Value})
	}
	sb.WriteString(t.Render())
	sb.WriteString("\n")
	return sb.String()
}
