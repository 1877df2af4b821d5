package fare

import (
	"container/heap"
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
	"sync"

	"github.com/atmx/transit-fare/internal/model"
)

// Quote sources.
const (
	SourceDistance = "distance"
	SourceTable    = "fare_table"
	SourceRoute    = "route"
)

// ErrInvalidFare is returned for rules with an empty or identical pair of
// stations, or a price that is not positive.
var ErrInvalidFare = errors.New("fare: invalid fare rule")

type segment struct {
	from, to string
}

// Table holds fixed fares between station pairs. A pair with a rule is
// priced from the table instead of by distance; a pair without one may
// still be priced by chaining rules through intermediate stations.
type Table struct {
	mu    sync.RWMutex
	rules map[segment]int64
}

// NewTable creates an empty fare table.
func NewTable() *Table {
	return &Table{rules: make(map[segment]int64)}
}

// ValidateRule checks a single rule.
func ValidateRule(r model.FareRule) error {
	switch {
	case r.From == "" || r.To == "":
		return fmt.Errorf("%w: from and to are required", ErrInvalidFare)
	case r.From == r.To:
		return fmt.Errorf("%w: %q to itself", ErrInvalidFare, r.From)
	case r.Price <= 0:
		return fmt.Errorf("%w: %s → %s price %d must be positive", ErrInvalidFare, r.From, r.To, r.Price)
	}
	return nil
}

// Replace swaps the whole table for rules. On a validation error the table
// is left unchanged. Later duplicates win.
func (t *Table) Replace(rules []model.FareRule) error {
	next := make(map[segment]int64, len(rules))
	for _, r := range rules {
		if err := ValidateRule(r); err != nil {
			return err
		}
		next[segment{r.From, r.To}] = r.Price
	}

	t.mu.Lock()
	t.rules = next
	t.mu.Unlock()
	return nil
}

// Set stores a rule, and its reverse when bidirectional is true.
func (t *Table) Set(r model.FareRule, bidirectional bool) error {
	if err := ValidateRule(r); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.rules[segment{r.From, r.To}] = r.Price
	if bidirectional {
		t.rules[segment{r.To, r.From}] = r.Price
	}
	return nil
}

// Remove deletes the rule from → to, and to → from when bidirectional is
// true. It reports whether anything was deleted.
func (t *Table) Remove(from, to string, bidirectional bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	removed := false
	if _, ok := t.rules[segment{from, to}]; ok {
		delete(t.rules, segment{from, to})
		removed = true
	}
	if bidirectional {
		if _, ok := t.rules[segment{to, from}]; ok {
			delete(t.rules, segment{to, from})
			removed = true
		}
	}
	return removed
}

// Lookup returns the fixed fare for from → to.
func (t *Table) Lookup(from, to string) (int64, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.rules[segment{from, to}]
	return p, ok
}

// Rules returns every rule ordered by origin, then destination.
func (t *Table) Rules() []model.FareRule {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]model.FareRule, 0, len(t.rules))
	for seg, p := range t.rules {
		out = append(out, model.FareRule{From: seg.from, To: seg.to, Price: p})
	}
	slices.SortFunc(out, func(a, b model.FareRule) int {
		if c := strings.Compare(a.From, b.From); c != 0 {
			return c
		}
		return strings.Compare(a.To, b.To)
	})
	return out
}

// Len returns the number of directional rules.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.rules)
}

// CheapestRoute finds the lowest total fare from → to using only table
// rules as edges. The returned path starts with from and ends with to.
// Totals saturate at math.MaxInt64.
func (t *Table) CheapestRoute(from, to string) ([]string, int64, bool) {
	if from == to {
		return nil, 0, false
	}

	t.mu.RLock()
	adj := make(map[string][]segmentCost)
	for seg, p := range t.rules {
		adj[seg.from] = append(adj[seg.from], segmentCost{to: seg.to, price: p})
	}
	t.mu.RUnlock()

	if len(adj[from]) == 0 {
		return nil, 0, false
	}

	best := map[string]int64{from: 0}
	prev := make(map[string]string)
	pq := &routeQueue{{station: from}}

	for pq.Len() > 0 {
		cur := heap.Pop(pq).(routeNode)
		if cur.cost > best[cur.station] {
			continue
		}
		if cur.station == to {
			break
		}
		for _, e := range adj[cur.station] {
			cost := saturatingAdd(cur.cost, e.price)
			if known, seen := best[e.to]; seen && known <= cost {
				continue
			}
			best[e.to] = cost
			prev[e.to] = cur.station
			heap.Push(pq, routeNode{station: e.to, cost: cost})
		}
	}

	total, ok := best[to]
	if !ok {
		return nil, 0, false
	}
	path := []string{to}
	for at := to; at != from; {
		at = prev[at]
		path = append(path, at)
	}
	slices.Reverse(path)
	return path, total, true
}

func saturatingAdd(a, b int64) int64 {
	if a > math.MaxInt64-b {
		return math.MaxInt64
	}
	return a + b
}

type segmentCost struct {
	to    string
	price int64
}

type routeNode struct {
	station string
	cost    int64
}

// routeQueue is a min-heap on cost.
type routeQueue []routeNode

func (q routeQueue) Len() int           { return len(q) }
func (q routeQueue) Less(i, j int) bool { return q[i].cost < q[j].cost }
func (q routeQueue) Swap(i, j int)      { q[i], q[j] = q[j], q[i] }
func (q *routeQueue) Push(x any)        { *q = append(*q, x.(routeNode)) }
func (q *routeQueue) Pop() any {
	old := *q
	n := old[len(old)-1]
	*q = old[:len(old)-1]
	return n
}
