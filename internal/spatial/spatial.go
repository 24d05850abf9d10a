// Package spatial maintains an in-memory spatial index over bounded
// entities (operational intents, flight declarations, geo-fences),
// supporting insert/delete, intersection queries, and full rebuild. Per
// the design notes ("Spatial index as pluggable dependency"), the
// backing structure is an implementation detail behind this narrow
// contract; no R-tree library exists anywhere in the retrieval corpus,
// so entries are held in a mutex-guarded map keyed by id and intersection
// is a linear scan over orb.Bound overlap checks.
package spatial

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/paulmach/orb"
)

// Entry is a generic spatial entity: axis-aligned bounds, an activity
// window, and an opaque payload returned by Intersect.
type Entry struct {
	ID      string
	Bounds  orb.Bound
	Start   time.Time
	End     time.Time
	Payload interface{}
}

// Index is a single in-memory spatial index. Every method takes the
// index's own mutex, so calls are serialized internally.
type Index struct {
	mu      sync.Mutex
	entries map[string]Entry
}

// New constructs an empty Index.
func New() *Index {
	return &Index{entries: make(map[string]Entry)}
}

// Insert adds or replaces the entry for id.
func (idx *Index) Insert(id string, bounds orb.Bound, start, end time.Time, payload interface{}) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.entries[id] = Entry{ID: id, Bounds: bounds, Start: start, End: end, Payload: payload}
}

// Delete removes the entry for id, if present.
func (idx *Index) Delete(id string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	delete(idx.entries, id)
}

// Clear discards all entries. After Clear returns, Intersect returns
// empty until the next Insert/Rebuild (invariant F1).
func (idx *Index) Clear() {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.entries = make(map[string]Entry)
}

// RebuildSource is the shape of one source record consumed by Rebuild:
// a comma-separated bounds string plus an optional explicit activity
// window.
type RebuildSource struct {
	ID      string
	Bounds  string // "minx,miny,maxx,maxy"
	Start   *time.Time
	End     *time.Time
	Payload interface{}
}

// Rebuild clears the index and re-populates it from sources, parsing
// each Bounds string and attaching a synthetic (now-1d, now+1d) activity
// window to any source lacking an explicit one. Malformed bounds strings
// are skipped (logged by the caller, not here, since this package has no
// logging dependency of its own).
func (idx *Index) Rebuild(sources []RebuildSource) []string {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.entries = make(map[string]Entry)

	now := time.Now()
	defaultStart := now.Add(-24 * time.Hour)
	defaultEnd := now.Add(24 * time.Hour)

	var skipped []string
	for _, src := range sources {
		bounds, ok := parseBounds(src.Bounds)
		if !ok {
			skipped = append(skipped, src.ID)
			continue
		}
		start, end := defaultStart, defaultEnd
		if src.Start != nil {
			start = *src.Start
		}
		if src.End != nil {
			end = *src.End
		}
		idx.entries[src.ID] = Entry{ID: src.ID, Bounds: bounds, Start: start, End: end, Payload: src.Payload}
	}
	return skipped
}

// Intersect returns the payloads of every entry whose bounds intersect
// query.
func (idx *Index) Intersect(query orb.Bound) []interface{} {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	var out []interface{}
	for _, e := range idx.entries {
		if boundsIntersect(e.Bounds, query) {
			out = append(out, e.Payload)
		}
	}
	return out
}

// Len reports the number of entries currently held, mostly for tests.
func (idx *Index) Len() int {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return len(idx.entries)
}

func boundsIntersect(a, b orb.Bound) bool {
	return a.Min[0] <= b.Max[0] && a.Max[0] >= b.Min[0] &&
		a.Min[1] <= b.Max[1] && a.Max[1] >= b.Min[1]
}

// parseBounds parses a "minx,miny,maxx,maxy" string into an orb.Bound.
func parseBounds(s string) (orb.Bound, bool) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return orb.Bound{}, false
	}
	vals := make([]float64, 4)
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return orb.Bound{}, false
		}
		vals[i] = v
	}
	return orb.Bound{Min: orb.Point{vals[0], vals[1]}, Max: orb.Point{vals[2], vals[3]}}, true
}
