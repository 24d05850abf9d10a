package spatial

import (
	"testing"
	"time"

	"github.com/paulmach/orb"
)

func TestInsertAndIntersect(t *testing.T) {
	idx := New()
	now := time.Now()
	idx.Insert("a", orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{10, 10}}, now, now.Add(time.Hour), "payload-a")

	got := idx.Intersect(orb.Bound{Min: orb.Point{5, 5}, Max: orb.Point{15, 15}})
	if len(got) != 1 || got[0] != "payload-a" {
		t.Fatalf("got %v, want [payload-a]", got)
	}

	miss := idx.Intersect(orb.Bound{Min: orb.Point{100, 100}, Max: orb.Point{200, 200}})
	if len(miss) != 0 {
		t.Fatalf("got %v, want empty", miss)
	}
}

func TestClearEmptiesIndex(t *testing.T) {
	idx := New()
	now := time.Now()
	idx.Insert("a", orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{10, 10}}, now, now, "p")
	idx.Clear()

	got := idx.Intersect(orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{10, 10}})
	if len(got) != 0 {
		t.Fatalf("got %v, want empty after Clear", got)
	}
}

func TestRebuildParsesBoundsAndSkipsMalformed(t *testing.T) {
	idx := New()
	skipped := idx.Rebuild([]RebuildSource{
		{ID: "good", Bounds: "0,0,10,10", Payload: "payload-good"},
		{ID: "bad", Bounds: "1,2,3"},
	})
	if len(skipped) != 1 || skipped[0] != "bad" {
		t.Fatalf("got skipped=%v, want [bad]", skipped)
	}
	if idx.Len() != 1 {
		t.Fatalf("got %d entries, want 1", idx.Len())
	}

	got := idx.Intersect(orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{10, 10}})
	if len(got) != 1 || got[0] != "payload-good" {
		t.Fatalf("got %v, want [payload-good]", got)
	}
}

func TestDeleteRemovesEntry(t *testing.T) {
	idx := New()
	now := time.Now()
	idx.Insert("a", orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{10, 10}}, now, now, "p")
	idx.Delete("a")
	if idx.Len() != 0 {
		t.Fatalf("got %d entries, want 0", idx.Len())
	}
}
