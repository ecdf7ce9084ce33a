package goals

import "testing"

func TestWouldCreateCycleDirectLoop(t *testing.T) {
	edges := map[string][]string{"a": {"b"}}
	if !WouldCreateCycle(edges, "b", "a") {
		t.Fatal("expected b->a to close a loop when a->b exists")
	}
}

func TestWouldCreateCycleSelf(t *testing.T) {
	if !WouldCreateCycle(nil, "a", "a") {
		t.Fatal("expected self edge to be a cycle")
	}
}

func TestWouldCreateCycleTransitive(t *testing.T) {
	edges := map[string][]string{
		"a": {"b"},
		"b": {"c"},
		"c": {"d"},
	}
	if !WouldCreateCycle(edges, "d", "a") {
		t.Fatal("expected d->a to close the chain a->b->c->d")
	}
	if WouldCreateCycle(edges, "a", "d") {
		t.Fatal("a->d duplicates reachability but creates no cycle")
	}
}

func TestWouldCreateCycleDisjoint(t *testing.T) {
	edges := map[string][]string{
		"a": {"b"},
		"x": {"y"},
	}
	if WouldCreateCycle(edges, "b", "x") {
		t.Fatal("edge between disjoint components is not a cycle")
	}
}

func TestRollupProgress(t *testing.T) {
	if got := RollupProgress(nil); got != 0 {
		t.Fatalf("empty roll-up = %v, want 0", got)
	}
	if got := RollupProgress([]float64{100, 50, 0}); got != 50 {
		t.Fatalf("roll-up = %v, want 50", got)
	}
}
