package goals

// WouldCreateCycle reports whether adding an edge from -> to would close a
// loop in the combined parent/alignment graph. Edges point upward: a goal's
// parent and its alignment targets are both reachable "ancestors".
func WouldCreateCycle(edges map[string][]string, from, to string) bool {
	if from == to {
		return true
	}
	// A cycle appears iff `from` is already reachable from `to`.
	seen := map[string]bool{}
	stack := []string{to}
	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if current == from {
			return true
		}
		if seen[current] {
			continue
		}
		seen[current] = true
		stack = append(stack, edges[current]...)
	}
	return false
}

// RollupProgress computes an OKR objective's progress as the plain average of
// its key results. This is the only place progress is derived rather than
// recorded.
func RollupProgress(keyResults []float64) float64 {
	if len(keyResults) == 0 {
		return 0
	}
	var sum float64
	for _, p := range keyResults {
		sum += p
	}
	return sum / float64(len(keyResults))
}
