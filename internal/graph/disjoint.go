package graph

// DisjointSet is a union-find over dense indices with path halving and union by size.
type DisjointSet struct {
	parent []int
	size   []int
	count  int
}

// NewDisjointSet returns n singleton sets.
func NewDisjointSet(n int) *DisjointSet {
	ds := &DisjointSet{
		parent: make([]int, n),
		size:   make([]int, n),
		count:  n,
	}
	for i := range ds.parent {
		ds.parent[i] = i
		ds.size[i] = 1
	}
	return ds
}

// Find returns the representative of x.
func (ds *DisjointSet) Find(x int) int {
	for ds.parent[x] != x {
		ds.parent[x] = ds.parent[ds.parent[x]]
		x = ds.parent[x]
	}
	return x
}

// Union merges the sets of a and b and reports whether they were distinct.
func (ds *DisjointSet) Union(a, b int) bool {
	ra, rb := ds.Find(a), ds.Find(b)
	if ra == rb {
		return false
	}
	if ds.size[ra] < ds.size[rb] {
		ra, rb = rb, ra
	}
	ds.parent[rb] = ra
	ds.size[ra] += ds.size[rb]
	ds.count--
	return true
}

// Count returns the number of disjoint sets.
func (ds *DisjointSet) Count() int { return ds.count }

// Labels relabels every element with a dense set id in order of first
// appearance, and returns the labels and the number of sets.
func (ds *DisjointSet) Labels() ([]int, int) {
	labels := make([]int, len(ds.parent))
	next := 0
	seen := make(map[int]int, ds.count)
	for i := range ds.parent {
		r := ds.Find(i)
		l, ok := seen[r]
		if !ok {
			l = next
			seen[r] = l
			next++
		}
		labels[i] = l
	}
	return labels, next
}
