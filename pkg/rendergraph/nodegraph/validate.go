package nodegraph

import (
	"errors"
	"sort"
)

// Validate checks the graph's reference structure. Multiple errors are
// joined together.
//
// Checks:
//  1. No input references its own node
//  2. Every reference targets an existing node and a non-negative slot
//  3. The reference graph is acyclic
func (g *Graph) Validate() error {
	var errs []error

	for _, n := range g.Nodes() {
		for _, name := range inputNames(n) {
			r, ok := n.Inputs[name].Ref()
			if !ok {
				continue
			}
			switch {
			case r.Node == n.ID:
				errs = append(errs, &ReferenceError{NodeID: n.ID, Input: name, Target: r, Err: ErrSelfReference})
			case g.nodes[r.Node] == nil:
				errs = append(errs, &ReferenceError{NodeID: n.ID, Input: name, Target: r, Err: ErrDanglingReference})
			case r.Slot < 0:
				errs = append(errs, &ReferenceError{NodeID: n.ID, Input: name, Target: r, Err: ErrInvalidSlot})
			}
		}
	}

	if path := g.findCycle(); path != nil {
		errs = append(errs, &CycleError{Path: path})
	}

	return errors.Join(errs...)
}

// TopoOrder returns the node ids with every producer before its consumers.
// Ties are broken by IDs order. Self and dangling references are ignored.
func (g *Graph) TopoOrder() ([]string, error) {
	out := g.kahn()
	if len(out) != len(g.nodes) {
		return nil, &CycleError{Path: g.findCycle()}
	}
	return out, nil
}

// outgoing maps each producer to its consumers, sorted and deduplicated.
func (g *Graph) outgoing() (map[string][]string, map[string]int) {
	out := make(map[string][]string, len(g.nodes))
	indeg := make(map[string]int, len(g.nodes))
	for id := range g.nodes {
		indeg[id] = 0
	}
	for _, n := range g.Nodes() {
		seen := make(map[string]bool)
		for _, r := range n.References() {
			if r.Node == n.ID || g.nodes[r.Node] == nil || seen[r.Node] {
				continue
			}
			seen[r.Node] = true
			out[r.Node] = append(out[r.Node], n.ID)
			indeg[n.ID]++
		}
	}
	for id := range out {
		sortIDs(out[id])
	}
	return out, indeg
}

func (g *Graph) kahn() []string {
	outgoing, indeg := g.outgoing()

	var ready []string
	for _, id := range g.IDs() {
		if indeg[id] == 0 {
			ready = append(ready, id)
		}
	}

	order := make([]string, 0, len(g.nodes))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)
		for _, m := range outgoing[id] {
			indeg[m]--
			if indeg[m] == 0 {
				ready = append(ready, m)
				sortIDs(ready)
			}
		}
	}
	return order
}

// findCycle returns one cycle as a closed path, or nil.
func (g *Graph) findCycle() []string {
	if len(g.kahn()) == len(g.nodes) {
		return nil
	}

	const (
		white = iota
		gray
		black
	)
	outgoing, _ := g.outgoing()
	color := make(map[string]int, len(g.nodes))
	parent := make(map[string]string, len(g.nodes))

	var cycle []string
	var dfs func(u string) bool
	dfs = func(u string) bool {
		color[u] = gray
		for _, v := range outgoing[u] {
			switch color[v] {
			case white:
				parent[v] = u
				if dfs(v) {
					return true
				}
			case gray:
				// back-edge u -> v; walk parents from u back to v
				cycle = append(cycle, v)
				for cur := u; cur != v; cur = parent[cur] {
					cycle = append(cycle, cur)
				}
				cycle = append(cycle, v)
				return true
			}
		}
		color[u] = black
		return false
	}

	for _, id := range g.IDs() {
		if color[id] == white && dfs(id) {
			break
		}
	}

	for i, j := 0, len(cycle)-1; i < j; i, j = i+1, j-1 {
		cycle[i], cycle[j] = cycle[j], cycle[i]
	}
	return cycle
}

func inputNames(n *Node) []string {
	names := make([]string, 0, len(n.Inputs))
	for name := range n.Inputs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
