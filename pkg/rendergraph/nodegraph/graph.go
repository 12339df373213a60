package nodegraph

import (
	"fmt"
	"sort"
	"strconv"
)

// Graph is a mutable job graph.
//
// Graph is NOT safe for concurrent use. Each render job works on its own
// clone of a shared template.
//
// The graph remembers the highest numeric identifier it has ever held.
// NextID allocates above that mark, so identifiers of removed nodes are
// never handed out again.
type Graph struct {
	nodes     map[string]*Node
	highWater int
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{nodes: make(map[string]*Node)}
}

// Add inserts a node. The node is owned by the graph afterwards.
func (g *Graph) Add(n *Node) error {
	if n == nil || n.ID == "" {
		return ErrEmptyID
	}
	if _, exists := g.nodes[n.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateNode, n.ID)
	}
	if n.Inputs == nil {
		n.Inputs = make(map[string]Input)
	}
	g.nodes[n.ID] = n
	g.observe(n.ID)
	return nil
}

// MustAdd is Add for statically known graphs. It panics on error.
func (g *Graph) MustAdd(n *Node) *Graph {
	if err := g.Add(n); err != nil {
		panic("nodegraph: " + err.Error())
	}
	return g
}

// Remove deletes a node and reports whether it existed. References to it
// are left in place; Validate reports them.
func (g *Graph) Remove(id string) bool {
	if _, ok := g.nodes[id]; !ok {
		return false
	}
	delete(g.nodes, id)
	return true
}

// Node returns the node with the given id.
func (g *Graph) Node(id string) (*Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	return len(g.nodes)
}

// IDs returns all node ids, numeric ids first in numeric order, then the
// rest lexically.
func (g *Graph) IDs() []string {
	ids := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sortIDs(ids)
	return ids
}

// Nodes returns all nodes in IDs order.
func (g *Graph) Nodes() []*Node {
	ids := g.IDs()
	out := make([]*Node, len(ids))
	for i, id := range ids {
		out[i] = g.nodes[id]
	}
	return out
}

// NodesOfKind returns the nodes of kind k in IDs order.
func (g *Graph) NodesOfKind(k Kind) []*Node {
	var out []*Node
	for _, n := range g.Nodes() {
		if n.Kind() == k {
			out = append(out, n)
		}
	}
	return out
}

// NodesOfClass returns the nodes with the given class in IDs order.
func (g *Graph) NodesOfClass(class string) []*Node {
	var out []*Node
	for _, n := range g.Nodes() {
		if n.Class == class {
			out = append(out, n)
		}
	}
	return out
}

// NextID reserves and returns a fresh numeric id above every id the graph
// has held.
func (g *Graph) NextID() string {
	for {
		g.highWater++
		id := strconv.Itoa(g.highWater)
		if _, taken := g.nodes[id]; !taken {
			return id
		}
	}
}

// HighWater returns the highest numeric id the graph has held or reserved.
func (g *Graph) HighWater() int {
	return g.highWater
}

// Consumers returns the ids of nodes holding a reference to ref, in IDs order.
func (g *Graph) Consumers(ref Ref) []string {
	var out []string
	for _, n := range g.Nodes() {
		for _, r := range n.References() {
			if r == ref {
				out = append(out, n.ID)
				break
			}
		}
	}
	return out
}

// Clone returns a deep copy, high-water mark included.
func (g *Graph) Clone() *Graph {
	c := &Graph{nodes: make(map[string]*Node, len(g.nodes)), highWater: g.highWater}
	for id, n := range g.nodes {
		c.nodes[id] = n.clone()
	}
	return c
}

// Replace swaps the contents of g for those of other. other must not be
// used afterwards.
func (g *Graph) Replace(other *Graph) {
	g.nodes = other.nodes
	g.highWater = other.highWater
	other.nodes = nil
}

func (g *Graph) observe(id string) {
	if n, err := strconv.Atoi(id); err == nil && n > g.highWater {
		g.highWater = n
	}
}

func sortIDs(ids []string) {
	sort.Slice(ids, func(i, j int) bool {
		a, aErr := strconv.Atoi(ids[i])
		b, bErr := strconv.Atoi(ids[j])
		switch {
		case aErr == nil && bErr == nil:
			if a != b {
				return a < b
			}
			return ids[i] < ids[j]
		case aErr == nil:
			return true
		case bErr == nil:
			return false
		default:
			return ids[i] < ids[j]
		}
	})
}
