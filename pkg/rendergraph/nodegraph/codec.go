package nodegraph

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
)

// wireNode is the worker API representation of one node.
type wireNode struct {
	ClassType string                     `json:"class_type"`
	Inputs    map[string]json.RawMessage `json:"inputs"`
	Meta      *wireMeta                  `json:"_meta,omitempty"`
}

type wireMeta struct {
	Title string `json:"title,omitempty"`
}

// MarshalJSON encodes a reference as ["<node>", slot] and a literal as itself.
func (in Input) MarshalJSON() ([]byte, error) {
	if in.ref != nil {
		return json.Marshal([]any{in.ref.Node, in.ref.Slot})
	}
	return json.Marshal(in.value)
}

// UnmarshalJSON decodes a two-element [string, integer] array as a reference.
// Everything else is a literal; integral numbers become int64, others float64.
func (in *Input) UnmarshalJSON(data []byte) error {
	var pair []json.RawMessage
	if err := json.Unmarshal(data, &pair); err == nil && len(pair) == 2 {
		var node string
		var slot int
		if json.Unmarshal(pair[0], &node) == nil && json.Unmarshal(pair[1], &slot) == nil {
			*in = RefTo(node, slot)
			return nil
		}
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return err
	}
	*in = Literal(normalizeNumbers(v))
	return nil
}

// MarshalJSON encodes the graph in the worker API format.
func (g *Graph) MarshalJSON() ([]byte, error) {
	wire := make(map[string]wireNode, len(g.nodes))
	for id, n := range g.nodes {
		w := wireNode{ClassType: n.Class, Inputs: make(map[string]json.RawMessage, len(n.Inputs))}
		for name, in := range n.Inputs {
			raw, err := json.Marshal(in)
			if err != nil {
				return nil, fmt.Errorf("node %s input %q: %w", id, name, err)
			}
			w.Inputs[name] = raw
		}
		if n.Title != "" {
			w.Meta = &wireMeta{Title: n.Title}
		}
		wire[id] = w
	}
	return json.Marshal(wire)
}

// UnmarshalJSON replaces the graph with the decoded worker API node map.
func (g *Graph) UnmarshalJSON(data []byte) error {
	var wire map[string]wireNode
	if err := json.Unmarshal(data, &wire); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedWorkflow, err)
	}

	decoded := New()
	for id, w := range wire {
		if w.ClassType == "" {
			return fmt.Errorf("%w: node %s has no class_type", ErrMalformedWorkflow, id)
		}
		n := NewNode(id, w.ClassType)
		if w.Meta != nil {
			n.Title = w.Meta.Title
		}
		for name, raw := range w.Inputs {
			var in Input
			if err := json.Unmarshal(raw, &in); err != nil {
				return fmt.Errorf("%w: node %s input %q: %v", ErrMalformedWorkflow, id, name, err)
			}
			n.Inputs[name] = in
		}
		if err := decoded.Add(n); err != nil {
			return err
		}
	}

	g.Replace(decoded)
	return nil
}

// Parse decodes a worker API node map.
func Parse(data []byte) (*Graph, error) {
	g := New()
	if err := json.Unmarshal(data, g); err != nil {
		// Syntax errors are reported before UnmarshalJSON runs.
		if !errors.Is(err, ErrMalformedWorkflow) {
			err = fmt.Errorf("%w: %v", ErrMalformedWorkflow, err)
		}
		return nil, err
	}
	return g, nil
}

// FromFile loads a workflow saved in the worker's API format.
func FromFile(path string) (*Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow: %w", err)
	}
	g, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse workflow %s: %w", path, err)
	}
	return g, nil
}

func normalizeNumbers(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := strconv.ParseInt(t.String(), 10, 64); err == nil {
			return i
		}
		f, _ := t.Float64()
		return f
	case []any:
		for i := range t {
			t[i] = normalizeNumbers(t[i])
		}
		return t
	case map[string]any:
		for k := range t {
			t[k] = normalizeNumbers(t[k])
		}
		return t
	default:
		return v
	}
}
