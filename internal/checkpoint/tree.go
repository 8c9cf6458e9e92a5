package checkpoint

import (
	"encoding/json"
	"strings"
)

// Leaf is a terminal value in a structure tree.
type Leaf interface {
	// leafValue returns the JSON-facing representation of the leaf.
	leafValue() any
}

// TensorInfo describes a tensor leaf whose metadata is known.
type TensorInfo struct {
	DType    string
	Shape    []int
	Location string // optional source tag, e.g. a shard filename
}

func (t TensorInfo) leafValue() any {
	shape := t.Shape
	if shape == nil {
		shape = []int{}
	}
	m := map[string]any{
		"_type": "tensor",
		"dtype": t.DType,
		"shape": shape,
	}
	if t.Location != "" {
		m["location"] = t.Location
	}
	return m
}

// TensorRef describes a tensor that has not been loaded; only the
// location of its owning shard is known.
type TensorRef struct {
	Location string
}

func (t TensorRef) leafValue() any {
	return map[string]any{"location": t.Location}
}

// ScalarValue is a primitive leaf (number, string, bool, null) or the
// string type tag of an unrecognized value.
type ScalarValue struct {
	Value any
}

func (s ScalarValue) leafValue() any { return s.Value }

// TreeNode is either a group (mapping from key to child node) or a leaf.
// A node with a non-nil Children map is a group; its Leaf is ignored.
type TreeNode struct {
	Children map[string]*TreeNode
	Leaf     Leaf
}

// NewGroup creates an empty group node.
func NewGroup() *TreeNode {
	return &TreeNode{Children: make(map[string]*TreeNode)}
}

// NewLeaf creates a leaf node.
func NewLeaf(leaf Leaf) *TreeNode {
	return &TreeNode{Leaf: leaf}
}

// IsGroup reports whether the node is a group.
func (n *TreeNode) IsGroup() bool { return n.Children != nil }

// Child returns the named child of a group node.
func (n *TreeNode) Child(key string) (*TreeNode, bool) {
	if n.Children == nil {
		return nil, false
	}
	c, ok := n.Children[key]
	return c, ok
}

// Value returns the JSON-facing representation of the node.
func (n *TreeNode) Value() any {
	if n.IsGroup() {
		m := make(map[string]any, len(n.Children))
		for k, c := range n.Children {
			m[k] = c.Value()
		}
		return m
	}
	if n.Leaf == nil {
		return nil
	}
	return n.Leaf.leafValue()
}

// MarshalJSON implements json.Marshaler.
func (n *TreeNode) MarshalJSON() ([]byte, error) {
	return json.Marshal(n.Value())
}

// TreeBuilder materializes flat dotted keys into a nested tree,
// creating intermediate groups on demand.
//
// Collision policy: a group always wins over a leaf for the same key.
// Inserting through a leaf-occupied slot promotes it to a group and the
// previous leaf is discarded; inserting a leaf where a group already
// exists leaves the group in place. This is deliberate and lossy.
type TreeBuilder struct {
	root *TreeNode
}

// NewTreeBuilder creates a builder with an empty root group.
func NewTreeBuilder() *TreeBuilder {
	return &TreeBuilder{root: NewGroup()}
}

// Insert adds a flat dotted key with its leaf descriptor.
func (b *TreeBuilder) Insert(flatKey string, leaf Leaf) {
	segments := strings.Split(flatKey, ".")
	node := b.root
	for _, seg := range segments[:len(segments)-1] {
		child, ok := node.Children[seg]
		if !ok || !child.IsGroup() {
			// Create missing levels; promote a leaf-occupied slot.
			child = NewGroup()
			node.Children[seg] = child
		}
		node = child
	}
	last := segments[len(segments)-1]
	if existing, ok := node.Children[last]; ok && existing.IsGroup() {
		// Group wins, leaf is discarded.
		return
	}
	node.Children[last] = NewLeaf(leaf)
}

// Root returns the built tree.
func (b *TreeBuilder) Root() *TreeNode { return b.root }
