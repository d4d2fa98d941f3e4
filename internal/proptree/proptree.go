// Package proptree provides a typed, path-addressed view over a parsed
// pipeline definition.
//
// A Node wraps one value of the hierarchical property map produced by the
// YAML loader. Mapping nodes preserve the key order of the source document,
// which matters for environment blocks and stage sequences. Accessors are
// type-safe and never echo the underlying value in error messages.
package proptree

import (
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrKeyNotFound represents an error when a requested path does not exist.
type ErrKeyNotFound struct {
	Path string
}

// Error implements the error interface.
// Security: does not include the surrounding values to prevent credential leakage.
func (e ErrKeyNotFound) Error() string {
	return fmt.Sprintf("property %q not found", e.Path)
}

// ErrTypeAssertion represents an error when a value cannot be converted to
// the expected type.
type ErrTypeAssertion struct {
	Path string // The path that was accessed
	Got  string // The actual type received (as string representation)
	Want string // The expected type
}

// Error implements the error interface.
// Security: does not include the actual value to prevent credential leakage.
func (e ErrTypeAssertion) Error() string {
	return fmt.Sprintf("property %q is %s, not %s", e.Path, e.Got, e.Want)
}

// Node is one value in the property tree. Scalar nodes hold a Go value;
// mapping nodes hold ordered fields; sequence nodes hold items.
type Node struct {
	path   string
	value  any
	fields []field // mapping nodes, in document order
	items  []*Node // sequence nodes
	kind   kind
}

type field struct {
	key  string
	node *Node
}

type kind int

const (
	kindScalar kind = iota
	kindMapping
	kindSequence
	kindNull
)

// FromYAML parses a YAML document into a property tree, preserving mapping
// key order.
func FromYAML(data []byte) (*Node, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse properties: %w", err)
	}
	if doc.Kind == yaml.DocumentNode {
		if len(doc.Content) == 0 {
			return &Node{kind: kindNull}, nil
		}
		return fromYAMLNode(doc.Content[0], "")
	}
	return fromYAMLNode(&doc, "")
}

func fromYAMLNode(n *yaml.Node, path string) (*Node, error) {
	switch n.Kind {
	case yaml.MappingNode:
		node := &Node{path: path, kind: kindMapping}
		for i := 0; i+1 < len(n.Content); i += 2 {
			key := n.Content[i].Value
			child, err := fromYAMLNode(n.Content[i+1], joinPath(path, key))
			if err != nil {
				return nil, err
			}
			node.fields = append(node.fields, field{key: key, node: child})
		}
		return node, nil
	case yaml.SequenceNode:
		node := &Node{path: path, kind: kindSequence}
		for i, item := range n.Content {
			child, err := fromYAMLNode(item, fmt.Sprintf("%s[%d]", path, i))
			if err != nil {
				return nil, err
			}
			node.items = append(node.items, child)
		}
		return node, nil
	case yaml.ScalarNode:
		var v any
		if err := n.Decode(&v); err != nil {
			return nil, fmt.Errorf("decode scalar at %s: %w", path, err)
		}
		if v == nil {
			return &Node{path: path, kind: kindNull}, nil
		}
		return &Node{path: path, value: v, kind: kindScalar}, nil
	case yaml.AliasNode:
		return fromYAMLNode(n.Alias, path)
	default:
		return &Node{path: path, kind: kindNull}, nil
	}
}

// FromMap builds a property tree from an already-decoded map. Key order is
// not guaranteed; prefer FromYAML for definition loading.
func FromMap(m map[string]any) *Node {
	return fromValue(m, "")
}

func fromValue(v any, path string) *Node {
	switch val := v.(type) {
	case map[string]any:
		node := &Node{path: path, kind: kindMapping}
		for k, item := range val {
			node.fields = append(node.fields, field{key: k, node: fromValue(item, joinPath(path, k))})
		}
		return node
	case []any:
		node := &Node{path: path, kind: kindSequence}
		for i, item := range val {
			node.items = append(node.items, fromValue(item, fmt.Sprintf("%s[%d]", path, i)))
		}
		return node
	case nil:
		return &Node{path: path, kind: kindNull}
	default:
		return &Node{path: path, value: val, kind: kindScalar}
	}
}

// Path returns the node's absolute dotted path, e.g.
// "stages[1].steps[3].parallel.branches".
func (n *Node) Path() string {
	return n.path
}

// IsNull reports whether the node is an explicit null or missing value.
func (n *Node) IsNull() bool {
	return n == nil || n.kind == kindNull
}

// Get resolves a dotted path with [i] list indexing relative to this node.
func (n *Node) Get(path string) (*Node, bool) {
	current := n
	for _, seg := range splitPath(path) {
		if current == nil {
			return nil, false
		}
		if seg.index >= 0 {
			if current.kind != kindSequence || seg.index >= len(current.items) {
				return nil, false
			}
			current = current.items[seg.index]
			continue
		}
		if current.kind != kindMapping {
			return nil, false
		}
		next, ok := current.child(seg.key)
		if !ok {
			return nil, false
		}
		current = next
	}
	return current, current != nil
}

func (n *Node) child(key string) (*Node, bool) {
	for _, f := range n.fields {
		if f.key == key {
			return f.node, true
		}
	}
	return nil, false
}

// Keys returns the mapping keys in document order.
func (n *Node) Keys() []string {
	keys := make([]string, len(n.fields))
	for i, f := range n.fields {
		keys[i] = f.key
	}
	return keys
}

// Items returns the sequence items in order. Non-sequence nodes return nil.
func (n *Node) Items() []*Node {
	return n.items
}

// Len returns the number of fields or items.
func (n *Node) Len() int {
	if n.kind == kindSequence {
		return len(n.items)
	}
	return len(n.fields)
}

// String retrieves the node's value as a string.
func (n *Node) String(path string) (string, error) {
	node, ok := n.Get(path)
	if !ok || node.IsNull() {
		return "", ErrKeyNotFound{Path: joinPath(n.path, path)}
	}
	s, ok := node.value.(string)
	if !ok {
		return "", ErrTypeAssertion{Path: node.path, Got: typeName(node), Want: "string"}
	}
	return s, nil
}

// StringOr returns a string value or the default if the path is missing or
// holds a different type. Never panics.
func (n *Node) StringOr(path, defaultVal string) string {
	s, err := n.String(path)
	if err != nil {
		return defaultVal
	}
	return s
}

// Int retrieves the node's value as an int. YAML and JSON numeric
// representations (int, int64, float64) are accepted.
func (n *Node) Int(path string) (int, error) {
	node, ok := n.Get(path)
	if !ok || node.IsNull() {
		return 0, ErrKeyNotFound{Path: joinPath(n.path, path)}
	}
	switch v := node.value.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		return int(v), nil
	default:
		return 0, ErrTypeAssertion{Path: node.path, Got: typeName(node), Want: "int"}
	}
}

// IntOr returns an int value or the default if the path is missing or holds
// a different type. Never panics.
func (n *Node) IntOr(path string, defaultVal int) int {
	i, err := n.Int(path)
	if err != nil {
		return defaultVal
	}
	return i
}

// Bool retrieves the node's value as a bool.
func (n *Node) Bool(path string) (bool, error) {
	node, ok := n.Get(path)
	if !ok || node.IsNull() {
		return false, ErrKeyNotFound{Path: joinPath(n.path, path)}
	}
	b, ok := node.value.(bool)
	if !ok {
		return false, ErrTypeAssertion{Path: node.path, Got: typeName(node), Want: "bool"}
	}
	return b, nil
}

// BoolOr returns a bool value or the default if the path is missing or holds
// a different type. Never panics.
func (n *Node) BoolOr(path string, defaultVal bool) bool {
	b, err := n.Bool(path)
	if err != nil {
		return defaultVal
	}
	return b
}

// Slice retrieves the node at path as a sequence.
func (n *Node) Slice(path string) ([]*Node, error) {
	node, ok := n.Get(path)
	if !ok || node.IsNull() {
		return nil, ErrKeyNotFound{Path: joinPath(n.path, path)}
	}
	if node.kind != kindSequence {
		return nil, ErrTypeAssertion{Path: node.path, Got: typeName(node), Want: "sequence"}
	}
	return node.items, nil
}

// Map retrieves the node at path as a mapping.
func (n *Node) Map(path string) (*Node, error) {
	node, ok := n.Get(path)
	if !ok || node.IsNull() {
		return nil, ErrKeyNotFound{Path: joinPath(n.path, path)}
	}
	if node.kind != kindMapping {
		return nil, ErrTypeAssertion{Path: node.path, Got: typeName(node), Want: "mapping"}
	}
	return node, nil
}

// StringMap retrieves the mapping at path as ordered key/value pairs with
// scalar values rendered to strings.
func (n *Node) StringMap(path string) ([][2]string, error) {
	node, err := n.Map(path)
	if err != nil {
		return nil, err
	}
	pairs := make([][2]string, 0, len(node.fields))
	for _, f := range node.fields {
		if f.node.kind != kindScalar {
			return nil, ErrTypeAssertion{Path: f.node.path, Got: typeName(f.node), Want: "string"}
		}
		pairs = append(pairs, [2]string{f.key, fmt.Sprintf("%v", f.node.value)})
	}
	return pairs, nil
}

// Value returns the raw scalar value. Mapping and sequence nodes return nil.
func (n *Node) Value() any {
	return n.value
}

func typeName(n *Node) string {
	switch n.kind {
	case kindMapping:
		return "mapping"
	case kindSequence:
		return "sequence"
	case kindNull:
		return "null"
	default:
		return fmt.Sprintf("%T", n.value)
	}
}

func joinPath(base, key string) string {
	if base == "" {
		return key
	}
	if key == "" {
		return base
	}
	if strings.HasPrefix(key, "[") {
		return base + key
	}
	return base + "." + key
}

type segment struct {
	key   string
	index int
}

// splitPath tokenizes "stages[1].steps[3].name" into key and index segments.
func splitPath(path string) []segment {
	var segs []segment
	for _, part := range strings.Split(path, ".") {
		if part == "" {
			continue
		}
		for {
			open := strings.IndexByte(part, '[')
			if open < 0 {
				segs = append(segs, segment{key: part, index: -1})
				break
			}
			if open > 0 {
				segs = append(segs, segment{key: part[:open], index: -1})
			}
			close := strings.IndexByte(part, ']')
			if close < 0 {
				segs = append(segs, segment{key: part, index: -1})
				break
			}
			idx, err := strconv.Atoi(part[open+1 : close])
			if err != nil {
				idx = -1
			}
			segs = append(segs, segment{index: idx})
			part = part[close+1:]
			if part == "" {
				break
			}
		}
	}
	return segs
}
