package document

import "hyperdoc/internal/crdt"

// NodeKind tags what kind of CRDT container an arena slot holds.
type NodeKind int

const (
	NodeMap NodeKind = iota
	NodeRGA
	NodeORSet
)

// node is one arena slot. Only the field matching kind is populated.
// A NodeMap node holds two independent namespaces: scalar leaf entries
// in m (Map-LWW, §4.5), and nested container references in children.
// Neither namespace is checked against the other: a key that holds a
// scalar in m can also name a list, set or nested map in children, and
// ToObject then reports the container under that key.
type node struct {
	kind     NodeKind
	m        *crdt.MapLWW
	children map[string]int
	rga      *crdt.RGA
	set      *crdt.ORSet
}

func newMapNode() *node {
	return &node{kind: NodeMap, m: crdt.NewMapLWW(), children: make(map[string]int)}
}

func newRGANode() *node {
	return &node{kind: NodeRGA, rga: crdt.NewRGA()}
}

func newORSetNode() *node {
	return &node{kind: NodeORSet, set: crdt.NewORSet()}
}

// arena owns every node in the document tree; index 0 is always the
// root map. Nodes are addressed by path, never by arena index, from
// outside this file — the index space is purely an implementation
// detail that lets nested containers reference each other without
// cycles (a child never needs to know its parent).
type arena struct {
	nodes []*node
}

func newArena() *arena {
	a := &arena{}
	a.nodes = append(a.nodes, newMapNode())
	return a
}

const rootIndex = 0

// walkContainer walks path (every segment except the last) from the
// root, auto-creating intermediate CRDT-Maps as it goes (spec.md §4.6
// "nested map creation"), and returns the map node that should hold
// the final path segment.
func (a *arena) walkContainer(path []string) (*node, error) {
	cur := a.nodes[rootIndex]
	for _, seg := range path[:len(path)-1] {
		if cur.kind != NodeMap {
			return nil, ErrKindMismatch
		}
		idx, ok := cur.children[seg]
		if !ok {
			idx = len(a.nodes)
			a.nodes = append(a.nodes, newMapNode())
			cur.children[seg] = idx
		}
		cur = a.nodes[idx]
	}
	if cur.kind != NodeMap {
		return nil, ErrKindMismatch
	}
	return cur, nil
}

// childOfKind returns the child node at key within container,
// auto-creating one of the given kind if absent. Returns
// ErrKindMismatch if a child already exists under a different kind.
func (a *arena) childOfKind(container *node, key string, kind NodeKind) (*node, error) {
	idx, ok := container.children[key]
	if !ok {
		idx = len(a.nodes)
		var n *node
		switch kind {
		case NodeRGA:
			n = newRGANode()
		case NodeORSet:
			n = newORSetNode()
		default:
			n = newMapNode()
		}
		a.nodes = append(a.nodes, n)
		container.children[key] = idx
		return n, nil
	}
	child := a.nodes[idx]
	if child.kind != kind {
		return nil, ErrKindMismatch
	}
	return child, nil
}
