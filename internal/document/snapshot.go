package document

import (
	"hyperdoc/internal/crdt"
	"hyperdoc/internal/vclock"
)

// Snapshot is the serializable shape of a Document, used to bootstrap
// a fresh client faster than replaying the full sync log and to let
// the server cap its retained op history (spec.md §4.10).
type Snapshot struct {
	Clock        vclock.Clock   `json:"clock"`
	Version      uint64         `json:"version"`
	AppliedOpIDs []string       `json:"applied_op_ids"`
	Nodes        []SnapshotNode `json:"nodes"`
}

// SnapshotNode is one arena slot, serialized.
type SnapshotNode struct {
	Kind     NodeKind                 `json:"kind"`
	Entries  map[string]crdt.Entry    `json:"entries,omitempty"`  // NodeMap scalar leaves
	Children map[string]int           `json:"children,omitempty"` // NodeMap nested containers
	List     []crdt.RGASnapshotElement `json:"list,omitempty"`    // NodeRGA
	Set      map[string]crdt.Value    `json:"set,omitempty"`      // NodeORSet
}

// Snapshot captures the full document state.
func (d *Document) Snapshot() Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()

	nodes := make([]SnapshotNode, len(d.tree.nodes))
	for i, n := range d.tree.nodes {
		switch n.kind {
		case NodeMap:
			nodes[i] = SnapshotNode{Kind: NodeMap, Entries: n.m.All(), Children: n.children}
		case NodeRGA:
			nodes[i] = SnapshotNode{Kind: NodeRGA, List: n.rga.Snapshot()}
		case NodeORSet:
			nodes[i] = SnapshotNode{Kind: NodeORSet, Set: n.set.Snapshot()}
		}
	}

	appliedCopy := make([]string, len(d.appliedOrder))
	copy(appliedCopy, d.appliedOrder)

	return Snapshot{
		Clock:        d.clock.Clone(),
		Version:      d.version,
		AppliedOpIDs: appliedCopy,
		Nodes:        nodes,
	}
}

// Restore rebuilds the document wholesale from a snapshot. opsSince is
// any ops the caller observed after the snapshot was taken but before
// restore runs (e.g. ops that arrived mid-transfer) and is applied on
// top once the arena is in place.
func (d *Document) Restore(snap Snapshot, opsSince []Op) {
	d.mu.Lock()

	d.tree = &arena{nodes: make([]*node, len(snap.Nodes))}
	for i, sn := range snap.Nodes {
		switch sn.Kind {
		case NodeMap:
			n := newMapNode()
			n.m.Restore(sn.Entries)
			n.children = sn.Children
			if n.children == nil {
				n.children = make(map[string]int)
			}
			d.tree.nodes[i] = n
		case NodeRGA:
			n := newRGANode()
			n.rga.Restore(sn.List)
			d.tree.nodes[i] = n
		case NodeORSet:
			n := newORSetNode()
			n.set.Restore(sn.Set)
			d.tree.nodes[i] = n
		}
	}
	if len(d.tree.nodes) == 0 {
		d.tree = newArena()
	}

	d.clock = snap.Clock.Clone()
	d.version = snap.Version
	d.appliedSet = make(map[string]bool, len(snap.AppliedOpIDs))
	d.appliedOrder = make([]string, len(snap.AppliedOpIDs))
	copy(d.appliedOrder, snap.AppliedOpIDs)
	for _, id := range snap.AppliedOpIDs {
		d.appliedSet[id] = true
	}
	d.mu.Unlock()

	for _, op := range opsSince {
		d.ApplyRemote(op)
	}
}
