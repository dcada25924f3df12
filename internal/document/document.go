package document

import (
	"sort"
	"sync"
	"time"

	"hyperdoc/internal/crdt"
	"hyperdoc/internal/vclock"
)

// DefaultAppliedOpHistory is the per-document retained op-id count
// used to detect replays (spec.md §3 Lifecycle), overridable via
// config's applied_op_history setting.
const DefaultAppliedOpHistory = 1000

// Document is the CRDT document aggregate: a path-addressed tree of
// Map-LWW/RGA/OR-Set containers, an applied-op replay guard, and a
// queue of locally-generated ops awaiting broadcast.
type Document struct {
	mu     sync.Mutex
	nodeID string
	clock  vclock.Clock
	tree   *arena

	appliedOrder []string
	appliedSet   map[string]bool
	historyCap   int

	pending []Op
	version uint64
}

// New returns an empty document owned by nodeID.
func New(nodeID string) *Document {
	return &Document{
		nodeID:     nodeID,
		clock:      vclock.New(),
		tree:       newArena(),
		appliedSet: make(map[string]bool),
		historyCap: DefaultAppliedOpHistory,
	}
}

// WithHistoryCap overrides the applied-op retention window; used when
// config sets applied_op_history away from the default.
func (d *Document) WithHistoryCap(n int) *Document {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.historyCap = n
	return d
}

// Version returns the document's current server-visible commit count.
func (d *Document) Version() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.version
}

// bumpVersion increments version; called on every accepted local or
// remote mutation so "monotone version" (invariant 4) holds uniformly.
func (d *Document) bumpVersion() {
	d.version++
}

func (d *Document) markApplied(opID string) {
	d.appliedSet[opID] = true
	d.appliedOrder = append(d.appliedOrder, opID)
	if len(d.appliedOrder) > d.historyCap {
		evict := d.appliedOrder[0]
		d.appliedOrder = d.appliedOrder[1:]
		delete(d.appliedSet, evict)
	}
}

// Set performs a local map_set at path, auto-creating intermediate
// maps as needed.
func (d *Document) Set(path []string, value crdt.Value) (Op, error) {
	if len(path) == 0 {
		return Op{}, ErrEmptyPath
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	container, err := d.tree.walkContainer(path)
	if err != nil {
		return Op{}, err
	}
	key := path[len(path)-1]
	d.clock = d.clock.Tick(d.nodeID)
	opID := crdt.NewOpID()
	ts := time.Now()
	clk := d.clock.Clone()

	container.m.LocalSet(key, value, clk, d.nodeID, ts, opID)
	d.markApplied(opID)
	d.bumpVersion()

	op := Op{OpID: opID, Kind: OpMapSet, Path: clonePath(path), Value: value, Clock: clk, NodeID: d.nodeID, Timestamp: ts}
	d.pending = append(d.pending, op)
	return op, nil
}

// Delete performs a local map_delete at path.
func (d *Document) Delete(path []string) (Op, error) {
	if len(path) == 0 {
		return Op{}, ErrEmptyPath
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	container, err := d.tree.walkContainer(path)
	if err != nil {
		return Op{}, err
	}
	key := path[len(path)-1]
	d.clock = d.clock.Tick(d.nodeID)
	opID := crdt.NewOpID()
	ts := time.Now()
	clk := d.clock.Clone()

	container.m.LocalDelete(key, clk, d.nodeID, ts, opID)
	d.markApplied(opID)
	d.bumpVersion()

	op := Op{OpID: opID, Kind: OpMapDelete, Path: clonePath(path), Clock: clk, NodeID: d.nodeID, Timestamp: ts}
	d.pending = append(d.pending, op)
	return op, nil
}

// ListInsert inserts value at the given user-visible index within the
// RGA addressed by path, lazily materializing the RGA if path has
// never held a list (spec.md §4.6 "list/set path materialization").
func (d *Document) ListInsert(path []string, index int, value crdt.Value) (Op, error) {
	if len(path) == 0 {
		return Op{}, ErrEmptyPath
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	container, err := d.tree.walkContainer(path)
	if err != nil {
		return Op{}, err
	}
	key := path[len(path)-1]
	list, err := d.tree.childOfKind(container, key, NodeRGA)
	if err != nil {
		return Op{}, err
	}

	ids := list.rga.IDs()
	if index < 0 || index > len(ids) {
		return Op{}, ErrIndexOutOfRange
	}
	leftID := ""
	if index > 0 {
		leftID = ids[index-1]
	}

	d.clock = d.clock.Tick(d.nodeID)
	opID := crdt.NewOpID()
	ts := time.Now()
	clk := d.clock.Clone()

	list.rga.LocalInsertAfter(leftID, value, clk, d.nodeID, opID)
	d.markApplied(opID)
	d.bumpVersion()

	op := Op{
		OpID: opID, Kind: OpRGAInsert, Path: clonePath(path), Value: value,
		Clock: clk, NodeID: d.nodeID, Timestamp: ts, AfterID: leftID, ElementID: opID, Index: index,
	}
	d.pending = append(d.pending, op)
	return op, nil
}

// ListDelete tombstones the element currently at index within the
// RGA addressed by path.
func (d *Document) ListDelete(path []string, index int) (Op, error) {
	if len(path) == 0 {
		return Op{}, ErrEmptyPath
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	container, err := d.tree.walkContainer(path)
	if err != nil {
		return Op{}, err
	}
	key := path[len(path)-1]
	list, err := d.tree.childOfKind(container, key, NodeRGA)
	if err != nil {
		return Op{}, err
	}

	ids := list.rga.IDs()
	if index < 0 || index >= len(ids) {
		return Op{}, ErrIndexOutOfRange
	}
	elementID := ids[index]
	list.rga.LocalDelete(elementID)

	d.clock = d.clock.Tick(d.nodeID)
	opID := crdt.NewOpID()
	ts := time.Now()
	clk := d.clock.Clone()
	d.markApplied(opID)
	d.bumpVersion()

	op := Op{
		OpID: opID, Kind: OpRGADelete, Path: clonePath(path),
		Clock: clk, NodeID: d.nodeID, Timestamp: ts, ElementID: elementID, Index: index,
	}
	d.pending = append(d.pending, op)
	return op, nil
}

// SetAdd adds value to the OR-Set addressed by path, lazily
// materializing it if absent.
func (d *Document) SetAdd(path []string, value crdt.Value) (Op, error) {
	if len(path) == 0 {
		return Op{}, ErrEmptyPath
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	container, err := d.tree.walkContainer(path)
	if err != nil {
		return Op{}, err
	}
	key := path[len(path)-1]
	set, err := d.tree.childOfKind(container, key, NodeORSet)
	if err != nil {
		return Op{}, err
	}

	d.clock = d.clock.Tick(d.nodeID)
	opID := crdt.NewOpID()
	ts := time.Now()
	clk := d.clock.Clone()

	set.set.LocalAdd(opID, value)
	d.markApplied(opID)
	d.bumpVersion()

	op := Op{OpID: opID, Kind: OpORSetAdd, Path: clonePath(path), Value: value, Clock: clk, NodeID: d.nodeID, Timestamp: ts}
	d.pending = append(d.pending, op)
	return op, nil
}

// SetRemove retracts every tag this replica currently observes for
// value from the OR-Set addressed by path.
func (d *Document) SetRemove(path []string, value crdt.Value) (Op, error) {
	if len(path) == 0 {
		return Op{}, ErrEmptyPath
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	container, err := d.tree.walkContainer(path)
	if err != nil {
		return Op{}, err
	}
	key := path[len(path)-1]
	set, err := d.tree.childOfKind(container, key, NodeORSet)
	if err != nil {
		return Op{}, err
	}

	tags := set.set.TagsFor(value)
	set.set.LocalRemove(tags)

	d.clock = d.clock.Tick(d.nodeID)
	opID := crdt.NewOpID()
	ts := time.Now()
	clk := d.clock.Clone()
	d.markApplied(opID)
	d.bumpVersion()

	op := Op{OpID: opID, Kind: OpORSetRemove, Path: clonePath(path), Value: value, Clock: clk, NodeID: d.nodeID, Timestamp: ts, Tags: tags}
	d.pending = append(d.pending, op)
	return op, nil
}

// ApplyRemote applies an op received from another replica. Returns
// false if the op's id has already been seen (idempotence, invariant
// 2) or if the underlying CRDT dropped it as causally stale.
func (d *Document) ApplyRemote(op Op) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.applyRemoteLocked(op)
}

func (d *Document) applyRemoteLocked(op Op) bool {
	if d.appliedSet[op.OpID] {
		return false
	}
	if len(op.Path) == 0 {
		return false
	}

	container, err := d.tree.walkContainer(op.Path)
	if err != nil {
		return false
	}
	key := op.Path[len(op.Path)-1]
	d.clock = d.clock.Merge(op.Clock)

	changed := false
	switch op.Kind {
	case OpMapSet:
		changed = container.m.ApplyRemoteSet(key, op.Value, op.Clock, op.NodeID, op.Timestamp, op.OpID)
	case OpMapDelete:
		changed = container.m.ApplyRemoteDelete(key, op.Clock, op.NodeID, op.Timestamp, op.OpID)
	case OpRGAInsert:
		list, cerr := d.tree.childOfKind(container, key, NodeRGA)
		if cerr != nil {
			return false
		}
		changed = list.rga.ApplyRemoteInsert(op.ElementID, op.AfterID, op.Value, op.Clock, op.NodeID)
	case OpRGADelete:
		list, cerr := d.tree.childOfKind(container, key, NodeRGA)
		if cerr != nil {
			return false
		}
		changed = list.rga.ApplyRemoteDelete(op.ElementID)
	case OpORSetAdd:
		set, cerr := d.tree.childOfKind(container, key, NodeORSet)
		if cerr != nil {
			return false
		}
		changed = set.set.ApplyRemoteAdd(op.OpID, op.Value)
	case OpORSetRemove:
		set, cerr := d.tree.childOfKind(container, key, NodeORSet)
		if cerr != nil {
			return false
		}
		changed = set.set.ApplyRemoteRemove(op.Tags)
	}

	d.markApplied(op.OpID)
	if changed {
		d.bumpVersion()
	}
	return changed
}

// ApplyRemoteBatch sorts ops into causal order (clock dominance, then
// originator timestamp as the concurrent tiebreak) and applies each in
// turn, returning the per-op outcome in the same order as the input
// slice's original identity (matched by OpID) so callers can report
// batch_sync results keyed by the op the caller submitted.
func (d *Document) ApplyRemoteBatch(ops []Op) map[string]bool {
	sorted := make([]Op, len(ops))
	copy(sorted, ops)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		switch a.Clock.Compare(b.Clock) {
		case vclock.Less:
			return true
		case vclock.Greater:
			return false
		default:
			return a.Timestamp.Before(b.Timestamp)
		}
	})

	results := make(map[string]bool, len(sorted))
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, op := range sorted {
		results[op.OpID] = d.applyRemoteLocked(op)
	}
	return results
}

// FlushPendingOps drains and returns every locally-generated op
// awaiting broadcast since the last flush.
func (d *Document) FlushPendingOps() []Op {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := d.pending
	d.pending = nil
	return out
}

// ToObject materializes the document as a plain nested Go value:
// scalars as-is, nested maps as map[string]any, lists as []any in RGA
// order, sets as []any in no particular order. Tombstones never
// appear.
func (d *Document) ToObject() map[string]any {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.objectFor(d.tree.nodes[rootIndex])
}

func (d *Document) objectFor(n *node) map[string]any {
	out := make(map[string]any)
	for _, key := range n.m.Keys() {
		v, ok := n.m.Get(key)
		if ok {
			out[key] = v.Native()
		}
	}
	for key, idx := range n.children {
		child := d.tree.nodes[idx]
		switch child.kind {
		case NodeMap:
			out[key] = d.objectFor(child)
		case NodeRGA:
			arr := child.rga.ToArray()
			native := make([]any, len(arr))
			for i, v := range arr {
				native[i] = v.Native()
			}
			out[key] = native
		case NodeORSet:
			vals := child.set.Values()
			native := make([]any, len(vals))
			for i, v := range vals {
				native[i] = v.Native()
			}
			out[key] = native
		}
	}
	return out
}

// RootKeys returns the scalar field names currently live at the
// document root, used by callers that need to tombstone every
// top-level field (e.g. a whole-document delete).
func (d *Document) RootKeys() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.tree.nodes[rootIndex].m.Keys()
}

// GC physically drops every tombstoned Map-LWW entry older than cutoff
// and every deleted RGA element, across the whole document tree. No
// vector clock dominance check is made here or by the caller
// (internal/hub's GCTombstones, run by internal/snapshotgc): cutoff
// comes from the retention window alone.
func (d *Document) GC(cutoff time.Time) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	removed := 0
	for _, n := range d.tree.nodes {
		switch n.kind {
		case NodeMap:
			removed += n.m.PurgeTombstones(cutoff)
		case NodeRGA:
			removed += n.rga.PurgeDeleted()
		}
	}
	return removed
}

func clonePath(path []string) []string {
	out := make([]string, len(path))
	copy(out, path)
	return out
}
