package crdt

import "sync"

// orTag is one observed add: a unique tag minted at add time plus the
// value it was added for. Removing an element removes every tag the
// remover had observed for that value — a concurrent add with a tag
// the remover never saw survives, giving OR-Set its add-wins semantics
// (spec.md §4.5 "OR-Set").
type orTag struct {
	tag   string
	value Value
}

// ORSet is an Observed-Remove Set: membership is "at least one live
// add-tag for this value", so a concurrent add and remove of the same
// value resolve to the value staying present (the add the remover
// never observed wins).
type ORSet struct {
	mu   sync.RWMutex
	tags map[string]orTag // tag -> {tag, value}
}

// NewORSet returns an empty set.
func NewORSet() *ORSet {
	return &ORSet{tags: make(map[string]orTag)}
}

// LocalAdd adds value under a freshly minted tag (the caller mints
// tag, typically via google/uuid, so every add is globally unique even
// for the same value added twice).
func (s *ORSet) LocalAdd(tag string, value Value) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tags[tag] = orTag{tag: tag, value: value}
}

// LocalRemove removes every currently-known tag for value — i.e. every
// add this replica has observed. observedTags is the caller-supplied
// list of tags to remove (typically "every tag currently live for this
// value", but for a remote delete op it is exactly the tag set the
// remover had observed at remove time).
func (s *ORSet) LocalRemove(observedTags []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range observedTags {
		delete(s.tags, t)
	}
}

// ApplyRemoteAdd adds value under tag if not already present — adds
// are naturally idempotent and commutative, so there is no
// causal-ordering requirement here.
func (s *ORSet) ApplyRemoteAdd(tag string, value Value) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tags[tag]; exists {
		return false
	}
	s.tags[tag] = orTag{tag: tag, value: value}
	return true
}

// ApplyRemoteRemove deletes every tag the remote side had observed.
// Tags it never observed (including ones added concurrently, after the
// remover's snapshot) are untouched, which is exactly what makes this
// add-wins: a concurrent add's tag was never in observedTags.
func (s *ORSet) ApplyRemoteRemove(observedTags []string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := false
	for _, t := range observedTags {
		if _, ok := s.tags[t]; ok {
			delete(s.tags, t)
			changed = true
		}
	}
	return changed
}

// Contains reports whether value has at least one live tag.
func (s *ORSet) Contains(value Value) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.tags {
		if valueEqual(t.value, value) {
			return true
		}
	}
	return false
}

// TagsFor returns every live tag currently recorded for value — what a
// local Remove(value) call needs to pass to LocalRemove/broadcast as
// the observed-tag set.
func (s *ORSet) TagsFor(value Value) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for tag, t := range s.tags {
		if valueEqual(t.value, value) {
			out = append(out, tag)
		}
	}
	return out
}

// Values returns the distinct live values in the set, in no particular
// order (OR-Set has no inherent ordering, unlike RGA).
func (s *ORSet) Values() []Value {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]bool)
	out := make([]Value, 0, len(s.tags))
	for _, t := range s.tags {
		key := valueKey(t.value)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, t.value)
	}
	return out
}

// Snapshot returns every live (tag, value) pair for persistence.
func (s *ORSet) Snapshot() map[string]Value {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Value, len(s.tags))
	for tag, t := range s.tags {
		out[tag] = t.value
	}
	return out
}

// Restore replaces the set wholesale from a snapshot.
func (s *ORSet) Restore(tags map[string]Value) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tags = make(map[string]orTag, len(tags))
	for tag, v := range tags {
		s.tags[tag] = orTag{tag: tag, value: v}
	}
}

// valueEqual compares two Values structurally; used for set membership
// where the wire/storage layer never hands us pointer-identical
// values.
func valueEqual(a, b Value) bool {
	return valueKey(a) == valueKey(b)
}

// valueKey produces a comparable string key for a Value, good enough
// for set dedup without pulling in a full deep-equal/hash dependency
// for what is, in practice, small scalar or short-array membership
// values.
func valueKey(v Value) string {
	data, err := marshalValue(v)
	if err != nil {
		return ""
	}
	return string(data)
}
