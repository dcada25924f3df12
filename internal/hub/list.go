package hub

import "sort"

// DocSummary is one row of a collection listing (spec.md §6 `GET
// /api/c/:collection`): enough to render a collection browser without
// shipping every document's full CRDT snapshot.
type DocSummary struct {
	ID        string
	Data      map[string]any
	Version   uint64
	UpdatedAt int64 // unix nanos, so callers can sort without importing time
}

// ListCollection returns every non-tombstoned document in collection,
// sorted by id ascending (the one stable, dependency-free order every
// caller can count on) and paginated by skip/limit. limit <= 0 means
// "no limit".
func (h *Hub) ListCollection(collection string, limit, skip int) []DocSummary {
	var out []DocSummary
	h.docs.forEach(func(coll, id string, rec *DocRecord) {
		if coll != collection {
			return
		}
		rec.mu.Lock()
		deleted := rec.Deleted
		version := rec.Version
		updatedAt := rec.UpdatedAt
		rec.mu.Unlock()
		if deleted {
			return
		}
		out = append(out, DocSummary{ID: id, Data: rec.Doc.ToObject(), Version: version, UpdatedAt: updatedAt.UnixNano()})
	})

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	if skip > 0 {
		if skip >= len(out) {
			return nil
		}
		out = out[skip:]
	}
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out
}

// Collections lists every collection name ever written, for spec.md
// §6's `GET /api/collections`.
func (h *Hub) Collections() ([]string, error) {
	return h.synclog.Collections()
}
