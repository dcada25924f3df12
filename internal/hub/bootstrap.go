package hub

import (
	"encoding/json"

	"hyperdoc/internal/document"
)

func newDocumentFromSnapshot(nodeID string, pd persistedDoc) *document.Document {
	doc := document.New(nodeID)
	doc.Restore(pd.Snapshot, nil)
	return doc
}

// Bootstrap rehydrates every live document from durable shard state,
// one collection (from the catalog recorded by persist) and one shard
// at a time. It is the counterpart to the write buffer's WAL replay:
// the WAL only covers writes since the last clean flush, Bootstrap
// covers everything committed before that.
func (h *Hub) Bootstrap() error {
	collections, err := h.synclog.Collections()
	if err != nil {
		return err
	}
	for _, collection := range collections {
		for idx := 0; idx < h.shards.ShardCount(); idx++ {
			rows, err := h.shards.StoreAt(idx).Scan(collection, 0, 0)
			if err != nil {
				return err
			}
			for _, row := range rows {
				var pd persistedDoc
				if err := json.Unmarshal(row.Value, &pd); err != nil {
					h.log.Warn("skipping unreadable row during bootstrap", "collection", collection, "id", row.ID, "error", err)
					continue
				}
				doc := newDocumentFromSnapshot(h.nodeID, pd)
				h.docs.put(collection, row.ID, &DocRecord{
					Doc: doc, Version: pd.Version, Deleted: pd.Deleted,
					CreatedAt: pd.CreatedAt, UpdatedAt: pd.UpdatedAt,
				})
			}
		}
	}
	return nil
}
