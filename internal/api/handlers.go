// Package api wires up the Gin HTTP router with the thin REST wrapper
// around the core operations (spec.md §6): every mutation here is
// equivalent to the matching WS message with no client id, so it
// broadcasts to every subscriber including any WS client of the same
// user.
package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"hyperdoc/internal/apperr"
	"hyperdoc/internal/hub"
)

// restOriginID is the client id REST mutations are attributed to. It
// never matches a real WS subscriber id (those are uuid.NewString()),
// so the hub's originator-skip in broadcast never excludes anyone —
// exactly the "broadcast to all subscribers" rule spec.md §6 states for
// REST mutations.
const restOriginID = ""

// Handler holds the dependencies every route needs.
type Handler struct {
	hub     *hub.Hub
	nodeID  string
	started time.Time
}

// NewHandler wires a Handler around an already-running Hub.
func NewHandler(h *hub.Hub, nodeID string) *Handler {
	return &Handler{hub: h, nodeID: nodeID, started: time.Now()}
}

// Register mounts every route on r.
func (h *Handler) Register(r *gin.Engine) {
	r.GET("/health", h.Health)

	api := r.Group("/api")
	api.GET("/metrics", h.Metrics)
	api.GET("/collections", h.ListCollections)

	c := api.Group("/c/:collection")
	c.GET("", h.ListCollection)
	c.GET("/sync", h.Sync)
	c.GET("/:id", h.Get)
	c.POST("/:id", h.Insert)
	c.PUT("/:id", h.Put)
	c.PATCH("/:id", h.Patch)
	c.DELETE("/:id", h.Delete)
}

// Health answers GET /health.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"node":   h.nodeID,
		"uptime": time.Since(h.started).String(),
	})
}

// Metrics answers GET /api/metrics. Real metric scraping (Prometheus)
// is out of scope here (spec.md §1) — this just reports the
// collection-level counts a dashboard built on top of this API needs.
func (h *Handler) Metrics(c *gin.Context) {
	names, err := h.hub.Collections()
	if err != nil {
		writeErr(c, err)
		return
	}
	counts := make(gin.H, len(names))
	for _, name := range names {
		counts[name] = len(h.hub.ListCollection(name, 0, 0))
	}
	c.JSON(http.StatusOK, gin.H{"node": h.nodeID, "collections": counts})
}

// ListCollections answers GET /api/collections.
func (h *Handler) ListCollections(c *gin.Context) {
	names, err := h.hub.Collections()
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"collections": names})
}

// ListCollection answers GET /api/c/:collection?limit&skip&sort. sort
// is accepted but the only supported order is id-ascending (the one
// stable order ListCollection's in-memory scan can offer without a
// secondary index) — any other value is a no-op, not an error.
func (h *Handler) ListCollection(c *gin.Context) {
	collection := c.Param("collection")
	limit, _ := strconv.Atoi(c.Query("limit"))
	skip, _ := strconv.Atoi(c.Query("skip"))

	docs := h.hub.ListCollection(collection, limit, skip)
	c.JSON(http.StatusOK, gin.H{"collection": collection, "docs": docs})
}

// Sync answers GET /api/c/:collection/sync?since=<timestamp>.
func (h *Handler) Sync(c *gin.Context) {
	collection := c.Param("collection")
	since, err := parseSince(c.Query("since"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	entries, serverTime, err := h.hub.Sync(collection, since)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"collection": collection, "changes": entries, "server_time": serverTime})
}

func parseSince(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, raw)
}

// Get answers GET /api/c/:collection/:id.
func (h *Handler) Get(c *gin.Context) {
	collection, id := c.Param("collection"), c.Param("id")
	data, version, found := h.hub.Get(collection, id)
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "document not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "data": data, "version": version})
}

// Insert answers POST /api/c/:collection/:id.
func (h *Handler) Insert(c *gin.Context) {
	h.mutate(c, h.hub.Insert, http.StatusCreated)
}

// Put answers PUT /api/c/:collection/:id. Per spec.md §9's resolved
// Open Question, PUT routes through the same per-field CRDT map_set
// path as everything else (replacing exactly the top-level keys the
// body supplies) rather than bypassing the CRDT engine — there is no
// "$root" wrapper; the body's keys ARE the document's top-level keys,
// matching how internal/hub.applyFields already treats Insert/Update.
func (h *Handler) Put(c *gin.Context) {
	h.mutate(c, h.hub.Update, http.StatusOK)
}

// Patch answers PATCH /api/c/:collection/:id — same semantics as Put,
// mirroring hub.Merge/hub.Update's identical routing through
// applyFields.
func (h *Handler) Patch(c *gin.Context) {
	h.mutate(c, h.hub.Merge, http.StatusOK)
}

func (h *Handler) mutate(c *gin.Context, op func(collection, id string, data map[string]any, clientID string) (hub.OpResult, error), okStatus int) {
	collection, id := c.Param("collection"), c.Param("id")
	var data map[string]any
	if err := c.ShouldBindJSON(&data); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := op(collection, id, data, restOriginID)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(okStatus, gin.H{"id": id, "version": res.Version})
}

// Delete answers DELETE /api/c/:collection/:id.
func (h *Handler) Delete(c *gin.Context) {
	collection, id := c.Param("collection"), c.Param("id")
	res, err := h.hub.Delete(collection, id, restOriginID)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "version": res.Version})
}

// writeErr maps a hub error to the HTTP status its apperr.Kind implies
// (validation/not-found errors are local to the request, matching
// spec.md §7's propagation policy); anything not recognized as a
// *apperr.DBError falls back to 500.
func writeErr(c *gin.Context, err error) {
	if err == hub.ErrNotFound {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	switch kind, ok := apperr.KindOf(err); {
	case ok && kind == apperr.Validation:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case ok && kind == apperr.NotFound:
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case ok && kind == apperr.Conflict:
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
