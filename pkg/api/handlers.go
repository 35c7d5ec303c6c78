package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ssargent/pmatree/pkg/btrtree"
	"github.com/ssargent/pmatree/pkg/engine"
)

// Server holds the API server state
type Server struct {
	store   *engine.Store
	config  ServerConfig
	metrics *Metrics
}

// NewServer creates a new API server
func NewServer(store *engine.Store, config ServerConfig, metrics *Metrics) *Server {
	return &Server{store: store, config: config, metrics: metrics}
}

// handleHealth godoc
//
//	@Summary	Health check
//	@Router		/health [get]
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.metrics.RecordHealthCheck(true)
	sendSuccess(w, map[string]string{"status": "healthy"})
}

// handlePut stores one singv record at the dkey/akey/epoch path carried in
// the request body.
func (s *Server) handlePut(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req PutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.metrics.RecordTreeOp("upsert", false, time.Since(start))
		sendError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Container == "" || req.Object == "" || req.Dkey == "" || req.Akey == "" {
		s.metrics.RecordTreeOp("upsert", false, time.Since(start))
		sendError(w, "container, object, dkey and akey are all required", http.StatusBadRequest)
		return
	}

	err := s.store.Put(req.Container, req.Object, []byte(req.Dkey), req.DkeyEpoch,
		[]byte(req.Akey), req.AkeyEpoch, req.ValueEpoch, req.Value)
	s.metrics.RecordTreeOp("upsert", err == nil, time.Since(start))
	if err != nil {
		sendError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	sendSuccess(w, map[string]string{"status": "stored"})
}

// handleGet resolves the record visible at or before the requested value
// epoch, addressed by the same container/object/dkey/akey path as handlePut.
func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	container := chi.URLParam(r, "container")
	object := chi.URLParam(r, "object")
	dkeyName := chi.URLParam(r, "dkey")
	akeyName := chi.URLParam(r, "akey")
	if container == "" || object == "" || dkeyName == "" || akeyName == "" {
		sendError(w, "container, object, dkey and akey are all required", http.StatusBadRequest)
		return
	}

	dkeyEpoch, _ := strconv.ParseUint(r.URL.Query().Get("dkey_epoch"), 10, 64)
	akeyEpoch, _ := strconv.ParseUint(r.URL.Query().Get("akey_epoch"), 10, 64)
	queryEpoch, err := strconv.ParseUint(r.URL.Query().Get("epoch"), 10, 64)
	if err != nil {
		queryEpoch = ^uint64(0)
	}

	value, err := s.store.Get(container, object, []byte(dkeyName), dkeyEpoch, []byte(akeyName), akeyEpoch, queryEpoch)
	s.metrics.RecordTreeOp("probe", err == nil, time.Since(start))
	if errors.Is(err, btrtree.ErrNotFound) {
		sendError(w, "not found", http.StatusNotFound)
		return
	}
	if err != nil {
		sendError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	sendSuccess(w, map[string]interface{}{"value": value})
}

// handleDelete punches the record at the requested value epoch.
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	container := chi.URLParam(r, "container")
	object := chi.URLParam(r, "object")
	dkeyName := chi.URLParam(r, "dkey")
	akeyName := chi.URLParam(r, "akey")
	if container == "" || object == "" || dkeyName == "" || akeyName == "" {
		sendError(w, "container, object, dkey and akey are all required", http.StatusBadRequest)
		return
	}

	dkeyEpoch, _ := strconv.ParseUint(r.URL.Query().Get("dkey_epoch"), 10, 64)
	akeyEpoch, _ := strconv.ParseUint(r.URL.Query().Get("akey_epoch"), 10, 64)
	valueEpoch, _ := strconv.ParseUint(r.URL.Query().Get("epoch"), 10, 64)

	err := s.store.Delete(container, object, []byte(dkeyName), dkeyEpoch, []byte(akeyName), akeyEpoch, valueEpoch)
	s.metrics.RecordTreeOp("delete", err == nil, time.Since(start))
	if errors.Is(err, btrtree.ErrNotFound) {
		sendError(w, "not found", http.StatusNotFound)
		return
	}
	if err != nil {
		sendError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	sendSuccess(w, map[string]string{"status": "deleted"})
}

// handleDestroyObject punches an entire object's dkey subtree.
func (s *Server) handleDestroyObject(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	container := chi.URLParam(r, "container")
	object := chi.URLParam(r, "object")

	err := s.store.DestroyObject(container, object)
	s.metrics.RecordDBOperation("destroy_object", err == nil, time.Since(start))
	if err != nil {
		sendError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	sendSuccess(w, map[string]string{"status": "destroyed"})
}

// handleCreateRelationship creates a directed edge between two entity keys.
func (s *Server) handleCreateRelationship(w http.ResponseWriter, r *http.Request) {
	var req RelationshipRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Container == "" || req.FromKey == "" || req.ToKey == "" || req.Relation == "" {
		sendError(w, "container, from_key, to_key and relation are all required", http.StatusBadRequest)
		return
	}

	err := s.store.PutRelationship(req.Container, req.FromKey, req.ToKey, req.Relation)
	s.metrics.RecordRelationshipOperation("create", err == nil)
	if err != nil {
		sendError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	sendSuccess(w, map[string]string{"status": "created"})
}

// handleDeleteRelationship removes both directions of an edge.
func (s *Server) handleDeleteRelationship(w http.ResponseWriter, r *http.Request) {
	var req RelationshipRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	err := s.store.DeleteRelationship(req.Container, req.FromKey, req.ToKey, req.Relation)
	s.metrics.RecordRelationshipOperation("delete", err == nil)
	if err != nil {
		sendError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	sendSuccess(w, map[string]string{"status": "deleted"})
}

// handleGetRelationships lists edges touching a key, filtered by direction
// and optionally by relation type and result limit.
func (s *Server) handleGetRelationships(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	container := q.Get("container")
	key := q.Get("key")
	if container == "" || key == "" {
		sendError(w, "container and key query params are required", http.StatusBadRequest)
		return
	}
	direction := q.Get("direction")
	if direction == "" {
		direction = "both"
	}
	limit, _ := strconv.Atoi(q.Get("limit"))

	results, err := s.store.GetRelationships(container, engine.RelationshipQuery{
		Key:       key,
		Relation:  q.Get("relation"),
		Direction: direction,
		Limit:     limit,
	})
	s.metrics.RecordRelationshipOperation("list", err == nil)
	if err != nil {
		sendError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	sendSuccess(w, results)
}

// explainResponse mirrors §8 property 1 of the engine's shape invariants:
// what a caller can learn about a tree without walking it node by node.
type explainResponse struct {
	ContainerTableDepth int `json:"container_table_depth"`
	ContainerTableOrder int `json:"container_table_order"`
}

// handleExplain reports the container table's current shape, adapted from
// the teacher's segment-explain endpoint to describe a btrtree instead of
// an append-only log segment.
func (s *Server) handleExplain(w http.ResponseWriter, r *http.Request) {
	stats := s.store.Stats()
	sendSuccess(w, explainResponse{
		ContainerTableDepth: stats.ContainerTableDepth,
		ContainerTableOrder: stats.ContainerTableOrder,
	})
}

// handleStats is an alias for handleExplain kept for clients that still
// probe /stats rather than /explain.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.handleExplain(w, r)
}
