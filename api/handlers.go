package api

import (
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/papercomputeco/twin/pkg/memory"
)

// StoreRequest is the body of POST /memories.
type StoreRequest struct {
	Kind      string         `json:"kind"`
	Content   string         `json:"content"`
	Embedding []float32      `json:"embedding"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// StoreResponse is returned by POST /memories.
type StoreResponse struct {
	ID uuid.UUID `json:"id"`
}

// UpdateRequest is the body of PUT /memories/:id.
type UpdateRequest struct {
	Content   string    `json:"content"`
	Embedding []float32 `json:"embedding"`
}

// SearchRequest is the body of POST /memories/search.
type SearchRequest struct {
	Embedding []float32 `json:"embedding"`
	Limit     *int      `json:"limit,omitempty"`
}

// SearchResponse is returned by POST /memories/search.
type SearchResponse struct {
	Records []*memory.Record `json:"records"`
}

// handlePing returns a simple liveness response.
func (s *Server) handlePing(c *fiber.Ctx) error {
	return c.JSON("pong")
}

// handleHealth reports pool and cache health; 503 when any configured pool
// is unhealthy.
func (s *Server) handleHealth(c *fiber.Ctx) error {
	if s.health == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(ErrorResponse{Error: "health reporting is not configured"})
	}

	h := s.health.Health(c.Context())
	if !h.Healthy() {
		return c.Status(fiber.StatusServiceUnavailable).JSON(h)
	}
	return c.JSON(h)
}

func (s *Server) handleStoreMemory(c *fiber.Ctx) error {
	if s.driver == nil {
		return s.writeError(c, "store", memory.ErrNotConfigured)
	}

	var req StoreRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body: "+err.Error())
	}

	rec := &memory.Record{
		Kind:      memory.Kind(strings.ToLower(strings.TrimSpace(req.Kind))),
		Content:   req.Content,
		Embedding: req.Embedding,
		Metadata:  req.Metadata,
	}

	id, err := s.driver.Store(c.Context(), rec)
	if err != nil {
		return s.writeError(c, "store", err)
	}

	return c.Status(fiber.StatusCreated).JSON(StoreResponse{ID: id})
}

func (s *Server) handleGetMemory(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "id must be a UUID")
	}
	if s.driver == nil {
		return s.writeError(c, "retrieve", memory.ErrNotConfigured)
	}

	rec, err := s.driver.Retrieve(c.Context(), id)
	if err != nil {
		return s.writeError(c, "retrieve", err)
	}

	return c.JSON(rec)
}

func (s *Server) handleUpdateMemory(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "id must be a UUID")
	}
	if s.driver == nil {
		return s.writeError(c, "update", memory.ErrNotConfigured)
	}

	var req UpdateRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body: "+err.Error())
	}

	if err := s.driver.Update(c.Context(), id, req.Content, req.Embedding); err != nil {
		return s.writeError(c, "update", err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) handleDeleteMemory(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "id must be a UUID")
	}
	if s.driver == nil {
		return s.writeError(c, "delete", memory.ErrNotConfigured)
	}

	if err := s.driver.Delete(c.Context(), id); err != nil {
		return s.writeError(c, "delete", err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// handleListMemories handles GET /memories.
// Query parameters:
//   - limit (optional, default 20): page size, at most 1000
//   - offset (optional, default 0): records to skip
func (s *Server) handleListMemories(c *fiber.Ctx) error {
	limit, err := queryInt(c, "limit", s.config.DefaultListLimit)
	if err != nil || limit < 0 || limit > maxLimit {
		return badRequest(c, "limit must be an integer between 0 and "+strconv.Itoa(maxLimit))
	}

	offset, err := queryInt(c, "offset", 0)
	if err != nil || offset < 0 {
		return badRequest(c, "offset must be a non-negative integer")
	}

	if s.driver == nil {
		return s.writeError(c, "list", memory.ErrNotConfigured)
	}

	page, err := s.driver.ListPaginated(c.Context(), limit, offset)
	if err != nil {
		return s.writeError(c, "list", err)
	}
	if page.Records == nil {
		page.Records = []*memory.Record{}
	}

	return c.JSON(page)
}

func (s *Server) handleSearchMemories(c *fiber.Ctx) error {
	var req SearchRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body: "+err.Error())
	}

	limit := s.config.DefaultSearchLimit
	if req.Limit != nil {
		limit = *req.Limit
	}
	if limit < 0 || limit > maxLimit {
		return badRequest(c, "limit must be an integer between 0 and "+strconv.Itoa(maxLimit))
	}

	if s.driver == nil {
		return s.writeError(c, "search", memory.ErrNotConfigured)
	}

	recs, err := s.driver.Search(c.Context(), req.Embedding, limit)
	if err != nil {
		return s.writeError(c, "search", err)
	}
	if recs == nil {
		recs = []*memory.Record{}
	}

	return c.JSON(SearchResponse{Records: recs})
}

func queryInt(c *fiber.Ctx, key string, def int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}
