package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/estatedesk/crm/internal/access"
	"github.com/estatedesk/crm/internal/domain"
	"github.com/estatedesk/crm/internal/middleware"
	"github.com/estatedesk/crm/internal/models"
)

// ResourceHandler serves the CRUD and lifecycle endpoints of one resource type.
type ResourceHandler struct {
	svc domain.ResourceService
	rt  models.ResourceType
	log *logrus.Logger
}

// NewResourceHandler creates a ResourceHandler for rt.
func NewResourceHandler(svc domain.ResourceService, rt models.ResourceType, log *logrus.Logger) *ResourceHandler {
	return &ResourceHandler{svc: svc, rt: rt, log: log}
}

// Register mounts the handler under /<plural>.
func (h *ResourceHandler) Register(g *gin.RouterGroup) {
	base := "/" + h.rt.Plural()

	g.GET(base, h.List)
	g.POST(base, h.Create)
	g.GET(base+"/:id", h.Get)
	g.PATCH(base+"/:id", h.Update)
	g.DELETE(base+"/:id", h.Delete)
	g.POST(base+"/:id/archive", h.Archive)
	g.POST(base+"/:id/restore", h.Restore)
}

func (h *ResourceHandler) audit(p access.Principal, action string, fields logrus.Fields) {
	f := logrus.Fields{"action": string(h.rt) + "." + action, "user_id": p.ID, "role": p.Role}
	for k, v := range fields {
		f[k] = v
	}
	h.log.WithFields(f).Info("audit")
}

// List handles GET /api/v1/<plural>.
func (h *ResourceHandler) List(c *gin.Context) {
	p, ok := requirePrincipal(c)
	if !ok {
		return
	}

	f, err := parseListFilters(c)
	if err != nil {
		respondError(c, http.StatusBadRequest, ErrCodeInvalidRequest, err.Error())

		return
	}

	scope := c.Query("scope")

	result, err := h.svc.List(c.Request.Context(), p, h.rt, scope, f)
	if err != nil {
		respondServiceError(c, h.log, "listing "+h.rt.Plural(), err)

		return
	}

	h.audit(p, "list", logrus.Fields{"scope": scope, "count": len(result.Items), "total": result.Pagination.Total})

	c.JSON(http.StatusOK, result)
}

// Get handles GET /api/v1/<plural>/:id.
func (h *ResourceHandler) Get(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	p, ok := requirePrincipal(c)
	if !ok {
		return
	}

	rec, err := h.svc.Get(c.Request.Context(), p, h.rt, id)
	if err != nil {
		respondServiceError(c, h.log, "getting "+string(h.rt), err)

		return
	}

	respondRecord(c, http.StatusOK, rec)
}

// Create handles POST /api/v1/<plural>.
func (h *ResourceHandler) Create(c *gin.Context) {
	p, ok := requirePrincipal(c)
	if !ok {
		return
	}

	var m models.Mutation
	if err := c.ShouldBindJSON(&m); err != nil {
		respondError(c, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid request body")

		return
	}

	rec, err := h.svc.Create(c.Request.Context(), p, h.rt, m)
	if err != nil {
		respondServiceError(c, h.log, "creating "+string(h.rt), err)

		return
	}

	h.audit(p, "create", logrus.Fields{"id": rec.ID})

	respondRecord(c, http.StatusCreated, rec)
}

// Update handles PATCH /api/v1/<plural>/:id. The expected version comes from
// the body or, failing that, the If-Match header.
func (h *ResourceHandler) Update(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	p, ok := requirePrincipal(c)
	if !ok {
		return
	}

	var m models.Mutation
	if err := c.ShouldBindJSON(&m); err != nil {
		respondError(c, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid request body")

		return
	}

	if m.Version == nil {
		v, ok := expectedVersion(c)
		if !ok {
			return
		}
		m.Version = v
	}

	rec, err := h.svc.Update(c.Request.Context(), p, h.rt, id, m)
	if err != nil {
		respondServiceError(c, h.log, "updating "+string(h.rt), err)

		return
	}

	h.audit(p, "update", logrus.Fields{"id": id, "version": rec.Version})

	respondRecord(c, http.StatusOK, rec)
}

// Archive handles POST /api/v1/<plural>/:id/archive.
func (h *ResourceHandler) Archive(c *gin.Context) {
	h.lifecycle(c, "archive", h.svc.Archive)
}

// Restore handles POST /api/v1/<plural>/:id/restore.
func (h *ResourceHandler) Restore(c *gin.Context) {
	h.lifecycle(c, "restore", h.svc.Restore)
}

// Delete handles DELETE /api/v1/<plural>/:id.
func (h *ResourceHandler) Delete(c *gin.Context) {
	h.lifecycle(c, "delete", h.svc.Delete)
}

type lifecycleFunc func(ctx context.Context, p access.Principal, rt models.ResourceType, id string, expect *int) (*models.Record, error)

func (h *ResourceHandler) lifecycle(c *gin.Context, action string, write lifecycleFunc) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	p, ok := requirePrincipal(c)
	if !ok {
		return
	}

	expect, ok := expectedVersion(c)
	if !ok {
		return
	}

	rec, err := write(c.Request.Context(), p, h.rt, id, expect)
	if err != nil {
		respondServiceError(c, h.log, action+" "+string(h.rt), err)

		return
	}

	h.audit(p, action, logrus.Fields{"id": id, "version": rec.Version})

	respondRecord(c, http.StatusOK, rec)
}

// respondRecord writes rec with its version as a strong ETag.
func respondRecord(c *gin.Context, status int, rec *models.Record) {
	c.Header("ETag", strconv.Quote(strconv.Itoa(rec.Version)))
	c.JSON(status, rec)
}

func requirePrincipal(c *gin.Context) (access.Principal, bool) {
	p, ok := middleware.PrincipalFrom(c)
	if !ok {
		respondError(c, http.StatusUnauthorized, ErrCodeUnauthorized, "authentication required")
	}

	return p, ok
}

func pathID(c *gin.Context) (string, bool) {
	id := c.Param("id")
	if err := validatePathID(id); err != nil {
		respondError(c, http.StatusBadRequest, ErrCodeInvalidRequest, err.Error())

		return "", false
	}

	return id, true
}

// expectedVersion reads the optional version precondition from the If-Match
// header or the version query parameter. "If-Match: *" sets no precondition.
// A malformed value aborts the request.
func expectedVersion(c *gin.Context) (*int, bool) {
	raw := strings.TrimSpace(c.GetHeader("If-Match"))
	if raw == "" {
		raw = c.Query("version")
	}

	if raw == "" || raw == "*" {
		return nil, true
	}

	raw = strings.TrimPrefix(raw, "W/")
	raw = strings.Trim(raw, `"`)

	v, err := strconv.Atoi(raw)
	if err != nil || v < 1 {
		respondError(c, http.StatusBadRequest, ErrCodeInvalidRequest, "version must be a positive integer")

		return nil, false
	}

	return &v, true
}

func parseListFilters(c *gin.Context) (models.ListFilters, error) {
	f := models.ListFilters{
		Status: c.Query("status"),
		Search: strings.TrimSpace(c.Query("search")),
		Page:   parseInt(c.Query("page"), 1),
		Limit:  parseInt(c.Query("limit"), models.DefaultPageLimit),
	}

	archived, err := parseBool(c.Query("archived"))
	if err != nil {
		return f, err
	}
	f.Archived = archived

	if f.From, err = parseDate("from", c.Query("from")); err != nil {
		return f, err
	}

	if f.To, err = parseDate("to", c.Query("to")); err != nil {
		return f, err
	}

	if f.From != nil && f.To != nil && f.To.Before(*f.From) {
		return f, errRangeInverted
	}

	return f, nil
}

func parseDate(name, s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}

	for _, layout := range []string{time.RFC3339, time.DateOnly} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t, nil
		}
	}

	return nil, invalidParam(name, "must be RFC 3339 or YYYY-MM-DD")
}
