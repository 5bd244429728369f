// Package fhirapi exposes the document service over a FHIR-style REST surface.
package fhirapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"fhirdoc/internal/core"
	"fhirdoc/internal/encoding"
	"fhirdoc/internal/platform/logger"
	"fhirdoc/pkg/domain"
)

const (
	operationDocument = "$document"
	maxBodyBytes      = 10 << 20
)

// Handler serves the FHIR routes.
type Handler struct {
	svc      *core.Service
	encoders *encoding.Registry
	log      *logger.Logger
}

// NewHandler constructs a handler. A nil registry selects the default encoders.
func NewHandler(svc *core.Service, encoders *encoding.Registry, log *logger.Logger) *Handler {
	if encoders == nil {
		encoders = encoding.NewRegistry()
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Handler{svc: svc, encoders: encoders, log: log}
}

// Register mounts the routes on r.
func (h *Handler) Register(r gin.IRouter) {
	fhir := r.Group("/fhir")
	fhir.POST("", h.Import)
	fhir.GET("/:type/:id/:operation", h.Operation)
	fhir.POST("/:type/:id/:operation", h.Operation)
	fhir.GET("/:type/:id", h.Read)
	fhir.PUT("/:type/:id", h.Update)
	fhir.DELETE("/:type/:id", h.Delete)
	fhir.GET("/:type", h.Search)
	fhir.POST("/:type", h.Create)
}

// Operation dispatches instance level operations. Only $document on
// Composition is supported.
func (h *Handler) Operation(c *gin.Context) {
	resourceType, id, op := c.Param("type"), c.Param("id"), c.Param("operation")
	if op != operationDocument {
		respondOutcome(c, fmt.Errorf("%w: unknown operation %s", errBadRequest, op))
		return
	}
	if resourceType != domain.TypeComposition {
		respondOutcome(c, fmt.Errorf("%w: %s is only defined for Composition", errBadRequest, op))
		return
	}
	enc, err := h.encoders.Negotiate(c.Query("_format"), c.GetHeader("Accept"))
	if err != nil {
		respondOutcome(c, err)
		return
	}
	persist, err := boolParam(c, "persist")
	if err != nil {
		respondOutcome(c, err)
		return
	}
	if persist && !h.svc.CanArchive() {
		respondOutcome(c, core.ErrArchiveDisabled)
		return
	}
	base := h.baseURL(c)
	doc, err := h.svc.Document(c.Request.Context(), id, core.DocumentOptions{BaseURL: base})
	if err != nil {
		respondOutcome(c, err)
		return
	}
	pretty, _ := boolParam(c, "_pretty")
	var buf bytes.Buffer
	if err := enc.Encode(&buf, doc.Bundle, pretty); err != nil {
		h.log.Error("encode document failed", "root", id, "error", err)
		respondOutcome(c, err)
		return
	}
	if persist {
		if doc, err = h.svc.SaveDocument(c.Request.Context(), doc); err != nil {
			respondOutcome(c, err)
			return
		}
	}
	if doc.Stored != nil {
		location := base + "/" + domain.TypeBundle + "/" + doc.Bundle.ID
		c.Header("Location", location)
		c.Header("Content-Location", location)
	}
	c.Data(http.StatusOK, enc.ContentType(), buf.Bytes())
}

// Read returns the current version of a resource. Bundle ids are looked up in
// the document archive first.
func (h *Handler) Read(c *gin.Context) {
	key := domain.NewKey(c.Param("type"), c.Param("id"))
	if key.Type == domain.TypeBundle {
		bundle, err := h.svc.StoredDocument(c.Request.Context(), key.ID)
		if err == nil {
			h.writeJSON(c, http.StatusOK, bundle)
			return
		}
		if !isNotFoundOrDisabled(err) {
			respondOutcome(c, err)
			return
		}
	}
	rec, err := h.svc.Read(c.Request.Context(), key)
	if err != nil {
		respondOutcome(c, err)
		return
	}
	h.writeRecord(c, http.StatusOK, rec)
}

// Search lists every resource of a type as a searchset bundle. No search
// parameters are evaluated.
func (h *Handler) Search(c *gin.Context) {
	recs, err := h.svc.List(c.Request.Context(), c.Param("type"))
	if err != nil {
		respondOutcome(c, err)
		return
	}
	base := h.baseURL(c)
	b := domain.Bundle{ResourceType: domain.TypeBundle, Type: "searchset", Entry: make([]domain.BundleEntry, 0, len(recs))}
	for _, rec := range recs {
		withMeta, err := rec.WithMeta()
		if err != nil {
			respondOutcome(c, err)
			return
		}
		b.Entry = append(b.Entry, domain.BundleEntry{FullURL: base + "/" + rec.Key.String(), Resource: withMeta.Body})
	}
	h.writeJSON(c, http.StatusOK, b)
}

// Create stores a resource under a server-assigned id.
func (h *Handler) Create(c *gin.Context) {
	body, err := readBody(c)
	if err != nil {
		respondOutcome(c, err)
		return
	}
	rec, err := h.svc.Create(c.Request.Context(), c.Param("type"), body)
	if err != nil {
		respondOutcome(c, err)
		return
	}
	c.Header("Location", h.baseURL(c)+"/"+rec.Key.String()+"/_history/"+rec.VersionID)
	h.writeRecord(c, http.StatusCreated, rec)
}

// Import stores the entries of a posted collection or transaction bundle and
// answers with a response bundle listing where each entry landed.
func (h *Handler) Import(c *gin.Context) {
	body, err := readBody(c)
	if err != nil {
		respondOutcome(c, err)
		return
	}
	recs, err := h.svc.ImportBundle(c.Request.Context(), body)
	if err != nil {
		respondOutcome(c, err)
		return
	}
	base := h.baseURL(c)
	resp := domain.Bundle{ResourceType: domain.TypeBundle, Type: "transaction-response", Entry: make([]domain.BundleEntry, 0, len(recs))}
	for _, rec := range recs {
		resp.Entry = append(resp.Entry, domain.BundleEntry{
			FullURL: base + "/" + rec.Key.String(),
			Response: &domain.BundleResponse{
				Status:   "200 OK",
				Location: rec.Key.String() + "/_history/" + rec.VersionID,
			},
		})
	}
	h.writeJSON(c, http.StatusOK, resp)
}

// Update creates or replaces the resource at the given id.
func (h *Handler) Update(c *gin.Context) {
	body, err := readBody(c)
	if err != nil {
		respondOutcome(c, err)
		return
	}
	rec, err := h.svc.Upsert(c.Request.Context(), domain.NewKey(c.Param("type"), c.Param("id")), body)
	if err != nil {
		respondOutcome(c, err)
		return
	}
	status := http.StatusOK
	if rec.VersionID == "1" {
		status = http.StatusCreated
	}
	h.writeRecord(c, status, rec)
}

// Delete removes a resource. Deleting an unknown resource also succeeds.
func (h *Handler) Delete(c *gin.Context) {
	if _, err := h.svc.Delete(c.Request.Context(), domain.NewKey(c.Param("type"), c.Param("id"))); err != nil {
		respondOutcome(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) writeRecord(c *gin.Context, status int, rec domain.Record) {
	withMeta, err := rec.WithMeta()
	if err != nil {
		respondOutcome(c, err)
		return
	}
	if rec.VersionID != "" {
		c.Header("ETag", `W/"`+rec.VersionID+`"`)
	}
	if !rec.LastUpdated.IsZero() {
		c.Header("Last-Modified", rec.LastUpdated.UTC().Format(http.TimeFormat))
	}
	h.writeRaw(c, status, withMeta.Body)
}

func (h *Handler) writeJSON(c *gin.Context, status int, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		respondOutcome(c, err)
		return
	}
	h.writeRaw(c, status, raw)
}

func (h *Handler) writeRaw(c *gin.Context, status int, raw []byte) {
	if pretty, _ := boolParam(c, "_pretty"); pretty {
		var buf bytes.Buffer
		if err := json.Indent(&buf, raw, "", "  "); err == nil {
			raw = buf.Bytes()
		}
	}
	c.Data(status, encoding.ContentTypeJSON, raw)
}

// baseURL returns the configured base or one derived from the request.
func (h *Handler) baseURL(c *gin.Context) string {
	if base := strings.TrimRight(h.svc.BaseURL(), "/"); base != "" {
		return base
	}
	scheme := "http"
	if c.Request.TLS != nil {
		scheme = "https"
	}
	if proto := c.GetHeader("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	return scheme + "://" + c.Request.Host + "/fhir"
}

func readBody(c *gin.Context) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", errBadRequest, err)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, fmt.Errorf("%w: empty body", errBadRequest)
	}
	return body, nil
}

func boolParam(c *gin.Context, name string) (bool, error) {
	v := strings.TrimSpace(c.Query(name))
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%w: %s must be true or false", errBadRequest, name)
	}
	return b, nil
}

func isNotFoundOrDisabled(err error) bool {
	status, _ := statusFor(err)
	return status == http.StatusNotFound || errors.Is(err, core.ErrArchiveDisabled)
}
