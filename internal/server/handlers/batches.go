package handlers

import (
	"database/sql"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/3leaps/siterun/internal/server/middleware"
	"github.com/3leaps/siterun/pkg/output"
	"github.com/3leaps/siterun/pkg/runconfig"
	"github.com/3leaps/siterun/pkg/tablestore"
)

const (
	defaultBatchLimit = 50
	maxBatchLimit     = 500
)

// Batches serves stored batch results.
type Batches struct {
	DB     *sql.DB
	Logger *zap.Logger
}

// BatchResponse is one batch in list and detail responses.
type BatchResponse struct {
	BatchID        string    `json:"batch_id"`
	Model          string    `json:"model"`
	Setup          string    `json:"setup"`
	Ensemble       bool      `json:"ensemble"`
	SitesRequested int       `json:"sites_requested"`
	SitesAvailable int       `json:"sites_available"`
	CreatedAt      time.Time `json:"created_at"`
}

type BatchListResponse struct {
	Batches []BatchResponse `json:"batches"`
}

type SiteResponse struct {
	Site    string `json:"site"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type SiteListResponse struct {
	BatchID string         `json:"batch_id"`
	Sites   []SiteResponse `json:"sites"`
}

func toBatchResponse(b tablestore.BatchRow) BatchResponse {
	return BatchResponse{
		BatchID:        b.BatchID,
		Model:          b.Model,
		Setup:          b.Setup,
		Ensemble:       b.Ensemble,
		SitesRequested: b.SitesRequested,
		SitesAvailable: b.SitesAvailable,
		CreatedAt:      b.CreatedAt,
	}
}

// List serves GET /v1/batches?limit=N, newest first.
func (h *Batches) List(w http.ResponseWriter, r *http.Request) {
	limit := defaultBatchLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxBatchLimit {
			middleware.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT",
				"limit must be an integer between 1 and 500", map[string]any{"limit": raw})
			return
		}
		limit = n
	}

	rows, err := tablestore.ListBatches(r.Context(), h.DB, limit)
	if err != nil {
		h.internal(w, r, err)
		return
	}
	resp := BatchListResponse{Batches: make([]BatchResponse, 0, len(rows))}
	for _, b := range rows {
		resp.Batches = append(resp.Batches, toBatchResponse(b))
	}
	middleware.WriteJSON(w, http.StatusOK, resp)
}

// Get serves GET /v1/batches/{batchID}.
func (h *Batches) Get(w http.ResponseWriter, r *http.Request) {
	b, err := tablestore.GetBatch(r.Context(), h.DB, chi.URLParam(r, "batchID"))
	if err != nil {
		h.storeError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, toBatchResponse(*b))
}

// Sites serves GET /v1/batches/{batchID}/sites.
func (h *Batches) Sites(w http.ResponseWriter, r *http.Request) {
	batchID := chi.URLParam(r, "batchID")
	if _, err := tablestore.GetBatch(r.Context(), h.DB, batchID); err != nil {
		h.storeError(w, r, err)
		return
	}
	rows, err := tablestore.ListSites(r.Context(), h.DB, batchID)
	if err != nil {
		h.internal(w, r, err)
		return
	}
	resp := SiteListResponse{BatchID: batchID, Sites: make([]SiteResponse, 0, len(rows))}
	for _, s := range rows {
		resp.Sites = append(resp.Sites, SiteResponse{Site: s.Site, Status: s.Status, Message: s.Message})
	}
	middleware.WriteJSON(w, http.StatusOK, resp)
}

// Table serves GET /v1/batches/{batchID}/sites/{site}/{resolution} as a
// series record.
func (h *Batches) Table(w http.ResponseWriter, r *http.Request) {
	res, err := runconfig.ParseResolution(chi.URLParam(r, "resolution"))
	if err != nil {
		middleware.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", err.Error(), nil)
		return
	}
	tbl, err := tablestore.LoadTable(r.Context(), h.DB, chi.URLParam(r, "batchID"), chi.URLParam(r, "site"), res)
	if err != nil {
		h.storeError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, output.NewSeriesRecord(tbl))
}

func (h *Batches) storeError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, tablestore.ErrNotFound) {
		middleware.WriteError(w, r, http.StatusNotFound, "NOT_FOUND", err.Error(), nil)
		return
	}
	h.internal(w, r, err)
}

func (h *Batches) internal(w http.ResponseWriter, r *http.Request, err error) {
	if h.Logger != nil {
		h.Logger.Error("Store query failed", zap.String("path", r.URL.Path), zap.Error(err))
	}
	middleware.WriteError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "store query failed", nil)
}
