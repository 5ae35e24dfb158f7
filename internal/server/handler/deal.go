package handler

import (
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/trancheworks/cascade/internal/domain"
	"github.com/trancheworks/cascade/internal/service"
)

// maxDealFileBytes bounds the accepted deal definition size.
const maxDealFileBytes = 1 << 20

// DealHandler serves the deal catalogue endpoints.
type DealHandler struct {
	deals  *service.DealService
	logger *slog.Logger
}

// NewDealHandler creates a DealHandler.
func NewDealHandler(deals *service.DealService, logger *slog.Logger) *DealHandler {
	return &DealHandler{deals: deals, logger: logger}
}

// dealSummary is the JSON shape of a deal record; the raw TOML body is
// only returned from the single-deal endpoint.
type dealSummary struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Definition string    `json:"definition,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func summarize(rec domain.DealRecord, withBody bool) dealSummary {
	s := dealSummary{
		ID:        rec.ID,
		Name:      rec.Name,
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
	}
	if withBody {
		s.Definition = string(rec.Definition)
	}
	return s
}

// RegisterDeal stores a deal definition. The request body is the TOML
// deal file itself.
// POST /api/deals
func (h *DealHandler) RegisterDeal(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxDealFileBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	if len(body) == 0 {
		writeError(w, http.StatusBadRequest, "empty deal definition")
		return
	}
	if len(body) > maxDealFileBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "deal definition too large")
		return
	}

	rec, err := h.deals.Register(r.Context(), body)
	if err != nil {
		if domain.IsValidation(err) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		// Parse errors are bad input too; only store failures are internal.
		h.logger.ErrorContext(r.Context(), "register deal failed",
			slog.String("error", err.Error()),
		)
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, summarize(rec, false))
}

// ListDeals returns all registered deals.
// GET /api/deals
func (h *DealHandler) ListDeals(w http.ResponseWriter, r *http.Request) {
	recs, err := h.deals.List(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list deals failed",
			slog.String("error", err.Error()),
		)
		writeServiceError(w, err)
		return
	}

	out := make([]dealSummary, 0, len(recs))
	for _, rec := range recs {
		out = append(out, summarize(rec, false))
	}
	writeJSON(w, http.StatusOK, out)
}

// GetDeal returns one deal record, including its TOML definition.
// GET /api/deals/{id}
func (h *DealHandler) GetDeal(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	rec, err := h.deals.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summarize(rec, true))
}
