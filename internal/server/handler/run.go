package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/trancheworks/cascade/internal/domain"
	"github.com/trancheworks/cascade/internal/service"
)

// RunHandler serves the period execution and ledger query endpoints.
type RunHandler struct {
	runs   *service.RunService
	logger *slog.Logger
}

// NewRunHandler creates a RunHandler.
func NewRunHandler(runs *service.RunService, logger *slog.Logger) *RunHandler {
	return &RunHandler{runs: runs, logger: logger}
}

// runRequest is the JSON body of a period execution request. Money
// fields are JSON strings decoded exactly into decimals.
type runRequest struct {
	Period               int             `json:"period"`
	PoolBalance          decimal.Decimal `json:"pool_balance"`
	InterestCollections  decimal.Decimal `json:"interest_collections"`
	PrincipalCollections decimal.Decimal `json:"principal_collections"`
}

// ExecutePeriod runs one period for the deal and returns the full
// period result, both cascade ledgers included.
// POST /api/deals/{id}/runs
func (h *RunHandler) ExecutePeriod(w http.ResponseWriter, r *http.Request) {
	dealID := pathParam(r, "id")

	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	res, err := h.runs.RunPeriod(r.Context(), dealID, domain.PeriodInput{
		Period:               req.Period,
		PoolBalance:          req.PoolBalance,
		InterestCollections:  req.InterestCollections,
		PrincipalCollections: req.PrincipalCollections,
	})
	if err != nil {
		if domain.IsInvariantViolation(err) {
			h.logger.ErrorContext(r.Context(), "invariant violation",
				slog.String("deal_id", dealID),
				slog.Int("period", req.Period),
				slog.String("error", err.Error()),
			)
		}
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, res)
}

// GetLedger returns the recorded ledgers for one deal period.
// GET /api/deals/{id}/ledger?period=N
func (h *RunHandler) GetLedger(w http.ResponseWriter, r *http.Request) {
	dealID := pathParam(r, "id")
	period := queryInt(r, "period", 0)
	if period < 1 {
		writeError(w, http.StatusBadRequest, "period query parameter is required")
		return
	}

	runs, err := h.runs.Ledger(r.Context(), dealID, period)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

// GetLatestResult returns the deal's most recent completed period
// result.
// GET /api/deals/{id}/results/latest
func (h *RunHandler) GetLatestResult(w http.ResponseWriter, r *http.Request) {
	dealID := pathParam(r, "id")
	res, err := h.runs.LatestResult(r.Context(), dealID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GetState returns the deal's latest carry-forward state.
// GET /api/deals/{id}/state
func (h *RunHandler) GetState(w http.ResponseWriter, r *http.Request) {
	dealID := pathParam(r, "id")
	st, err := h.runs.State(r.Context(), dealID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}
