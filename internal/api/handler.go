package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/dealstack/tally/internal/catalog"
	"github.com/dealstack/tally/internal/domain"
	"github.com/dealstack/tally/internal/engine"
	"github.com/dealstack/tally/internal/override"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	repo      domain.Repository
	cache     domain.Cache
	catalog   *catalog.Service
	engine    *engine.Evaluator
	overrides *override.Manager
	version   string
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, cat *catalog.Service, eval *engine.Evaluator, overrides *override.Manager, version string) *Handler {
	return &Handler{
		repo:      repo,
		cache:     cache,
		catalog:   cat,
		engine:    eval,
		overrides: overrides,
		version:   version,
	}
}

// Health returns service health including repository and cache checks.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// CreateRegimeRequest is the request body for POST /regimes.
type CreateRegimeRequest struct {
	Name         string `json:"name"`
	Jurisdiction string `json:"jurisdiction,omitempty"`
}

// CreateRegime handles POST /regimes.
func (h *Handler) CreateRegime(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var req CreateRegimeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	regime, err := h.catalog.CreateRegime(ctx, tenantID, req.Name, req.Jurisdiction)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, regime)
}

// ListRegimes handles GET /regimes.
func (h *Handler) ListRegimes(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	regimes, err := h.catalog.Regimes(ctx, tenantID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"regimes": regimes,
		"count":   len(regimes),
	})
}

// GetRegime handles GET /regimes/{id}.
func (h *Handler) GetRegime(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	regimeID := chi.URLParam(r, "id")

	regime, err := h.catalog.Regime(ctx, tenantID, regimeID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, regime)
}

// CreateRuleVersion handles POST /regimes/{id}/rules.
func (h *Handler) CreateRuleVersion(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	regimeID := chi.URLParam(r, "id")

	var req catalog.RuleVersionInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	snap, err := h.catalog.CreateRuleVersion(ctx, tenantID, regimeID, req)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, snap)
}

// ListRuleVersions handles GET /regimes/{id}/rules.
func (h *Handler) ListRuleVersions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	regimeID := chi.URLParam(r, "id")

	rules, err := h.catalog.Rules(ctx, tenantID, regimeID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rules": rules,
		"count": len(rules),
	})
}

// GetRule handles GET /rules/{id}.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	ruleID := chi.URLParam(r, "id")

	rule, err := h.catalog.Rule(ctx, tenantID, ruleID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, rule)
}

// ListRuleLines handles GET /rules/{id}/lines.
func (h *Handler) ListRuleLines(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	ruleID := chi.URLParam(r, "id")

	lines, err := h.catalog.Lines(ctx, tenantID, ruleID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"lines": lines,
		"count": len(lines),
	})
}

// AddUnitRequest is the request body for POST /deals/{id}/units.
type AddUnitRequest struct {
	Description string          `json:"description"`
	AgreedPrice decimal.Decimal `json:"agreedPrice"`
}

// AddDealUnit handles POST /deals/{id}/units.
func (h *Handler) AddDealUnit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	dealID := chi.URLParam(r, "id")

	var req AddUnitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	unit, err := h.engine.AddUnit(ctx, tenantID, dealID, req.Description, req.AgreedPrice)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, unit)
}

// ListDealUnits handles GET /deals/{id}/units.
func (h *Handler) ListDealUnits(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	dealID := chi.URLParam(r, "id")

	units, err := h.engine.Units(ctx, tenantID, dealID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"units": units,
		"count": len(units),
	})
}

// EvaluateRequest is the request body for preview and commit.
type EvaluateRequest struct {
	RegimeID string       `json:"regimeId"`
	Facts    domain.Facts `json:"facts,omitempty"`
	At       *time.Time   `json:"at,omitempty"`
}

func (req *EvaluateRequest) evalAt() time.Time {
	if req.At != nil {
		return *req.At
	}
	return time.Time{}
}

// PreviewDeal handles POST /deals/{id}/preview.
func (h *Handler) PreviewDeal(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	dealID := chi.URLParam(r, "id")

	var req EvaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	preview, err := h.engine.Preview(ctx, tenantID, dealID, req.RegimeID, req.Facts, req.evalAt())
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, preview)
}

// CommitDeal handles POST /deals/{id}/commit.
func (h *Handler) CommitDeal(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	dealID := chi.URLParam(r, "id")

	var req EvaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	result, err := h.engine.Commit(ctx, tenantID, dealID, req.RegimeID, req.Facts, req.evalAt())
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, result)
}

// ListDealFees handles GET /deals/{id}/fees.
func (h *Handler) ListDealFees(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	dealID := chi.URLParam(r, "id")

	fees, err := h.engine.Fees(ctx, tenantID, dealID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"fees":  fees,
		"count": len(fees),
	})
}

// GetDealStamp handles GET /deals/{id}/stamp.
func (h *Handler) GetDealStamp(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	dealID := chi.URLParam(r, "id")

	stamp, err := h.engine.Stamp(ctx, tenantID, dealID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, stamp)
}

// GetDealTotals handles GET /deals/{id}/totals. Totals are always
// recomputed from committed state; the worker-maintained cache serves
// only as a fallback hint for dashboards and is not consulted here.
func (h *Handler) GetDealTotals(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	dealID := chi.URLParam(r, "id")

	totals, err := h.engine.Totals(ctx, tenantID, dealID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, totals)
}

// OverrideRequest is the request body for POST /fees/{id}/override.
// The acting user comes from the X-Actor-ID header.
type OverrideRequest struct {
	NewRate *decimal.Decimal `json:"newRate,omitempty"`
	Applies *bool            `json:"applies,omitempty"`
}

// OverrideFee handles POST /fees/{id}/override.
func (h *Handler) OverrideFee(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	feeID := chi.URLParam(r, "id")
	actor := r.Header.Get(ActorIDHeader)

	var req OverrideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	fee, err := h.overrides.Apply(ctx, tenantID, feeID, override.Input{
		NewRate: req.NewRate,
		Applies: req.Applies,
		Actor:   actor,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, fee)
}

// writeError maps domain sentinel errors to HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrDuplicateCommit):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrEmptyCommit), errors.Is(err, domain.ErrInvalidOverride):
		status = http.StatusUnprocessableEntity
	}

	if status == http.StatusInternalServerError {
		slog.Error("request failed", "error", err)
		writeJSON(w, status, map[string]string{"error": "internal server error"})
		return
	}

	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
