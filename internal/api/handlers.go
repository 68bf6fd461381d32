// Package api exposes HTTP handlers for the reconciliation service.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"example.com/reconciliation/internal/auth"
	"example.com/reconciliation/internal/domain"
	"example.com/reconciliation/internal/migrate"
	"example.com/reconciliation/internal/reconcile"
)

// Handler coordinates HTTP requests with the reconciliation service and the
// migration job runner.
type Handler struct {
	service           *reconcile.Service
	runner            *migrate.Runner
	defaultKeepSource domain.Source
	validate          *validator.Validate
}

// NewHandler builds a Handler.
func NewHandler(service *reconcile.Service, runner *migrate.Runner, defaultKeepSource domain.Source) *Handler {
	return &Handler{
		service:           service,
		runner:            runner,
		defaultKeepSource: defaultKeepSource,
		validate:          validator.New(),
	}
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/duplicates", h.findDuplicates)
	mux.HandleFunc("/v1/duplicates/resolve", h.resolveDuplicates)
	mux.HandleFunc("/v1/activities", h.listActivities)
	mux.HandleFunc("/v1/activities/", h.activityByID)
	mux.HandleFunc("/v1/admin/backfill-source", h.backfillSource)
	mux.HandleFunc("/v1/admin/cleanup-consistency", h.cleanupConsistency)
	mux.HandleFunc("/v1/admin/dedup", h.automatedDedup)
	mux.HandleFunc("/healthz", healthz)
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) findDuplicates(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	claims, ok := requireScope(w, r, auth.ScopeActivitiesRead, auth.ScopeActivitiesWrite)
	if !ok {
		return
	}

	pairs, err := h.service.FindDuplicateActivities(r.Context(), claims.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	resp := FindDuplicatesResponse{Pairs: make([]DuplicatePairView, 0, len(pairs))}
	for _, pair := range pairs {
		resp.Pairs = append(resp.Pairs, DuplicatePairView{
			DeviceHealth:   toActivityView(pair.DeviceHealth),
			FitnessNetwork: toActivityView(pair.FitnessNetwork),
			Similarity:     pair.Similarity,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) resolveDuplicates(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	claims, ok := requireScope(w, r, auth.ScopeActivitiesWrite)
	if !ok {
		return
	}

	var req ResolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	directives := make([]reconcile.Directive, 0, len(req.Directives))
	for _, d := range req.Directives {
		directives = append(directives, reconcile.Directive{
			DeviceHealthID:   d.DeviceHealthID,
			FitnessNetworkID: d.FitnessNetworkID,
			KeepSource:       domain.Source(d.KeepSource),
		})
	}

	outcome, err := h.service.ResolveDuplicates(r.Context(), claims.UserID, directives)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ResolveResponse{Resolved: outcome.Resolved, Errors: outcome.Errors})
}

func (h *Handler) listActivities(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	claims, ok := requireScope(w, r, auth.ScopeActivitiesRead, auth.ScopeActivitiesWrite)
	if !ok {
		return
	}

	from, err := parseTimeParam(r, "from")
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "invalid from parameter")
		return
	}
	to, err := parseTimeParam(r, "to")
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "invalid to parameter")
		return
	}

	activities, err := h.service.ListActivities(r.Context(), claims.UserID, from, to)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	resp := ListActivitiesResponse{Items: make([]ActivityView, 0, len(activities))}
	for _, activity := range activities {
		resp.Items = append(resp.Items, toActivityView(activity))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) activityByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	claims, ok := requireScope(w, r, auth.ScopeActivitiesRead, auth.ScopeActivitiesWrite)
	if !ok {
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/v1/activities/")
	if id == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "missing activity id")
		return
	}

	activity, err := h.service.GetActivity(r.Context(), claims.UserID, id)
	if err != nil {
		if errors.Is(err, domain.ErrActivityNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "activity not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, toActivityView(*activity))
}

func (h *Handler) backfillSource(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	if _, ok := requireScope(w, r, auth.ScopeReconcileAdmin); !ok {
		return
	}

	report, err := h.runner.BackfillSource(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, BackfillResponse{
		MigratedCount:   report.MigratedCount,
		TotalActivities: report.TotalActivities,
	})
}

func (h *Handler) cleanupConsistency(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	if _, ok := requireScope(w, r, auth.ScopeReconcileAdmin); !ok {
		return
	}

	report, err := h.runner.CleanupConsistency(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, CleanupResponse{
		CleanedCount:    report.CleanedCount,
		TotalActivities: report.TotalActivities,
	})
}

func (h *Handler) automatedDedup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	if _, ok := requireScope(w, r, auth.ScopeReconcileAdmin); !ok {
		return
	}

	keepSource := h.defaultKeepSource
	if r.Body != nil && r.ContentLength != 0 {
		var req DedupRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
			return
		}
		if err := h.validate.Struct(req); err != nil {
			writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
			return
		}
		if req.KeepSource != "" {
			keepSource = domain.Source(req.KeepSource)
		}
	}

	report, err := h.runner.AutomatedDedup(r.Context(), keepSource)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, DedupResponse{
		DuplicatesRemoved: report.DuplicatesRemoved,
		KeptSource:        string(report.KeptSource),
		TotalActivities:   report.TotalActivities,
	})
}

func requireScope(w http.ResponseWriter, r *http.Request, scopes ...string) (*auth.Claims, bool) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return nil, false
	}
	for _, scope := range scopes {
		if claims.HasScope(scope) {
			return claims, true
		}
	}
	writeError(w, http.StatusForbidden, "forbidden", "scope "+strings.Join(scopes, " or ")+" required")
	return nil, false
}

func parseTimeParam(r *http.Request, key string) (time.Time, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, raw)
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	payload := map[string]string{
		"type":   code,
		"detail": detail,
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
