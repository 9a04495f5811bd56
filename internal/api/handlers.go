// Package api provides the operator-facing HTTP surface: incident
// triage, decision-log audit, and rule management.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/ManushiChamika/dynamic-pricing-ai-IRWA-PROJECT-sub000/internal/rules"
	"github.com/ManushiChamika/dynamic-pricing-ai-IRWA-PROJECT-sub000/internal/store"
)

// IncidentService is the triage surface the correlator exposes.
type IncidentService interface {
	List(ctx context.Context, f store.IncidentFilter) ([]*store.Incident, error)
	Acknowledge(ctx context.Context, incidentID string) error
	Resolve(ctx context.Context, incidentID string) error
}

// Reloader swaps in the latest rule snapshot on demand.
type Reloader interface {
	Reload(ctx context.Context) error
}

// Handlers wraps dependencies for HTTP handlers.
type Handlers struct {
	incidents  IncidentService
	deliveries store.DeliveryStore
	decisions  store.DecisionStore
	ruleStore  store.RuleStore
	reloader   Reloader
}

// NewHandlers creates a new handlers instance.
func NewHandlers(incidents IncidentService, deliveries store.DeliveryStore, decisions store.DecisionStore, ruleStore store.RuleStore, reloader Reloader) *Handlers {
	return &Handlers{
		incidents:  incidents,
		deliveries: deliveries,
		decisions:  decisions,
		ruleStore:  ruleStore,
		reloader:   reloader,
	}
}

// ListIncidents returns incidents filtered by status and subject key.
func (h *Handlers) ListIncidents(w http.ResponseWriter, r *http.Request) {
	f := store.IncidentFilter{
		Status:     r.URL.Query().Get("status"),
		SubjectKey: r.URL.Query().Get("subject_key"),
	}
	if limit := r.URL.Query().Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 0 {
			http.Error(w, "limit must be a non-negative integer", http.StatusBadRequest)
			return
		}
		f.Limit = n
	}

	incidents, err := h.incidents.List(r.Context(), f)
	if err != nil {
		slog.Error("Failed to list incidents", "error", err)
		http.Error(w, "Failed to list incidents", http.StatusInternalServerError)
		return
	}
	if incidents == nil {
		incidents = []*store.Incident{}
	}
	writeJSON(w, http.StatusOK, incidents)
}

// AcknowledgeIncident moves an incident from OPEN to ACKNOWLEDGED.
func (h *Handlers) AcknowledgeIncident(w http.ResponseWriter, r *http.Request) {
	h.transitionIncident(w, r, h.incidents.Acknowledge)
}

// ResolveIncident moves an incident to RESOLVED.
func (h *Handlers) ResolveIncident(w http.ResponseWriter, r *http.Request) {
	h.transitionIncident(w, r, h.incidents.Resolve)
}

func (h *Handlers) transitionIncident(w http.ResponseWriter, r *http.Request, op func(context.Context, string) error) {
	incidentID, ok := requireQueryParam(w, r, "incident_id")
	if !ok {
		return
	}
	if err := op(r.Context(), incidentID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "Incident not found", http.StatusNotFound)
			return
		}
		if errors.Is(err, store.ErrInvalidTransition) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		slog.Error("Failed to update incident status", "incident_id", incidentID, "error", err)
		http.Error(w, "Failed to update incident", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"incident_id": incidentID, "result": "ok"})
}

// ListIncidentDeliveries returns the delivery audit trail for an incident.
func (h *Handlers) ListIncidentDeliveries(w http.ResponseWriter, r *http.Request) {
	incidentID, ok := requireQueryParam(w, r, "incident_id")
	if !ok {
		return
	}
	deliveries, err := h.deliveries.ListDeliveries(r.Context(), incidentID)
	if err != nil {
		slog.Error("Failed to list deliveries", "incident_id", incidentID, "error", err)
		http.Error(w, "Failed to list deliveries", http.StatusInternalServerError)
		return
	}
	if deliveries == nil {
		deliveries = []*store.Delivery{}
	}
	writeJSON(w, http.StatusOK, deliveries)
}

// ListDecisions returns the governance audit trail for a subject key.
func (h *Handlers) ListDecisions(w http.ResponseWriter, r *http.Request) {
	subjectKey := r.URL.Query().Get("subject_key")
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			http.Error(w, "limit must be a non-negative integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	decisions, err := h.decisions.ListDecisions(r.Context(), subjectKey, limit)
	if err != nil {
		slog.Error("Failed to list decisions", "subject_key", subjectKey, "error", err)
		http.Error(w, "Failed to list decisions", http.StatusInternalServerError)
		return
	}
	if decisions == nil {
		decisions = []*store.DecisionLogEntry{}
	}
	writeJSON(w, http.StatusOK, decisions)
}

// ListRules returns every stored rule spec.
func (h *Handlers) ListRules(w http.ResponseWriter, r *http.Request) {
	specs, err := h.ruleStore.ListRules(r.Context())
	if err != nil {
		slog.Error("Failed to list rules", "error", err)
		http.Error(w, "Failed to list rules", http.StatusInternalServerError)
		return
	}
	if specs == nil {
		specs = []rules.Spec{}
	}
	writeJSON(w, http.StatusOK, specs)
}

// GetRule returns one rule spec by ID.
func (h *Handlers) GetRule(w http.ResponseWriter, r *http.Request) {
	ruleID, ok := requireQueryParam(w, r, "rule_id")
	if !ok {
		return
	}
	spec, err := h.ruleStore.GetRule(r.Context(), ruleID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "Rule not found", http.StatusNotFound)
			return
		}
		slog.Error("Failed to get rule", "rule_id", ruleID, "error", err)
		http.Error(w, "Failed to get rule", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, spec)
}

// SaveRule inserts or replaces a rule spec. The evaluation snapshot does
// not change until a reload.
func (h *Handlers) SaveRule(w http.ResponseWriter, r *http.Request) {
	var spec rules.Spec
	if !decodeJSON(w, r, &spec) {
		return
	}
	if err := spec.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.ruleStore.SaveRule(r.Context(), &spec); err != nil {
		slog.Error("Failed to save rule", "rule_id", spec.ID, "error", err)
		http.Error(w, "Failed to save rule", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, spec)
}

// ToggleRule flips a rule's enabled flag.
func (h *Handlers) ToggleRule(w http.ResponseWriter, r *http.Request) {
	ruleID, ok := requireQueryParam(w, r, "rule_id")
	if !ok {
		return
	}
	enabledRaw, ok := requireQueryParam(w, r, "enabled")
	if !ok {
		return
	}
	enabled, err := strconv.ParseBool(enabledRaw)
	if err != nil {
		http.Error(w, "enabled must be true or false", http.StatusBadRequest)
		return
	}

	if err := h.ruleStore.ToggleRule(r.Context(), ruleID, enabled); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "Rule not found", http.StatusNotFound)
			return
		}
		slog.Error("Failed to toggle rule", "rule_id", ruleID, "error", err)
		http.Error(w, "Failed to toggle rule", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rule_id": ruleID, "enabled": enabled})
}

// ReloadRules swaps the evaluation snapshot to the latest stored rules.
func (h *Handlers) ReloadRules(w http.ResponseWriter, r *http.Request) {
	if err := h.reloader.Reload(r.Context()); err != nil {
		slog.Error("Failed to reload rules", "error", err)
		http.Error(w, "Failed to reload rules", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": "reloaded"})
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(v)
}

// decodeJSON decodes the request body into v, writing a 400 on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "Invalid JSON body: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

// requireQueryParam extracts a query parameter and validates it is not empty.
func requireQueryParam(w http.ResponseWriter, r *http.Request, paramName string) (string, bool) {
	value := r.URL.Query().Get(paramName)
	if value == "" {
		http.Error(w, paramName+" query parameter is required", http.StatusBadRequest)
		return "", false
	}
	return value, true
}
