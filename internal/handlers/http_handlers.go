// Package handlers exposes the correlation engine's HTTP surface.
package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"sentinelops/internal/audit"
	"sentinelops/internal/database"
	"sentinelops/internal/domain"
	"sentinelops/internal/errs"
	"sentinelops/internal/lifecycle"
	"sentinelops/internal/metrics"
)

// StatsSource contributes one section to the /status payload.
type StatsSource interface {
	Stats() map[string]any
}

// HTTPHandler routes API requests to the lifecycle service.
type HTTPHandler struct {
	logger       *slog.Logger
	service      *lifecycle.Service
	recorder     *audit.Recorder
	incidentRepo *database.IncidentRepository
	activityRepo *database.ActivityRepository
	bolRepo      *database.BOLRepository
	collector    *metrics.Collector
	statsSources map[string]StatsSource
	startedAt    time.Time
}

// NewHTTPHandler creates the HTTP handler.
func NewHTTPHandler(
	logger *slog.Logger,
	service *lifecycle.Service,
	recorder *audit.Recorder,
	incidentRepo *database.IncidentRepository,
	activityRepo *database.ActivityRepository,
	bolRepo *database.BOLRepository,
	collector *metrics.Collector,
	statsSources map[string]StatsSource,
) *HTTPHandler {
	return &HTTPHandler{
		logger:       logger,
		service:      service,
		recorder:     recorder,
		incidentRepo: incidentRepo,
		activityRepo: activityRepo,
		bolRepo:      bolRepo,
		collector:    collector,
		statsSources: statsSources,
		startedAt:    time.Now().UTC(),
	}
}

// RegisterRoutes registers all routes on the router.
func (h *HTTPHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/health", h.handleHealth).Methods("GET")
	router.HandleFunc("/status", h.handleStatus).Methods("GET")
	router.Handle("/metrics", promhttp.HandlerFor(h.collector.Registry(), promhttp.HandlerOpts{})).Methods("GET")

	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(h.metricsMiddleware)

	incidents := api.PathPrefix("/incidents").Subrouter()
	incidents.HandleFunc("", h.handleCreateIncident).Methods("POST")
	incidents.HandleFunc("", h.handleListIncidents).Methods("GET")
	incidents.HandleFunc("/{id}", h.handleGetIncident).Methods("GET")
	incidents.HandleFunc("/{id}", h.handleUpdateIncident).Methods("PATCH")
	incidents.HandleFunc("/{id}", h.handleDeleteIncident).Methods("DELETE")
	incidents.HandleFunc("/{id}/status", h.handleTransitionIncident).Methods("POST")
	incidents.HandleFunc("/{id}/escalate", h.handleEscalateIncident).Methods("POST")
	incidents.HandleFunc("/{id}/activities", h.handleLinkActivity).Methods("POST")
	incidents.HandleFunc("/{id}/audit", h.handleIncidentAudit).Methods("GET")

	bols := api.PathPrefix("/bols").Subrouter()
	bols.HandleFunc("", h.handleCreateBOL).Methods("POST")
	bols.HandleFunc("/{id}", h.handleGetBOL).Methods("GET")
	bols.HandleFunc("/{id}", h.handleUpdateBOL).Methods("PATCH")
	bols.HandleFunc("/{id}", h.handleDeleteBOL).Methods("DELETE")
	bols.HandleFunc("/{id}/status", h.handleTransitionBOL).Methods("POST")
	bols.HandleFunc("/{id}/match", h.handleMatchBOL).Methods("POST")
	bols.HandleFunc("/{id}/expire", h.handleExpireBOL).Methods("POST")
	bols.HandleFunc("/{id}/audit", h.handleBOLAudit).Methods("GET")

	activities := api.PathPrefix("/activities").Subrouter()
	activities.HandleFunc("/evaluate", h.handleEvaluateActivity).Methods("POST")
	activities.HandleFunc("/{id}", h.handleGetActivity).Methods("GET")

	auditRouter := api.PathPrefix("/audit").Subrouter()
	auditRouter.HandleFunc("/entries", h.handleAuditQuery).Methods("GET")
	auditRouter.HandleFunc("/reports/{type}", h.handleComplianceReport).Methods("GET")
}

func (h *HTTPHandler) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		route := r.URL.Path
		if current := mux.CurrentRoute(r); current != nil {
			if template, err := current.GetPathTemplate(); err == nil {
				route = template
			}
		}
		h.collector.ObserveHTTP(r.Method, route, strconv.Itoa(recorder.status), time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// actorFrom reads the acting user from request headers. There is no default
// role: a request without an explicit role is unauthenticated and rejected.
func (h *HTTPHandler) actorFrom(r *http.Request) (domain.ActorContext, bool) {
	actor := domain.ActorContext{
		UserID:   r.Header.Get("X-User-ID"),
		UserName: r.Header.Get("X-User-Name"),
		UserRole: domain.Role(r.Header.Get("X-User-Role")),
	}
	if actor.UserID == "" || !actor.UserRole.Valid() {
		return domain.ActorContext{}, false
	}
	return actor, true
}

// Health and status

func (h *HTTPHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"service":   "correlation-engine",
		"timestamp": time.Now().UTC(),
	})
}

func (h *HTTPHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"service":   "correlation-engine",
		"status":    "running",
		"uptime":    time.Since(h.startedAt).String(),
		"timestamp": time.Now().UTC(),
	}
	for name, source := range h.statsSources {
		status[name] = source.Stats()
	}
	h.writeJSON(w, http.StatusOK, status)
}

// Incident handlers

func (h *HTTPHandler) handleCreateIncident(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actorFrom(r)
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "missing or invalid actor headers")
		return
	}
	var input lifecycle.CreateIncidentInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	incident, err := h.service.CreateIncident(r.Context(), input, actor)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, incident)
}

func (h *HTTPHandler) handleListIncidents(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	incidents, err := h.incidentRepo.List(r.Context(), r.URL.Query().Get("status"), limit, offset)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"incidents": incidents,
		"count":     len(incidents),
	})
}

func (h *HTTPHandler) handleGetIncident(w http.ResponseWriter, r *http.Request) {
	incident, err := h.incidentRepo.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, incident)
}

func (h *HTTPHandler) handleUpdateIncident(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actorFrom(r)
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "missing or invalid actor headers")
		return
	}
	var patch lifecycle.UpdateIncidentInput
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	incident, err := h.service.UpdateIncident(r.Context(), mux.Vars(r)["id"], patch, actor)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, incident)
}

func (h *HTTPHandler) handleDeleteIncident(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actorFrom(r)
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "missing or invalid actor headers")
		return
	}
	incident, err := h.service.DeleteIncident(r.Context(), mux.Vars(r)["id"], actor, r.URL.Query().Get("reason"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, incident)
}

func (h *HTTPHandler) handleTransitionIncident(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actorFrom(r)
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "missing or invalid actor headers")
		return
	}
	var req struct {
		Status domain.IncidentStatus `json:"status"`
		Reason string                `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	incident, err := h.service.TransitionIncidentStatus(r.Context(), mux.Vars(r)["id"], req.Status, actor, req.Reason)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, incident)
}

func (h *HTTPHandler) handleEscalateIncident(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actorFrom(r)
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "missing or invalid actor headers")
		return
	}
	var req struct {
		TargetRole domain.Role `json:"target_role"`
		Reason     string      `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	incident, err := h.service.Escalate(r.Context(), mux.Vars(r)["id"], req.TargetRole, req.Reason, actor)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, incident)
}

func (h *HTTPHandler) handleLinkActivity(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actorFrom(r)
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "missing or invalid actor headers")
		return
	}
	var req struct {
		ActivityID string             `json:"activity_id"`
		Role       domain.ContextRole `json:"role"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	incident, err := h.service.LinkActivity(r.Context(), mux.Vars(r)["id"], req.ActivityID, req.Role, actor)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, incident)
}

func (h *HTTPHandler) handleIncidentAudit(w http.ResponseWriter, r *http.Request) {
	h.writeTrail(w, r, "incident", mux.Vars(r)["id"])
}

// BOL handlers

func (h *HTTPHandler) handleCreateBOL(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actorFrom(r)
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "missing or invalid actor headers")
		return
	}
	var input lifecycle.CreateBOLInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	bol, matches, err := h.service.CreateBOL(r.Context(), input, actor)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, map[string]any{
		"bol":     bol,
		"matches": matches,
	})
}

func (h *HTTPHandler) handleGetBOL(w http.ResponseWriter, r *http.Request) {
	bol, err := h.bolRepo.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, bol)
}

func (h *HTTPHandler) handleUpdateBOL(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actorFrom(r)
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "missing or invalid actor headers")
		return
	}
	var patch lifecycle.UpdateBOLInput
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	bol, err := h.service.UpdateBOL(r.Context(), mux.Vars(r)["id"], patch, actor)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, bol)
}

func (h *HTTPHandler) handleDeleteBOL(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actorFrom(r)
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "missing or invalid actor headers")
		return
	}
	bol, err := h.service.DeleteBOL(r.Context(), mux.Vars(r)["id"], actor, r.URL.Query().Get("reason"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, bol)
}

func (h *HTTPHandler) handleTransitionBOL(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actorFrom(r)
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "missing or invalid actor headers")
		return
	}
	var req struct {
		Status domain.BOLStatus `json:"status"`
		Reason string           `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	bol, err := h.service.TransitionBOLStatus(r.Context(), mux.Vars(r)["id"], req.Status, actor, req.Reason)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, bol)
}

func (h *HTTPHandler) handleMatchBOL(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actorFrom(r)
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "missing or invalid actor headers")
		return
	}
	var req struct {
		ActivityID string `json:"activity_id"`
		Manual     bool   `json:"manual"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	outcome, err := h.service.MatchActivity(r.Context(), mux.Vars(r)["id"], req.ActivityID, actor, req.Manual)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, outcome)
}

func (h *HTTPHandler) handleExpireBOL(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actorFrom(r)
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "missing or invalid actor headers")
		return
	}
	bol, err := h.service.ExpireBOL(r.Context(), mux.Vars(r)["id"], actor)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, bol)
}

func (h *HTTPHandler) handleBOLAudit(w http.ResponseWriter, r *http.Request) {
	h.writeTrail(w, r, "bol_alert", mux.Vars(r)["id"])
}

// Activity handlers

func (h *HTTPHandler) handleEvaluateActivity(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actorFrom(r)
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "missing or invalid actor headers")
		return
	}
	var activity domain.Activity
	if err := json.NewDecoder(r.Body).Decode(&activity); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	evaluation, err := h.service.EvaluateActivity(r.Context(), &activity, actor)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, evaluation)
}

func (h *HTTPHandler) handleGetActivity(w http.ResponseWriter, r *http.Request) {
	activity, err := h.activityRepo.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, activity)
}

// Audit handlers

func (h *HTTPHandler) writeTrail(w http.ResponseWriter, r *http.Request, entityType, entityID string) {
	filter := filterFromQuery(r)
	entries, err := h.recorder.Trail(r.Context(), entityType, entityID, filter)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"count":   len(entries),
	})
}

func (h *HTTPHandler) handleAuditQuery(w http.ResponseWriter, r *http.Request) {
	filter := filterFromQuery(r)
	filter.EntityType = r.URL.Query().Get("entity_type")
	filter.EntityID = r.URL.Query().Get("entity_id")
	filter.ActorID = r.URL.Query().Get("actor_id")
	entries, err := h.recorder.Trail(r.Context(), filter.EntityType, filter.EntityID, filter)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"count":   len(entries),
	})
}

func (h *HTTPHandler) handleComplianceReport(w http.ResponseWriter, r *http.Request) {
	reportType := mux.Vars(r)["type"]
	params := audit.ReportParams{
		EntityID: r.URL.Query().Get("entity_id"),
	}
	if since, err := time.Parse(time.RFC3339, r.URL.Query().Get("since")); err == nil {
		params.Since = since
	}
	if until, err := time.Parse(time.RFC3339, r.URL.Query().Get("until")); err == nil {
		params.Until = until
	}
	report, err := h.recorder.GenerateComplianceReport(r.Context(), reportType, params)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, report)
}

func filterFromQuery(r *http.Request) audit.Filter {
	filter := audit.Filter{}
	query := r.URL.Query()
	if since, err := time.Parse(time.RFC3339, query.Get("since")); err == nil {
		filter.Since = since
	}
	if until, err := time.Parse(time.RFC3339, query.Get("until")); err == nil {
		filter.Until = until
	}
	if limit, err := strconv.Atoi(query.Get("limit")); err == nil {
		filter.Limit = limit
	}
	if offset, err := strconv.Atoi(query.Get("offset")); err == nil {
		filter.Offset = offset
	}
	return filter
}

// Response helpers

func (h *HTTPHandler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode JSON response", "error", err)
	}
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]any{
		"error":     message,
		"status":    status,
		"timestamp": time.Now().UTC(),
	})
}

// writeDomainError maps the error taxonomy onto HTTP statuses and carries the
// structured detail so callers can fix every reported problem at once.
func (h *HTTPHandler) writeDomainError(w http.ResponseWriter, err error) {
	var validationErr *errs.ValidationError
	if errors.As(err, &validationErr) {
		h.writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":       "validation failed",
			"entity_type": validationErr.EntityType,
			"violations":  validationErr.Violations,
		})
		return
	}
	var ruleErr *errs.BusinessRuleViolation
	if errors.As(err, &ruleErr) {
		h.writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":     "business rules failed",
			"operation": ruleErr.Operation,
			"failures":  ruleErr.Failures,
		})
		return
	}
	var transitionErr *errs.UnauthorizedTransition
	if errors.As(err, &transitionErr) {
		h.writeJSON(w, http.StatusForbidden, map[string]any{
			"error":          transitionErr.Error(),
			"entity_type":    transitionErr.EntityType,
			"from":           transitionErr.FromStatus,
			"to":             transitionErr.ToStatus,
			"required_roles": transitionErr.RequiredRoles,
		})
		return
	}
	if errs.IsNotFound(err) {
		h.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if errs.IsConflict(err) {
		h.writeError(w, http.StatusConflict, err.Error())
		return
	}
	h.logger.Error("request failed", "error", err)
	h.writeError(w, http.StatusInternalServerError, "internal error")
}
