// Package httpapi exposes the campaign service over a JSON HTTP API.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"campaigncore/internal/batch"
	"campaigncore/internal/calendar"
	"campaigncore/internal/core"
	"campaigncore/internal/recurrence"
	"campaigncore/pkg/domain"
)

// ActorHeader carries the numeric id of the acting user. Requests without it
// act anonymously.
const ActorHeader = "X-Actor-ID"

const maxBodyBytes = 1 << 20

// Campaigns is the service surface the handler drives. *core.Service
// satisfies it.
type Campaigns interface {
	CreateOrganization(ctx context.Context, actor core.Actor, organization core.Organization) (core.Organization, core.RuleResult, error)
	CreateGroup(ctx context.Context, actor core.Actor, group core.Group) (core.Group, core.RuleResult, error)
	CreateEvent(ctx context.Context, actor core.Actor, event core.Event) (core.Event, core.RuleResult, error)
	CreateImport(ctx context.Context, actor core.Actor, imp core.Import) (core.Import, core.RuleResult, error)
	CreateResult(ctx context.Context, actor core.Actor, eventID string, result core.Result) (core.Result, core.RuleResult, error)
	SaveRepeater(ctx context.Context, actor core.Actor, eventID string, rule core.RepeaterRule) (core.EventRepeater, core.ReconcileReport, error)
	RepeatEvent(ctx context.Context, actor core.Actor, eventID string, req core.RepeatRequest) (core.EventRepeater, core.ReconcileReport, error)
	Publish(ctx context.Context, actor core.Actor, root core.EntityRef) (core.Job, error)
	Unpublish(ctx context.Context, actor core.Actor, root core.EntityRef) (core.Job, error)
	Job(id string) (core.Job, bool)
	Calendar(ctx context.Context, groupID string) ([]byte, error)
}

// Handler routes API requests to the service.
type Handler struct {
	Service Campaigns
	Metrics http.Handler
	Logger  *slog.Logger

	mux *http.ServeMux
}

// NewHandler constructs the API handler. metrics, when non-nil, is mounted
// at /metrics.
func NewHandler(svc Campaigns, metrics http.Handler, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	h := &Handler{Service: svc, Metrics: metrics, Logger: logger}
	h.routes()
	return h
}

var publishable = map[string]domain.EntityType{
	"organizations": domain.EntityOrganization,
	"groups":        domain.EntityGroup,
	"events":        domain.EntityEvent,
	"imports":       domain.EntityImport,
	"results":       domain.EntityResult,
}

func (h *Handler) routes() {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	})
	if h.Metrics != nil {
		mux.Handle("GET /metrics", h.Metrics)
	}
	mux.HandleFunc("POST /api/v1/organizations", h.handleCreateOrganization)
	mux.HandleFunc("POST /api/v1/groups", h.handleCreateGroup)
	mux.HandleFunc("POST /api/v1/events", h.handleCreateEvent)
	mux.HandleFunc("POST /api/v1/imports", h.handleCreateImport)
	mux.HandleFunc("POST /api/v1/events/{id}/results", h.handleCreateResult)
	mux.HandleFunc("PUT /api/v1/events/{id}/repeater", h.handleSaveRepeater)
	mux.HandleFunc("POST /api/v1/events/{id}/repeat", h.handleRepeat)
	mux.HandleFunc("POST /api/v1/{kind}/{id}/publish", h.handleCascade(domain.StatePublish))
	mux.HandleFunc("POST /api/v1/{kind}/{id}/unpublish", h.handleCascade(domain.StateUnpublish))
	mux.HandleFunc("GET /api/v1/jobs/{id}", h.handleJob)
	mux.HandleFunc("GET /api/v1/groups/{id}/calendar.ics", h.handleCalendar)
	h.mux = mux
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.Service == nil {
		writeError(w, http.StatusInternalServerError, "campaign service not configured")
		return
	}
	h.mux.ServeHTTP(w, r)
}

// actorFrom reads ActorHeader. A missing header is the anonymous actor.
func actorFrom(r *http.Request) (core.Actor, error) {
	raw := r.Header.Get(ActorHeader)
	if raw == "" {
		return core.Actor{}, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return core.Actor{}, fmt.Errorf("invalid %s header %q", ActorHeader, raw)
	}
	return core.Actor{ID: id}, nil
}

// decode reads a JSON body into dst, rejecting unknown fields.
func decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid request payload: %w", err)
	}
	return nil
}

// prepare resolves the actor and decodes the body, writing a 400 on failure.
func prepare(w http.ResponseWriter, r *http.Request, dst any) (core.Actor, bool) {
	actor, err := actorFrom(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return core.Actor{}, false
	}
	if dst != nil {
		if err := decode(r, dst); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return core.Actor{}, false
		}
	}
	return actor, true
}

func (h *Handler) handleCreateOrganization(w http.ResponseWriter, r *http.Request) {
	var in core.Organization
	actor, ok := prepare(w, r, &in)
	if !ok {
		return
	}
	created, res, err := h.Service.CreateOrganization(r.Context(), actor, in)
	h.respondCreated(w, "organization", created, res, err)
}

func (h *Handler) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	var in core.Group
	actor, ok := prepare(w, r, &in)
	if !ok {
		return
	}
	created, res, err := h.Service.CreateGroup(r.Context(), actor, in)
	h.respondCreated(w, "group", created, res, err)
}

func (h *Handler) handleCreateEvent(w http.ResponseWriter, r *http.Request) {
	var in core.Event
	actor, ok := prepare(w, r, &in)
	if !ok {
		return
	}
	created, res, err := h.Service.CreateEvent(r.Context(), actor, in)
	h.respondCreated(w, "event", created, res, err)
}

func (h *Handler) handleCreateImport(w http.ResponseWriter, r *http.Request) {
	var in core.Import
	actor, ok := prepare(w, r, &in)
	if !ok {
		return
	}
	created, res, err := h.Service.CreateImport(r.Context(), actor, in)
	h.respondCreated(w, "import", created, res, err)
}

func (h *Handler) handleCreateResult(w http.ResponseWriter, r *http.Request) {
	var in core.Result
	actor, ok := prepare(w, r, &in)
	if !ok {
		return
	}
	created, res, err := h.Service.CreateResult(r.Context(), actor, r.PathValue("id"), in)
	h.respondCreated(w, "result", created, res, err)
}

func (h *Handler) respondCreated(w http.ResponseWriter, key string, entity any, res core.RuleResult, err error) {
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{key: entity, "violations": violations(res)})
}

func (h *Handler) handleSaveRepeater(w http.ResponseWriter, r *http.Request) {
	var rule core.RepeaterRule
	actor, ok := prepare(w, r, &rule)
	if !ok {
		return
	}
	saved, report, err := h.Service.SaveRepeater(r.Context(), actor, r.PathValue("id"), rule)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"repeater": saved, "report": report})
}

func (h *Handler) handleRepeat(w http.ResponseWriter, r *http.Request) {
	var req core.RepeatRequest
	actor, ok := prepare(w, r, &req)
	if !ok {
		return
	}
	saved, report, err := h.Service.RepeatEvent(r.Context(), actor, r.PathValue("id"), req)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"repeater": saved, "report": report})
}

func (h *Handler) handleCascade(target domain.PublishState) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		kind, ok := publishable[r.PathValue("kind")]
		if !ok {
			writeError(w, http.StatusNotFound, "entity kind not publishable")
			return
		}
		actor, ok := prepare(w, r, nil)
		if !ok {
			return
		}
		root := domain.EntityRef{Kind: kind, ID: r.PathValue("id")}
		var job core.Job
		var err error
		if target.Published() {
			job, err = h.Service.Publish(r.Context(), actor, root)
		} else {
			job, err = h.Service.Unpublish(r.Context(), actor, root)
		}
		if err != nil {
			h.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"job": job})
	}
}

func (h *Handler) handleJob(w http.ResponseWriter, r *http.Request) {
	job, ok := h.Service.Job(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": job, "progress": job.Progress()})
}

func (h *Handler) handleCalendar(w http.ResponseWriter, r *http.Request) {
	body, err := h.Service.Calendar(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	w.Header().Set("Content-Type", calendar.ContentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	var violation domain.RuleViolationError
	switch {
	case errors.Is(err, core.ErrForbidden):
		return http.StatusForbidden
	case core.IsNotFound(err), errors.Is(err, batch.ErrUnknownJob):
		return http.StatusNotFound
	case errors.Is(err, recurrence.ErrInvalidRule), errors.Is(err, core.ErrOwnershipChange):
		return http.StatusBadRequest
	case errors.As(err, &violation):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		h.Logger.Error("request failed", "error", err)
		message = "internal error"
	}
	if status == http.StatusForbidden {
		message = "forbidden"
	}
	writeError(w, status, message)
}

type violationView struct {
	Rule     string `json:"rule"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
}

func violations(res core.RuleResult) []violationView {
	out := make([]violationView, 0, len(res.Violations))
	for _, v := range res.Violations {
		out = append(out, violationView{Rule: v.Rule, Severity: string(v.Severity), Message: v.Message})
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}
