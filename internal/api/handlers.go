package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"beakdash-backend/internal/connections"
	"beakdash-backend/internal/crypto"
	"beakdash-backend/internal/executor"
	"beakdash-backend/internal/pipeline"
	"beakdash-backend/internal/schedule"
	"beakdash-backend/internal/storage"
)

// Pipeline is the run surface the handlers drive.
type Pipeline interface {
	Run(ctx context.Context, queryID, userID string) (*pipeline.Execution, error)
	Validate(ctx context.Context, connectionID, userID, sqlText string) error
}

// Store is the slice of the repository the handlers need.
type Store interface {
	CreateConnection(ctx context.Context, rec storage.ConnectionRecord) (string, error)
	CreateQuery(ctx context.Context, rec storage.QueryRecord) (string, error)
	GetQuery(ctx context.Context, id, userID string) (storage.QueryRecord, error)
	ListQueries(ctx context.Context, userID, connectionID string) ([]storage.QueryRecord, error)
	ListExecutionResults(ctx context.Context, queryID string, limit int) ([]storage.ExecutionRecord, error)
	CreateAlertRule(ctx context.Context, rec storage.AlertRuleRecord) (string, error)
	ListAlertRules(ctx context.Context, queryID string) ([]storage.AlertRuleRecord, error)
	ListAlertNotifications(ctx context.Context, alertID string) ([]storage.NotificationRecord, error)
}

type Handler struct {
	Repo      Store
	Pipeline  Pipeline
	Encryptor crypto.Encryptor
	Timeout   time.Duration
	Logger    *slog.Logger
}

type connectionRequest struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Database string `json:"database"`
	User     string `json:"user"`
	Password string `json:"password"`
	SSLMode  string `json:"sslMode"`
	SpaceID  string `json:"spaceId"`
}

type queryRequest struct {
	ConnectionID   string          `json:"connectionId"`
	Name           string          `json:"name"`
	Description    string          `json:"description"`
	Category       string          `json:"category"`
	Query          string          `json:"query"`
	Thresholds     json.RawMessage `json:"thresholds"`
	ExpectedResult string          `json:"expectedResult"`
	Enabled        *bool           `json:"enabled"`
	Frequency      string          `json:"executionFrequency"`
	Validate       bool            `json:"validate"`
}

type alertRuleRequest struct {
	QueryID   string          `json:"queryId"`
	Name      string          `json:"name"`
	Condition json.RawMessage `json:"condition"`
	Channels  []string        `json:"notificationChannels"`
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(RequireUser)
		r.Post("/connections", h.handleConnectionCreate)
		r.Route("/queries", func(r chi.Router) {
			r.Post("/", h.handleQueryCreate)
			r.Get("/", h.handleQueryList)
			r.Get("/{id}", h.handleQueryGet)
			r.Post("/{id}/run", h.handleQueryRun)
			r.Get("/{id}/results", h.handleQueryResults)
			r.Get("/{id}/alert-rules", h.handleAlertRuleList)
		})
		r.Post("/alert-rules", h.handleAlertRuleCreate)
		r.Get("/alert-rules/{id}/notifications", h.handleNotificationList)
	})
}

func (h *Handler) handleConnectionCreate(w http.ResponseWriter, r *http.Request) {
	var req connectionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "message": err.Error()})
		return
	}
	if strings.TrimSpace(req.Name) == "" || strings.TrimSpace(req.Host) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "message": "name and host are required"})
		return
	}
	passwordEnc, err := h.Encryptor.Encrypt(req.Password)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "message": "encryption failed"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()
	var spaceID *string
	if req.SpaceID != "" {
		spaceID = &req.SpaceID
	}
	id, err := h.Repo.CreateConnection(ctx, storage.ConnectionRecord{
		UserID:      userID(r),
		SpaceID:     spaceID,
		Name:        req.Name,
		Type:        req.Type,
		Host:        req.Host,
		Port:        req.Port,
		Database:    req.Database,
		User:        req.User,
		PasswordEnc: passwordEnc,
		SSLMode:     req.SSLMode,
	})
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "message": "failed to store connection"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"connectionId": id})
}

func (h *Handler) handleQueryCreate(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "message": err.Error()})
		return
	}
	if strings.TrimSpace(req.ConnectionID) == "" || strings.TrimSpace(req.Query) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "message": "connectionId and query are required"})
		return
	}
	if req.Validate {
		if err := h.Pipeline.Validate(r.Context(), req.ConnectionID, userID(r), req.Query); err != nil {
			h.writeValidationError(w, err)
			return
		}
	}
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	frequency := req.Frequency
	if frequency == "" {
		frequency = schedule.FrequencyManual
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()
	rec := storage.QueryRecord{
		UserID:          userID(r),
		ConnectionID:    req.ConnectionID,
		Name:            req.Name,
		Description:     req.Description,
		Category:        req.Category,
		SQLText:         req.Query,
		Thresholds:      req.Thresholds,
		ExpectedResult:  req.ExpectedResult,
		Enabled:         enabled,
		Frequency:       frequency,
		NextExecutionAt: schedule.NextRun(frequency, time.Now().UTC()),
	}
	id, err := h.Repo.CreateQuery(ctx, rec)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "message": "failed to persist query"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "queryId": id})
}

func (h *Handler) handleQueryList(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()
	queries, err := h.Repo.ListQueries(ctx, userID(r), r.URL.Query().Get("connectionId"))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "message": "failed to list queries"})
		return
	}
	writeJSON(w, http.StatusOK, queries)
}

func (h *Handler) handleQueryGet(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()
	query, err := h.Repo.GetQuery(ctx, chi.URLParam(r, "id"), userID(r))
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]any{"ok": false, "message": "query not found"})
		return
	}
	writeJSON(w, http.StatusOK, query)
}

func (h *Handler) handleQueryRun(w http.ResponseWriter, r *http.Request) {
	execution, err := h.Pipeline.Run(r.Context(), chi.URLParam(r, "id"), userID(r))
	if err != nil {
		switch {
		case errors.Is(err, pipeline.ErrRunInProgress):
			writeJSON(w, http.StatusConflict, map[string]any{"ok": false, "message": err.Error()})
		case errors.Is(err, storage.ErrNotFound), errors.Is(err, connections.ErrNotFound):
			writeJSON(w, http.StatusNotFound, map[string]any{"ok": false, "message": "query or connection not found"})
		case errors.Is(err, connections.ErrUnsupportedType):
			writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "message": err.Error()})
		case errors.Is(err, pipeline.ErrPersistence):
			// The check itself ran; return the outcome for visibility even
			// though it could not be recorded.
			writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "message": err.Error(), "execution": execution})
		default:
			h.Logger.Error("query run failed", slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "message": "internal error"})
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "execution": execution})
}

func (h *Handler) handleQueryResults(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()
	id := chi.URLParam(r, "id")
	if _, err := h.Repo.GetQuery(ctx, id, userID(r)); err != nil {
		writeJSON(w, http.StatusNotFound, map[string]any{"ok": false, "message": "query not found"})
		return
	}
	results, err := h.Repo.ListExecutionResults(ctx, id, 50)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "message": "failed to list results"})
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func (h *Handler) handleAlertRuleCreate(w http.ResponseWriter, r *http.Request) {
	var req alertRuleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "message": err.Error()})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()
	if _, err := h.Repo.GetQuery(ctx, req.QueryID, userID(r)); err != nil {
		writeJSON(w, http.StatusNotFound, map[string]any{"ok": false, "message": "query not found"})
		return
	}
	if len(req.Condition) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "message": "condition is required"})
		return
	}
	id, err := h.Repo.CreateAlertRule(ctx, storage.AlertRuleRecord{
		QueryID:   req.QueryID,
		Name:      req.Name,
		Status:    "active",
		Condition: req.Condition,
		Channels:  req.Channels,
	})
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "message": "failed to persist alert rule"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "alertId": id})
}

func (h *Handler) handleAlertRuleList(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()
	id := chi.URLParam(r, "id")
	if _, err := h.Repo.GetQuery(ctx, id, userID(r)); err != nil {
		writeJSON(w, http.StatusNotFound, map[string]any{"ok": false, "message": "query not found"})
		return
	}
	rules, err := h.Repo.ListAlertRules(ctx, id)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "message": "failed to list alert rules"})
		return
	}
	writeJSON(w, http.StatusOK, rules)
}

func (h *Handler) handleNotificationList(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()
	notifications, err := h.Repo.ListAlertNotifications(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "message": "failed to list notifications"})
		return
	}
	writeJSON(w, http.StatusOK, notifications)
}

// writeValidationError reports why a pre-save validation run failed:
// connectionError for unreachable targets, validationError for statements
// the target rejected.
func (h *Handler) writeValidationError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, connections.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]any{"ok": false, "message": "connection not found"})
	case errors.Is(err, connections.ErrUnsupportedType), errors.Is(err, connections.ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "message": err.Error()})
	default:
		body := map[string]any{"ok": false, "message": err.Error()}
		if kind, ok := executor.ErrKind(err); ok && kind == executor.KindConnection {
			body["connectionError"] = true
		} else {
			body["validationError"] = true
		}
		writeJSON(w, http.StatusBadRequest, body)
	}
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
