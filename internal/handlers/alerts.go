package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"pricealerts/internal/auth"
	"pricealerts/internal/models"
	"pricealerts/internal/service"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 16

var errTrailingData = errors.New("unexpected data after JSON body")

var tracer = otel.Tracer("pricealerts/internal/handlers")

// AlertService is what the HTTP layer needs from the service.
type AlertService interface {
	CreateAlert(ctx context.Context, principal string, targetPrice float64) (*models.Alert, error)
	DeleteAlert(ctx context.Context, principal string, id int64) error
	GetAlert(ctx context.Context, principal string, id int64) (*models.Alert, error)
	FetchAlerts(ctx context.Context, principal string, p service.FetchParams) (*models.AlertPage, error)
}

// CreateAlertRequest accepts target_price as a JSON number or a numeric string.
type CreateAlertRequest struct {
	TargetPrice decimal.NullDecimal `json:"target_price"`
}

// Handler serves the alert endpoints.
type Handler struct {
	svc AlertService
	log *zap.Logger
}

// NewHandler creates a Handler.
func NewHandler(svc AlertService, log *zap.Logger) *Handler {
	return &Handler{svc: svc, log: log}
}

// RegisterRoutes mounts the alert routes on mux behind protect, which must
// put the caller's principal in the request context.
func (h *Handler) RegisterRoutes(mux *http.ServeMux, protect func(http.Handler) http.Handler) {
	routes := []struct {
		pattern string
		handler http.HandlerFunc
	}{
		{"POST /alerts", h.CreateAlert},
		{"GET /alerts", h.FetchAlerts},
		{"GET /alerts/{id}", h.GetAlert},
		{"DELETE /alerts/{id}", h.DeleteAlert},

		// Paths of the original service.
		{"POST /alerts/create/{$}", h.CreateAlert},
		{"DELETE /alerts/delete/{id}/{$}", h.DeleteAlert},
		{"GET /alerts/fetch/{$}", h.FetchAlerts},
	}
	for _, rt := range routes {
		mux.Handle(rt.pattern, instrument(rt.pattern, protect(rt.handler)))
	}
}

// CreateAlert handles creating a new alert for the caller.
func (h *Handler) CreateAlert(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "CreateAlertHandler")
	defer span.End()

	principal, ok := h.principal(w, r)
	if !ok {
		return
	}

	var req CreateAlertRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.log.Info("Failed to parse request body",
			h.traceField(span),
			zap.Error(err),
		)
		writeJSONError(w, http.StatusBadRequest, "Invalid request body", "target_price must be a number")
		return
	}
	if !req.TargetPrice.Valid {
		writeJSONError(w, http.StatusBadRequest, "Missing required field: target_price", "")
		return
	}

	alert, err := h.svc.CreateAlert(ctx, principal, req.TargetPrice.Decimal.InexactFloat64())
	if err != nil {
		h.logFailure(span, "Failed to create alert", err)
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, Response{
		Message: "Alert created successfully",
		Data:    alert,
	})
}

// DeleteAlert deletes one of the caller's alerts.
func (h *Handler) DeleteAlert(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "DeleteAlertHandler")
	defer span.End()

	principal, ok := h.principal(w, r)
	if !ok {
		return
	}
	id, ok := alertID(w, r)
	if !ok {
		return
	}

	if err := h.svc.DeleteAlert(ctx, principal, id); err != nil {
		h.logFailure(span, "Failed to delete alert", err, zap.Int64("alert_id", id))
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, Response{Message: "Alert deleted successfully"})
}

// GetAlert retrieves one of the caller's alerts by id.
func (h *Handler) GetAlert(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "GetAlertHandler")
	defer span.End()

	principal, ok := h.principal(w, r)
	if !ok {
		return
	}
	id, ok := alertID(w, r)
	if !ok {
		return
	}

	alert, err := h.svc.GetAlert(ctx, principal, id)
	if err != nil {
		h.logFailure(span, "Failed to fetch alert", err, zap.Int64("alert_id", id))
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, Response{
		Message: "Alert retrieved successfully",
		Data:    alert,
	})
}

// FetchAlerts lists the caller's alerts, optionally filtered by status.
// Unparseable page and per_page values fall back to the defaults.
func (h *Handler) FetchAlerts(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "FetchAlertsHandler")
	defer span.End()

	principal, ok := h.principal(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	params := service.FetchParams{
		Status:  q.Get("status"),
		Page:    queryInt(q.Get("page")),
		PerPage: queryInt(q.Get("per_page")),
	}

	page, err := h.svc.FetchAlerts(ctx, principal, params)
	if err != nil {
		h.logFailure(span, "Failed to fetch alerts", err)
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, page)
}

func (h *Handler) principal(w http.ResponseWriter, r *http.Request) (string, bool) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeJSONError(w, http.StatusUnauthorized, "Authentication required", "")
		return "", false
	}
	return principal, true
}

func (h *Handler) traceField(span trace.Span) zap.Field {
	return zap.String("trace_id", span.SpanContext().TraceID().String())
}

// logFailure logs client errors at info and everything else at error.
func (h *Handler) logFailure(span trace.Span, msg string, err error, fields ...zap.Field) {
	fields = append(fields, h.traceField(span), zap.Error(err))
	if isClientError(err) {
		h.log.Info(msg, fields...)
		return
	}
	span.RecordError(err)
	h.log.Error(msg, fields...)
}

func alertID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id < 1 {
		// Non-numeric ids can never exist.
		writeJSONError(w, http.StatusNotFound, "Alert not found", "")
		return 0, false
	}
	return id, true
}

// queryInt returns 0, meaning "use the default", for anything unparseable.
func queryInt(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

// decodeBody reads exactly one JSON value from the request body.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errTrailingData
	}
	return nil
}
