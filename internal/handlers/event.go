package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/shopspring/decimal"

	"vigil/internal/metrics"
	"vigil/internal/models"
)

// Ingester is the engine-facing contract the event handler depends on.
type Ingester interface {
	Ingest(ctx context.Context, userID int64, opType models.OpType, amount decimal.Decimal, t int64) ([]int, error)
}

// EventHandler handles balance event ingestion via HTTP
type EventHandler struct {
	engine Ingester

	// Max body size (default 1MB)
	maxBodySize int64
}

// EventConfig holds configuration for the event handler
type EventConfig struct {
	Engine      Ingester
	MaxBodySize int64
}

// NewEventHandler creates a new event handler
func NewEventHandler(cfg EventConfig) *EventHandler {
	maxBodySize := cfg.MaxBodySize
	if maxBodySize == 0 {
		maxBodySize = 1 << 20
	}

	return &EventHandler{
		engine:      cfg.Engine,
		maxBodySize: maxBodySize,
	}
}

// EventRequest is the incoming JSON payload. Amount stays raw so that
// number-typed input can be rejected: only string-encoded decimals are valid.
type EventRequest struct {
	Type   string          `json:"type"`
	Amount json.RawMessage `json:"amount"`
	UserID int64           `json:"user_id"`
	T      int64           `json:"t"`
}

// EventResponse is the success response returned to clients
type EventResponse struct {
	Alert      bool  `json:"alert"`
	AlertCodes []int `json:"alert_codes"`
	UserID     int64 `json:"user_id"`
}

// FieldError describes a validation error for a specific request field
type FieldError struct {
	Field string `json:"field"`
	Error string `json:"error"`
}

// ServeHTTP handles the event HTTP request
func (h *EventHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	contentType := r.Header.Get("Content-Type")
	if contentType != "application/json" && contentType != "" {
		h.writeError(w, http.StatusUnsupportedMediaType, "content-type must be application/json")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)

	var req EventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			h.writeValidationErrors(w, []FieldError{{Field: typeErr.Field, Error: "invalid value type"}})
			return
		}
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	opType, amount, fieldErrs := h.validate(req)
	if len(fieldErrs) > 0 {
		metrics.IngestEventsTotal.WithLabelValues(req.Type, "rejected").Inc()
		h.writeValidationErrors(w, fieldErrs)
		return
	}

	codes, err := h.engine.Ingest(r.Context(), req.UserID, opType, amount, req.T)
	if err != nil {
		// Covers OperationError and the defensive case of a type that
		// slipped past validation; the cause is already logged.
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "Internal server error",
		})
		return
	}

	if codes == nil {
		codes = []int{}
	}
	h.writeJSON(w, http.StatusOK, EventResponse{
		Alert:      len(codes) > 0,
		AlertCodes: codes,
		UserID:     req.UserID,
	})
}

// validate applies the boundary checks and collects per-field errors.
func (h *EventHandler) validate(req EventRequest) (models.OpType, decimal.Decimal, []FieldError) {
	var errs []FieldError

	opType, err := models.ParseOpType(req.Type)
	if err != nil {
		errs = append(errs, FieldError{Field: "type", Error: err.Error()})
	}

	amount, amountErr := parseAmountField(req.Amount)
	if amountErr != nil {
		errs = append(errs, FieldError{Field: "amount", Error: amountErr.Error()})
	}

	if req.UserID <= 0 {
		errs = append(errs, FieldError{Field: "user_id", Error: models.ErrInvalidUserID.Error()})
	}

	if req.T <= 0 {
		errs = append(errs, FieldError{Field: "t", Error: models.ErrInvalidTimestamp.Error()})
	}

	for _, fe := range errs {
		metrics.IngestValidationErrors.WithLabelValues(fe.Field).Inc()
	}
	return opType, amount, errs
}

// parseAmountField rejects anything that is not a JSON string holding a
// positive decimal with exactly two fractional digits.
func parseAmountField(raw json.RawMessage) (decimal.Decimal, error) {
	if len(raw) == 0 {
		return decimal.Decimal{}, errors.New("amount is required")
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return decimal.Decimal{}, errors.New("amount must be a string-encoded decimal")
	}

	return models.ParseAmount(s)
}

// writeValidationErrors writes a 422 with per-field error detail
func (h *EventHandler) writeValidationErrors(w http.ResponseWriter, errs []FieldError) {
	h.writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
		"detail": errs,
	})
}

// writeError writes a generic error response
func (h *EventHandler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]any{
		"error": message,
	})
}

func (h *EventHandler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
