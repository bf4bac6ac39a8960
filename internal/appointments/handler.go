package appointments

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/practicekit/booking-engine/internal/tenancy"
	"github.com/practicekit/booking-engine/pkg/logging"
)

// Handler provides the HTTP surface for bookings and series mutations.
// Expected to be mounted under /api/v1/practices/{practiceID}/appointments.
type Handler struct {
	service  *Service
	series   *SeriesCoordinator
	validate *validator.Validate
	logger   *logging.Logger
}

// NewHandler creates an appointments HTTP handler.
func NewHandler(service *Service, series *SeriesCoordinator, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{
		service:  service,
		series:   series,
		validate: validator.New(),
		logger:   logger,
	}
}

// RegisterRoutes mounts appointment endpoints under a chi router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/", h.create)
	r.Get("/", h.list)
	r.Get("/stats", h.stats)
	r.Get("/{appointmentID}", h.get)
	r.Patch("/{appointmentID}", h.edit)
	r.Post("/{appointmentID}/status", h.transition)
	r.Post("/{appointmentID}/cancel", h.cancel)
	r.Get("/series/{seriesID}", h.getSeries)
	r.Patch("/series/{seriesID}", h.editSeries)
	r.Post("/series/{seriesID}/cancel", h.cancelSeries)
}

type recurrenceRequest struct {
	Pattern     string  `json:"pattern" validate:"required,oneof=weekly biweekly monthly"`
	Occurrences int     `json:"occurrences" validate:"omitempty,min=1,max=52"`
	EndDate     *string `json:"end_date" validate:"omitempty,datetime=2006-01-02"`
}

type createBookingRequest struct {
	PatientID           string             `json:"patient_id" validate:"required,uuid"`
	PatientName         string             `json:"patient_name" validate:"required"`
	Date                string             `json:"date" validate:"required,datetime=2006-01-02"`
	StartTime           string             `json:"start_time" validate:"required"`
	DurationMinutes     int                `json:"duration_minutes" validate:"required,gt=0"`
	AppointmentType     string             `json:"appointment_type" validate:"required"`
	BillingCode         *string            `json:"billing_code"`
	Format              string             `json:"format" validate:"omitempty,oneof=in_person telehealth"`
	Room                *string            `json:"room"`
	Notes               *string            `json:"notes"`
	Recurrence          *recurrenceRequest `json:"recurrence"`
	BypassConflictCheck bool               `json:"bypass_conflict_check"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	practiceID, ok := requirePractice(w, r)
	if !ok {
		return
	}

	var req createBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, &ValidationError{Field: "body", Message: "malformed JSON"})
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		h.writeValidatorError(w, err)
		return
	}

	date, _ := time.Parse(time.DateOnly, req.Date)
	start, err := ParseClock(req.StartTime)
	if err != nil {
		h.writeError(w, &ValidationError{Field: "start_time", Message: "must be HH:MM"})
		return
	}
	patientID, _ := uuid.Parse(req.PatientID)

	in := CreateBookingInput{
		PatientID:           patientID,
		PatientName:         req.PatientName,
		Date:                date,
		StartTime:           start,
		DurationMinutes:     req.DurationMinutes,
		AppointmentType:     req.AppointmentType,
		BillingCode:         req.BillingCode,
		Format:              Format(req.Format),
		Room:                req.Room,
		Notes:               req.Notes,
		BypassConflictCheck: req.BypassConflictCheck,
	}
	if req.Recurrence != nil {
		rec := &Recurrence{
			Pattern:     Pattern(req.Recurrence.Pattern),
			Occurrences: req.Recurrence.Occurrences,
		}
		if req.Recurrence.EndDate != nil {
			end, _ := time.Parse(time.DateOnly, *req.Recurrence.EndDate)
			rec.EndDate = &end
		}
		in.Recurrence = rec
	}

	result, err := h.service.Create(r.Context(), practiceID, in)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	practiceID, ok := requirePractice(w, r)
	if !ok {
		return
	}

	var filter ListFilter
	q := r.URL.Query()
	if v := q.Get("from"); v != "" {
		from, err := time.Parse(time.DateOnly, v)
		if err != nil {
			h.writeError(w, &ValidationError{Field: "from", Message: "must be YYYY-MM-DD"})
			return
		}
		filter.From = &from
	}
	if v := q.Get("to"); v != "" {
		to, err := time.Parse(time.DateOnly, v)
		if err != nil {
			h.writeError(w, &ValidationError{Field: "to", Message: "must be YYYY-MM-DD"})
			return
		}
		filter.To = &to
	}
	if v := q.Get("status"); v != "" {
		status := Status(v)
		if !status.Valid() {
			h.writeError(w, &ValidationError{Field: "status", Message: "unknown status"})
			return
		}
		filter.Status = &status
	}
	if v := q.Get("patient_id"); v != "" {
		patientID, err := uuid.Parse(v)
		if err != nil {
			h.writeError(w, &ValidationError{Field: "patient_id", Message: "must be a UUID"})
			return
		}
		filter.PatientID = &patientID
	}

	appts, err := h.service.List(r.Context(), practiceID, filter)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"appointments": appts,
		"count":        len(appts),
	})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	practiceID, ok := requirePractice(w, r)
	if !ok {
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "appointmentID"))
	if err != nil {
		h.writeError(w, &ValidationError{Field: "appointment_id", Message: "must be a UUID"})
		return
	}

	appt, err := h.service.Get(r.Context(), practiceID, id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, appt)
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	practiceID, ok := requirePractice(w, r)
	if !ok {
		return
	}
	stats, err := h.service.Stats(r.Context(), practiceID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

type editBookingRequest struct {
	Date                *string `json:"date" validate:"omitempty,datetime=2006-01-02"`
	StartTime           *string `json:"start_time"`
	DurationMinutes     *int    `json:"duration_minutes" validate:"omitempty,gt=0"`
	Room                *string `json:"room"`
	Notes               *string `json:"notes"`
	Format              *string `json:"format" validate:"omitempty,oneof=in_person telehealth"`
	BypassConflictCheck bool    `json:"bypass_conflict_check"`
}

func (h *Handler) edit(w http.ResponseWriter, r *http.Request) {
	practiceID, ok := requirePractice(w, r)
	if !ok {
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "appointmentID"))
	if err != nil {
		h.writeError(w, &ValidationError{Field: "appointment_id", Message: "must be a UUID"})
		return
	}

	var req editBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, &ValidationError{Field: "body", Message: "malformed JSON"})
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		h.writeValidatorError(w, err)
		return
	}

	in := EditInput{
		DurationMinutes:     req.DurationMinutes,
		Room:                req.Room,
		Notes:               req.Notes,
		BypassConflictCheck: req.BypassConflictCheck,
	}
	if req.Date != nil {
		date, _ := time.Parse(time.DateOnly, *req.Date)
		in.Date = &date
	}
	if req.StartTime != nil {
		start, err := ParseClock(*req.StartTime)
		if err != nil {
			h.writeError(w, &ValidationError{Field: "start_time", Message: "must be HH:MM"})
			return
		}
		in.StartTime = &start
	}
	if req.Format != nil {
		format := Format(*req.Format)
		in.Format = &format
	}

	appt, err := h.service.Edit(r.Context(), practiceID, id, in)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, appt)
}

type transitionRequest struct {
	Status string `json:"status" validate:"required"`
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request) {
	practiceID, ok := requirePractice(w, r)
	if !ok {
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "appointmentID"))
	if err != nil {
		h.writeError(w, &ValidationError{Field: "appointment_id", Message: "must be a UUID"})
		return
	}

	var req transitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, &ValidationError{Field: "body", Message: "malformed JSON"})
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		h.writeValidatorError(w, err)
		return
	}

	appt, err := h.service.Transition(r.Context(), practiceID, id, Status(req.Status))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, appt)
}

type cancelRequest struct {
	Reason string `json:"reason" validate:"required"`
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	practiceID, ok := requirePractice(w, r)
	if !ok {
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "appointmentID"))
	if err != nil {
		h.writeError(w, &ValidationError{Field: "appointment_id", Message: "must be a UUID"})
		return
	}

	var req cancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, &ValidationError{Field: "body", Message: "malformed JSON"})
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		h.writeValidatorError(w, err)
		return
	}

	appt, err := h.service.Cancel(r.Context(), practiceID, id, req.Reason)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, appt)
}

func (h *Handler) getSeries(w http.ResponseWriter, r *http.Request) {
	practiceID, ok := requirePractice(w, r)
	if !ok {
		return
	}
	seriesID, err := uuid.Parse(chi.URLParam(r, "seriesID"))
	if err != nil {
		h.writeError(w, &ValidationError{Field: "series_id", Message: "must be a UUID"})
		return
	}

	series, err := h.service.GetSeries(r.Context(), practiceID, seriesID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, series)
}

type editSeriesRequest struct {
	Pivot           string  `json:"pivot" validate:"required,datetime=2006-01-02"`
	StartTime       *string `json:"start_time"`
	DurationMinutes *int    `json:"duration_minutes" validate:"omitempty,gt=0"`
	Room            *string `json:"room"`
	Notes           *string `json:"notes"`
	Format          *string `json:"format" validate:"omitempty,oneof=in_person telehealth"`
}

func (h *Handler) editSeries(w http.ResponseWriter, r *http.Request) {
	practiceID, ok := requirePractice(w, r)
	if !ok {
		return
	}
	seriesID, err := uuid.Parse(chi.URLParam(r, "seriesID"))
	if err != nil {
		h.writeError(w, &ValidationError{Field: "series_id", Message: "must be a UUID"})
		return
	}

	var req editSeriesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, &ValidationError{Field: "body", Message: "malformed JSON"})
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		h.writeValidatorError(w, err)
		return
	}

	pivot, _ := time.Parse(time.DateOnly, req.Pivot)
	edit := SeriesEdit{
		DurationMinutes: req.DurationMinutes,
		Room:            req.Room,
		Notes:           req.Notes,
	}
	if req.StartTime != nil {
		start, err := ParseClock(*req.StartTime)
		if err != nil {
			h.writeError(w, &ValidationError{Field: "start_time", Message: "must be HH:MM"})
			return
		}
		edit.StartTime = &start
	}
	if req.Format != nil {
		format := Format(*req.Format)
		edit.Format = &format
	}

	result, err := h.series.EditFromDate(r.Context(), practiceID, seriesID, pivot, edit)
	if err != nil {
		h.writeCascadeError(w, result, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type cancelSeriesRequest struct {
	Pivot  string `json:"pivot" validate:"required,datetime=2006-01-02"`
	Reason string `json:"reason" validate:"required"`
}

func (h *Handler) cancelSeries(w http.ResponseWriter, r *http.Request) {
	practiceID, ok := requirePractice(w, r)
	if !ok {
		return
	}
	seriesID, err := uuid.Parse(chi.URLParam(r, "seriesID"))
	if err != nil {
		h.writeError(w, &ValidationError{Field: "series_id", Message: "must be a UUID"})
		return
	}

	var req cancelSeriesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, &ValidationError{Field: "body", Message: "malformed JSON"})
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		h.writeValidatorError(w, err)
		return
	}

	pivot, _ := time.Parse(time.DateOnly, req.Pivot)
	result, err := h.series.CancelFromDate(r.Context(), practiceID, seriesID, pivot, req.Reason)
	if err != nil {
		h.writeCascadeError(w, result, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// requirePractice pulls the practice id from the route. The tenancy
// middleware has already copied it into the request context.
func requirePractice(w http.ResponseWriter, r *http.Request) (string, bool) {
	practiceID := chi.URLParam(r, "practiceID")
	if practiceID == "" {
		practiceID, _ = tenancy.PracticeIDFromContext(r.Context())
	}
	if practiceID == "" {
		http.Error(w, "missing practice_id", http.StatusBadRequest)
		return "", false
	}
	return practiceID, true
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var validation *ValidationError
	if errors.As(err, &validation) {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error": "validation failed",
			"field": validation.Field,
			"detail": validation.Message,
		})
		return
	}
	var conflict *ConflictError
	if errors.As(err, &conflict) {
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":     "time slot conflict",
			"conflicts": conflict.Conflicts,
		})
		return
	}
	if errors.Is(err, ErrSlotBusy) {
		writeJSON(w, http.StatusConflict, map[string]any{
			"error": "slot is being booked concurrently, retry",
		})
		return
	}
	if errors.Is(err, ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "no matching record(s)"})
		return
	}
	var invalid *InvalidTransitionError
	if errors.As(err, &invalid) {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error": "invalid status transition",
			"from":  string(invalid.From),
			"to":    string(invalid.To),
		})
		return
	}
	h.logger.Error("appointments handler: request failed", "error", err)
	writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal error"})
}

// writeCascadeError reports a partial series sweep with its counts rather
// than hiding it behind a generic failure.
func (h *Handler) writeCascadeError(w http.ResponseWriter, result *CascadeResult, err error) {
	var partial *PartialCascadeFailure
	if errors.As(err, &partial) {
		h.logger.Error("appointments handler: partial series cascade",
			"selected", partial.Selected, "updated", partial.Updated, "error", partial.Err)
		writeJSON(w, http.StatusMultiStatus, map[string]any{
			"error":    "series partially updated",
			"selected": partial.Selected,
			"updated":  partial.Updated,
			"result":   result,
		})
		return
	}
	h.writeError(w, err)
}

func (h *Handler) writeValidatorError(w http.ResponseWriter, err error) {
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error": "validation failed",
			"field": fieldErrs[0].Field(),
		})
		return
	}
	writeJSON(w, http.StatusBadRequest, map[string]any{"error": "validation failed"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
