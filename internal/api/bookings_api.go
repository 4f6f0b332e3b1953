package api

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"studiobook/internal/booking"
	"studiobook/internal/export"
	"studiobook/internal/metrics"
)

// BookingRequest is the body for validate and create.
type BookingRequest struct {
	StudioID   int64                      `json:"studio_id"`
	UserID     int64                      `json:"user_id"`
	Date       string                     `json:"date"`       // Format: YYYY-MM-DD
	StartTime  string                     `json:"start_time"` // Free-form, e.g. "6pm", "18:30"
	EndTime    string                     `json:"end_time"`
	Purpose    string                     `json:"purpose"`
	Recurrence *booking.RecurrenceRequest `json:"recurrence,omitempty"`
}

// ValidateResponse is the response for POST /api/v1/bookings/validate.
type ValidateResponse struct {
	Valid  bool                 `json:"valid"`
	Errors []booking.FieldError `json:"errors"`
}

// RescheduleRequest is the body for PATCH /api/v1/bookings/{id}.
type RescheduleRequest struct {
	Date      string `json:"date"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Purpose   string `json:"purpose,omitempty"`
}

// RescheduleResponse carries the moved booking or the reasons it was not moved.
type RescheduleResponse struct {
	Booking *booking.Booking     `json:"booking,omitempty"`
	Errors  []booking.FieldError `json:"errors,omitempty"`
}

// StatusRequest is the body for POST /api/v1/bookings/{id}/status.
type StatusRequest struct {
	Status  string `json:"status"`
	Comment string `json:"comment,omitempty"`
}

func (s *HTTPServer) candidate(req BookingRequest) (booking.Candidate, error) {
	day, err := s.parseDate(req.Date)
	if err != nil {
		return booking.Candidate{}, err
	}
	return booking.Candidate{
		StudioID:   req.StudioID,
		Date:       day,
		StartTime:  req.StartTime,
		EndTime:    req.EndTime,
		Purpose:    req.Purpose,
		Recurrence: req.Recurrence,
	}, nil
}

func (s *HTTPServer) parseDate(raw string) (time.Time, error) {
	d, err := time.ParseInLocation(dateLayout, strings.TrimSpace(raw), s.loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date format; expected YYYY-MM-DD")
	}
	return d, nil
}

// handleValidate checks a candidate without storing it.
// POST /api/v1/bookings/validate
func (s *HTTPServer) handleValidate(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("bookings_validate")

	var req BookingRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	c, err := s.candidate(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := s.service.ValidateBooking(r.Context(), c)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	errs := res.Errors
	if errs == nil {
		errs = []booking.FieldError{}
	}
	writeJSON(w, http.StatusOK, ValidateResponse{Valid: res.Valid(), Errors: errs})
}

// handleCreate stores a booking or a recurring series.
// POST /api/v1/bookings
func (s *HTTPServer) handleCreate(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("bookings_create")

	var req BookingRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.UserID <= 0 {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	c, err := s.candidate(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	out, err := s.service.Submit(r.Context(), req.UserID, c)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	status := http.StatusCreated
	if !out.Result.Valid() || len(out.Created) == 0 {
		status = http.StatusUnprocessableEntity
	}
	if out.Created == nil {
		out.Created = []booking.Booking{}
	}
	writeJSON(w, status, out)
}

// handleGet returns one booking.
// GET /api/v1/bookings/{id}
func (s *HTTPServer) handleGet(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("bookings_get")

	id, ok := pathID(w, r)
	if !ok {
		return
	}
	b, err := s.service.GetBooking(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// handleList returns bookings matching query filters.
// GET /api/v1/bookings?studio_id=&user_id=&status=&from=&to=&limit=&offset=
func (s *HTTPServer) handleList(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("bookings_list")

	f, err := s.filterFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	list, err := s.service.ListBookings(r.Context(), f)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if list == nil {
		list = []booking.Booking{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"bookings": list})
}

// handleExport streams bookings as an xlsx workbook.
// GET /api/v1/bookings/export?from=&to=&studio_id=
func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("bookings_export")

	f, err := s.filterFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if r.URL.Query().Get("limit") == "" {
		f.Limit = 10000
	}
	list, err := s.service.ListBookings(r.Context(), f)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	var buf bytes.Buffer
	if err := export.WriteBookings(&buf, list); err != nil {
		s.fail(w, r, err)
		return
	}

	name := "bookings.xlsx"
	if !f.From.IsZero() {
		name = "bookings_" + f.From.Format(dateLayout) + ".xlsx"
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

// handleReschedule moves a booking to another slot.
// PATCH /api/v1/bookings/{id}
func (s *HTTPServer) handleReschedule(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("bookings_reschedule")

	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req RescheduleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	day, err := s.parseDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	b, res, err := s.service.Reschedule(r.Context(), id, booking.Candidate{
		Date:      day,
		StartTime: req.StartTime,
		EndTime:   req.EndTime,
		Purpose:   req.Purpose,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if !res.Valid() {
		writeJSON(w, http.StatusUnprocessableEntity, RescheduleResponse{Errors: res.Errors})
		return
	}
	writeJSON(w, http.StatusOK, RescheduleResponse{Booking: b})
}

// handleStatus approves, rejects or cancels a booking.
// POST /api/v1/bookings/{id}/status
func (s *HTTPServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("bookings_status")

	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req StatusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	b, err := s.service.UpdateStatus(r.Context(), id, booking.Status(strings.ToLower(req.Status)), req.Comment)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *HTTPServer) filterFromQuery(r *http.Request) (booking.Filter, error) {
	q := r.URL.Query()
	var f booking.Filter

	ints := []struct {
		name string
		dst  *int64
	}{
		{"studio_id", &f.StudioID},
		{"user_id", &f.UserID},
	}
	for _, p := range ints {
		if v := q.Get(p.name); v != "" {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil || n <= 0 {
				return f, fmt.Errorf("invalid %s", p.name)
			}
			*p.dst = n
		}
	}

	if v := q.Get("status"); v != "" {
		f.Status = booking.Status(strings.ToLower(v))
	}
	if v := q.Get("from"); v != "" {
		d, err := s.parseDate(v)
		if err != nil {
			return f, fmt.Errorf("invalid from: %w", err)
		}
		f.From = d
	}
	if v := q.Get("to"); v != "" {
		d, err := s.parseDate(v)
		if err != nil {
			return f, fmt.Errorf("invalid to: %w", err)
		}
		// Inclusive of the whole last day.
		f.To = d.AddDate(0, 0, 1)
	}
	if !f.From.IsZero() && !f.To.IsZero() && !f.From.Before(f.To) {
		return f, fmt.Errorf("from must not be after to")
	}

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, fmt.Errorf("invalid limit")
		}
		f.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, fmt.Errorf("invalid offset")
		}
		f.Offset = n
	}
	return f, nil
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}
