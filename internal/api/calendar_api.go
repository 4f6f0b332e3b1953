package api

import (
	"net/http"
	"time"

	"studiobook/internal/booking"
	"studiobook/internal/db"
	"studiobook/internal/metrics"
)

// MaxCalendarDaysRange limits how far calendar queries may reach.
const MaxCalendarDaysRange = 366

// StudioEventRequest is the body for POST /api/v1/studios/{id}/events.
type StudioEventRequest struct {
	Title     string `json:"title"`
	Date      string `json:"date"`       // Format: YYYY-MM-DD
	StartTime string `json:"start_time"` // Format: HH:MM
	EndTime   string `json:"end_time"`
	Blocking  *bool  `json:"blocking,omitempty"` // Defaults to true
}

// handleStudios lists active studios.
// GET /api/v1/studios
func (s *HTTPServer) handleStudios(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("studios")

	studios, err := s.service.ListStudios(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if studios == nil {
		studios = []booking.Studio{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"studios": studios})
}

// handleStudioEvents lists events of a studio.
// GET /api/v1/studios/{id}/events?from=YYYY-MM-DD&to=YYYY-MM-DD
func (s *HTTPServer) handleStudioEvents(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("studio_events")

	id, ok := pathID(w, r)
	if !ok {
		return
	}
	from, to, ok := s.dateRange(w, r)
	if !ok {
		return
	}

	list, err := s.calendar.ListStudioEvents(r.Context(), id, from, to)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if list == nil {
		list = []booking.StudioEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": list})
}

// handleCreateStudioEvent publishes an admin event in a studio.
// POST /api/v1/studios/{id}/events
func (s *HTTPServer) handleCreateStudioEvent(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("studio_events_create")

	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req StudioEventRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	day, err := s.parseDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	start, okStart := s.service.ParseTime(req.StartTime)
	end, okEnd := s.service.ParseTime(req.EndTime)
	if !okStart || !okEnd {
		writeError(w, http.StatusBadRequest, "invalid start_time or end_time")
		return
	}

	ev := &booking.StudioEvent{
		StudioID:  id,
		Title:     req.Title,
		StartTime: start.On(day),
		EndTime:   end.On(day),
		Blocking:  req.Blocking == nil || *req.Blocking,
	}
	if err := s.service.AddStudioEvent(r.Context(), ev); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ev)
}

// handleHolidays lists school holidays for display next to the calendar.
// GET /api/v1/holidays?from=YYYY-MM-DD&to=YYYY-MM-DD
func (s *HTTPServer) handleHolidays(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("holidays")

	from, to, ok := s.dateRange(w, r)
	if !ok {
		return
	}
	// Holiday dates are whole days, so the bound stays inclusive.
	list, err := s.calendar.ListHolidays(r.Context(), from, to.AddDate(0, 0, -1))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if list == nil {
		list = []db.Holiday{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"holidays": list})
}

// dateRange reads from/to query params. Missing from means today; missing to
// means 30 days after from. to is inclusive.
func (s *HTTPServer) dateRange(w http.ResponseWriter, r *http.Request) (from, to time.Time, ok bool) {
	q := r.URL.Query()
	now := time.Now().In(s.loc)
	from = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.loc)

	var err error
	if v := q.Get("from"); v != "" {
		if from, err = s.parseDate(v); err != nil {
			writeError(w, http.StatusBadRequest, "invalid from; expected YYYY-MM-DD")
			return from, to, false
		}
	}
	to = from.AddDate(0, 0, 30)
	if v := q.Get("to"); v != "" {
		if to, err = s.parseDate(v); err != nil {
			writeError(w, http.StatusBadRequest, "invalid to; expected YYYY-MM-DD")
			return from, to, false
		}
	}

	if to.Before(from) {
		writeError(w, http.StatusBadRequest, "from must be before or equal to to")
		return from, to, false
	}
	if to.Sub(from).Hours()/24 > MaxCalendarDaysRange {
		writeError(w, http.StatusBadRequest, "date range exceeds maximum of 366 days")
		return from, to, false
	}
	return from, to.AddDate(0, 0, 1), true
}
