package api

import (
	"net/http"
	"strings"

	"studiobook/internal/metrics"
	"studiobook/internal/recurrence"
)

// ParseTimeResponse is the response for GET /api/v1/time/parse.
type ParseTimeResponse struct {
	Raw        string `json:"raw"`
	OK         bool   `json:"ok"`
	Normalized string `json:"normalized,omitempty"`
}

// ExpandRequest is the body for POST /api/v1/recurrence/expand.
type ExpandRequest struct {
	Date      string `json:"date"`
	Frequency string `json:"frequency"`
	Interval  int    `json:"interval"`
	EndDate   string `json:"end_date"`
}

// ExpandResponse lists series dates as YYYY-MM-DD.
type ExpandResponse struct {
	Dates     []string `json:"dates"`
	Truncated bool     `json:"truncated"`
}

// handleParseTime normalizes free-form time input for the booking form.
// GET /api/v1/time/parse?raw=6pm
func (s *HTTPServer) handleParseTime(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("time_parse")

	raw := r.URL.Query().Get("raw")
	resp := ParseTimeResponse{Raw: raw}
	if t, ok := s.service.ParseTime(raw); ok {
		resp.OK = true
		resp.Normalized = t.String()
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleExpand previews the dates of a recurring series.
// POST /api/v1/recurrence/expand
func (s *HTTPServer) handleExpand(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("recurrence_expand")

	var req ExpandRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	anchor, err := s.parseDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid date; expected YYYY-MM-DD")
		return
	}
	end, err := s.parseDate(req.EndDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid end_date; expected YYYY-MM-DD")
		return
	}

	p := recurrence.Pattern{
		Frequency: recurrence.Frequency(strings.ToLower(strings.TrimSpace(req.Frequency))),
		Interval:  req.Interval,
	}
	if p.Interval == 0 {
		p.Interval = 1
	}

	exp, err := s.service.ExpandRecurrence(anchor, p, end)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	resp := ExpandResponse{Dates: make([]string, 0, len(exp.Dates)), Truncated: exp.Truncated}
	for _, d := range exp.Dates {
		resp.Dates = append(resp.Dates, d.Format(dateLayout))
	}
	writeJSON(w, http.StatusOK, resp)
}
