package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"studiobook/internal/booking"
	"studiobook/internal/config"
	"studiobook/internal/conflicts"
	"studiobook/internal/db"
	"studiobook/internal/events"
	"studiobook/internal/notify"
	"studiobook/internal/window"
)

const testKey = "test-key"

type fixture struct {
	server *HTTPServer
	db     *db.DB
	bus    *events.EventBus
}

func newFixture(t *testing.T, source conflicts.Source) *fixture {
	t.Helper()
	logger := zerolog.New(io.Discard)

	store, err := db.NewDB(filepath.Join(t.TempDir(), "api.db"), time.UTC, &logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	require.NoError(t, store.SyncStudiosFromConfig(context.Background(), &config.StudiosConfig{
		Studios:  []config.StudioConfig{{ID: 1, Name: "Big Hall", IsActive: true}},
		Holidays: []config.HolidayConfig{{Name: "Winter", Start: "2024-12-23", End: "2025-01-06"}},
	}))

	if source == nil {
		source = store
	}
	validator := booking.NewValidator(window.DefaultPolicy(), booking.DefaultRules(), source, &logger)
	bus := events.NewEventBus(&logger)
	svc := booking.NewService(store, validator, bus, notify.Nop{}, booking.ServiceConfig{}, &logger)

	return &fixture{
		server: NewHTTPServer(svc, store, testKey, time.UTC, &logger),
		db:     store,
		bus:    bus,
	}
}

func (f *fixture) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader = http.NoBody
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("x-api-key", testKey)
	w := httptest.NewRecorder()
	f.server.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(w.Body).Decode(&v))
	return v
}

// 2025-01-11 is a Saturday, so the 08:00–22:00 window applies.
func saturdayRequest(start, end string) BookingRequest {
	return BookingRequest{StudioID: 1, UserID: 7, Date: "2025-01-11", StartTime: start, EndTime: end, Purpose: "Ballet"}
}

func TestAPIKeyRequired(t *testing.T) {
	f := newFixture(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/studios", http.NoBody)
	w := httptest.NewRecorder()
	f.server.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/healthz", http.NoBody)
	w = httptest.NewRecorder()
	f.server.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/readyz", http.NoBody)
	w = httptest.NewRecorder()
	f.server.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestValidateEndpoint(t *testing.T) {
	f := newFixture(t, nil)

	tests := []struct {
		name   string
		req    BookingRequest
		valid  bool
		field  string
		reason string
	}{
		{name: "valid booking", req: saturdayRequest("6pm", "7:30 pm"), valid: true},
		{name: "bad start format", req: saturdayRequest("25:00", "19:00"), field: booking.FieldStartTime, reason: booking.ReasonBadFormat},
		{name: "too short", req: saturdayRequest("18:00", "18:20"), field: booking.FieldEndTime, reason: booking.ReasonDurationTooShort},
		{name: "outside window", req: saturdayRequest("07:00", "09:00"), field: booking.FieldStartTime, reason: booking.ReasonOutsideWindow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, http.MethodPost, "/api/v1/bookings/validate", tt.req)
			require.Equal(t, http.StatusOK, w.Code)

			resp := decode[ValidateResponse](t, w)
			assert.Equal(t, tt.valid, resp.Valid)
			if !tt.valid {
				require.NotEmpty(t, resp.Errors)
				assert.Equal(t, tt.field, resp.Errors[0].Field)
				assert.Equal(t, tt.reason, resp.Errors[0].Reason)
			}
		})
	}
}

func TestValidateEndpoint_BadRequests(t *testing.T) {
	f := newFixture(t, nil)

	w := f.do(t, http.MethodPost, "/api/v1/bookings/validate", map[string]string{"date": "11.01.2025"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPost, "/api/v1/bookings/validate", map[string]string{"unknown": "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestValidateEndpoint_SourceUnavailable(t *testing.T) {
	down := conflicts.Func(func(context.Context, int64, time.Time, time.Time) ([]conflicts.Reservation, error) {
		return nil, conflicts.ErrUnavailable
	})
	f := newFixture(t, down)

	w := f.do(t, http.MethodPost, "/api/v1/bookings/validate", saturdayRequest("18:00", "19:00"))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestCreateAndDoubleBooking(t *testing.T) {
	f := newFixture(t, nil)

	var published []events.Event
	f.bus.Subscribe(booking.EventBookingCreated, func(e events.Event) error {
		published = append(published, e)
		return nil
	})

	w := f.do(t, http.MethodPost, "/api/v1/bookings", saturdayRequest("18:00", "20:00"))
	require.Equal(t, http.StatusCreated, w.Code)
	out := decode[booking.SubmitResult](t, w)
	require.Len(t, out.Created, 1)
	assert.Equal(t, booking.StatusPending, out.Created[0].Status)
	assert.Len(t, published, 1)

	w = f.do(t, http.MethodPost, "/api/v1/bookings", saturdayRequest("19:00", "21:00"))
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	out = decode[booking.SubmitResult](t, w)
	fe, ok := out.Result.Field(booking.FieldStartTime)
	require.True(t, ok)
	assert.Equal(t, booking.ReasonDoubleBooking, fe.Reason)

	// Touching the existing booking is fine.
	w = f.do(t, http.MethodPost, "/api/v1/bookings", saturdayRequest("20:00", "21:00"))
	assert.Equal(t, http.StatusCreated, w.Code)

	req := saturdayRequest("10:00", "11:00")
	req.StudioID = 9
	w = f.do(t, http.MethodPost, "/api/v1/bookings", req)
	assert.Equal(t, http.StatusNotFound, w.Code)

	req = saturdayRequest("10:00", "11:00")
	req.UserID = 0
	w = f.do(t, http.MethodPost, "/api/v1/bookings", req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateSeries(t *testing.T) {
	f := newFixture(t, nil)

	// Occupy the third Saturday.
	w := f.do(t, http.MethodPost, "/api/v1/bookings", BookingRequest{
		StudioID: 1, UserID: 8, Date: "2025-01-25", StartTime: "10:00", EndTime: "11:00", Purpose: "Solo",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	req := saturdayRequest("10:00", "11:00")
	req.Recurrence = &booking.RecurrenceRequest{Frequency: "weekly", Interval: 1, EndDate: "2025-02-01"}
	w = f.do(t, http.MethodPost, "/api/v1/bookings", req)
	require.Equal(t, http.StatusCreated, w.Code)

	out := decode[booking.SubmitResult](t, w)
	assert.Len(t, out.Created, 3)
	require.Len(t, out.Rejected, 1)
	assert.Equal(t, "2025-01-25", out.Rejected[0].Date)
	assert.NotEmpty(t, out.RecurringGroupID)
	assert.False(t, out.Truncated)
}

func TestRescheduleAndStatus(t *testing.T) {
	f := newFixture(t, nil)

	w := f.do(t, http.MethodPost, "/api/v1/bookings", saturdayRequest("18:00", "20:00"))
	require.Equal(t, http.StatusCreated, w.Code)
	id := decode[booking.SubmitResult](t, w).Created[0].ID
	path := "/api/v1/bookings/" + strconv.FormatInt(id, 10)

	// Overlapping only itself.
	w = f.do(t, http.MethodPatch, path, RescheduleRequest{Date: "2025-01-11", StartTime: "19:00", EndTime: "21:00"})
	require.Equal(t, http.StatusOK, w.Code)
	moved := decode[RescheduleResponse](t, w)
	require.NotNil(t, moved.Booking)
	assert.Equal(t, 19, moved.Booking.StartTime.Hour())

	w = f.do(t, http.MethodPatch, path, RescheduleRequest{Date: "2025-01-11", StartTime: "21:00", EndTime: "23:00"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = f.do(t, http.MethodPost, path+"/status", StatusRequest{Status: "approved"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, booking.StatusApproved, decode[booking.Booking](t, w).Status)

	w = f.do(t, http.MethodPost, path+"/status", StatusRequest{Status: "pending"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = f.do(t, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, booking.StatusApproved, decode[booking.Booking](t, w).Status)

	w = f.do(t, http.MethodGet, "/api/v1/bookings/999", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, http.MethodGet, "/api/v1/bookings/abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListAndExport(t *testing.T) {
	f := newFixture(t, nil)

	require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/api/v1/bookings", saturdayRequest("10:00", "11:00")).Code)
	require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/api/v1/bookings", saturdayRequest("12:00", "13:00")).Code)

	w := f.do(t, http.MethodGet, "/api/v1/bookings?studio_id=1&from=2025-01-11&to=2025-01-11", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[map[string][]booking.Booking](t, w)
	assert.Len(t, list["bookings"], 2)

	w = f.do(t, http.MethodGet, "/api/v1/bookings?from=2025-01-12", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode[map[string][]booking.Booking](t, w)["bookings"])

	w = f.do(t, http.MethodGet, "/api/v1/bookings?studio_id=x", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodGet, "/api/v1/bookings/export?from=2025-01-11&to=2025-01-11", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), "bookings_2025-01-11.xlsx")

	book, err := excelize.OpenReader(w.Body)
	require.NoError(t, err)
	defer book.Close()
	rows, err := book.GetRows("Big Hall")
	require.NoError(t, err)
	assert.Len(t, rows, 3)
}

func TestStudiosEventsAndHolidays(t *testing.T) {
	f := newFixture(t, nil)

	w := f.do(t, http.MethodGet, "/api/v1/studios", nil)
	require.Equal(t, http.StatusOK, w.Code)
	studios := decode[map[string][]booking.Studio](t, w)["studios"]
	require.Len(t, studios, 1)
	assert.Equal(t, "Big Hall", studios[0].Name)

	w = f.do(t, http.MethodPost, "/api/v1/studios/1/events", StudioEventRequest{
		Title: "Recital", Date: "2025-01-11", StartTime: "18:00", EndTime: "20:00",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.True(t, decode[booking.StudioEvent](t, w).Blocking)

	w = f.do(t, http.MethodPost, "/api/v1/studios/1/events", StudioEventRequest{
		Title: "", Date: "2025-01-11", StartTime: "18:00", EndTime: "20:00",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// The event blocks bookings.
	w = f.do(t, http.MethodPost, "/api/v1/bookings", saturdayRequest("19:00", "21:00"))
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	fe, ok := decode[booking.SubmitResult](t, w).Result.Field(booking.FieldStartTime)
	require.True(t, ok)
	assert.Contains(t, fe.Message, "Recital")

	w = f.do(t, http.MethodGet, "/api/v1/studios/1/events?from=2025-01-11&to=2025-01-11", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[map[string][]booking.StudioEvent](t, w)["events"], 1)

	w = f.do(t, http.MethodGet, "/api/v1/holidays?from=2025-01-01&to=2025-01-31", nil)
	require.Equal(t, http.StatusOK, w.Code)
	holidays := decode[map[string][]db.Holiday](t, w)["holidays"]
	require.Len(t, holidays, 1)
	assert.Equal(t, "Winter", holidays[0].Name)

	w = f.do(t, http.MethodGet, "/api/v1/holidays?from=2025-01-31&to=2025-01-01", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestParseTimeEndpoint(t *testing.T) {
	f := newFixture(t, nil)

	tests := []struct {
		raw        string
		ok         bool
		normalized string
	}{
		{raw: "6pm", ok: true, normalized: "18:00"},
		{raw: "12 am", ok: true, normalized: "00:00"},
		{raw: "9.5", ok: false},
		{raw: "18;30", ok: true, normalized: "18:30"},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			w := f.do(t, http.MethodGet, "/api/v1/time/parse?raw="+url.QueryEscape(tt.raw), nil)
			require.Equal(t, http.StatusOK, w.Code)
			resp := decode[ParseTimeResponse](t, w)
			assert.Equal(t, tt.ok, resp.OK)
			assert.Equal(t, tt.normalized, resp.Normalized)
		})
	}
}

func TestExpandEndpoint(t *testing.T) {
	f := newFixture(t, nil)

	w := f.do(t, http.MethodPost, "/api/v1/recurrence/expand", ExpandRequest{
		Date: "2025-01-06", Frequency: "weekly", Interval: 1, EndDate: "2025-01-27",
	})
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[ExpandResponse](t, w)
	assert.Equal(t, []string{"2025-01-06", "2025-01-13", "2025-01-20", "2025-01-27"}, resp.Dates)

	w = f.do(t, http.MethodPost, "/api/v1/recurrence/expand", ExpandRequest{
		Date: "2025-01-06", Frequency: "yearly", EndDate: "2025-01-27",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWriteRateLimit(t *testing.T) {
	f := newFixture(t, nil)
	logger := zerolog.New(io.Discard)
	f.server = NewHTTPServer(f.server.service, f.db, testKey, time.UTC, &logger, WithWriteLimit(2, time.Minute))

	for i := 0; i < 2; i++ {
		w := f.do(t, http.MethodPost, "/api/v1/bookings", map[string]string{"bogus": "x"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	}
	w := f.do(t, http.MethodPost, "/api/v1/bookings", map[string]string{"bogus": "x"})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	// Reads are not throttled.
	w = f.do(t, http.MethodGet, "/api/v1/studios", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
