package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/httprate"
	"github.com/rs/zerolog"

	"studiobook/internal/booking"
	"studiobook/internal/db"
	"studiobook/internal/recurrence"
	"studiobook/internal/timeparse"
)

const dateLayout = "2006-01-02"

// BookingService is the part of booking.Service the API needs.
type BookingService interface {
	ParseTime(raw string) (timeparse.TimeOfDay, bool)
	ExpandRecurrence(anchor time.Time, p recurrence.Pattern, end time.Time) (recurrence.Expansion, error)
	ValidateBooking(ctx context.Context, c booking.Candidate) (booking.Result, error)
	Submit(ctx context.Context, userID int64, c booking.Candidate) (*booking.SubmitResult, error)
	Reschedule(ctx context.Context, bookingID int64, c booking.Candidate) (*booking.Booking, booking.Result, error)
	UpdateStatus(ctx context.Context, bookingID int64, status booking.Status, comment string) (*booking.Booking, error)
	GetBooking(ctx context.Context, id int64) (*booking.Booking, error)
	ListBookings(ctx context.Context, filter booking.Filter) ([]booking.Booking, error)
	ListStudios(ctx context.Context) ([]booking.Studio, error)
	AddStudioEvent(ctx context.Context, ev *booking.StudioEvent) error
}

// Calendar serves read-only calendar data straight from storage.
type Calendar interface {
	ListHolidays(ctx context.Context, from, to time.Time) ([]db.Holiday, error)
	ListStudioEvents(ctx context.Context, studioID int64, from, to time.Time) ([]booking.StudioEvent, error)
	PingContext(ctx context.Context) error
}

// HTTPServer exposes the booking service over JSON.
type HTTPServer struct {
	service  BookingService
	calendar Calendar
	apiKey   string
	loc      *time.Location
	logger   *zerolog.Logger
	mux      *http.ServeMux

	writeLimit  int
	writeWindow time.Duration
}

// Option tunes an HTTPServer.
type Option func(*HTTPServer)

// WithWriteLimit caps mutating requests per client IP. Zero disables the cap.
func WithWriteLimit(limit int, window time.Duration) Option {
	return func(s *HTTPServer) {
		s.writeLimit = limit
		s.writeWindow = window
	}
}

// NewHTTPServer builds the router. An empty apiKey disables the key check.
func NewHTTPServer(service BookingService, calendar Calendar, apiKey string, loc *time.Location, logger *zerolog.Logger, opts ...Option) *HTTPServer {
	if loc == nil {
		loc = time.Local
	}
	s := &HTTPServer{
		service:     service,
		calendar:    calendar,
		apiKey:      apiKey,
		loc:         loc,
		logger:      logger,
		mux:         http.NewServeMux(),
		writeLimit:  60,
		writeWindow: time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

func (s *HTTPServer) routes() {
	write := s.writeLimiter()

	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.HandleFunc("GET /readyz", s.handleReady)

	s.mux.Handle("POST /api/v1/bookings/validate", s.auth(s.handleValidate))
	s.mux.Handle("POST /api/v1/bookings", write(s.auth(s.handleCreate)))
	s.mux.Handle("GET /api/v1/bookings", s.auth(s.handleList))
	s.mux.Handle("GET /api/v1/bookings/export", s.auth(s.handleExport))
	s.mux.Handle("GET /api/v1/bookings/{id}", s.auth(s.handleGet))
	s.mux.Handle("PATCH /api/v1/bookings/{id}", write(s.auth(s.handleReschedule)))
	s.mux.Handle("POST /api/v1/bookings/{id}/status", write(s.auth(s.handleStatus)))

	s.mux.Handle("GET /api/v1/studios", s.auth(s.handleStudios))
	s.mux.Handle("GET /api/v1/studios/{id}/events", s.auth(s.handleStudioEvents))
	s.mux.Handle("POST /api/v1/studios/{id}/events", write(s.auth(s.handleCreateStudioEvent)))
	s.mux.Handle("GET /api/v1/holidays", s.auth(s.handleHolidays))

	s.mux.Handle("GET /api/v1/time/parse", s.auth(s.handleParseTime))
	s.mux.Handle("POST /api/v1/recurrence/expand", s.auth(s.handleExpand))
}

// ServeHTTP implements http.Handler.
func (s *HTTPServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Start serves on addr until ctx is cancelled.
func (s *HTTPServer) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info().Str("addr", addr).Msg("API server started")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) auth(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey != "" && r.Header.Get("x-api-key") != s.apiKey {
			writeError(w, http.StatusUnauthorized, "invalid api key")
			return
		}
		next(w, r)
	})
}

// writeLimiter throttles booking writes per client IP.
func (s *HTTPServer) writeLimiter() func(http.Handler) http.Handler {
	if s.writeLimit <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return httprate.Limit(
		s.writeLimit,
		s.writeWindow,
		httprate.WithKeyFuncs(httprate.KeyByRealIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			s.logger.Warn().Str("path", r.URL.Path).Str("remote", r.RemoteAddr).Msg("write rate limit exceeded")
			writeError(w, http.StatusTooManyRequests, "too many requests, please slow down")
		}),
	)
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.calendar.PingContext(ctx); err != nil {
		http.Error(w, "db not ready", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, booking.ErrNotFound), errors.Is(err, booking.ErrUnknownStudio):
		return http.StatusNotFound
	case errors.Is(err, booking.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, booking.ErrInvalidEvent),
		errors.Is(err, recurrence.ErrInvalidFrequency),
		errors.Is(err, recurrence.ErrInvalidInterval):
		return http.StatusBadRequest
	case errors.Is(err, booking.ErrConflictCheckUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		s.logger.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	msg := err.Error()
	if code == http.StatusServiceUnavailable {
		msg = "availability could not be checked, please try again later"
	}
	writeError(w, code, msg)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeJSON(r *http.Request, v interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(v)
}
