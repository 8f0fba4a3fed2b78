package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"mockpair/internal/config"
	"mockpair/internal/matching"
	"mockpair/internal/metrics"
	"mockpair/internal/models"

	"github.com/rs/zerolog"
)

// HTTPServer exposes the matching API over JSON/HTTP.
type HTTPServer struct {
	cfg     config.APIConfig
	backend Backend
	server  *http.Server
	auth    *HTTPAuth
	logger  zerolog.Logger
}

func NewHTTPServer(cfg config.APIConfig, backend Backend, limiter *RateLimiter, logger *zerolog.Logger) *HTTPServer {
	srvLogger := zerolog.Nop()
	if logger != nil {
		srvLogger = logger.With().Str("component", "http").Logger()
	}

	srv := &HTTPServer{cfg: cfg, backend: backend, logger: srvLogger}
	srv.auth = NewHTTPAuth(cfg, limiter)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/bookings", srv.handleRequestBooking)
	mux.HandleFunc("POST /api/v1/bookings/cancel", srv.handleCancelBooking)
	mux.HandleFunc("GET /api/v1/users/{id}/bookings", srv.handleUserBookings)
	mux.HandleFunc("PUT /api/v1/users/{id}", srv.handleUpsertUser)
	mux.HandleFunc("POST /api/v1/intents", srv.handlePublishIntent)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	handler := srv.loggingMiddleware(srv.auth.Wrap(mux))

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
	}

	return srv
}

// Handler returns the fully wrapped handler.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *HTTPServer) handleRequestBooking(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("request_booking")

	var req models.IntentMessage
	if !decodeBody(w, r, &req) {
		return
	}

	resp, err := s.backend.requestBooking(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) handleCancelBooking(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("cancel_booking")

	var req matching.CancelRequest
	if !decodeBody(w, r, &req) {
		return
	}

	res, err := s.backend.Bookings.CancelBooking(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *HTTPServer) handleUserBookings(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("user_bookings")

	userID := strings.TrimSpace(r.PathValue("id"))
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user id is required")
		return
	}

	records, err := s.backend.Bookings.GetBookings(r.Context(), userID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if records == nil {
		records = []*models.BookingRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"bookings": records})
}

type upsertUserRequest struct {
	DisplayName string `json:"displayName"`
}

// handleUpsertUser provisions the user row reservations are keyed on.
func (s *HTTPServer) handleUpsertUser(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("upsert_user")

	if s.backend.Users == nil {
		writeError(w, http.StatusServiceUnavailable, "user provisioning is not configured")
		return
	}

	userID := strings.TrimSpace(r.PathValue("id"))
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user id is required")
		return
	}

	var req upsertUserRequest
	if !decodeBody(w, r, &req) {
		return
	}

	user := &models.User{ID: userID, DisplayName: strings.TrimSpace(req.DisplayName)}
	if err := s.backend.Users.UpsertUser(r.Context(), user); err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// handlePublishIntent validates an intent and hands it to the queue. The
// worker does the pairing.
func (s *HTTPServer) handlePublishIntent(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("publish_intent")

	if s.backend.Intents == nil {
		writeError(w, http.StatusServiceUnavailable, "intent queue is not configured")
		return
	}

	var msg models.IntentMessage
	if !decodeBody(w, r, &msg) {
		return
	}
	intent, err := msg.Intent(s.backend.location(), s.backend.MockTypes)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	msg.UserID = intent.UserID
	msg.MockType = string(intent.MockType)
	if err := s.backend.Intents.Publish(r.Context(), msg); err != nil {
		s.logger.Error().Err(err).Str("user_id", intent.UserID).Msg("Failed to publish intent")
		writeError(w, http.StatusServiceUnavailable, msgUnavailable)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func (s *HTTPServer) writeServiceError(w http.ResponseWriter, err error) {
	code, msg := httpStatus(err)
	if code >= http.StatusInternalServerError {
		s.logger.Error().Err(err).Int("status", code).Msg("Request failed")
	}
	writeError(w, code, msg)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		s.logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", recorder.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
