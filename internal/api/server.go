// Package api is the HTTP surface: REST consultation endpoints, health,
// metrics and the websocket entry point.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"mobidoc/internal/metrics"
	"mobidoc/pkg/interfaces"
	"mobidoc/pkg/types"
)

// Consultations is the consultation service as seen by REST handlers.
type Consultations interface {
	Assign(ctx context.Context, actor types.Identity, specialization string) (*types.Consultation, error)
	Get(ctx context.Context, actor types.Identity, consultationID string) (*types.Consultation, error)
	ListMine(ctx context.Context, actor types.Identity) ([]*types.Consultation, error)
	SetStatus(ctx context.Context, actor types.Identity, consultationID, requested string) (*types.Consultation, error)
	Messages(ctx context.Context, actor types.Identity, consultationID string) ([]types.MessageView, error)
}

type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Registry reports live room statistics.
type Registry interface {
	GetStats() map[string]int
}

// Options wires the server's collaborators. WebSocket is mounted at /ws
// without bearer authentication; the connection gate does its own.
type Options struct {
	Consultations Consultations
	Verifier      interfaces.IdentityVerifier
	Health        HealthChecker
	Registry      Registry
	WebSocket     http.Handler
	Metrics       *metrics.Metrics
	CORSOrigin    string
	Logger        zerolog.Logger
}

// ARCHITECTURAL DISCOVERY: HTTP handlers hold no business logic; every
// decision is made by the consultation service and mapped here by error kind
type Server struct {
	consultations Consultations
	verifier      interfaces.IdentityVerifier
	health        HealthChecker
	registry      Registry
	metrics       *metrics.Metrics
	validate      *validator.Validate
	corsOrigin    string
	logger        zerolog.Logger

	mux     *http.ServeMux
	handler http.Handler
}

func NewServer(opts Options) *Server {
	s := &Server{
		consultations: opts.Consultations,
		verifier:      opts.Verifier,
		health:        opts.Health,
		registry:      opts.Registry,
		metrics:       opts.Metrics,
		validate:      validator.New(validator.WithRequiredStructEnabled()),
		corsOrigin:    opts.CORSOrigin,
		logger:        opts.Logger.With().Str("component", "http").Logger(),
		mux:           http.NewServeMux(),
	}
	if s.corsOrigin == "" {
		s.corsOrigin = "*"
	}

	s.setupRoutes(opts.WebSocket)
	s.handler = s.instrument(s.recoverer(s.cors(s.mux)))
	return s
}

func (s *Server) setupRoutes(ws http.Handler) {
	s.mux.HandleFunc("POST /api/consultations", s.authenticate(s.createConsultation))
	s.mux.HandleFunc("GET /api/consultations/my", s.authenticate(s.myConsultations))
	s.mux.HandleFunc("GET /api/consultations/{id}", s.authenticate(s.getConsultation))
	s.mux.HandleFunc("PATCH /api/consultations/{id}/status", s.authenticate(s.updateStatus))
	s.mux.HandleFunc("GET /api/consultations/{id}/messages", s.authenticate(s.listMessages))

	s.mux.HandleFunc("GET /health", s.healthCheck)
	if s.metrics != nil {
		s.mux.Handle("GET /metrics", s.metrics.Handler())
	}
	if ws != nil {
		s.mux.Handle("GET /ws", ws)
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

type CreateConsultationRequest struct {
	Specialization string `json:"specialization" validate:"required"`
}

type UpdateStatusRequest struct {
	Status string `json:"status" validate:"required"`
}

type ConsultationResponse struct {
	Message      string              `json:"message,omitempty"`
	Consultation *types.Consultation `json:"consultation"`
}

type ConsultationsResponse struct {
	Consultations []*types.Consultation `json:"consultations"`
}

type MessagesResponse struct {
	Messages []types.MessageView `json:"messages"`
}

type HealthResponse struct {
	Status      string         `json:"status"`
	Timestamp   time.Time      `json:"timestamp"`
	Connections map[string]int `json:"connections,omitempty"`
}

// POST /api/consultations
func (s *Server) createConsultation(w http.ResponseWriter, r *http.Request) {
	var req CreateConsultationRequest
	if !s.decode(w, r, &req) {
		return
	}
	actor, _ := IdentityFrom(r.Context())

	c, err := s.consultations.Assign(r.Context(), actor, req.Specialization)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ConsultationResponse{
		Message:      "Consultation created successfully",
		Consultation: c,
	})
}

// GET /api/consultations/my
func (s *Server) myConsultations(w http.ResponseWriter, r *http.Request) {
	actor, _ := IdentityFrom(r.Context())
	list, err := s.consultations.ListMine(r.Context(), actor)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if list == nil {
		list = []*types.Consultation{}
	}
	writeJSON(w, http.StatusOK, ConsultationsResponse{Consultations: list})
}

// GET /api/consultations/{id}
func (s *Server) getConsultation(w http.ResponseWriter, r *http.Request) {
	actor, _ := IdentityFrom(r.Context())
	c, err := s.consultations.Get(r.Context(), actor, r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ConsultationResponse{Consultation: c})
}

// PATCH /api/consultations/{id}/status
func (s *Server) updateStatus(w http.ResponseWriter, r *http.Request) {
	var req UpdateStatusRequest
	if !s.decode(w, r, &req) {
		return
	}
	actor, _ := IdentityFrom(r.Context())

	c, err := s.consultations.SetStatus(r.Context(), actor, r.PathValue("id"), req.Status)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ConsultationResponse{
		Message:      "Consultation status updated",
		Consultation: c,
	})
}

// GET /api/consultations/{id}/messages
func (s *Server) listMessages(w http.ResponseWriter, r *http.Request) {
	actor, _ := IdentityFrom(r.Context())
	msgs, err := s.consultations.Messages(r.Context(), actor, r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, MessagesResponse{Messages: msgs})
}

// GET /health
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	resp := HealthResponse{Status: "OK", Timestamp: time.Now().UTC()}
	if s.registry != nil {
		resp.Connections = s.registry.GetStats()
	}
	if s.health != nil {
		if err := s.health.HealthCheck(ctx); err != nil {
			zerolog.Ctx(r.Context()).Error().Err(err).Msg("health check failed")
			resp.Status = "UNAVAILABLE"
			writeJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// decode reads and validates a JSON body, answering 400 itself on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		sendError(w, http.StatusBadRequest, "Invalid JSON")
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			sendError(w, http.StatusBadRequest, requiredMessage(verrs[0].Field()))
			return false
		}
		sendError(w, http.StatusBadRequest, "Invalid request")
		return false
	}
	return true
}

func requiredMessage(field string) string {
	switch field {
	case "Specialization":
		return "Specialization is required"
	case "Status":
		return "Invalid status"
	default:
		return field + " is required"
	}
}

// fail maps err to a response and logs it at a level matching its kind.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	logger := zerolog.Ctx(r.Context())
	if code >= http.StatusInternalServerError {
		logger.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	} else {
		logger.Debug().Err(err).Str("path", r.URL.Path).Msg("request rejected")
	}
	sendError(w, code, messageFor(err))
}
