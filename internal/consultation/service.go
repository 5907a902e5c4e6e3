// Package consultation owns the consultation lifecycle and doctor matching.
package consultation

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"mobidoc/internal/access"
	"mobidoc/internal/events"
	"mobidoc/internal/metrics"
	"mobidoc/pkg/interfaces"
	"mobidoc/pkg/types"
)

// Store is the persistence the service needs.
type Store interface {
	interfaces.ConsultationStore
	interfaces.MessageStore
	interfaces.DoctorFinder
}

// Options tunes lifecycle policy.
type Options struct {
	// EnforceTransitions rejects status changes that leave the
	// pending -> active -> completed / cancelled graph.
	EnforceTransitions bool
}

// Service is shared by the REST handlers and the real-time path. It never
// caches consultations or messages.
type Service struct {
	store     Store
	directory interfaces.UserDirectory
	publisher events.Publisher
	metrics   *metrics.Metrics
	logger    zerolog.Logger
	opts      Options

	now   func() time.Time
	newID func() string
}

func NewService(store Store, directory interfaces.UserDirectory, publisher events.Publisher, m *metrics.Metrics, logger zerolog.Logger, opts Options) *Service {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &Service{
		store:     store,
		directory: directory,
		publisher: publisher,
		metrics:   m,
		logger:    logger.With().Str("component", "consultation").Logger(),
		opts:      opts,
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
	}
}

// Authorize loads the consultation and applies the access policy.
func (s *Service) Authorize(ctx context.Context, actor types.Identity, consultationID string) (*types.Consultation, error) {
	c, err := s.store.GetConsultation(ctx, consultationID)
	if err != nil {
		return nil, err
	}
	if err := access.Authorize(actor, c); err != nil {
		return nil, err
	}
	return c, nil
}

// Get returns a consultation the actor may see.
func (s *Service) Get(ctx context.Context, actor types.Identity, consultationID string) (*types.Consultation, error) {
	return s.Authorize(ctx, actor, consultationID)
}

// ListMine returns the actor's consultations, newest first. Only patients
// and doctors have their own consultations.
func (s *Service) ListMine(ctx context.Context, actor types.Identity) ([]*types.Consultation, error) {
	switch actor.Role {
	case types.RolePatient:
		return s.store.ListConsultationsByPatient(ctx, actor.UserID)
	case types.RoleDoctor:
		return s.store.ListConsultationsByDoctor(ctx, actor.UserID)
	default:
		return nil, types.ErrAccessDenied
	}
}

// Messages returns the consultation's history oldest first, presented.
func (s *Service) Messages(ctx context.Context, actor types.Identity, consultationID string) ([]types.MessageView, error) {
	if _, err := s.Authorize(ctx, actor, consultationID); err != nil {
		return nil, err
	}
	msgs, err := s.store.ListMessages(ctx, consultationID)
	if err != nil {
		return nil, err
	}

	views := make([]types.MessageView, 0, len(msgs))
	for _, m := range msgs {
		views = append(views, s.PresentMessage(ctx, m))
	}
	return views, nil
}

// PresentMessage resolves sender and recipient display attributes. A user
// that cannot be resolved is presented by id alone.
func (s *Service) PresentMessage(ctx context.Context, m *types.Message) types.MessageView {
	view := types.MessageView{
		ID:             m.ID,
		ConsultationID: m.ConsultationID,
		FromUserID:     s.summary(ctx, m.FromUserID),
		Text:           m.Text,
		CreatedAt:      m.CreatedAt,
	}
	if m.ToUserID != "" {
		to := s.summary(ctx, m.ToUserID)
		view.ToUserID = &to
	}
	return view
}

func (s *Service) summary(ctx context.Context, userID string) types.UserSummary {
	u, err := s.directory.GetUser(ctx, userID)
	if err != nil {
		s.logger.Warn().Err(err).Str("user_id", userID).Msg("could not resolve user for display")
		return types.UserSummary{ID: userID}
	}
	return u.Summary()
}

func (s *Service) publish(ctx context.Context, eventType string, payload any) {
	if err := s.publisher.Publish(ctx, eventType, payload); err != nil {
		s.logger.Warn().Err(err).Str("event", eventType).Msg("failed to publish domain event")
	}
}
