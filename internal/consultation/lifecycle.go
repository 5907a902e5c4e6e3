package consultation

import (
	"context"
	"errors"
	"fmt"

	"mobidoc/internal/events"
	"mobidoc/pkg/types"
)

// StatusChange is the payload of a status_changed event.
type StatusChange struct {
	ConsultationID string                   `json:"consultationId"`
	From           types.ConsultationStatus `json:"from"`
	To             types.ConsultationStatus `json:"to"`
	ActorID        string                   `json:"actorId"`
}

// statusAttempts bounds how often SetStatus reloads after losing a race.
const statusAttempts = 3

// SetStatus moves a consultation to the requested status. Checks run in
// order: existence, access, status value, then (when enforced) the
// transition graph. The write only lands if the status is still the one
// the checks saw; otherwise the consultation is reloaded and checked again.
func (s *Service) SetStatus(ctx context.Context, actor types.Identity, consultationID, requested string) (*types.Consultation, error) {
	var (
		c       *types.Consultation
		next    types.ConsultationStatus
		updated *types.Consultation
		err     error
	)
	for attempt := 1; ; attempt++ {
		c, err = s.Authorize(ctx, actor, consultationID)
		if err != nil {
			return nil, err
		}

		next, err = types.ParseStatus(requested)
		if err != nil {
			return nil, err
		}

		if s.opts.EnforceTransitions && !c.Status.CanTransition(next) {
			return nil, fmt.Errorf("%w: %s -> %s", types.ErrInvalidTransition, c.Status, next)
		}
		if next == c.Status {
			return c, nil
		}

		updated, err = s.store.UpdateConsultationStatus(ctx, consultationID, c.Status, next)
		if err == nil {
			break
		}
		if !errors.Is(err, types.ErrStatusConflict) || attempt == statusAttempts {
			return nil, err
		}
		s.logger.Debug().
			Str("consultation_id", consultationID).
			Int("attempt", attempt).
			Msg("status changed underneath, reloading")
	}

	s.metrics.StatusTransitions.WithLabelValues(string(next)).Inc()
	s.logger.Info().
		Str("consultation_id", consultationID).
		Str("from", string(c.Status)).
		Str("to", string(next)).
		Str("actor_id", actor.UserID).
		Msg("consultation status changed")
	s.publish(ctx, events.ConsultationStatusChanged, StatusChange{
		ConsultationID: consultationID,
		From:           c.Status,
		To:             next,
		ActorID:        actor.UserID,
	})
	return updated, nil
}
