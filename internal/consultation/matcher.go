package consultation

import (
	"context"

	"mobidoc/internal/events"
	"mobidoc/pkg/types"
)

// Assign matches the requesting patient with a doctor and opens a pending
// consultation. The doctor is the lowest-id approved, available doctor
// listing the specialization. Nothing is created when nobody qualifies.
//
// Two concurrent requests may pick the same doctor; no reservation is made.
func (s *Service) Assign(ctx context.Context, actor types.Identity, specialization string) (*types.Consultation, error) {
	if actor.Role != types.RolePatient {
		return nil, types.ErrAccessDenied
	}
	specialization, err := types.NormalizeSpecialization(specialization)
	if err != nil {
		return nil, err
	}

	doctor, err := s.store.FindAvailableDoctor(ctx, specialization)
	if err != nil {
		return nil, err
	}

	now := s.now()
	c := &types.Consultation{
		ID:             s.newID(),
		PatientID:      actor.UserID,
		DoctorID:       doctor.ID,
		Specialization: specialization,
		Status:         types.StatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.store.CreateConsultation(ctx, c); err != nil {
		return nil, err
	}

	s.metrics.ConsultationsCreated.Inc()
	s.logger.Info().
		Str("consultation_id", c.ID).
		Str("patient_id", c.PatientID).
		Str("doctor_id", c.DoctorID).
		Str("specialization", specialization).
		Msg("consultation created")
	s.publish(ctx, events.ConsultationCreated, c)
	return c, nil
}
