package interfaces

import (
	"context"

	"mobidoc/pkg/types"
)

// ConsultationStore is the single source of truth for consultation status.
// Implementations return types.ErrConsultationNotFound for unknown ids and
// wrap every driver failure with types.ErrStoreFailure.
type ConsultationStore interface {
	CreateConsultation(ctx context.Context, c *types.Consultation) error
	GetConsultation(ctx context.Context, id string) (*types.Consultation, error)

	// UpdateConsultationStatus moves the status from one value to another
	// only if it still holds from. A consultation whose status has moved on
	// yields types.ErrStatusConflict.
	UpdateConsultationStatus(ctx context.Context, id string, from, to types.ConsultationStatus) (*types.Consultation, error)


	// Both listings are ordered newest first.
	ListConsultationsByPatient(ctx context.Context, patientID string) ([]*types.Consultation, error)
	ListConsultationsByDoctor(ctx context.Context, doctorID string) ([]*types.Consultation, error)
}

// MessageStore is append-only.
type MessageStore interface {
	AppendMessage(ctx context.Context, m *types.Message) error

	// ListMessages returns a consultation's messages by creation time
	// ascending, ties broken by insertion order.
	ListMessages(ctx context.Context, consultationID string) ([]*types.Message, error)
}

// UserDirectory resolves users by id. Missing users yield types.ErrUserNotFound.
type UserDirectory interface {
	GetUser(ctx context.Context, id string) (*types.User, error)
}

// DoctorFinder selects the first doctor by ascending id that is approved,
// available and lists the specialization. Returns types.ErrNoDoctorAvailable
// when nobody qualifies.
type DoctorFinder interface {
	FindAvailableDoctor(ctx context.Context, specialization string) (*types.User, error)
}

// UserStore is used by the seed command and the admin-review collaborator.
type UserStore interface {
	UpsertUser(ctx context.Context, u *types.User) error
}

// Store bundles every persistence contract behind one backend.
type Store interface {
	ConsultationStore
	MessageStore
	UserDirectory
	DoctorFinder
	UserStore

	HealthCheck(ctx context.Context) error
	Close() error
}
