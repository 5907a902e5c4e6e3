package types

import (
	"strings"
)

// MaxMessageBytes bounds the size of a single chat line.
const MaxMessageBytes = 65536

// ParseStatus validates a requested status value.
func ParseStatus(s string) (ConsultationStatus, error) {
	switch st := ConsultationStatus(s); st {
	case StatusPending, StatusActive, StatusCompleted, StatusCancelled:
		return st, nil
	}
	return "", ErrInvalidStatus
}

// IsValidRole reports whether r is one of the registered roles.
func IsValidRole(r Role) bool {
	switch r {
	case RolePatient, RoleDoctor, RoleAdmin:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is allowed from s.
func (s ConsultationStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// transitions is the lifecycle graph: pending -> active -> completed, and
// pending|active -> cancelled.
var transitions = map[ConsultationStatus][]ConsultationStatus{
	StatusPending: {StatusActive, StatusCancelled},
	StatusActive:  {StatusCompleted, StatusCancelled},
}

// CanTransition reports whether moving from s to next follows the lifecycle
// graph. Re-applying the current status is always allowed.
func (s ConsultationStatus) CanTransition(next ConsultationStatus) bool {
	if s == next {
		return true
	}
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// NormalizeText trims a message and checks it is non-empty and within bounds.
func NormalizeText(text string) (string, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return "", ErrEmptyMessage
	}
	if len(trimmed) > MaxMessageBytes {
		return "", ErrMessageTooLarge
	}
	return trimmed, nil
}

// NormalizeSpecialization trims a requested specialization.
func NormalizeSpecialization(s string) (string, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return "", ErrSpecializationMissing
	}
	return trimmed, nil
}
