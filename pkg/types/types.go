package types

import (
	"time"
)

// Role is the immutable role a user registered with.
type Role string

const (
	RolePatient Role = "patient"
	RoleDoctor  Role = "doctor"
	RoleAdmin   Role = "admin"
)

// KYCStatus tracks the admin review of a doctor's documents.
type KYCStatus string

const (
	KYCPending  KYCStatus = "pending"
	KYCApproved KYCStatus = "approved"
	KYCRejected KYCStatus = "rejected"
)

// ConsultationStatus is the lifecycle state of a consultation.
type ConsultationStatus string

const (
	StatusPending   ConsultationStatus = "pending"
	StatusActive    ConsultationStatus = "active"
	StatusCompleted ConsultationStatus = "completed"
	StatusCancelled ConsultationStatus = "cancelled"
)

// RoomPrefix is prepended to a consultation id to form its room name.
const RoomPrefix = "consultation_"

// User is owned by the registration and admin-review services.
// ARCHITECTURAL DISCOVERY: Specialties, Available and KYCStatus only matter
// for doctors; the matcher reads them, nothing in this module mutates them
type User struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Email         string    `json:"email"`
	Phone         string    `json:"phone,omitempty"`
	Role          Role      `json:"role"`
	KYCStatus     KYCStatus `json:"kycStatus"`
	Specialties   []string  `json:"specialties,omitempty"`
	LicenseNumber string    `json:"licenseNumber,omitempty"`
	Available     bool      `json:"available"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Identity is what a verified credential resolves to. Name is filled in by the
// connection gate once the user record has been looked up.
type Identity struct {
	UserID string `json:"userId"`
	Role   Role   `json:"role"`
	Name   string `json:"name,omitempty"`
}

// Consultation is one patient/doctor engagement.
// FUNCTIONAL DISCOVERY: PatientID and DoctorID never change after creation;
// Status is the only mutable field and is changed through the lifecycle only
type Consultation struct {
	ID             string             `json:"id"`
	PatientID      string             `json:"patientId"`
	DoctorID       string             `json:"doctorId"`
	Specialization string             `json:"specialization"`
	Status         ConsultationStatus `json:"status"`
	CreatedAt      time.Time          `json:"createdAt"`
	UpdatedAt      time.Time          `json:"updatedAt"`
}

// Room returns the name of the consultation's real-time room.
func (c *Consultation) Room() string {
	return RoomName(c.ID)
}

// RoomName builds the room identifier for a consultation id.
func RoomName(consultationID string) string {
	return RoomPrefix + consultationID
}

// Message is one persisted chat line. ToUserID is empty when the sender is
// not a party of the consultation (an admin).
type Message struct {
	ID             string    `json:"id"`
	ConsultationID string    `json:"consultationId"`
	FromUserID     string    `json:"fromUserId"`
	ToUserID       string    `json:"toUserId,omitempty"`
	Text           string    `json:"text"`
	CreatedAt      time.Time `json:"createdAt"`
}

// UserSummary is the display form of a user attached to outbound messages.
type UserSummary struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role Role   `json:"role"`
}

// Summary returns the display form of the user.
func (u *User) Summary() UserSummary {
	return UserSummary{ID: u.ID, Name: u.Name, Role: u.Role}
}

// MessageView is a persisted message with sender and recipient resolved.
// It is both the payload of the outbound message event and the REST
// representation of a message.
type MessageView struct {
	ID             string       `json:"id"`
	ConsultationID string       `json:"consultationId"`
	FromUserID     UserSummary  `json:"fromUserId"`
	ToUserID       *UserSummary `json:"toUserId"`
	Text           string       `json:"text"`
	CreatedAt      time.Time    `json:"createdAt"`
}
