package integration

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mobidoc/pkg/types"
)

const (
	adminEmail   = "admin@example.com"
	doctorEmail  = "doctor@example.com"
	pendingEmail = "pending.doctor@example.com"
	patientEmail = "patient@example.com"
)

type consultationResponse struct {
	Message      string             `json:"message"`
	Consultation types.Consultation `json:"consultation"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func createConsultation(t *testing.T, s *stack) types.Consultation {
	t.Helper()
	var created consultationResponse
	status := s.do(t, http.MethodPost, "/api/consultations", s.token(t, patientEmail),
		map[string]string{"specialization": "Cardiology"}, &created)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "Consultation created successfully", created.Message)
	return created.Consultation
}

func TestConsultationFlow_EndToEnd(t *testing.T) {
	s := newStack(t)
	c := createConsultation(t, s)
	assert.Equal(t, "demo-doctor", c.DoctorID)
	assert.Equal(t, types.StatusPending, c.Status)

	patient := s.dial(t, patientEmail)
	doctor := s.dial(t, doctorEmail)

	var joined types.Joined
	patient.send(types.EventJoinConsultation, types.JoinConsultation{ConsultationID: c.ID})
	patient.expect(types.EventJoined, &joined)
	assert.Equal(t, "consultation_"+c.ID, joined.Room)

	doctor.send(types.EventJoinConsultation, types.JoinConsultation{ConsultationID: c.ID})
	doctor.expect(types.EventJoined, nil)

	patient.send(types.EventMessage, types.SendMessage{ConsultationID: c.ID, Text: "  Hi  "})
	for _, who := range []*client{patient, doctor} {
		var msg types.MessageView
		who.expect(types.EventMessage, &msg)
		assert.Equal(t, "Hi", msg.Text)
		assert.Equal(t, "Jane Doe", msg.FromUserID.Name)
		require.NotNil(t, msg.ToUserID)
		assert.Equal(t, "Dr. John Smith", msg.ToUserID.Name)
	}

	doctor.send(types.EventMessage, types.SendMessage{ConsultationID: c.ID, Text: "Hello Jane"})
	patient.expect(types.EventMessage, nil)
	doctor.expect(types.EventMessage, nil)

	var history struct {
		Messages []types.MessageView `json:"messages"`
	}
	status := s.do(t, http.MethodGet, "/api/consultations/"+c.ID+"/messages", s.token(t, doctorEmail), nil, &history)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, history.Messages, 2)
	assert.Equal(t, "Hi", history.Messages[0].Text)
	assert.Equal(t, "Hello Jane", history.Messages[1].Text)
}

func TestConsultationFlow_OutsiderIsRefused(t *testing.T) {
	s := newStack(t)
	c := createConsultation(t, s)

	patient := s.dial(t, patientEmail)
	patient.send(types.EventJoinConsultation, types.JoinConsultation{ConsultationID: c.ID})
	patient.expect(types.EventJoined, nil)

	outsider := s.dial(t, pendingEmail)
	var failure types.ErrorEvent
	outsider.send(types.EventJoinConsultation, types.JoinConsultation{ConsultationID: c.ID})
	outsider.expect(types.EventError, &failure)
	assert.Equal(t, "Access denied", failure.Message)

	outsider.send(types.EventMessage, types.SendMessage{ConsultationID: c.ID, Text: "let me in"})
	outsider.expect(types.EventError, &failure)
	assert.Equal(t, "Access denied", failure.Message)

	outsider.send(types.EventJoinConsultation, types.JoinConsultation{ConsultationID: "does-not-exist"})
	outsider.expect(types.EventError, &failure)
	assert.Equal(t, "Consultation not found", failure.Message)

	patient.silent(200 * time.Millisecond)
}

func TestConsultationFlow_AdminSupervises(t *testing.T) {
	s := newStack(t)
	c := createConsultation(t, s)

	var updated consultationResponse
	status := s.do(t, http.MethodPatch, "/api/consultations/"+c.ID+"/status", s.token(t, adminEmail),
		map[string]string{"status": "active"}, &updated)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, types.StatusActive, updated.Consultation.Status)

	for _, email := range []string{patientEmail, doctorEmail} {
		var got consultationResponse
		require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/api/consultations/"+c.ID, s.token(t, email), nil, &got))
		assert.Equal(t, types.StatusActive, got.Consultation.Status, email)
	}

	var denied errorResponse
	status = s.do(t, http.MethodPatch, "/api/consultations/"+c.ID+"/status", s.token(t, pendingEmail),
		map[string]string{"status": "completed"}, &denied)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "Access denied", denied.Message)

	admin := s.dial(t, adminEmail)
	admin.send(types.EventJoinConsultation, types.JoinConsultation{ConsultationID: c.ID})
	admin.expect(types.EventJoined, nil)
	admin.send(types.EventMessage, types.SendMessage{ConsultationID: c.ID, Text: "Admin here"})

	var msg types.MessageView
	admin.expect(types.EventMessage, &msg)
	assert.Nil(t, msg.ToUserID, "admin messages have no recipient")
}

func TestConsultationFlow_HandshakeRequiresToken(t *testing.T) {
	s := newStack(t)

	var body errorResponse
	status := s.do(t, http.MethodGet, "/ws", "", nil, &body)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "Authentication error: no token provided", body.Error)

	status = s.do(t, http.MethodGet, "/api/consultations/my", "", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestConsultationFlow_MyConsultations(t *testing.T) {
	s := newStack(t)
	first := createConsultation(t, s)
	second := createConsultation(t, s)

	var mine struct {
		Consultations []types.Consultation `json:"consultations"`
	}
	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/api/consultations/my", s.token(t, doctorEmail), nil, &mine))
	require.Len(t, mine.Consultations, 2)
	ids := []string{mine.Consultations[0].ID, mine.Consultations[1].ID}
	assert.ElementsMatch(t, []string{first.ID, second.ID}, ids)

	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/api/consultations/my", s.token(t, pendingEmail), nil, &mine))
	assert.Empty(t, mine.Consultations)
}
