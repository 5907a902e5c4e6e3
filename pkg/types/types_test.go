package types

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeText(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr error
	}{
		{"trims surrounding whitespace", "  hello  ", "hello", nil},
		{"keeps inner whitespace", "a  b", "a  b", nil},
		{"empty", "", "", ErrEmptyMessage},
		{"whitespace only", " \t\n ", "", ErrEmptyMessage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeText(tt.input)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.ErrorIs(t, err, ErrInvalidInput)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeText_TooLarge(t *testing.T) {
	big := make([]byte, MaxMessageBytes+1)
	for i := range big {
		big[i] = 'x'
	}
	_, err := NormalizeText(string(big))
	assert.ErrorIs(t, err, ErrMessageTooLarge)
}

func TestParseStatus(t *testing.T) {
	for _, s := range []string{"pending", "active", "completed", "cancelled"} {
		got, err := ParseStatus(s)
		require.NoError(t, err)
		assert.Equal(t, ConsultationStatus(s), got)
	}

	for _, s := range []string{"", "Active", "closed", "done"} {
		_, err := ParseStatus(s)
		assert.ErrorIs(t, err, ErrInvalidStatus, "status %q", s)
	}
}

func TestConsultationStatus_CanTransition(t *testing.T) {
	tests := []struct {
		from, to ConsultationStatus
		want     bool
	}{
		{StatusPending, StatusActive, true},
		{StatusPending, StatusCancelled, true},
		{StatusActive, StatusCompleted, true},
		{StatusActive, StatusCancelled, true},
		{StatusPending, StatusCompleted, false},
		{StatusActive, StatusPending, false},
		{StatusCompleted, StatusPending, false},
		{StatusCompleted, StatusActive, false},
		{StatusCancelled, StatusActive, false},
		{StatusCancelled, StatusCancelled, true},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.from.CanTransition(tt.to), "%s -> %s", tt.from, tt.to)
	}
	assert.True(t, StatusCompleted.IsTerminal())
	assert.True(t, StatusCancelled.IsTerminal())
	assert.False(t, StatusActive.IsTerminal())
}

func TestDecodeInbound(t *testing.T) {
	ev, err := DecodeInbound([]byte(`{"event":"joinConsultation","data":{"consultationId":" c1 "}}`))
	require.NoError(t, err)
	assert.Equal(t, JoinConsultation{ConsultationID: "c1"}, ev)

	ev, err = DecodeInbound([]byte(`{"event":"message","data":{"consultationId":"c1","text":"  hi "}}`))
	require.NoError(t, err)
	msg, ok := ev.(SendMessage)
	require.True(t, ok)
	assert.Equal(t, "c1", msg.ConsultationID)
	assert.Equal(t, "  hi ", msg.Text, "text is normalized by the relay, not the decoder")
}

func TestDecodeInbound_Errors(t *testing.T) {
	tests := []struct {
		name  string
		frame string
		want  error
	}{
		{"not json", `hello`, ErrInvalidPayload},
		{"unknown event", `{"event":"typing","data":{}}`, ErrUnknownEvent},
		{"missing data", `{"event":"joinConsultation"}`, ErrInvalidPayload},
		{"missing id", `{"event":"message","data":{"text":"x"}}`, ErrMissingConsultationID},
		{"wrong data type", `{"event":"message","data":{"consultationId":5}}`, ErrInvalidPayload},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeInbound([]byte(tt.frame))
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}
}

func TestEncodeOutbound(t *testing.T) {
	raw, err := EncodeOutbound(Joined{ConsultationID: "c1", Room: RoomName("c1")})
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"joined","data":{"consultationId":"c1","room":"consultation_c1"}}`, string(raw))

	raw, err = EncodeOutbound(MessageEvent{MessageView{
		ID:             "m1",
		ConsultationID: "c1",
		FromUserID:     UserSummary{ID: "p1", Name: "Pat", Role: RolePatient},
		Text:           "hello",
	}})
	require.NoError(t, err)

	var env Envelope
	require.NoError(t, json.Unmarshal(raw, &env))
	assert.Equal(t, EventMessage, env.Event)

	var view MessageView
	require.NoError(t, json.Unmarshal(env.Data, &view))
	assert.Equal(t, "hello", view.Text)
	assert.Equal(t, "Pat", view.FromUserID.Name)
	assert.Nil(t, view.ToUserID)
}

func TestStoreError(t *testing.T) {
	cause := errors.New("disk I/O error")
	err := StoreError("append message", cause)

	assert.ErrorIs(t, err, ErrStoreFailure)
	assert.ErrorIs(t, err, cause)
	assert.True(t, IsRetryable(err))
	assert.False(t, IsRetryable(ErrAccessDenied))
}
