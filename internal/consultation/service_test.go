package consultation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mobidoc/internal/events"
	"mobidoc/internal/memstore"
	"mobidoc/internal/metrics"
	"mobidoc/pkg/types"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []string
	err    error
}

func (p *recordingPublisher) Publish(ctx context.Context, eventType string, payload any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, eventType)
	return p.err
}

func (p *recordingPublisher) Close() error { return nil }

// lockstepStore holds the first n consultation reads until all n have
// happened, so concurrent status changes all see the same starting status.
type lockstepStore struct {
	*memstore.Store
	mu      sync.Mutex
	pending int
	arrived sync.WaitGroup
}

func newLockstepStore(s *memstore.Store, n int) *lockstepStore {
	ls := &lockstepStore{Store: s, pending: n}
	ls.arrived.Add(n)
	return ls
}

func (s *lockstepStore) GetConsultation(ctx context.Context, id string) (*types.Consultation, error) {
	c, err := s.Store.GetConsultation(ctx, id)

	s.mu.Lock()
	hold := s.pending > 0
	if hold {
		s.pending--
	}
	s.mu.Unlock()

	if hold {
		s.arrived.Done()
		s.arrived.Wait()
	}
	return c, err
}

var (
	patient  = types.Identity{UserID: "p1", Role: types.RolePatient}
	doctor   = types.Identity{UserID: "d1", Role: types.RoleDoctor}
	admin    = types.Identity{UserID: "a1", Role: types.RoleAdmin}
	outsider = types.Identity{UserID: "u9", Role: types.RolePatient}
)

func newTestService(t *testing.T, opts Options) (*Service, *memstore.Store, *recordingPublisher) {
	t.Helper()
	store := memstore.New()
	ctx := context.Background()
	for _, u := range []*types.User{
		{ID: "p1", Name: "Pat", Role: types.RolePatient},
		{ID: "u9", Name: "Uma", Role: types.RolePatient},
		{ID: "a1", Name: "Ada", Role: types.RoleAdmin},
		{ID: "d1", Name: "Dr One", Role: types.RoleDoctor, KYCStatus: types.KYCApproved, Available: true, Specialties: []string{"Cardiology"}},
		{ID: "d0", Name: "Dr Zero", Role: types.RoleDoctor, KYCStatus: types.KYCPending, Available: true, Specialties: []string{"Cardiology"}},
	} {
		require.NoError(t, store.UpsertUser(ctx, u))
	}

	pub := &recordingPublisher{}
	svc := NewService(store, store, pub, metrics.New(), zerolog.Nop(), opts)
	return svc, store, pub
}

func TestAssign_MatchesApprovedDoctor(t *testing.T) {
	svc, _, pub := newTestService(t, Options{})

	c, err := svc.Assign(context.Background(), patient, "  Cardiology ")
	require.NoError(t, err)
	assert.Equal(t, "d1", c.DoctorID, "pending-KYC d0 is never matched")
	assert.Equal(t, "p1", c.PatientID)
	assert.Equal(t, "Cardiology", c.Specialization)
	assert.Equal(t, types.StatusPending, c.Status)
	assert.NotEmpty(t, c.ID)
	assert.Equal(t, []string{events.ConsultationCreated}, pub.events)
}

func TestAssign_Failures(t *testing.T) {
	svc, store, _ := newTestService(t, Options{})
	ctx := context.Background()

	_, err := svc.Assign(ctx, doctor, "Cardiology")
	assert.ErrorIs(t, err, types.ErrAccessDenied)

	_, err = svc.Assign(ctx, patient, "   ")
	assert.ErrorIs(t, err, types.ErrSpecializationMissing)
	assert.ErrorIs(t, err, types.ErrInvalidInput)

	_, err = svc.Assign(ctx, patient, "Oncology")
	assert.ErrorIs(t, err, types.ErrNoDoctorAvailable)

	mine, err := store.ListConsultationsByPatient(ctx, "p1")
	require.NoError(t, err)
	assert.Empty(t, mine, "failed requests create nothing")
}

func TestAssign_PublishFailureDoesNotFail(t *testing.T) {
	svc, _, pub := newTestService(t, Options{})
	pub.err = errors.New("redis down")

	_, err := svc.Assign(context.Background(), patient, "Cardiology")
	assert.NoError(t, err)
}

func TestGetAndListMine(t *testing.T) {
	svc, _, _ := newTestService(t, Options{})
	ctx := context.Background()
	c, err := svc.Assign(ctx, patient, "Cardiology")
	require.NoError(t, err)

	for _, actor := range []types.Identity{patient, doctor, admin} {
		got, err := svc.Get(ctx, actor, c.ID)
		require.NoError(t, err, "actor %s", actor.UserID)
		assert.Equal(t, c.ID, got.ID)
	}

	_, err = svc.Get(ctx, outsider, c.ID)
	assert.ErrorIs(t, err, types.ErrAccessDenied)
	_, err = svc.Get(ctx, patient, "missing")
	assert.ErrorIs(t, err, types.ErrNotFound)

	mine, err := svc.ListMine(ctx, patient)
	require.NoError(t, err)
	assert.Len(t, mine, 1)
	mine, err = svc.ListMine(ctx, doctor)
	require.NoError(t, err)
	assert.Len(t, mine, 1)
	mine, err = svc.ListMine(ctx, outsider)
	require.NoError(t, err)
	assert.Empty(t, mine)

	_, err = svc.ListMine(ctx, admin)
	assert.ErrorIs(t, err, types.ErrAccessDenied)
}

func TestSetStatus_CheckOrder(t *testing.T) {
	svc, _, _ := newTestService(t, Options{EnforceTransitions: true})
	ctx := context.Background()
	c, err := svc.Assign(ctx, patient, "Cardiology")
	require.NoError(t, err)

	_, err = svc.SetStatus(ctx, admin, "missing", "bogus")
	assert.ErrorIs(t, err, types.ErrNotFound, "existence is checked first")

	_, err = svc.SetStatus(ctx, outsider, c.ID, "bogus")
	assert.ErrorIs(t, err, types.ErrAccessDenied, "access is checked before the status value")

	_, err = svc.SetStatus(ctx, patient, c.ID, "bogus")
	assert.ErrorIs(t, err, types.ErrInvalidStatus)
}

func TestSetStatus_AdminActivatesAndPartiesSeeIt(t *testing.T) {
	svc, _, pub := newTestService(t, Options{EnforceTransitions: true})
	ctx := context.Background()
	c, err := svc.Assign(ctx, patient, "Cardiology")
	require.NoError(t, err)

	updated, err := svc.SetStatus(ctx, admin, c.ID, "active")
	require.NoError(t, err)
	assert.Equal(t, types.StatusActive, updated.Status)

	for _, actor := range []types.Identity{patient, doctor} {
		got, err := svc.Get(ctx, actor, c.ID)
		require.NoError(t, err)
		assert.Equal(t, types.StatusActive, got.Status)
	}

	_, err = svc.SetStatus(ctx, outsider, c.ID, "completed")
	assert.ErrorIs(t, err, types.ErrAccessDenied)
	assert.Equal(t, []string{events.ConsultationCreated, events.ConsultationStatusChanged}, pub.events)
}

func TestSetStatus_EnforcedGraph(t *testing.T) {
	svc, _, _ := newTestService(t, Options{EnforceTransitions: true})
	ctx := context.Background()
	c, err := svc.Assign(ctx, patient, "Cardiology")
	require.NoError(t, err)

	_, err = svc.SetStatus(ctx, doctor, c.ID, "completed")
	assert.ErrorIs(t, err, types.ErrInvalidTransition, "pending cannot jump to completed")

	_, err = svc.SetStatus(ctx, doctor, c.ID, "active")
	require.NoError(t, err)
	_, err = svc.SetStatus(ctx, doctor, c.ID, "active")
	require.NoError(t, err, "re-applying the current status is a no-op")
	_, err = svc.SetStatus(ctx, doctor, c.ID, "completed")
	require.NoError(t, err)

	_, err = svc.SetStatus(ctx, admin, c.ID, "pending")
	assert.ErrorIs(t, err, types.ErrInvalidTransition, "completed is terminal")
	assert.ErrorIs(t, err, types.ErrInvalidInput)

	got, err := svc.Get(ctx, patient, c.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusCompleted, got.Status)
}

func TestSetStatus_PermissiveMode(t *testing.T) {
	svc, _, _ := newTestService(t, Options{EnforceTransitions: false})
	ctx := context.Background()
	c, err := svc.Assign(ctx, patient, "Cardiology")
	require.NoError(t, err)

	_, err = svc.SetStatus(ctx, doctor, c.ID, "completed")
	require.NoError(t, err)
	updated, err := svc.SetStatus(ctx, doctor, c.ID, "pending")
	require.NoError(t, err)
	assert.Equal(t, types.StatusPending, updated.Status)
}

func TestSetStatus_StoreFailureIsRetryable(t *testing.T) {
	svc, store, _ := newTestService(t, Options{})
	ctx := context.Background()
	c, err := svc.Assign(ctx, patient, "Cardiology")
	require.NoError(t, err)

	store.SetFailure(errors.New("disk full"))
	_, err = svc.SetStatus(ctx, doctor, c.ID, "active")
	assert.True(t, types.IsRetryable(err))
}

func TestMessagesArePresentedOldestFirst(t *testing.T) {
	svc, store, _ := newTestService(t, Options{})
	ctx := context.Background()
	c, err := svc.Assign(ctx, patient, "Cardiology")
	require.NoError(t, err)

	base := time.Now().UTC()
	require.NoError(t, store.AppendMessage(ctx, &types.Message{ID: "m2", ConsultationID: c.ID, FromUserID: "d1", ToUserID: "p1", Text: "second", CreatedAt: base.Add(time.Second)}))
	require.NoError(t, store.AppendMessage(ctx, &types.Message{ID: "m1", ConsultationID: c.ID, FromUserID: "p1", ToUserID: "d1", Text: "first", CreatedAt: base}))
	require.NoError(t, store.AppendMessage(ctx, &types.Message{ID: "m3", ConsultationID: c.ID, FromUserID: "a1", Text: "admin note", CreatedAt: base.Add(2 * time.Second)}))

	views, err := svc.Messages(ctx, doctor, c.ID)
	require.NoError(t, err)
	require.Len(t, views, 3)
	assert.Equal(t, "first", views[0].Text)
	assert.Equal(t, types.UserSummary{ID: "p1", Name: "Pat", Role: types.RolePatient}, views[0].FromUserID)
	require.NotNil(t, views[0].ToUserID)
	assert.Equal(t, "Dr One", views[0].ToUserID.Name)
	assert.Nil(t, views[2].ToUserID)

	_, err = svc.Messages(ctx, outsider, c.ID)
	assert.ErrorIs(t, err, types.ErrAccessDenied)
}

func TestPresentMessage_UnknownUser(t *testing.T) {
	svc, _, _ := newTestService(t, Options{})
	view := svc.PresentMessage(context.Background(), &types.Message{ID: "m", FromUserID: "ghost", ToUserID: "p1", Text: "x"})
	assert.Equal(t, types.UserSummary{ID: "ghost"}, view.FromUserID)
	assert.Equal(t, "Pat", view.ToUserID.Name)
}

func TestSetStatus_ConcurrentTerminalChanges(t *testing.T) {
	_, store, pub := newTestService(t, Options{})
	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, store.CreateConsultation(ctx, &types.Consultation{
		ID: "c-race", PatientID: "p1", DoctorID: "d1", Specialization: "Cardiology",
		Status: types.StatusActive, CreatedAt: now, UpdatedAt: now,
	}))

	svc := NewService(newLockstepStore(store, 2), store, pub, metrics.New(), zerolog.Nop(), Options{EnforceTransitions: true})

	requested := []string{"completed", "cancelled"}
	errs := make([]error, len(requested))
	var wg sync.WaitGroup
	for i, status := range requested {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = svc.SetStatus(ctx, doctor, "c-race", status)
		}()
	}
	wg.Wait()

	var winner types.ConsultationStatus
	failures := 0
	for i, err := range errs {
		if err == nil {
			winner = types.ConsultationStatus(requested[i])
			continue
		}
		failures++
		assert.ErrorIs(t, err, types.ErrInvalidTransition, "the loser sees the terminal status")
	}
	require.Equal(t, 1, failures, "exactly one terminal change is accepted")

	got, err := store.GetConsultation(ctx, "c-race")
	require.NoError(t, err)
	assert.Equal(t, winner, got.Status, "the accepted terminal status is never overwritten")
}

func TestSetStatus_ConcurrentSameStatusIsIdempotent(t *testing.T) {
	_, store, pub := newTestService(t, Options{})
	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, store.CreateConsultation(ctx, &types.Consultation{
		ID: "c-same", PatientID: "p1", DoctorID: "d1", Specialization: "Cardiology",
		Status: types.StatusPending, CreatedAt: now, UpdatedAt: now,
	}))

	svc := NewService(newLockstepStore(store, 2), store, pub, metrics.New(), zerolog.Nop(), Options{EnforceTransitions: true})

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = svc.SetStatus(ctx, admin, "c-same", "active")
		}()
	}
	wg.Wait()

	assert.NoError(t, errs[0])
	assert.NoError(t, errs[1], "the second request finds the status already applied")
	assert.Equal(t, []string{events.ConsultationStatusChanged}, pub.events, "only one change is published")
}
