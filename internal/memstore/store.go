// Package memstore is an in-process Store for development and tests. Data is
// lost on restart.
package memstore

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"mobidoc/pkg/interfaces"
	"mobidoc/pkg/types"
)

var _ interfaces.Store = (*Store)(nil)

type Store struct {
	mu            sync.RWMutex
	users         map[string]types.User
	consultations map[string]types.Consultation
	order         []string // consultation ids in insertion order
	messages      map[string][]types.Message
	closed        bool
	failWith      error
}

func New() *Store {
	return &Store{
		users:         make(map[string]types.User),
		consultations: make(map[string]types.Consultation),
		messages:      make(map[string][]types.Message),
	}
}

func (s *Store) check(op string) error {
	if s.closed {
		return types.StoreError(op, fmt.Errorf("store closed"))
	}
	if s.failWith != nil {
		return types.StoreError(op, s.failWith)
	}
	return nil
}

// SetFailure makes every subsequent call fail with err wrapped as a store
// failure. Pass nil to recover.
func (s *Store) SetFailure(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failWith = err
}

func (s *Store) UpsertUser(ctx context.Context, u *types.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("upsert user"); err != nil {
		return err
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	if u.KYCStatus == "" {
		u.KYCStatus = types.KYCPending
	}
	stored := *u
	if prev, ok := s.users[u.ID]; ok {
		stored.Role = prev.Role
	}
	stored.Specialties = slices.Clone(u.Specialties)
	s.users[u.ID] = stored
	return nil
}

func (s *Store) GetUser(ctx context.Context, id string) (*types.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check("get user"); err != nil {
		return nil, err
	}
	u, ok := s.users[id]
	if !ok {
		return nil, types.ErrUserNotFound
	}
	u.Specialties = slices.Clone(u.Specialties)
	return &u, nil
}

func (s *Store) FindAvailableDoctor(ctx context.Context, specialization string) (*types.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check("find available doctor"); err != nil {
		return nil, err
	}

	var best *types.User
	for _, u := range s.users {
		if u.Role != types.RoleDoctor || u.KYCStatus != types.KYCApproved || !u.Available {
			continue
		}
		if !slices.Contains(u.Specialties, specialization) {
			continue
		}
		if best == nil || u.ID < best.ID {
			candidate := u
			best = &candidate
		}
	}
	if best == nil {
		return nil, types.ErrNoDoctorAvailable
	}
	best.Specialties = slices.Clone(best.Specialties)
	return best, nil
}

func (s *Store) CreateConsultation(ctx context.Context, c *types.Consultation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("create consultation"); err != nil {
		return err
	}
	for _, id := range []string{c.PatientID, c.DoctorID} {
		if _, ok := s.users[id]; !ok {
			return types.StoreError("create consultation", fmt.Errorf("unknown user %q", id))
		}
	}
	if _, dup := s.consultations[c.ID]; dup {
		return types.StoreError("create consultation", fmt.Errorf("duplicate id %q", c.ID))
	}
	s.consultations[c.ID] = *c
	s.order = append(s.order, c.ID)
	return nil
}

func (s *Store) GetConsultation(ctx context.Context, id string) (*types.Consultation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check("get consultation"); err != nil {
		return nil, err
	}
	c, ok := s.consultations[id]
	if !ok {
		return nil, types.ErrConsultationNotFound
	}
	return &c, nil
}

func (s *Store) UpdateConsultationStatus(ctx context.Context, id string, from, to types.ConsultationStatus) (*types.Consultation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("update consultation status"); err != nil {
		return nil, err
	}
	c, ok := s.consultations[id]
	if !ok {
		return nil, types.ErrConsultationNotFound
	}
	if c.Status != from {
		return nil, fmt.Errorf("%w: expected %s, found %s", types.ErrStatusConflict, from, c.Status)
	}
	c.Status = to
	c.UpdatedAt = time.Now().UTC()
	s.consultations[id] = c
	return &c, nil
}

func (s *Store) ListConsultationsByPatient(ctx context.Context, patientID string) ([]*types.Consultation, error) {
	return s.list("list consultations", func(c types.Consultation) bool { return c.PatientID == patientID })
}

func (s *Store) ListConsultationsByDoctor(ctx context.Context, doctorID string) ([]*types.Consultation, error) {
	return s.list("list consultations", func(c types.Consultation) bool { return c.DoctorID == doctorID })
}

func (s *Store) list(op string, match func(types.Consultation) bool) ([]*types.Consultation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(op); err != nil {
		return nil, err
	}

	out := []*types.Consultation{}
	// Newest first; later insertions win ties.
	for i := len(s.order) - 1; i >= 0; i-- {
		c := s.consultations[s.order[i]]
		if match(c) {
			out = append(out, &c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) AppendMessage(ctx context.Context, m *types.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("append message"); err != nil {
		return err
	}
	if _, ok := s.consultations[m.ConsultationID]; !ok {
		return types.StoreError("append message", fmt.Errorf("unknown consultation %q", m.ConsultationID))
	}
	s.messages[m.ConsultationID] = append(s.messages[m.ConsultationID], *m)
	return nil
}

func (s *Store) ListMessages(ctx context.Context, consultationID string) ([]*types.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check("list messages"); err != nil {
		return nil, err
	}

	stored := s.messages[consultationID]
	out := make([]*types.Message, 0, len(stored))
	for i := range stored {
		m := stored[i]
		out = append(out, &m)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// MessageCount returns how many messages a consultation has.
func (s *Store) MessageCount(consultationID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages[consultationID])
}

func (s *Store) HealthCheck(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.check("health check")
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
