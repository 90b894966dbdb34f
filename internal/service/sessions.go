package service

import (
	"time"

	"github.com/boddenberg/vehicle-tax-portal/internal/domain"
	"github.com/boddenberg/vehicle-tax-portal/internal/infra/observability"
	"github.com/boddenberg/vehicle-tax-portal/internal/port"

	"github.com/google/uuid"
)

// SessionManager keeps wizard sessions in a TTL cache and hands each one to
// a single request at a time.
type SessionManager struct {
	store   port.Cache[*domain.Session]
	metrics *observability.Metrics
	now     func() time.Time
}

// NewSessionManager creates a session manager over store.
func NewSessionManager(store port.Cache[*domain.Session], metrics *observability.Metrics) *SessionManager {
	return &SessionManager{store: store, metrics: metrics, now: time.Now}
}

// Create starts a session at step 1 for op, which may be nil.
func (m *SessionManager) Create(op *domain.Operator) *domain.Session {
	s := domain.NewSession(uuid.NewString(), op, m.now())
	s.Commit()
	m.store.Set(s.ID, s)
	m.metrics.SessionStarted()
	return s
}

// Get returns the session without claiming it.
func (m *SessionManager) Get(id string) (*domain.Session, error) {
	s, ok := m.store.Get(id)
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "session", ID: id}
	}
	return s, nil
}

// View returns the session as of its last completed request. It does not
// wait for or take the claim, so it is safe while a request is in flight.
func (m *SessionManager) View(id string) (*domain.Session, error) {
	s, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	if c := s.Committed(); c != nil {
		return c, nil
	}
	return nil, &domain.ErrSessionBusy{SessionID: id}
}

// Acquire claims the session for the calling request. The returned release
// func refreshes the session's TTL and frees it.
func (m *SessionManager) Acquire(id string) (*domain.Session, func(), error) {
	s, err := m.Get(id)
	if err != nil {
		return nil, nil, err
	}
	if !s.TryAcquire() {
		return nil, nil, &domain.ErrSessionBusy{SessionID: id}
	}
	release := func() {
		s.UpdatedAt = m.now()
		s.Commit()
		if _, ok := m.store.Get(id); ok {
			m.store.Set(id, s)
		}
		s.Release()
	}
	return s, release, nil
}

// Delete discards the session.
func (m *SessionManager) Delete(id string) error {
	if _, ok := m.store.Get(id); !ok {
		return &domain.ErrNotFound{Resource: "session", ID: id}
	}
	m.store.Delete(id)
	return nil
}
