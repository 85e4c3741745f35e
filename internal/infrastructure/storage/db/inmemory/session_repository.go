package inmemory

import (
	"context"
	"sort"
	"sync"

	"github.com/neuraiproject/wcbridge/internal/core/domain"
)

// SessionRepositoryImpl represents an in memory storage
type SessionRepositoryImpl struct {
	sessions map[string]domain.Session
	lock     *sync.RWMutex
}

// NewSessionRepositoryImpl returns a new empty SessionRepositoryImpl
func NewSessionRepositoryImpl() *SessionRepositoryImpl {
	return &SessionRepositoryImpl{
		sessions: map[string]domain.Session{},
		lock:     &sync.RWMutex{},
	}
}

func (r *SessionRepositoryImpl) AddSession(
	_ context.Context, session domain.Session,
) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	if _, ok := r.sessions[session.Topic]; ok {
		return nil
	}
	r.sessions[session.Topic] = copySession(session)
	return nil
}

func (r *SessionRepositoryImpl) GetSession(
	_ context.Context, topic string,
) (*domain.Session, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	session, ok := r.sessions[topic]
	if !ok {
		return nil, domain.NewError(domain.ErrSessionNotFound, "%s", topic)
	}
	s := copySession(session)
	return &s, nil
}

func (r *SessionRepositoryImpl) GetAllSessions(
	_ context.Context,
) ([]domain.Session, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	sessions := make([]domain.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, copySession(s))
	}
	sort.SliceStable(sessions, func(i, j int) bool {
		if sessions[i].CreatedAt != sessions[j].CreatedAt {
			return sessions[i].CreatedAt < sessions[j].CreatedAt
		}
		return sessions[i].Topic < sessions[j].Topic
	})
	return sessions, nil
}

func (r *SessionRepositoryImpl) UpdateSession(
	_ context.Context,
	topic string,
	updateFn func(s *domain.Session) (*domain.Session, error),
) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	session, ok := r.sessions[topic]
	if !ok {
		return domain.NewError(domain.ErrSessionNotFound, "%s", topic)
	}

	s := copySession(session)
	updatedSession, err := updateFn(&s)
	if err != nil {
		return err
	}

	r.sessions[topic] = copySession(*updatedSession)
	return nil
}

func (r *SessionRepositoryImpl) DeleteSession(
	_ context.Context, topic string,
) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	delete(r.sessions, topic)
	return nil
}

func copySession(s domain.Session) domain.Session {
	s.Namespace = domain.SessionNamespace{
		Chains:   append([]domain.ChainId{}, s.Namespace.Chains...),
		Methods:  append([]domain.Method{}, s.Namespace.Methods...),
		Events:   append([]domain.Event{}, s.Namespace.Events...),
		Accounts: append([]domain.AccountId{}, s.Namespace.Accounts...),
	}
	return s
}
