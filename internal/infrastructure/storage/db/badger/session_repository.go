package dbbadger

import (
	"context"
	"errors"
	"sort"

	"github.com/dgraph-io/badger/v3"
	"github.com/neuraiproject/wcbridge/internal/core/domain"
	"github.com/timshannon/badgerhold/v4"
)

type sessionRepositoryImpl struct {
	store *badgerhold.Store
}

// NewSessionRepositoryImpl returns a badger implementation of
// domain.SessionRepository. Sessions are keyed by topic.
func NewSessionRepositoryImpl(store *badgerhold.Store) domain.SessionRepository {
	return &sessionRepositoryImpl{store}
}

func (r *sessionRepositoryImpl) AddSession(
	_ context.Context, session domain.Session,
) error {
	err := r.store.Insert(session.Topic, session)
	if err != nil && !errors.Is(err, badgerhold.ErrKeyExists) {
		return err
	}
	return nil
}

func (r *sessionRepositoryImpl) GetSession(
	_ context.Context, topic string,
) (*domain.Session, error) {
	var session domain.Session
	if err := r.store.Get(topic, &session); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, domain.NewError(domain.ErrSessionNotFound, "%s", topic)
		}
		return nil, err
	}
	return &session, nil
}

func (r *sessionRepositoryImpl) GetAllSessions(
	_ context.Context,
) ([]domain.Session, error) {
	var sessions []domain.Session
	if err := r.store.Find(&sessions, nil); err != nil {
		return nil, err
	}
	sort.SliceStable(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt < sessions[j].CreatedAt
	})
	return sessions, nil
}

func (r *sessionRepositoryImpl) UpdateSession(
	_ context.Context,
	topic string,
	updateFn func(s *domain.Session) (*domain.Session, error),
) error {
	return r.store.Badger().Update(func(tx *badger.Txn) error {
		var session domain.Session
		if err := r.store.TxGet(tx, topic, &session); err != nil {
			if errors.Is(err, badgerhold.ErrNotFound) {
				return domain.NewError(domain.ErrSessionNotFound, "%s", topic)
			}
			return err
		}

		updatedSession, err := updateFn(&session)
		if err != nil {
			return err
		}

		return r.store.TxUpdate(tx, topic, *updatedSession)
	})
}

func (r *sessionRepositoryImpl) DeleteSession(
	_ context.Context, topic string,
) error {
	err := r.store.Delete(topic, domain.Session{})
	if err != nil && !errors.Is(err, badgerhold.ErrNotFound) {
		return err
	}
	return nil
}
