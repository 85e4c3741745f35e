package domain

import "context"

// SessionRepository persists approved sessions so they can be resumed after
// a restart or a topic loss.
type SessionRepository interface {
	AddSession(ctx context.Context, session Session) error
	GetSession(ctx context.Context, topic string) (*Session, error)
	GetAllSessions(ctx context.Context) ([]Session, error)
	UpdateSession(
		ctx context.Context,
		topic string,
		updateFn func(s *Session) (*Session, error),
	) error
	DeleteSession(ctx context.Context, topic string) error
}
