package application

import (
	"context"

	"github.com/neuraiproject/wcbridge/internal/core/domain"
	log "github.com/sirupsen/logrus"
)

// OperatorService is the set of methods exposed to the operator of the
// bridge, through the operator HTTP interface.
type OperatorService interface {
	GetStatus(ctx context.Context) (*Status, error)
	ListSessions(ctx context.Context) ([]SessionInfo, error)
	Disconnect(ctx context.Context, topic string) error
	Pair(ctx context.Context, uri string) error
	ListAccounts(ctx context.Context) []AccountInfo
	AddAccount(ctx context.Context, path string) (*AccountInfo, error)
	RemoveAccount(ctx context.Context, address string) error
}

func (s *BridgeSupervisor) GetStatus(ctx context.Context) (*Status, error) {
	sessions, err := s.Sessions.GetAllSessions(ctx)
	if err != nil {
		return nil, err
	}
	return &Status{
		ChainId:        s.Network.ChainId.String(),
		Network:        s.Network.Name(),
		Running:        s.IsRunning(),
		ActiveSessions: len(sessions),
		Accounts:       len(s.Accounts.AccountIds()),
	}, nil
}

func (s *BridgeSupervisor) ListSessions(ctx context.Context) ([]SessionInfo, error) {
	sessions, err := s.Sessions.GetAllSessions(ctx)
	if err != nil {
		return nil, err
	}

	infos := make([]SessionInfo, 0, len(sessions))
	for _, session := range sessions {
		infos = append(infos, newSessionInfo(session, s.isResuming(session.Topic)))
	}
	return infos, nil
}

// Disconnect notifies the peer and closes the session. Requests in flight on
// the topic are cancelled.
func (s *BridgeSupervisor) Disconnect(ctx context.Context, topic string) error {
	if !s.IsRunning() {
		return ErrSupervisorStopped
	}
	if _, err := s.Sessions.GetSession(ctx, topic); err != nil {
		return err
	}

	s.disconnect(ctx, topic, "user disconnected")
	s.closeSession(topic, "disconnected by operator")
	return nil
}

// Pair hands a WalletConnect pairing uri to the transport. The resulting
// proposal is delivered through the event queue.
func (s *BridgeSupervisor) Pair(ctx context.Context, uri string) error {
	if !s.IsRunning() {
		return ErrSupervisorStopped
	}
	if uri == "" {
		return domain.NewError(domain.ErrInvalidParams, "missing pairing uri")
	}
	return s.Transport.Pair(ctx, uri)
}

func (s *BridgeSupervisor) ListAccounts(_ context.Context) []AccountInfo {
	accounts := s.Accounts.Accounts()
	infos := make([]AccountInfo, 0, len(accounts))
	for _, a := range accounts {
		infos = append(infos, AccountInfo{
			AccountId: a.AccountId.String(),
			Address:   a.Address(),
			Path:      a.Path,
		})
	}
	return infos
}

// AddAccount derives the account at path and, if new, grants it to every
// session.
func (s *BridgeSupervisor) AddAccount(
	ctx context.Context, path string,
) (*AccountInfo, error) {
	account, added, err := s.Accounts.Derive(ctx, path)
	if err != nil {
		return nil, err
	}
	if added {
		log.Infof("added account %s at path %s", account.AccountId, account.Path)
		s.syncAllNamespaces()
	}
	return &AccountInfo{
		AccountId: account.AccountId.String(),
		Address:   account.Address(),
		Path:      account.Path,
	}, nil
}

// RemoveAccount removes the account and revokes it from every session.
func (s *BridgeSupervisor) RemoveAccount(_ context.Context, address string) error {
	if _, err := s.Network.ValidateAddress(address); err != nil {
		return err
	}
	if !s.Accounts.Remove(address) {
		return domain.NewError(
			domain.ErrInvalidAccountId, "account %s not found", address,
		)
	}
	log.Infof("removed account %s", address)
	s.syncAllNamespaces()
	return nil
}
