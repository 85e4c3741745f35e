package inmemory

import (
	"github.com/neuraiproject/wcbridge/internal/core/domain"
	"github.com/neuraiproject/wcbridge/internal/core/ports"
)

type repoManager struct {
	sessionRepository domain.SessionRepository
	utxoRepository    domain.UtxoRepository
}

func NewRepoManager() ports.RepoManager {
	return &repoManager{
		sessionRepository: NewSessionRepositoryImpl(),
		utxoRepository:    NewUtxoRepositoryImpl(),
	}
}

func (m *repoManager) SessionRepository() domain.SessionRepository {
	return m.sessionRepository
}

func (m *repoManager) UtxoRepository() domain.UtxoRepository {
	return m.utxoRepository
}

func (m *repoManager) Close() {}
