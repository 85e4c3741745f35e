package ports

import "github.com/neuraiproject/wcbridge/internal/core/domain"

// RepoManager gives access to the repositories of the configured storage.
type RepoManager interface {
	SessionRepository() domain.SessionRepository
	UtxoRepository() domain.UtxoRepository

	Close()
}
