package registry

import (
	"context"
	"fmt"
	"sync"

	"github.com/neuraiproject/wcbridge/internal/core/domain"
	"github.com/neuraiproject/wcbridge/internal/core/ports"
	log "github.com/sirupsen/logrus"
)

// Service keeps the ordered list of accounts derived through the custody
// collaborator. Accounts live in memory only and are derived again from the
// configured paths at every startup.
type Service struct {
	network *domain.Network
	custody ports.Custody

	lock     *sync.RWMutex
	accounts []domain.DerivedAccount
}

func NewService(network *domain.Network, custody ports.Custody) (*Service, error) {
	if network == nil {
		return nil, fmt.Errorf("missing network")
	}
	if custody == nil {
		return nil, fmt.Errorf("missing custody")
	}
	return &Service{
		network:  network,
		custody:  custody,
		lock:     &sync.RWMutex{},
		accounts: make([]domain.DerivedAccount, 0),
	}, nil
}

// Derive asks custody for the public key at path and registers the resulting
// account. Deriving an already known path returns the existing account.
func (s *Service) Derive(
	ctx context.Context, path string,
) (*domain.DerivedAccount, bool, error) {
	if path == "" {
		return nil, false, domain.NewError(
			domain.ErrInvalidParams, "missing derivation path",
		)
	}

	s.lock.RLock()
	for _, a := range s.accounts {
		if a.Path == path {
			s.lock.RUnlock()
			account := a
			return &account, false, nil
		}
	}
	s.lock.RUnlock()

	handle, err := s.custody.Derive(ctx, path)
	if err != nil {
		return nil, false, err
	}
	address, err := s.network.AddressFromPubKey(handle.GetPubKey())
	if err != nil {
		return nil, false, fmt.Errorf("invalid public key for path %s: %w", path, err)
	}
	account := domain.DerivedAccount{
		AccountId: s.network.AccountId(address),
		Path:      handle.GetPath(),
		PubKey:    handle.GetPubKey(),
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	for _, a := range s.accounts {
		if a.AccountId == account.AccountId {
			existing := a
			return &existing, false, nil
		}
	}
	s.accounts = append(s.accounts, account)

	log.Infof("derived account %s at path %s", account.AccountId, account.Path)
	return &account, true, nil
}

// Remove forgets the account with the given address and returns whether it
// was known.
func (s *Service) Remove(address string) bool {
	s.lock.Lock()
	defer s.lock.Unlock()

	for i, a := range s.accounts {
		if a.Address() == address {
			s.accounts = append(s.accounts[:i], s.accounts[i+1:]...)
			log.Infof("removed account %s", a.AccountId)
			return true
		}
	}
	return false
}

func (s *Service) GetAccount(
	accountId domain.AccountId,
) (*domain.DerivedAccount, bool) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	for _, a := range s.accounts {
		if a.AccountId == accountId {
			account := a
			return &account, true
		}
	}
	return nil, false
}

// Accounts returns a copy of the registered accounts in derivation order.
func (s *Service) Accounts() []domain.DerivedAccount {
	s.lock.RLock()
	defer s.lock.RUnlock()

	return append([]domain.DerivedAccount{}, s.accounts...)
}

func (s *Service) AccountIds() []domain.AccountId {
	s.lock.RLock()
	defer s.lock.RUnlock()

	ids := make([]domain.AccountId, 0, len(s.accounts))
	for _, a := range s.accounts {
		ids = append(ids, a.AccountId)
	}
	return ids
}
