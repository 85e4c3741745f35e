package inmemory

import (
	"context"
	"sync"

	"github.com/neuraiproject/wcbridge/internal/core/domain"
)

// UtxoRepositoryImpl represents an in memory storage. Snapshots are never
// modified in place, they're swapped as a whole under the write lock.
type UtxoRepositoryImpl struct {
	snapshots map[domain.AccountId]domain.UtxoSnapshot
	lock      *sync.RWMutex
}

// NewUtxoRepositoryImpl returns a new empty UtxoRepositoryImpl
func NewUtxoRepositoryImpl() *UtxoRepositoryImpl {
	return &UtxoRepositoryImpl{
		snapshots: map[domain.AccountId]domain.UtxoSnapshot{},
		lock:      &sync.RWMutex{},
	}
}

func (r *UtxoRepositoryImpl) ReplaceUtxoSnapshot(
	_ context.Context, snapshot domain.UtxoSnapshot,
) error {
	snapshot.Utxos = append([]domain.Utxo{}, snapshot.Utxos...)

	r.lock.Lock()
	defer r.lock.Unlock()

	r.snapshots[snapshot.AccountId] = snapshot
	return nil
}

func (r *UtxoRepositoryImpl) GetUtxoSnapshot(
	_ context.Context, accountId domain.AccountId,
) (*domain.UtxoSnapshot, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	snapshot, ok := r.snapshots[accountId]
	if !ok {
		return nil, nil
	}
	snapshot.Utxos = append([]domain.Utxo{}, snapshot.Utxos...)
	return &snapshot, nil
}

func (r *UtxoRepositoryImpl) DeleteUtxoSnapshot(
	_ context.Context, accountId domain.AccountId,
) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	delete(r.snapshots, accountId)
	return nil
}
