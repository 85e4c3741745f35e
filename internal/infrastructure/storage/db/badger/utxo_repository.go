package dbbadger

import (
	"context"
	"errors"

	"github.com/neuraiproject/wcbridge/internal/core/domain"
	"github.com/timshannon/badgerhold/v4"
)

type utxoRepositoryImpl struct {
	store *badgerhold.Store
}

// NewUtxoRepositoryImpl returns a badger implementation of
// domain.UtxoRepository. A snapshot is stored as a single record keyed by
// account id, therefore replacing it is atomic.
func NewUtxoRepositoryImpl(store *badgerhold.Store) domain.UtxoRepository {
	return &utxoRepositoryImpl{store}
}

func (r *utxoRepositoryImpl) ReplaceUtxoSnapshot(
	_ context.Context, snapshot domain.UtxoSnapshot,
) error {
	return r.store.Upsert(snapshot.AccountId.String(), snapshot)
}

func (r *utxoRepositoryImpl) GetUtxoSnapshot(
	_ context.Context, accountId domain.AccountId,
) (*domain.UtxoSnapshot, error) {
	var snapshot domain.UtxoSnapshot
	if err := r.store.Get(accountId.String(), &snapshot); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &snapshot, nil
}

func (r *utxoRepositoryImpl) DeleteUtxoSnapshot(
	_ context.Context, accountId domain.AccountId,
) error {
	err := r.store.Delete(accountId.String(), domain.UtxoSnapshot{})
	if err != nil && !errors.Is(err, badgerhold.ErrNotFound) {
		return err
	}
	return nil
}
