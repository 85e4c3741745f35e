package domain

import "context"

// UtxoRepository is a keyed store of utxo snapshots by account. Replacing a
// snapshot is atomic: readers observe either the previous or the new set,
// never a mix of the two.
type UtxoRepository interface {
	ReplaceUtxoSnapshot(ctx context.Context, snapshot UtxoSnapshot) error
	// GetUtxoSnapshot returns nil if no snapshot exists for the account.
	GetUtxoSnapshot(
		ctx context.Context, accountId AccountId,
	) (*UtxoSnapshot, error)
	DeleteUtxoSnapshot(ctx context.Context, accountId AccountId) error
}
