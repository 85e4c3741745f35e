package domain

import (
	"fmt"
	"time"
)

// UtxoKey represent the ID of an Utxo, composed by its txid and vout.
type UtxoKey struct {
	TxID string
	VOut uint32
}

func (k UtxoKey) String() string {
	return fmt.Sprintf("%s:%d", k.TxID, k.VOut)
}

// Utxo is an unspent output owned by one of the accounts known to the bridge.
type Utxo struct {
	TxID          string
	VOut          uint32
	Value         uint64
	Address       string
	ScriptPubKey  []byte
	Confirmations uint32
}

func (u Utxo) Key() UtxoKey {
	return UtxoKey{u.TxID, u.VOut}
}

// UtxoSnapshot is the full set of utxos of an account as returned by the
// chain node at FetchedAt. A snapshot always replaces the previous one as a
// whole.
type UtxoSnapshot struct {
	AccountId AccountId
	Utxos     []Utxo
	FetchedAt int64
}

// IsStale returns whether the snapshot is older than maxAge.
func (s UtxoSnapshot) IsStale(maxAge time.Duration, now time.Time) bool {
	return now.Sub(time.Unix(s.FetchedAt, 0)) > maxAge
}

// Find returns the utxo identified by key, if part of the snapshot.
func (s UtxoSnapshot) Find(key UtxoKey) (Utxo, bool) {
	for _, u := range s.Utxos {
		if u.Key() == key {
			return u, true
		}
	}
	return Utxo{}, false
}

// OwnedUtxo is the result of resolving an outpoint against the snapshots of
// a set of accounts.
type OwnedUtxo struct {
	Utxo  Utxo
	Owner AccountId
	Stale bool
}
