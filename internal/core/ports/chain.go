package ports

import "context"

// ChainUtxo is an unspent output as returned by the chain node.
type ChainUtxo interface {
	GetTxid() string
	GetIndex() uint32
	GetValue() uint64
	GetAddress() string
	GetScript() []byte
	GetConfirmations() uint32
}

// ChainRPC is the chain node collaborator. Failures are always returned as
// domain.BridgeError of kind ErrRpc (transient), ErrRpcRejected (the node
// refused the request itself) or ErrTransportTimeout.
type ChainRPC interface {
	GetUtxos(ctx context.Context, address string) ([]ChainUtxo, error)
	GetRawTransaction(ctx context.Context, txid string) (string, error)
	BroadcastRawTransaction(ctx context.Context, txHex string) (string, error)
	GetBlockHash(ctx context.Context, height uint32) (string, error)
	GetBlockCount(ctx context.Context) (uint32, error)
}
