package ports

import "context"

// PublicKeyHandle is what the custody collaborator reveals of a derived key.
type PublicKeyHandle interface {
	GetPath() string
	// GetPubKey returns the compressed serialization of the public key.
	GetPubKey() []byte
}

// Custody holds the private keys. The bridge only ever references keys by
// derivation path.
type Custody interface {
	Derive(ctx context.Context, path string) (PublicKeyHandle, error)
	// Sign returns the DER encoded ECDSA signature of the given sighash,
	// without sighash type byte.
	Sign(ctx context.Context, sighash []byte, path string) ([]byte, error)
	// SignCompact returns the 65-byte recoverable signature of the given hash.
	SignCompact(ctx context.Context, hash []byte, path string) ([]byte, error)
}
