package localcustody

import (
	"context"
	"fmt"

	"github.com/neuraiproject/wcbridge/internal/core/ports"
	"github.com/neuraiproject/wcbridge/pkg/wallet"
)

type publicKeyHandle struct {
	path   string
	pubkey []byte
}

func (h publicKeyHandle) GetPath() string {
	return h.path
}

func (h publicKeyHandle) GetPubKey() []byte {
	return h.pubkey
}

type service struct {
	wallet *wallet.Wallet
}

// NewService returns a Custody holding the key chain of the given mnemonic
// in process memory. It's meant for regtest and development setups, any
// other deployment should rely on a remote signer.
func NewService(mnemonic []string, passphrase string) (ports.Custody, error) {
	w, err := wallet.NewWallet(wallet.NewWalletOpts{
		SigningMnemonic: mnemonic,
		Passphrase:      passphrase,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to restore key chain: %w", err)
	}
	return &service{w}, nil
}

func (s *service) Derive(
	ctx context.Context, path string,
) (ports.PublicKeyHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	derivationPath, err := wallet.ParseDerivationPath(path)
	if err != nil {
		return nil, err
	}
	canonicalPath := derivationPath.String()

	pubkey, err := s.wallet.PublicKey(canonicalPath)
	if err != nil {
		return nil, err
	}
	return publicKeyHandle{canonicalPath, pubkey}, nil
}

func (s *service) Sign(
	ctx context.Context, sighash []byte, path string,
) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.wallet.Sign(path, sighash)
}

func (s *service) SignCompact(
	ctx context.Context, hash []byte, path string,
) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.wallet.SignCompact(path, hash)
}
