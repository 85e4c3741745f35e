package wallet

import (
	"errors"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
)

var (
	// ErrNullSigningMnemonic ...
	ErrNullSigningMnemonic = errors.New("signing mnemonic is null")
	// ErrNullDerivationPath ...
	ErrNullDerivationPath = errors.New("derivation path must not be null")
	// ErrNullHash ...
	ErrNullHash = errors.New("hash to sign must not be null")

	// ErrInvalidSigningMnemonic ...
	ErrInvalidSigningMnemonic = errors.New("signing mnemonic is invalid")
	// ErrInvalidEntropySize ...
	ErrInvalidEntropySize = errors.New(
		"entropy size must be a multiple of 32 in the range [128,256]",
	)
	// ErrInvalidDerivationPath ...
	ErrInvalidDerivationPath = errors.New("invalid derivation path")
	// ErrInvalidHashLength ...
	ErrInvalidHashLength = errors.New("hash to sign must be 32 bytes long")
	// ErrMalformedDerivationPath is returned for paths not in the form
	// m/<index>[']/...
	ErrMalformedDerivationPath = errors.New(
		"path must start with 'm/' and have no empty components",
	)
	// ErrDerivationPathTooDeep ...
	ErrDerivationPathTooDeep = errors.New("derivation path exceeds max depth")
)

// NewWalletOpts is the struct given to NewWallet.
type NewWalletOpts struct {
	SigningMnemonic []string
	Passphrase      string
}

func (o NewWalletOpts) validate() error {
	if len(o.SigningMnemonic) <= 0 {
		return ErrNullSigningMnemonic
	}
	if !isMnemonicValid(o.SigningMnemonic) {
		return ErrInvalidSigningMnemonic
	}
	return nil
}

// Wallet is a BIP32 key chain rooted at the seed of a BIP39 mnemonic.
// Derived keys are cached by path.
type Wallet struct {
	masterKey *hdkeychain.ExtendedKey

	lock *sync.RWMutex
	keys map[string]*btcec.PrivateKey
}

// NewWallet restores the key chain of the given mnemonic.
func NewWallet(opts NewWalletOpts) (*Wallet, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}

	seed := generateSeedFromMnemonic(opts.SigningMnemonic, opts.Passphrase)
	// the network params only affect the serialization of extended keys,
	// never exported by the wallet.
	masterKey, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return nil, err
	}

	return &Wallet{
		masterKey: masterKey,
		lock:      &sync.RWMutex{},
		keys:      make(map[string]*btcec.PrivateKey),
	}, nil
}

// PublicKey returns the compressed public key at the given derivation path.
func (w *Wallet) PublicKey(path string) ([]byte, error) {
	key, err := w.deriveKey(path)
	if err != nil {
		return nil, err
	}
	return key.PubKey().SerializeCompressed(), nil
}

// Sign returns the DER encoded signature of hash with the key at the given
// derivation path.
func (w *Wallet) Sign(path string, hash []byte) ([]byte, error) {
	if err := validateHash(hash); err != nil {
		return nil, err
	}
	key, err := w.deriveKey(path)
	if err != nil {
		return nil, err
	}
	return ecdsa.Sign(key, hash).Serialize(), nil
}

// SignCompact returns the recoverable signature of hash with the key at the
// given derivation path.
func (w *Wallet) SignCompact(path string, hash []byte) ([]byte, error) {
	if err := validateHash(hash); err != nil {
		return nil, err
	}
	key, err := w.deriveKey(path)
	if err != nil {
		return nil, err
	}
	return ecdsa.SignCompact(key, hash, true), nil
}

func (w *Wallet) deriveKey(path string) (*btcec.PrivateKey, error) {
	derivationPath, err := ParseDerivationPath(path)
	if err != nil {
		return nil, err
	}
	canonicalPath := derivationPath.String()

	w.lock.RLock()
	key, ok := w.keys[canonicalPath]
	w.lock.RUnlock()
	if ok {
		return key, nil
	}

	hdNode := w.masterKey
	for _, step := range derivationPath {
		hdNode, err = hdNode.Derive(step)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrInvalidDerivationPath, err)
		}
	}
	key, err = hdNode.ECPrivKey()
	if err != nil {
		return nil, err
	}

	w.lock.Lock()
	w.keys[canonicalPath] = key
	w.lock.Unlock()

	return key, nil
}

func validateHash(hash []byte) error {
	if len(hash) <= 0 {
		return ErrNullHash
	}
	if len(hash) != 32 {
		return ErrInvalidHashLength
	}
	return nil
}
