package wallet

import (
	"crypto/sha256"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/stretchr/testify/require"
)

var testMnemonic = []string{
	"curious", "alien", "peanut", "protect", "capable", "charge", "recipe", "hub",
	"volume", "deal", "math", "make", "suggest", "bleak", "seat", "swim",
	"into", "save", "hint", "wood", "pioneer", "ball", "decline", "universe",
}

func TestNewWallet(t *testing.T) {
	w, err := NewWallet(NewWalletOpts{SigningMnemonic: testMnemonic})
	require.NoError(t, err)
	require.NotNil(t, w)

	mnemonic, err := NewMnemonic(NewMnemonicOpts{EntropySize: 256})
	require.NoError(t, err)
	require.Len(t, mnemonic, 24)
	require.True(t, IsMnemonicValid(mnemonic))

	w, err = NewWallet(NewWalletOpts{SigningMnemonic: mnemonic})
	require.NoError(t, err)
	require.NotNil(t, w)
}

func TestFailingNewWallet(t *testing.T) {
	tests := []struct {
		name string
		opts NewWalletOpts
		err  error
	}{
		{
			name: "null_mnemonic",
			opts: NewWalletOpts{},
			err:  ErrNullSigningMnemonic,
		},
		{
			name: "invalid_mnemonic",
			opts: NewWalletOpts{
				SigningMnemonic: append([]string{"notaword"}, testMnemonic[1:]...),
			},
			err: ErrInvalidSigningMnemonic,
		},
	}

	for i := range tests {
		tt := tests[i]
		t.Run(tt.name, func(t *testing.T) {
			w, err := NewWallet(tt.opts)
			require.ErrorIs(t, err, tt.err)
			require.Nil(t, w)
		})
	}
}

func TestFailingNewMnemonic(t *testing.T) {
	for _, size := range []int{-1, 100, 160 + 1, 512} {
		_, err := NewMnemonic(NewMnemonicOpts{EntropySize: size})
		require.ErrorIs(t, err, ErrInvalidEntropySize)
	}
}

func TestPublicKey(t *testing.T) {
	w, err := NewWallet(NewWalletOpts{SigningMnemonic: testMnemonic})
	require.NoError(t, err)

	pubkey, err := w.PublicKey("m/44'/1900'/0'/0/0")
	require.NoError(t, err)
	require.Len(t, pubkey, 33)

	// same key regardless of the notation
	samePubkey, err := w.PublicKey(DefaultAccountPath(0, 0).String())
	require.NoError(t, err)
	require.Equal(t, pubkey, samePubkey)

	otherPubkey, err := w.PublicKey("m/44'/1900'/0'/0/1")
	require.NoError(t, err)
	require.NotEqual(t, pubkey, otherPubkey)

	restored, err := NewWallet(NewWalletOpts{SigningMnemonic: testMnemonic})
	require.NoError(t, err)
	restoredPubkey, err := restored.PublicKey("m/44'/1900'/0'/0/0")
	require.NoError(t, err)
	require.Equal(t, pubkey, restoredPubkey)

	withPassphrase, err := NewWallet(NewWalletOpts{
		SigningMnemonic: testMnemonic,
		Passphrase:      "passphrase",
	})
	require.NoError(t, err)
	otherPubkey, err = withPassphrase.PublicKey("m/44'/1900'/0'/0/0")
	require.NoError(t, err)
	require.NotEqual(t, pubkey, otherPubkey)
}

func TestSign(t *testing.T) {
	w, err := NewWallet(NewWalletOpts{SigningMnemonic: testMnemonic})
	require.NoError(t, err)

	path := "m/44'/1900'/0'/0/0"
	hash := sha256.Sum256([]byte("message"))

	serializedPubkey, err := w.PublicKey(path)
	require.NoError(t, err)
	pubkey, err := btcec.ParsePubKey(serializedPubkey)
	require.NoError(t, err)

	derSig, err := w.Sign(path, hash[:])
	require.NoError(t, err)
	sig, err := ecdsa.ParseDERSignature(derSig)
	require.NoError(t, err)
	require.True(t, sig.Verify(hash[:], pubkey))

	compactSig, err := w.SignCompact(path, hash[:])
	require.NoError(t, err)
	require.Len(t, compactSig, 65)
	recovered, compressed, err := ecdsa.RecoverCompact(compactSig, hash[:])
	require.NoError(t, err)
	require.True(t, compressed)
	require.Equal(t, serializedPubkey, recovered.SerializeCompressed())
}

func TestFailingSign(t *testing.T) {
	w, err := NewWallet(NewWalletOpts{SigningMnemonic: testMnemonic})
	require.NoError(t, err)

	hash := sha256.Sum256([]byte("message"))

	_, err = w.Sign("", hash[:])
	require.ErrorIs(t, err, ErrNullDerivationPath)

	_, err = w.Sign("m/", hash[:])
	require.ErrorIs(t, err, ErrMalformedDerivationPath)

	_, err = w.Sign("m/44'/1900'/0'/0/0", nil)
	require.ErrorIs(t, err, ErrNullHash)

	_, err = w.SignCompact("m/44'/1900'/0'/0/0", hash[:20])
	require.ErrorIs(t, err, ErrInvalidHashLength)
}
