package localcustody_test

import (
	"context"
	"crypto/sha256"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	localcustody "github.com/neuraiproject/wcbridge/internal/infrastructure/custody/local"
	"github.com/stretchr/testify/require"
)

var mnemonic = []string{
	"curious", "alien", "peanut", "protect", "capable", "charge", "recipe", "hub",
	"volume", "deal", "math", "make", "suggest", "bleak", "seat", "swim",
	"into", "save", "hint", "wood", "pioneer", "ball", "decline", "universe",
}

func TestCustody(t *testing.T) {
	custody, err := localcustody.NewService(mnemonic, "")
	require.NoError(t, err)

	ctx := context.Background()
	handle, err := custody.Derive(ctx, "m/44'/1900'/0'/0/0")
	require.NoError(t, err)
	require.Equal(t, "m/44'/1900'/0'/0/0", handle.GetPath())
	require.Len(t, handle.GetPubKey(), 33)

	// hex notation is normalized
	sameHandle, err := custody.Derive(ctx, "m/0x2c'/0x76c'/0'/0/0")
	require.NoError(t, err)
	require.Equal(t, handle.GetPath(), sameHandle.GetPath())
	require.Equal(t, handle.GetPubKey(), sameHandle.GetPubKey())

	pubkey, err := btcec.ParsePubKey(handle.GetPubKey())
	require.NoError(t, err)

	hash := sha256.Sum256([]byte("sighash"))
	derSig, err := custody.Sign(ctx, hash[:], handle.GetPath())
	require.NoError(t, err)
	sig, err := ecdsa.ParseDERSignature(derSig)
	require.NoError(t, err)
	require.True(t, sig.Verify(hash[:], pubkey))

	compactSig, err := custody.SignCompact(ctx, hash[:], handle.GetPath())
	require.NoError(t, err)
	recovered, _, err := ecdsa.RecoverCompact(compactSig, hash[:])
	require.NoError(t, err)
	require.True(t, recovered.IsEqual(pubkey))
}

func TestFailingCustody(t *testing.T) {
	_, err := localcustody.NewService(mnemonic[:23], "")
	require.Error(t, err)

	custody, err := localcustody.NewService(mnemonic, "")
	require.NoError(t, err)

	_, err = custody.Derive(context.Background(), "")
	require.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	hash := sha256.Sum256([]byte("sighash"))
	_, err = custody.Sign(ctx, hash[:], "m/44'/1900'/0'/0/0")
	require.ErrorIs(t, err, context.Canceled)
}
