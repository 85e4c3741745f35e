package domain_test

import (
	"errors"
	"testing"

	"github.com/neuraiproject/wcbridge/internal/core/domain"
	"github.com/stretchr/testify/require"
)

func TestPsbtSessionLifecycle(t *testing.T) {
	owner := domain.AccountId{Address: "owner"}
	keys := []domain.UtxoKey{{TxID: "aa", VOut: 0}, {TxID: "bb", VOut: 1}}

	session := domain.NewPsbtSession("cHNidP8=", keys)
	require.NotEmpty(t, session.ID)
	require.Equal(t, domain.PsbtStatusDecoded, session.Status)
	require.Len(t, session.Inputs, 2)

	err := session.Sign("signed")
	require.ErrorIs(t, err, domain.ErrInvalidPsbtTransition)

	err = session.VerifyInputs([]domain.AccountId{owner, owner})
	require.NoError(t, err)
	require.Equal(t, domain.PsbtStatusInputsVerified, session.Status)
	require.Equal(t, []int{0, 1}, session.InputsOwnedBy(owner))
	require.Empty(t, session.InputsOwnedBy(domain.AccountId{Address: "other"}))

	err = session.Sign("signed-1")
	require.NoError(t, err)
	err = session.Sign("signed-2")
	require.NoError(t, err)
	require.Equal(t, "signed-2", session.RawBase64)

	err = session.Finalize("rawhex")
	require.NoError(t, err)
	require.True(t, session.IsFinalized())
	require.True(t, session.IsTerminal())

	err = session.Finalize("otherhex")
	require.NoError(t, err)
	require.Equal(t, "rawhex", session.RawHex)

	require.False(t, session.Reject(errors.New("late")))
	require.True(t, session.IsFinalized())
}

func TestPsbtSessionReject(t *testing.T) {
	tests := []struct {
		name    string
		session func() *domain.PsbtSession
	}{
		{
			name: "from_decoded",
			session: func() *domain.PsbtSession {
				return domain.NewPsbtSession("", []domain.UtxoKey{{TxID: "aa"}})
			},
		},
		{
			name: "from_inputs_verified",
			session: func() *domain.PsbtSession {
				s := domain.NewPsbtSession("", []domain.UtxoKey{{TxID: "aa"}})
				s.VerifyInputs([]domain.AccountId{{Address: "a"}})
				return s
			},
		},
		{
			name: "from_signed",
			session: func() *domain.PsbtSession {
				s := domain.NewPsbtSession("", []domain.UtxoKey{{TxID: "aa"}})
				s.VerifyInputs([]domain.AccountId{{Address: "a"}})
				s.Sign("signed")
				return s
			},
		},
	}

	for i := range tests {
		tt := tests[i]
		t.Run(tt.name, func(t *testing.T) {
			session := tt.session()
			rejectErr := domain.NewPsbtError(
				domain.ErrUnknownInput, domain.StepVerifyInputs, 0, "not owned",
			)
			require.True(t, session.Reject(rejectErr))
			require.True(t, session.IsRejected())
			require.ErrorIs(t, session.RejectError, domain.ErrUnknownInput)

			// Nothing is reachable from a rejected session.
			require.False(t, session.Reject(rejectErr))
			require.ErrorIs(t, session.VerifyInputs(nil), domain.ErrInvalidPsbtTransition)
			require.ErrorIs(t, session.Sign("x"), domain.ErrInvalidPsbtTransition)
			require.ErrorIs(t, session.Finalize("x"), domain.ErrInvalidPsbtTransition)
		})
	}
}

func TestFailingPsbtSessionVerifyInputs(t *testing.T) {
	session := domain.NewPsbtSession("", []domain.UtxoKey{{TxID: "aa"}, {TxID: "bb"}})

	err := session.VerifyInputs([]domain.AccountId{{Address: "a"}})
	require.ErrorIs(t, err, domain.ErrUnknownInput)
	require.Equal(t, domain.PsbtStatusDecoded, session.Status)
}

func TestBridgeError(t *testing.T) {
	cause := errors.New("connection refused")
	err := domain.WrapError(domain.ErrRpc, cause, "getaddressutxos")
	require.ErrorIs(t, err, domain.ErrRpc)
	require.ErrorIs(t, err, cause)
	require.True(t, domain.IsRetryable(err))
	require.Equal(t, "chain rpc error: getaddressutxos: connection refused", err.Error())

	psbtErr := domain.NewPsbtError(
		domain.ErrIncompleteSignatures, domain.StepFinalize, 2, "missing signature",
	)
	require.Equal(
		t, "incomplete signatures (finalize, input 2): missing signature",
		psbtErr.Error(),
	)
	require.False(t, domain.IsRetryable(psbtErr))

	rejected := domain.WrapError(domain.ErrRpcRejected, domain.ErrRpc, "txn-mempool-conflict")
	require.False(t, domain.IsRetryable(rejected))

	var bridgeErr *domain.BridgeError
	require.True(t, errors.As(psbtErr, &bridgeErr))
	require.Equal(t, 2, bridgeErr.Input)
}
