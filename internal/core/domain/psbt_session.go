package domain

import (
	"github.com/google/uuid"
)

// PsbtStatus represents the different statuses a psbt signing session can
// assume.
type PsbtStatus int

const (
	PsbtStatusUndefined PsbtStatus = iota
	PsbtStatusDecoded
	PsbtStatusInputsVerified
	PsbtStatusSigned
	PsbtStatusFinalized
	PsbtStatusRejected
)

var psbtStatusNames = map[PsbtStatus]string{
	PsbtStatusUndefined:      "undefined",
	PsbtStatusDecoded:        "decoded",
	PsbtStatusInputsVerified: "inputs_verified",
	PsbtStatusSigned:         "signed",
	PsbtStatusFinalized:      "finalized",
	PsbtStatusRejected:       "rejected",
}

func (s PsbtStatus) String() string {
	return psbtStatusNames[s]
}

// PsbtInputRef references the utxo spent by a psbt input by outpoint, never
// by value, along with the account owning it once inputs are verified.
type PsbtInputRef struct {
	Index int
	Key   UtxoKey
	Owner AccountId
}

// PsbtSession is the state of a single signing request. It's never persisted
// and it's discarded once a terminal status is reached and the response is
// sent.
type PsbtSession struct {
	ID          string
	RawBase64   string
	Inputs      []PsbtInputRef
	Status      PsbtStatus
	RawHex      string
	RejectError error
}

// NewPsbtSession returns a session in Decoded status.
func NewPsbtSession(rawBase64 string, inputKeys []UtxoKey) *PsbtSession {
	inputs := make([]PsbtInputRef, 0, len(inputKeys))
	for i, key := range inputKeys {
		inputs = append(inputs, PsbtInputRef{Index: i, Key: key})
	}
	return &PsbtSession{
		ID:        uuid.New().String(),
		RawBase64: rawBase64,
		Inputs:    inputs,
		Status:    PsbtStatusDecoded,
	}
}

func (s *PsbtSession) IsTerminal() bool {
	return s.Status == PsbtStatusFinalized || s.Status == PsbtStatusRejected
}

func (s *PsbtSession) IsFinalized() bool {
	return s.Status == PsbtStatusFinalized
}

func (s *PsbtSession) IsRejected() bool {
	return s.Status == PsbtStatusRejected
}

// VerifyInputs brings a Decoded session to the InputsVerified status by
// recording the owner of every input.
func (s *PsbtSession) VerifyInputs(owners []AccountId) error {
	if s.Status != PsbtStatusDecoded {
		return s.invalidTransition(PsbtStatusInputsVerified)
	}
	if len(owners) != len(s.Inputs) {
		return NewPsbtError(
			ErrUnknownInput, StepVerifyInputs, NoInput,
			"got %d owners for %d inputs", len(owners), len(s.Inputs),
		)
	}
	for i := range s.Inputs {
		s.Inputs[i].Owner = owners[i]
	}
	s.Status = PsbtStatusInputsVerified
	return nil
}

// CanSign returns whether a new signing round is allowed.
func (s *PsbtSession) CanSign() bool {
	return s.Status == PsbtStatusInputsVerified || s.Status == PsbtStatusSigned
}

// Sign records a new signing round. Multiple rounds are allowed, one per
// account owning inputs.
func (s *PsbtSession) Sign(rawBase64 string) error {
	if !s.CanSign() {
		return s.invalidTransition(PsbtStatusSigned)
	}
	s.RawBase64 = rawBase64
	s.Status = PsbtStatusSigned
	return nil
}

// Finalize brings the session to the terminal Finalized status. Calling it on
// an already finalized session is a no-op.
func (s *PsbtSession) Finalize(rawHex string) error {
	if s.Status == PsbtStatusFinalized {
		return nil
	}
	if s.IsTerminal() || s.Status == PsbtStatusUndefined {
		return s.invalidTransition(PsbtStatusFinalized)
	}
	s.RawHex = rawHex
	s.Status = PsbtStatusFinalized
	return nil
}

// Reject brings any non terminal session to the Rejected status.
func (s *PsbtSession) Reject(err error) bool {
	if s.IsTerminal() {
		return false
	}
	s.RejectError = err
	s.Status = PsbtStatusRejected
	return true
}

// InputsOwnedBy returns the indexes of the inputs owned by the given account.
func (s *PsbtSession) InputsOwnedBy(accountId AccountId) []int {
	indexes := make([]int, 0)
	for _, in := range s.Inputs {
		if in.Owner == accountId {
			indexes = append(indexes, in.Index)
		}
	}
	return indexes
}

func (s *PsbtSession) invalidTransition(to PsbtStatus) error {
	return NewError(
		ErrInvalidPsbtTransition, "psbt %s: %s -> %s", s.ID, s.Status, to,
	)
}
