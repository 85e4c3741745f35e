package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidChainId is returned when a string is not a valid bip122 chain
	// identifier.
	ErrInvalidChainId = errors.New("invalid chain id")
	// ErrInvalidAccountId is returned when a string is not a valid account
	// identifier, or its address is not valid for the chain.
	ErrInvalidAccountId = errors.New("invalid account id")
	// ErrUnsupportedChain is returned when a chain is not served by the bridge.
	ErrUnsupportedChain = errors.New("unsupported chain")
	// ErrUnsupportedMethod is returned for methods the bridge does not
	// implement.
	ErrUnsupportedMethod = errors.New("unsupported method")
	// ErrUnauthorizedMethod is returned for implemented methods that were not
	// granted to the session.
	ErrUnauthorizedMethod = errors.New("method not authorized for session")
	// ErrUnauthorizedAccount is returned when a request targets an account
	// that is not part of the session.
	ErrUnauthorizedAccount = errors.New("account not authorized for session")
	// ErrMalformedPsbt ...
	ErrMalformedPsbt = errors.New("malformed psbt")
	// ErrUnknownInput ...
	ErrUnknownInput = errors.New("unknown input")
	// ErrIncompleteSignatures ...
	ErrIncompleteSignatures = errors.New("incomplete signatures")
	// ErrSigningDenied ...
	ErrSigningDenied = errors.New("signing denied")
	// ErrInsufficientFunds ...
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrRpc is a retryable chain node failure.
	ErrRpc = errors.New("chain rpc error")
	// ErrRpcRejected is a terminal chain node failure, the request itself is
	// invalid for the network (ie. double spend) and must not be retried.
	ErrRpcRejected = errors.New("rejected by chain node")
	// ErrTransportTimeout is returned when a collaborator did not answer
	// within the deadline. The whole request can be retried.
	ErrTransportTimeout = errors.New("timeout")
	// ErrInvalidParams ...
	ErrInvalidParams = errors.New("invalid params")
	// ErrSessionNotFound ...
	ErrSessionNotFound = errors.New("session not found")
	// ErrRequestCancelled is returned for requests whose session was
	// disconnected or lost while they were in flight.
	ErrRequestCancelled = errors.New("request cancelled")
	// ErrInvalidPsbtTransition is returned when a psbt session is moved to a
	// status not reachable from the current one.
	ErrInvalidPsbtTransition = errors.New("invalid psbt session transition")
)

const (
	// NoInput is the Input value of errors not related to a specific input.
	NoInput = -1

	StepDecode       = "decode"
	StepVerifyInputs = "verify_inputs"
	StepSign         = "sign"
	StepFinalize     = "finalize"
	StepBroadcast    = "broadcast"
)

// BridgeError is the typed error returned by every component of the bridge.
// Kind is always one of the sentinel errors of this package so that callers
// can use errors.Is to classify it, while Step and Input tell which part of a
// signing or broadcast flow failed.
type BridgeError struct {
	Kind   error
	Step   string
	Input  int
	Reason string
	Err    error
}

// NewError returns a BridgeError of the given kind not bound to any step.
func NewError(kind error, reason string, args ...interface{}) *BridgeError {
	return &BridgeError{
		Kind:   kind,
		Input:  NoInput,
		Reason: fmt.Sprintf(reason, args...),
	}
}

// WrapError returns a BridgeError of the given kind that wraps cause.
func WrapError(kind error, cause error, reason string, args ...interface{}) *BridgeError {
	e := NewError(kind, reason, args...)
	e.Err = cause
	return e
}

// NewPsbtError returns a BridgeError bound to a psbt pipeline step and,
// optionally, to an input index.
func NewPsbtError(
	kind error, step string, input int, reason string, args ...interface{},
) *BridgeError {
	e := NewError(kind, reason, args...)
	e.Step = step
	e.Input = input
	return e
}

func (e *BridgeError) Error() string {
	parts := make([]string, 0, 4)
	if e.Step != "" {
		parts = append(parts, e.Step)
	}
	if e.Input > NoInput {
		parts = append(parts, fmt.Sprintf("input %d", e.Input))
	}
	msg := e.Kind.Error()
	if len(parts) > 0 {
		msg = fmt.Sprintf("%s (%s)", msg, strings.Join(parts, ", "))
	}
	if e.Reason != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Reason)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %s", msg, e.Err)
	}
	return msg
}

func (e *BridgeError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// IsRetryable returns whether the failure is transient and the caller may
// retry the whole request.
func IsRetryable(err error) bool {
	if errors.Is(err, ErrRpcRejected) {
		return false
	}
	return errors.Is(err, ErrRpc) || errors.Is(err, ErrTransportTimeout)
}
