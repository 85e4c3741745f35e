package domain

import (
	"time"
)

// Method is one of the JSON-RPC methods the bridge exposes to dApps.
type Method string

const (
	MethodGetAddresses         Method = "neurai_getAddresses"
	MethodGetUtxos             Method = "neurai_getUtxos"
	MethodSignMessage          Method = "neurai_signMessage"
	MethodSignPsbt             Method = "neurai_signPsbt"
	MethodFinalizePsbt         Method = "neurai_finalizePsbt"
	MethodBroadcastTransaction Method = "neurai_broadcastTransaction"
)

// ImplementedMethods is the ordered table of methods served by the bridge.
var ImplementedMethods = []Method{
	MethodGetAddresses,
	MethodGetUtxos,
	MethodSignMessage,
	MethodSignPsbt,
	MethodFinalizePsbt,
	MethodBroadcastTransaction,
}

// ParseMethod returns the method with the given name, if implemented.
func ParseMethod(name string) (Method, bool) {
	for _, m := range ImplementedMethods {
		if string(m) == name {
			return m, true
		}
	}
	return "", false
}

// Event is a session event emitted by the wallet toward the dApp.
type Event string

const (
	EventAccountsChanged Event = "accountsChanged"
	EventChainChanged    Event = "chainChanged"
)

// MandatoryEvents are always granted to a session, whether requested or not.
var MandatoryEvents = []Event{EventAccountsChanged, EventChainChanged}

// ProposalNamespace is a namespace as requested by a dApp in a session
// proposal.
type ProposalNamespace struct {
	Chains  []string `json:"chains,omitempty"`
	Methods []string `json:"methods"`
	Events  []string `json:"events"`
}

// SessionNamespace is the namespace granted to a session.
type SessionNamespace struct {
	Chains   []ChainId
	Methods  []Method
	Events   []Event
	Accounts []AccountId
}

// Session is an approved WalletConnect session. Topics are opaque and
// assigned by the transport.
type Session struct {
	Topic     string
	PeerName  string
	PeerURL   string
	Namespace SessionNamespace
	Expiry    int64
	CreatedAt int64
}

// IsExpired returns whether the session expiry is in the past. Sessions with
// no expiry never expire.
func (s *Session) IsExpired(now time.Time) bool {
	return s.Expiry > 0 && now.Unix() >= s.Expiry
}

func (s *Session) IsMethodGranted(method Method) bool {
	for _, m := range s.Namespace.Methods {
		if m == method {
			return true
		}
	}
	return false
}

func (s *Session) HasChain(chainId ChainId) bool {
	for _, c := range s.Namespace.Chains {
		if c == chainId {
			return true
		}
	}
	return false
}

func (s *Session) IsAccountAuthorized(accountId AccountId) bool {
	for _, a := range s.Namespace.Accounts {
		if a == accountId {
			return true
		}
	}
	return false
}

// AccountForAddress returns the authorized account with the given address on
// the given chain.
func (s *Session) AccountForAddress(chainId ChainId, address string) (AccountId, bool) {
	accountId := AccountId{chainId, address}
	return accountId, s.IsAccountAuthorized(accountId)
}

// AccountsForChain returns the authorized accounts of the given chain.
func (s *Session) AccountsForChain(chainId ChainId) []AccountId {
	accounts := make([]AccountId, 0, len(s.Namespace.Accounts))
	for _, a := range s.Namespace.Accounts {
		if a.ChainId == chainId {
			accounts = append(accounts, a)
		}
	}
	return accounts
}

// SetAccounts replaces the authorized accounts and returns whether the set
// changed.
func (s *Session) SetAccounts(accounts []AccountId) bool {
	if sameAccounts(s.Namespace.Accounts, accounts) {
		return false
	}
	s.Namespace.Accounts = append([]AccountId{}, accounts...)
	return true
}

// SetChain moves the session to the given chain and returns whether it
// changed.
func (s *Session) SetChain(chainId ChainId) bool {
	if len(s.Namespace.Chains) == 1 && s.Namespace.Chains[0] == chainId {
		return false
	}
	s.Namespace.Chains = []ChainId{chainId}
	return true
}

func sameAccounts(a, b []AccountId) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
