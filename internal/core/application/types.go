package application

import (
	"github.com/neuraiproject/wcbridge/internal/core/domain"
	"github.com/shopspring/decimal"
)

// AddressInfo is an item of the neurai_getAddresses result.
type AddressInfo struct {
	Address   string `json:"address"`
	AccountId string `json:"accountId"`
	Path      string `json:"path"`
	PublicKey string `json:"publicKey"`
}

// UtxoInfo is an item of the neurai_getUtxos result. Value is expressed in
// XNA units, Satoshis in sats.
type UtxoInfo struct {
	TxID          string `json:"txid"`
	VOut          uint32 `json:"vout"`
	Satoshis      uint64 `json:"satoshis"`
	Value         string `json:"value"`
	Address       string `json:"address"`
	ScriptPubKey  string `json:"scriptPubKey"`
	Confirmations uint32 `json:"confirmations"`
}

type SignMessageResult struct {
	Address   string `json:"address"`
	Signature string `json:"signature"`
}

type SignPsbtResult struct {
	PsbtBase64 string `json:"psbtBase64"`
}

type FinalizePsbtResult struct {
	Hex  string `json:"hex"`
	TxID string `json:"txid"`
}

type BroadcastResult struct {
	TxID string `json:"txid"`
}

type getUtxosParams struct {
	Address string           `json:"address,omitempty"`
	Amount  *decimal.Decimal `json:"amount,omitempty"`
}

type signMessageParams struct {
	Address string `json:"address"`
	Message string `json:"message"`
}

type signPsbtParams struct {
	PsbtBase64 string `json:"psbtBase64"`
	Address    string `json:"address,omitempty"`
}

type finalizePsbtParams struct {
	PsbtBase64 string `json:"psbtBase64"`
}

type broadcastParams struct {
	Hex string `json:"hex"`
}

// SessionInfo is the view of a session returned to operators.
type SessionInfo struct {
	Topic     string   `json:"topic"`
	PeerName  string   `json:"peerName"`
	PeerURL   string   `json:"peerUrl,omitempty"`
	Chains    []string `json:"chains"`
	Methods   []string `json:"methods"`
	Accounts  []string `json:"accounts"`
	Expiry    int64    `json:"expiry,omitempty"`
	CreatedAt int64    `json:"createdAt"`
	// Resuming is set while the session topic is being re-established.
	Resuming bool `json:"resuming,omitempty"`
}

func newSessionInfo(s domain.Session, resuming bool) SessionInfo {
	chains := make([]string, 0, len(s.Namespace.Chains))
	for _, c := range s.Namespace.Chains {
		chains = append(chains, c.String())
	}
	methods := make([]string, 0, len(s.Namespace.Methods))
	for _, m := range s.Namespace.Methods {
		methods = append(methods, string(m))
	}
	accounts := make([]string, 0, len(s.Namespace.Accounts))
	for _, a := range s.Namespace.Accounts {
		accounts = append(accounts, a.String())
	}
	return SessionInfo{
		Topic:     s.Topic,
		PeerName:  s.PeerName,
		PeerURL:   s.PeerURL,
		Chains:    chains,
		Methods:   methods,
		Accounts:  accounts,
		Expiry:    s.Expiry,
		CreatedAt: s.CreatedAt,
		Resuming:  resuming,
	}
}

// AccountInfo is the view of a derived account returned to operators.
type AccountInfo struct {
	AccountId string `json:"accountId"`
	Address   string `json:"address"`
	Path      string `json:"path"`
}

// Status summarizes the state of the bridge.
type Status struct {
	ChainId        string `json:"chainId"`
	Network        string `json:"network"`
	Running        bool   `json:"running"`
	ActiveSessions int    `json:"activeSessions"`
	Accounts       int    `json:"accounts"`
}
