package relaytransport

import (
	"encoding/json"

	"github.com/neuraiproject/wcbridge/internal/core/domain"
	"github.com/neuraiproject/wcbridge/internal/core/ports"
)

// Commands sent to the relay gateway.
const (
	methodApprove    = "approve"
	methodReject     = "reject"
	methodRespond    = "respond"
	methodEmit       = "emit"
	methodUpdate     = "update"
	methodResume     = "resume"
	methodDisconnect = "disconnect"
	methodPair       = "pair"
)

// frame is the envelope of every message exchanged with the gateway. Command
// frames carry ID and Method, their replies ID and either Result or Error,
// event frames Event and Topic.
type frame struct {
	ID     string          `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Event  string          `json:"event,omitempty"`
	Topic  string          `json:"topic,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *ports.RPCError `json:"error,omitempty"`
}

type namespace struct {
	Chains   []string `json:"chains"`
	Methods  []string `json:"methods"`
	Events   []string `json:"events"`
	Accounts []string `json:"accounts"`
}

// namespaces returns the WalletConnect representation of the session
// namespace, keyed by chain namespace.
func namespaces(ns domain.SessionNamespace) map[string]namespace {
	n := namespace{
		Chains:   make([]string, 0, len(ns.Chains)),
		Methods:  make([]string, 0, len(ns.Methods)),
		Events:   make([]string, 0, len(ns.Events)),
		Accounts: make([]string, 0, len(ns.Accounts)),
	}
	for _, c := range ns.Chains {
		n.Chains = append(n.Chains, c.String())
	}
	for _, m := range ns.Methods {
		n.Methods = append(n.Methods, string(m))
	}
	for _, e := range ns.Events {
		n.Events = append(n.Events, string(e))
	}
	for _, a := range ns.Accounts {
		n.Accounts = append(n.Accounts, a.String())
	}
	return map[string]namespace{domain.Bip122Namespace: n}
}

type approveParams struct {
	ProposalID uint64               `json:"proposalId"`
	Namespaces map[string]namespace `json:"namespaces"`
}

type approveResult struct {
	Topic  string `json:"topic"`
	Expiry int64  `json:"expiry"`
}

type rejectParams struct {
	ProposalID uint64         `json:"proposalId"`
	Reason     ports.RPCError `json:"reason"`
}

type respondParams struct {
	Response ports.RPCResponse `json:"response"`
}

type emitParams struct {
	ChainID string    `json:"chainId"`
	Event   eventBody `json:"event"`
}

type eventBody struct {
	Name string      `json:"name"`
	Data interface{} `json:"data"`
}

type updateParams struct {
	Namespaces map[string]namespace `json:"namespaces"`
}

type resumeParams struct {
	Namespaces map[string]namespace `json:"namespaces"`
	Expiry     int64                `json:"expiry,omitempty"`
	Peer       ports.PeerMetadata   `json:"peer"`
}

type resumeResult struct {
	Topic string `json:"topic"`
}

type disconnectParams struct {
	Reason ports.RPCError `json:"reason"`
}

type pairParams struct {
	URI string `json:"uri"`
}

// requestParams is the payload of a session_request event.
type requestParams struct {
	ID      uint64 `json:"id"`
	ChainID string `json:"chainId"`
	Request struct {
		Method string          `json:"method"`
		Params json.RawMessage `json:"params,omitempty"`
	} `json:"request"`
}
