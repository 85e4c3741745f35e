package ports

import (
	"context"
	"encoding/json"

	"github.com/neuraiproject/wcbridge/internal/core/domain"
)

type EventType int

const (
	EventSessionProposal EventType = iota
	EventSessionRequest
	EventSessionDelete
	EventSessionExpire
	// EventTopicLost is notified when the relay can no longer deliver on a
	// topic, EventTransportReset when the connection with the relay itself
	// was re-established and every topic must be considered lost.
	EventTopicLost
	EventTransportReset
)

var eventTypeNames = map[EventType]string{
	EventSessionProposal: "session_proposal",
	EventSessionRequest:  "session_request",
	EventSessionDelete:   "session_delete",
	EventSessionExpire:   "session_expire",
	EventTopicLost:       "topic_lost",
	EventTransportReset:  "transport_reset",
}

func (t EventType) String() string {
	return eventTypeNames[t]
}

// ParseEventType ...
func ParseEventType(s string) (EventType, bool) {
	for t, name := range eventTypeNames {
		if name == s {
			return t, true
		}
	}
	return 0, false
}

// TransportEvent is an inbound event of the transport queue. Proposal is set
// only for EventSessionProposal, Request only for EventSessionRequest.
type TransportEvent struct {
	Type     EventType
	Topic    string
	Proposal *SessionProposal
	Request  *SessionRequest
}

type PeerMetadata struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	URL         string   `json:"url,omitempty"`
	Icons       []string `json:"icons,omitempty"`
}

type SessionProposal struct {
	ID                 uint64                              `json:"id"`
	PairingTopic       string                              `json:"pairingTopic"`
	Proposer           PeerMetadata                        `json:"proposer"`
	RequiredNamespaces map[string]domain.ProposalNamespace `json:"requiredNamespaces"`
	OptionalNamespaces map[string]domain.ProposalNamespace `json:"optionalNamespaces,omitempty"`
	Expiry             int64                               `json:"expiry,omitempty"`
}

type SessionRequest struct {
	Topic   string          `json:"topic"`
	ID      uint64          `json:"id"`
	ChainID string          `json:"chainId"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e RPCError) Error() string {
	return e.Message
}

// RPCResponse is correlated to its request by ID. Exactly one of Result and
// Error is set.
type RPCResponse struct {
	ID     uint64      `json:"id"`
	Result interface{} `json:"result,omitempty"`
	Error  *RPCError   `json:"error,omitempty"`
}

// SessionSettlement is returned by the transport once a session is approved.
type SessionSettlement struct {
	Topic  string
	Expiry int64
}

// Transport is the WalletConnect relay collaborator. Inbound traffic is
// delivered exclusively through the Events queue.
type Transport interface {
	Start(ctx context.Context) error
	Stop()
	Events() <-chan TransportEvent

	Approve(
		ctx context.Context, proposalID uint64, namespace domain.SessionNamespace,
	) (*SessionSettlement, error)
	Reject(ctx context.Context, proposalID uint64, reason RPCError) error
	Respond(ctx context.Context, topic string, response RPCResponse) error
	Emit(
		ctx context.Context, topic string, chainId domain.ChainId,
		event domain.Event, data interface{},
	) error
	UpdateSession(
		ctx context.Context, topic string, namespace domain.SessionNamespace,
	) error
	// Resume re-establishes a persisted session and returns its topic, that
	// might differ from the persisted one.
	Resume(ctx context.Context, session domain.Session) (string, error)
	Disconnect(ctx context.Context, topic string, reason RPCError) error
	Pair(ctx context.Context, uri string) error
}
