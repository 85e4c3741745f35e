package application_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/neuraiproject/wcbridge/internal/core/application"
	"github.com/neuraiproject/wcbridge/internal/core/domain"
	"github.com/neuraiproject/wcbridge/internal/core/ports"
	"github.com/neuraiproject/wcbridge/internal/infrastructure/storage/db/inmemory"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 3 * time.Second
	tick    = 10 * time.Millisecond
)

func TestSupervisorApprovesProposal(t *testing.T) {
	h := newSupervisorHarness(t)
	h.start(t)

	h.approve(t, 1, "t1", "neurai_getAddresses", "neurai_getUtxos")

	session, err := h.sessions.GetSession(context.Background(), "t1")
	require.NoError(t, err)
	require.Equal(t, "dapp", session.PeerName)
	require.Equal(t, []domain.Method{
		domain.MethodGetAddresses, domain.MethodGetUtxos,
	}, session.Namespace.Methods)
	require.Equal(t, []domain.AccountId{h.alice.AccountId}, session.Namespace.Accounts)

	h.request(1, "t1", domain.MethodGetAddresses)
	res := h.nextResponse(t, "t1")
	require.Equal(t, uint64(1), res.ID)
	require.Nil(t, res.Error)
	addresses := res.Result.([]application.AddressInfo)
	require.Len(t, addresses, 1)
	require.Equal(t, h.alice.Address(), addresses[0].Address)

	// granted methods only
	h.request(2, "t1", domain.MethodSignPsbt)
	res = h.nextResponse(t, "t1")
	require.Equal(t, uint64(2), res.ID)
	require.Equal(t, application.CodeUnauthorizedMethod, res.Error.Code)

	status, err := h.supervisor.GetStatus(context.Background())
	require.NoError(t, err)
	require.True(t, status.Running)
	require.Equal(t, 1, status.ActiveSessions)
	require.Equal(t, 1, status.Accounts)
	require.Equal(t, neuraiChain, status.ChainId)
}

func TestSupervisorRejectsProposal(t *testing.T) {
	h := newSupervisorHarness(t)

	rejected := make(chan ports.RPCError, 1)
	h.transport.On("Reject", mock.Anything, uint64(1), mock.Anything).
		Run(func(args mock.Arguments) {
			rejected <- args.Get(2).(ports.RPCError)
		}).Return(nil)
	h.start(t)

	h.transport.events <- ports.TransportEvent{
		Type: ports.EventSessionProposal,
		Proposal: &ports.SessionProposal{
			ID:       1,
			Proposer: ports.PeerMetadata{Name: "dapp"},
			RequiredNamespaces: map[string]domain.ProposalNamespace{
				"bip122": {
					Chains:  []string{bitcoinChain},
					Methods: []string{"neurai_getAddresses"},
				},
			},
		},
	}

	select {
	case reason := <-rejected:
		require.Equal(t, application.CodeUnsupportedChain, reason.Code)
	case <-time.After(waitFor):
		t.Fatal("proposal not rejected")
	}
	h.transport.AssertNotCalled(
		t, "Approve", mock.Anything, mock.Anything, mock.Anything,
	)

	sessions, err := h.sessions.GetAllSessions(context.Background())
	require.NoError(t, err)
	require.Empty(t, sessions)
}

func TestSupervisorRequestBeforeApproval(t *testing.T) {
	h := newSupervisorHarness(t)
	h.start(t)

	// the first request of the session, and one for a topic that never
	// settles, reach the event queue before the approval returns.
	h.transport.On("Approve", mock.Anything, uint64(1), mock.Anything).
		Run(func(mock.Arguments) {
			h.request(7, "t1", domain.MethodGetAddresses)
			h.request(8, "other", domain.MethodGetAddresses)
			require.Eventually(t, func() bool {
				return len(h.transport.events) == 0
			}, waitFor, tick)
			time.Sleep(50 * time.Millisecond)
		}).
		Return(&ports.SessionSettlement{Topic: "t1"}, nil).Once()

	h.transport.events <- ports.TransportEvent{
		Type: ports.EventSessionProposal,
		Proposal: &ports.SessionProposal{
			ID:       1,
			Proposer: ports.PeerMetadata{Name: "dapp"},
			RequiredNamespaces: map[string]domain.ProposalNamespace{
				"bip122": {
					Chains:  []string{neuraiChain},
					Methods: []string{"neurai_getAddresses"},
					Events:  []string{"accountsChanged"},
				},
			},
		},
	}

	responses := make(map[string]ports.RPCResponse)
	for i := 0; i < 2; i++ {
		select {
		case call := <-h.responses:
			responses[call.topic] = call.response
		case <-time.After(waitFor):
			t.Fatalf("got %d responses, expected 2", len(responses))
		}
	}

	res := responses["t1"]
	require.Equal(t, uint64(7), res.ID)
	require.Nil(t, res.Error)
	addresses := res.Result.([]application.AddressInfo)
	require.Len(t, addresses, 1)
	require.Equal(t, h.alice.Address(), addresses[0].Address)

	res = responses["other"]
	require.Equal(t, uint64(8), res.ID)
	require.Equal(t, application.CodeSessionNotFound, res.Error.Code)
}

func TestSupervisorUnknownTopic(t *testing.T) {
	h := newSupervisorHarness(t)
	h.start(t)

	h.request(9, "unknown", domain.MethodGetAddresses)
	res := h.nextResponse(t, "unknown")
	require.Equal(t, uint64(9), res.ID)
	require.Equal(t, application.CodeSessionNotFound, res.Error.Code)
}

func TestSupervisorTopicLost(t *testing.T) {
	h := newSupervisorHarness(t)

	inFlight := make(chan struct{})
	h.chain.On("GetUtxos", mock.Anything, h.alice.Address()).
		Run(func(args mock.Arguments) {
			close(inFlight)
			<-args.Get(0).(context.Context).Done()
		}).Return(nil, context.Canceled).Once()
	h.transport.On("Resume", mock.Anything, mock.Anything).Return("t2", nil)
	h.start(t)

	h.approve(t, 1, "t1", "neurai_getUtxos", "neurai_getAddresses")

	h.request(1, "t1", domain.MethodGetUtxos)
	select {
	case <-inFlight:
	case <-time.After(waitFor):
		t.Fatal("request not dispatched")
	}

	h.transport.events <- ports.TransportEvent{
		Type: ports.EventTopicLost, Topic: "t1",
	}

	require.Eventually(t, func() bool {
		return h.supervisor.IsServing("t2")
	}, waitFor, tick)
	require.False(t, h.supervisor.IsServing("t1"))

	_, err := h.sessions.GetSession(context.Background(), "t1")
	require.ErrorIs(t, err, domain.ErrSessionNotFound)
	session, err := h.sessions.GetSession(context.Background(), "t2")
	require.NoError(t, err)
	require.Equal(t, "t2", session.Topic)

	// the resumed session keeps serving requests
	h.request(2, "t2", domain.MethodGetAddresses)
	res := h.nextResponse(t, "t2")
	require.Equal(t, uint64(2), res.ID)
	require.Nil(t, res.Error)

	h.supervisor.Stop()
	// the response to the cancelled request is never sent
	h.transport.AssertNotCalled(t, "Respond", mock.Anything, "t1", mock.Anything)
}

func TestSupervisorResumeFailure(t *testing.T) {
	h := newSupervisorHarness(t)
	h.transport.On("Resume", mock.Anything, mock.Anything).
		Return("", errors.New("relay unreachable"))
	h.start(t)

	h.approve(t, 1, "t1", "neurai_getAddresses")
	h.transport.events <- ports.TransportEvent{
		Type: ports.EventTopicLost, Topic: "t1",
	}

	require.Eventually(t, func() bool {
		_, err := h.sessions.GetSession(context.Background(), "t1")
		return errors.Is(err, domain.ErrSessionNotFound)
	}, waitFor, tick)
	require.False(t, h.supervisor.IsServing("t1"))
	h.transport.AssertNumberOfCalls(t, "Resume", 2)
}

func TestSupervisorSessionDeleted(t *testing.T) {
	h := newSupervisorHarness(t)
	h.start(t)

	h.approve(t, 1, "t1", "neurai_getAddresses")
	h.transport.events <- ports.TransportEvent{
		Type: ports.EventSessionDelete, Topic: "t1",
	}

	require.Eventually(t, func() bool {
		return !h.supervisor.IsServing("t1")
	}, waitFor, tick)
	require.Eventually(t, func() bool {
		_, err := h.sessions.GetSession(context.Background(), "t1")
		return errors.Is(err, domain.ErrSessionNotFound)
	}, waitFor, tick)
}

func TestSupervisorDisconnect(t *testing.T) {
	h := newSupervisorHarness(t)
	h.transport.On("Disconnect", mock.Anything, "t1", mock.Anything).Return(nil)
	h.start(t)

	h.approve(t, 1, "t1", "neurai_getAddresses")

	err := h.supervisor.Disconnect(context.Background(), "t1")
	require.NoError(t, err)
	h.transport.AssertCalled(t, "Disconnect", mock.Anything, "t1", ports.RPCError{
		Code: application.CodeUserDisconnected, Message: "user disconnected",
	})
	require.False(t, h.supervisor.IsServing("t1"))

	err = h.supervisor.Disconnect(context.Background(), "t1")
	require.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestSupervisorAccountsChanged(t *testing.T) {
	h := newSupervisorHarness(t)

	namespaces := make(chan domain.SessionNamespace, 1)
	emitted := make(chan []string, 1)
	h.transport.On("UpdateSession", mock.Anything, "t1", mock.Anything).
		Run(func(args mock.Arguments) {
			namespaces <- args.Get(2).(domain.SessionNamespace)
		}).Return(nil)
	h.transport.On(
		"Emit", mock.Anything, "t1", h.network.ChainId,
		domain.EventAccountsChanged, mock.Anything,
	).Run(func(args mock.Arguments) {
		emitted <- args.Get(4).([]string)
	}).Return(nil)
	h.start(t)

	h.approve(t, 1, "t1", "neurai_getAddresses")

	account, err := h.supervisor.AddAccount(
		context.Background(), "m/44'/1900'/0'/0/1",
	)
	require.NoError(t, err)
	require.NotEqual(t, h.alice.Address(), account.Address)

	select {
	case namespace := <-namespaces:
		require.Len(t, namespace.Accounts, 2)
	case <-time.After(waitFor):
		t.Fatal("namespace not updated")
	}
	select {
	case accounts := <-emitted:
		require.Equal(t, []string{h.alice.AccountId.String(), account.AccountId}, accounts)
	case <-time.After(waitFor):
		t.Fatal("accountsChanged not emitted")
	}

	// the new account is served to the session
	h.request(1, "t1", domain.MethodGetAddresses)
	res := h.nextResponse(t, "t1")
	require.Nil(t, res.Error)
	require.Len(t, res.Result.([]application.AddressInfo), 2)

	// deriving a known path changes nothing
	_, err = h.supervisor.AddAccount(context.Background(), "m/44'/1900'/0'/0/1")
	require.NoError(t, err)
	require.Len(t, h.supervisor.ListAccounts(context.Background()), 2)
	h.transport.AssertNumberOfCalls(t, "UpdateSession", 1)
}

func TestSupervisorStartResumesSessions(t *testing.T) {
	h := newSupervisorHarness(t)
	ctx := context.Background()

	require.NoError(t, h.sessions.AddSession(ctx, domain.Session{
		Topic: "t0",
		Namespace: domain.SessionNamespace{
			Chains:   []domain.ChainId{h.network.ChainId},
			Methods:  domain.ImplementedMethods,
			Events:   domain.MandatoryEvents,
			Accounts: []domain.AccountId{h.alice.AccountId},
		},
		Expiry: time.Now().Add(-time.Hour).Unix(),
	}))
	require.NoError(t, h.sessions.AddSession(ctx, domain.Session{
		Topic: "t1",
		Namespace: domain.SessionNamespace{
			Chains:   []domain.ChainId{h.network.ChainId},
			Methods:  domain.ImplementedMethods,
			Events:   domain.MandatoryEvents,
			Accounts: []domain.AccountId{h.alice.AccountId},
		},
		Expiry: time.Now().Add(time.Hour).Unix(),
	}))
	h.transport.On("Resume", mock.Anything, mock.Anything).Return("t1", nil)
	h.start(t)

	require.Eventually(t, func() bool {
		return h.supervisor.IsServing("t1")
	}, waitFor, tick)

	_, err := h.sessions.GetSession(ctx, "t0")
	require.ErrorIs(t, err, domain.ErrSessionNotFound)
	h.transport.AssertNumberOfCalls(t, "Resume", 1)

	sessions, err := h.supervisor.ListSessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	require.Equal(t, "t1", sessions[0].Topic)
}

func TestSupervisorChainMismatch(t *testing.T) {
	h := newSupervisorHarness(t)
	h.chain.ExpectedCalls = nil
	h.chain.On("GetBlockHash", mock.Anything, uint32(0)).Return(
		"000000000019d6689c085ae165831e934ff763ae46a2a6c172b3f1b60a8ce26f", nil,
	)

	err := h.supervisor.Start(context.Background())
	require.ErrorIs(t, err, application.ErrChainMismatch)
	require.False(t, h.supervisor.IsRunning())
	h.transport.AssertNotCalled(t, "Start", mock.Anything)
}

func TestSupervisorNotRunning(t *testing.T) {
	h := newSupervisorHarness(t)

	err := h.supervisor.Pair(context.Background(), "wc:abc@2?relay-protocol=irn")
	require.ErrorIs(t, err, application.ErrSupervisorStopped)
	err = h.supervisor.Disconnect(context.Background(), "t1")
	require.ErrorIs(t, err, application.ErrSupervisorStopped)
}

/**** Test harness ****/

type supervisorHarness struct {
	*dispatcherHarness

	supervisor *application.BridgeSupervisor
	transport  *mockTransport
	sessions   domain.SessionRepository
	alice      *domain.DerivedAccount
	responses  chan respondCall
}

type respondCall struct {
	topic    string
	response ports.RPCResponse
}

func newSupervisorHarness(t *testing.T) *supervisorHarness {
	h := newDispatcherHarness(t)
	alice := h.derive(t, "m/44'/1900'/0'/0/0")
	h.chain.On("GetBlockHash", mock.Anything, uint32(0)).
		Return(domain.MainnetGenesisHash, nil)

	negotiator, err := application.NewSessionNegotiator(h.network, h.registry)
	require.NoError(t, err)

	transport := newMockTransport()
	sessions := inmemory.NewRepoManager().SessionRepository()
	supervisor, err := application.NewBridgeSupervisor(application.SupervisorOpts{
		Network:          h.network,
		Negotiator:       negotiator,
		Dispatcher:       h.dispatcher,
		Accounts:         h.registry,
		Transport:        transport,
		Chain:            h.chain,
		Sessions:         sessions,
		ResumeMaxRetries: 2,
		ResumeBackoff:    time.Millisecond,
		RequestTimeout:   5 * time.Second,
	})
	require.NoError(t, err)

	responses := make(chan respondCall, 10)
	transport.On("Respond", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			responses <- respondCall{
				topic:    args.String(1),
				response: args.Get(2).(ports.RPCResponse),
			}
		}).Return(nil)
	transport.On("Start", mock.Anything).Return(nil)
	transport.On("Stop").Return()

	return &supervisorHarness{
		dispatcherHarness: h,
		supervisor:        supervisor,
		transport:         transport,
		sessions:          sessions,
		alice:             alice,
		responses:         responses,
	}
}

func (h *supervisorHarness) start(t *testing.T) {
	require.NoError(t, h.supervisor.Start(context.Background()))
	t.Cleanup(h.supervisor.Stop)
}

// approve sends a proposal for the given methods on the served chain and
// waits for the resulting session to be served on topic.
func (h *supervisorHarness) approve(
	t *testing.T, proposalID uint64, topic string, methods ...string,
) {
	h.transport.On("Approve", mock.Anything, proposalID, mock.Anything).
		Return(&ports.SessionSettlement{Topic: topic}, nil).Once()

	h.transport.events <- ports.TransportEvent{
		Type: ports.EventSessionProposal,
		Proposal: &ports.SessionProposal{
			ID:       proposalID,
			Proposer: ports.PeerMetadata{Name: "dapp", URL: "https://dapp.neurai.org"},
			RequiredNamespaces: map[string]domain.ProposalNamespace{
				"bip122": {
					Chains:  []string{neuraiChain},
					Methods: methods,
					Events:  []string{"accountsChanged"},
				},
			},
		},
	}

	require.Eventually(t, func() bool {
		return h.supervisor.IsServing(topic)
	}, waitFor, tick)
}

func (h *supervisorHarness) request(id uint64, topic string, method domain.Method) {
	h.transport.events <- ports.TransportEvent{
		Type:  ports.EventSessionRequest,
		Topic: topic,
		Request: &ports.SessionRequest{
			Topic:   topic,
			ID:      id,
			ChainID: neuraiChain,
			Method:  string(method),
		},
	}
}

func (h *supervisorHarness) nextResponse(
	t *testing.T, topic string,
) ports.RPCResponse {
	select {
	case call := <-h.responses:
		require.Equal(t, topic, call.topic)
		return call.response
	case <-time.After(waitFor):
		t.Fatalf("no response on topic %s", topic)
	}
	return ports.RPCResponse{}
}
