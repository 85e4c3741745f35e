package application_test

import (
	"context"

	"github.com/neuraiproject/wcbridge/internal/core/domain"
	"github.com/neuraiproject/wcbridge/internal/core/ports"
	"github.com/stretchr/testify/mock"
)

// **** Chain ****

type mockChain struct {
	mock.Mock
}

func (m *mockChain) GetUtxos(
	ctx context.Context, address string,
) ([]ports.ChainUtxo, error) {
	args := m.Called(ctx, address)

	var res []ports.ChainUtxo
	if a := args.Get(0); a != nil {
		res = a.([]ports.ChainUtxo)
	}
	return res, args.Error(1)
}

func (m *mockChain) GetRawTransaction(
	ctx context.Context, txid string,
) (string, error) {
	args := m.Called(ctx, txid)
	return args.String(0), args.Error(1)
}

func (m *mockChain) BroadcastRawTransaction(
	ctx context.Context, txHex string,
) (string, error) {
	args := m.Called(ctx, txHex)
	return args.String(0), args.Error(1)
}

func (m *mockChain) GetBlockHash(
	ctx context.Context, height uint32,
) (string, error) {
	args := m.Called(ctx, height)
	return args.String(0), args.Error(1)
}

func (m *mockChain) GetBlockCount(ctx context.Context) (uint32, error) {
	args := m.Called(ctx)
	return uint32(args.Int(0)), args.Error(1)
}

type chainUtxo struct {
	txid    string
	vout    uint32
	value   uint64
	address string
	script  []byte
}

func (u chainUtxo) GetTxid() string          { return u.txid }
func (u chainUtxo) GetIndex() uint32         { return u.vout }
func (u chainUtxo) GetValue() uint64         { return u.value }
func (u chainUtxo) GetAddress() string       { return u.address }
func (u chainUtxo) GetScript() []byte        { return u.script }
func (u chainUtxo) GetConfirmations() uint32 { return 6 }

// **** Transport ****

// mockTransport delivers the events pushed on its queue, every other method
// is mocked.
type mockTransport struct {
	mock.Mock
	events chan ports.TransportEvent
}

func newMockTransport() *mockTransport {
	return &mockTransport{events: make(chan ports.TransportEvent, 10)}
}

func (m *mockTransport) Start(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *mockTransport) Stop() {
	m.Called()
}

func (m *mockTransport) Events() <-chan ports.TransportEvent {
	return m.events
}

func (m *mockTransport) Approve(
	ctx context.Context, proposalID uint64, namespace domain.SessionNamespace,
) (*ports.SessionSettlement, error) {
	args := m.Called(ctx, proposalID, namespace)

	var res *ports.SessionSettlement
	if a := args.Get(0); a != nil {
		res = a.(*ports.SessionSettlement)
	}
	return res, args.Error(1)
}

func (m *mockTransport) Reject(
	ctx context.Context, proposalID uint64, reason ports.RPCError,
) error {
	args := m.Called(ctx, proposalID, reason)
	return args.Error(0)
}

func (m *mockTransport) Respond(
	ctx context.Context, topic string, response ports.RPCResponse,
) error {
	args := m.Called(ctx, topic, response)
	return args.Error(0)
}

func (m *mockTransport) Emit(
	ctx context.Context, topic string, chainId domain.ChainId,
	event domain.Event, data interface{},
) error {
	args := m.Called(ctx, topic, chainId, event, data)
	return args.Error(0)
}

func (m *mockTransport) UpdateSession(
	ctx context.Context, topic string, namespace domain.SessionNamespace,
) error {
	args := m.Called(ctx, topic, namespace)
	return args.Error(0)
}

func (m *mockTransport) Resume(
	ctx context.Context, session domain.Session,
) (string, error) {
	args := m.Called(ctx, session)
	return args.String(0), args.Error(1)
}

func (m *mockTransport) Disconnect(
	ctx context.Context, topic string, reason ports.RPCError,
) error {
	args := m.Called(ctx, topic, reason)
	return args.Error(0)
}

func (m *mockTransport) Pair(ctx context.Context, uri string) error {
	args := m.Called(ctx, uri)
	return args.Error(0)
}

// **** Accounts ****

type accountList []domain.AccountId

func (l accountList) AccountIds() []domain.AccountId {
	return l
}
