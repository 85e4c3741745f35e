package relaytransport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/neuraiproject/wcbridge/internal/core/domain"
	"github.com/neuraiproject/wcbridge/internal/core/ports"
	log "github.com/sirupsen/logrus"
)

const (
	DefaultReconnectBackoff = time.Second

	maxReconnectBackoff = 30 * time.Second
	writeTimeout        = 10 * time.Second
	pingInterval        = 30 * time.Second
	pongWait            = 2 * pingInterval
	eventsBufferSize    = 100
)

var (
	// ErrNotStarted is returned by commands issued before Start or after Stop.
	ErrNotStarted = errors.New("relay transport not started")
)

type service struct {
	endpoint         string
	dialer           *websocket.Dialer
	reconnectBackoff time.Duration

	lock      *sync.RWMutex
	conn      *websocket.Conn
	writeLock *sync.Mutex

	pendingLock *sync.Mutex
	pending     map[string]chan *frame

	events chan ports.TransportEvent
	ctx    context.Context
	cancel context.CancelFunc
	wg     *sync.WaitGroup
}

// NewService returns a Transport connected to the WalletConnect relay
// gateway listening at the given ws(s) endpoint. The gateway owns the relay
// protocol and its crypto, the bridge exchanges plain JSON frames with it.
func NewService(
	endpoint string, reconnectBackoff time.Duration,
) (ports.Transport, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("missing relay endpoint")
	}
	parsedURL, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid relay endpoint: %w", err)
	}
	if parsedURL.Scheme != "ws" && parsedURL.Scheme != "wss" {
		return nil, fmt.Errorf("invalid relay endpoint scheme %q", parsedURL.Scheme)
	}
	if reconnectBackoff <= 0 {
		reconnectBackoff = DefaultReconnectBackoff
	}

	return &service{
		endpoint:         endpoint,
		dialer:           websocket.DefaultDialer,
		reconnectBackoff: reconnectBackoff,
		lock:             &sync.RWMutex{},
		writeLock:        &sync.Mutex{},
		pendingLock:      &sync.Mutex{},
		pending:          make(map[string]chan *frame),
		events:           make(chan ports.TransportEvent, eventsBufferSize),
		wg:               &sync.WaitGroup{},
	}, nil
}

func (s *service) Start(ctx context.Context) error {
	if s.ctx != nil {
		return fmt.Errorf("relay transport already started")
	}

	conn, err := s.connect(ctx)
	if err != nil {
		return fmt.Errorf("failed to connect to relay gateway: %w", err)
	}
	s.setConn(conn)
	s.ctx, s.cancel = context.WithCancel(context.Background())

	s.wg.Add(2)
	go s.listen()
	go s.keepAlive()

	log.Infof("connected to relay gateway %s", s.endpoint)
	return nil
}

// Stop closes the connection and the event queue.
func (s *service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()

	if conn := s.getConn(); conn != nil {
		// nolint
		conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		conn.Close()
	}
	s.wg.Wait()
}

func (s *service) Events() <-chan ports.TransportEvent {
	return s.events
}

func (s *service) Approve(
	ctx context.Context, proposalID uint64, namespace domain.SessionNamespace,
) (*ports.SessionSettlement, error) {
	var res approveResult
	if err := s.call(ctx, methodApprove, "", approveParams{
		ProposalID: proposalID,
		Namespaces: namespaces(namespace),
	}, &res); err != nil {
		return nil, err
	}
	if res.Topic == "" {
		return nil, fmt.Errorf("relay gateway returned no topic for proposal %d", proposalID)
	}
	return &ports.SessionSettlement{Topic: res.Topic, Expiry: res.Expiry}, nil
}

func (s *service) Reject(
	ctx context.Context, proposalID uint64, reason ports.RPCError,
) error {
	return s.call(ctx, methodReject, "", rejectParams{proposalID, reason}, nil)
}

func (s *service) Respond(
	ctx context.Context, topic string, response ports.RPCResponse,
) error {
	return s.call(ctx, methodRespond, topic, respondParams{response}, nil)
}

func (s *service) Emit(
	ctx context.Context, topic string, chainId domain.ChainId,
	event domain.Event, data interface{},
) error {
	return s.call(ctx, methodEmit, topic, emitParams{
		ChainID: chainId.String(),
		Event:   eventBody{Name: string(event), Data: data},
	}, nil)
}

func (s *service) UpdateSession(
	ctx context.Context, topic string, namespace domain.SessionNamespace,
) error {
	return s.call(ctx, methodUpdate, topic, updateParams{
		Namespaces: namespaces(namespace),
	}, nil)
}

func (s *service) Resume(
	ctx context.Context, session domain.Session,
) (string, error) {
	var res resumeResult
	if err := s.call(ctx, methodResume, session.Topic, resumeParams{
		Namespaces: namespaces(session.Namespace),
		Expiry:     session.Expiry,
		Peer:       ports.PeerMetadata{Name: session.PeerName, URL: session.PeerURL},
	}, &res); err != nil {
		return "", err
	}
	if res.Topic == "" {
		return session.Topic, nil
	}
	return res.Topic, nil
}

func (s *service) Disconnect(
	ctx context.Context, topic string, reason ports.RPCError,
) error {
	return s.call(ctx, methodDisconnect, topic, disconnectParams{reason}, nil)
}

func (s *service) Pair(ctx context.Context, uri string) error {
	return s.call(ctx, methodPair, "", pairParams{uri}, nil)
}

// call sends a command to the gateway and waits for the reply correlated by
// id. Commands in flight when the connection drops fail immediately.
func (s *service) call(
	ctx context.Context, method, topic string, params, result interface{},
) error {
	if s.ctx == nil || s.ctx.Err() != nil {
		return ErrNotStarted
	}

	buf, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("failed to serialize %s params: %w", method, err)
	}
	id := uuid.New().String()
	msg, _ := json.Marshal(frame{
		ID: id, Method: method, Topic: topic, Params: buf,
	})

	replyChan := s.addPending(id)
	defer s.removePending(id)

	if err := s.write(msg); err != nil {
		return domain.WrapError(domain.ErrTransportTimeout, err, "relay %s", method)
	}

	select {
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return domain.WrapError(
				domain.ErrTransportTimeout, ctx.Err(), "relay %s", method,
			)
		}
		return domain.WrapError(
			domain.ErrRequestCancelled, ctx.Err(), "relay %s", method,
		)
	case <-s.ctx.Done():
		return ErrNotStarted
	case reply, ok := <-replyChan:
		if !ok {
			return domain.NewError(
				domain.ErrTransportTimeout,
				"relay %s: connection with gateway lost", method,
			)
		}
		if reply.Error != nil {
			return fmt.Errorf(
				"relay %s failed with code %d: %s",
				method, reply.Error.Code, reply.Error.Message,
			)
		}
		if result != nil && len(reply.Result) > 0 {
			if err := json.Unmarshal(reply.Result, result); err != nil {
				return fmt.Errorf("invalid relay %s result: %w", method, err)
			}
		}
		return nil
	}
}

// listen reads from the connection until Stop is called. Whenever the
// connection drops it is re-established, and every topic is notified as
// lost with a single transport reset event.
func (s *service) listen() {
	defer s.wg.Done()
	defer close(s.events)

	for {
		err := s.readMessages(s.getConn())
		if s.ctx.Err() != nil {
			return
		}

		log.WithError(err).Warn(
			"connection with relay gateway dropped unexpectedly. Trying to reconnect...",
		)
		s.failPending()
		if !s.reconnect() {
			return
		}

		log.Debug("connection with relay gateway re-established")
		s.notify(ports.TransportEvent{Type: ports.EventTransportReset})
	}
}

func (s *service) readMessages(conn *websocket.Conn) error {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var f frame
		if err := json.Unmarshal(msg, &f); err != nil {
			log.WithError(err).Warn("dropping malformed frame from relay gateway")
			continue
		}
		if f.Event != "" {
			s.handleEvent(f)
			continue
		}
		s.resolvePending(&f)
	}
}

func (s *service) handleEvent(f frame) {
	eventType, ok := ports.ParseEventType(f.Event)
	if !ok {
		log.Warnf("dropping unknown event %q from relay gateway", f.Event)
		return
	}

	event := ports.TransportEvent{Type: eventType, Topic: f.Topic}
	switch eventType {
	case ports.EventSessionProposal:
		var proposal ports.SessionProposal
		if err := json.Unmarshal(f.Params, &proposal); err != nil {
			log.WithError(err).Warn("dropping malformed session proposal")
			return
		}
		event.Proposal = &proposal
	case ports.EventSessionRequest:
		var params requestParams
		if err := json.Unmarshal(f.Params, &params); err != nil {
			log.WithError(err).Warnf(
				"dropping malformed session request on topic %s", f.Topic,
			)
			return
		}
		event.Request = &ports.SessionRequest{
			Topic:   f.Topic,
			ID:      params.ID,
			ChainID: params.ChainID,
			Method:  params.Request.Method,
			Params:  params.Request.Params,
		}
	}
	s.notify(event)
}

func (s *service) notify(event ports.TransportEvent) {
	select {
	case s.events <- event:
	case <-s.ctx.Done():
	}
}

func (s *service) reconnect() bool {
	backoff := s.reconnectBackoff
	for {
		select {
		case <-s.ctx.Done():
			return false
		case <-time.After(backoff):
		}

		conn, err := s.connect(s.ctx)
		if err == nil {
			s.setConn(conn)
			return true
		}

		backoff *= 2
		if backoff > maxReconnectBackoff {
			backoff = maxReconnectBackoff
		}
		log.WithError(err).Warnf(
			"failed to reconnect to relay gateway, retrying in %s", backoff,
		)
	}
}

func (s *service) keepAlive() {
	defer s.wg.Done()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			conn := s.getConn()
			if err := conn.WriteControl(
				websocket.PingMessage, nil, time.Now().Add(writeTimeout),
			); err != nil {
				log.WithError(err).Debug("failed to ping relay gateway")
			}
		}
	}
}

func (s *service) connect(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := s.dialer.DialContext(ctx, s.endpoint, nil)
	if err != nil {
		return nil, err
	}
	// nolint
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	return conn, nil
}

func (s *service) write(msg []byte) error {
	s.writeLock.Lock()
	defer s.writeLock.Unlock()

	conn := s.getConn()
	// nolint
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(websocket.TextMessage, msg)
}

func (s *service) getConn() *websocket.Conn {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.conn
}

func (s *service) setConn(conn *websocket.Conn) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.conn = conn
}

func (s *service) addPending(id string) chan *frame {
	s.pendingLock.Lock()
	defer s.pendingLock.Unlock()

	ch := make(chan *frame, 1)
	s.pending[id] = ch
	return ch
}

func (s *service) removePending(id string) {
	s.pendingLock.Lock()
	defer s.pendingLock.Unlock()
	delete(s.pending, id)
}

func (s *service) resolvePending(f *frame) {
	s.pendingLock.Lock()
	defer s.pendingLock.Unlock()

	ch, ok := s.pending[f.ID]
	if !ok {
		log.Debugf("dropping reply %s with no pending command", f.ID)
		return
	}
	ch <- f
	delete(s.pending, f.ID)
}

func (s *service) failPending() {
	s.pendingLock.Lock()
	defer s.pendingLock.Unlock()

	for id, ch := range s.pending {
		close(ch)
		delete(s.pending, id)
	}
}
