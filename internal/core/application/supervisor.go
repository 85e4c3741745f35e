package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/neuraiproject/wcbridge/internal/core/domain"
	"github.com/neuraiproject/wcbridge/internal/core/ports"
	"github.com/neuraiproject/wcbridge/pkg/stats"
	log "github.com/sirupsen/logrus"
)

const (
	resumeOutcomeOk     = "ok"
	resumeOutcomeRetry  = "retry"
	resumeOutcomeFailed = "failed"

	// CodeUserDisconnected is the reason code sent to the peer when an
	// operator disconnects a session.
	CodeUserDisconnected = 6000
)

// AccountManager derives and removes the accounts served by the bridge.
type AccountManager interface {
	AccountRegistry
	Derive(
		ctx context.Context, path string,
	) (*domain.DerivedAccount, bool, error)
	Remove(address string) bool
	Accounts() []domain.DerivedAccount
}

// SupervisorOpts defines the parameters needed to create a BridgeSupervisor.
type SupervisorOpts struct {
	Network    *domain.Network
	Negotiator *SessionNegotiator
	Dispatcher *RequestDispatcher
	Accounts   AccountManager
	Transport  ports.Transport
	Chain      ports.ChainRPC
	Sessions   domain.SessionRepository
	Metrics    *stats.Metrics

	ResumeMaxRetries int
	ResumeBackoff    time.Duration
	RequestTimeout   time.Duration
}

func (o SupervisorOpts) validate() error {
	if o.Network == nil {
		return fmt.Errorf("missing network")
	}
	if o.Negotiator == nil {
		return fmt.Errorf("missing session negotiator")
	}
	if o.Dispatcher == nil {
		return fmt.Errorf("missing request dispatcher")
	}
	if o.Accounts == nil {
		return fmt.Errorf("missing account manager")
	}
	if o.Transport == nil {
		return fmt.Errorf("missing transport")
	}
	if o.Chain == nil {
		return fmt.Errorf("missing chain rpc")
	}
	if o.Sessions == nil {
		return fmt.Errorf("missing session repository")
	}
	if o.ResumeMaxRetries <= 0 {
		return fmt.Errorf("resume max retries must be positive")
	}
	if o.ResumeBackoff < 0 {
		return fmt.Errorf("resume backoff must not be negative")
	}
	if o.RequestTimeout <= 0 {
		return fmt.Errorf("request timeout must be positive")
	}
	return nil
}

// BridgeSupervisor owns the lifecycle of the sessions. It consumes the event
// queue of the transport, hands proposals to the negotiator and serializes
// requests and namespace updates of every topic on a dedicated worker.
type BridgeSupervisor struct {
	SupervisorOpts

	lock     *sync.RWMutex
	running  bool
	ctx      context.Context
	cancel   context.CancelFunc
	workers  map[string]*topicWorker
	resuming map[string]struct{}
	wg       *sync.WaitGroup

	// requests for unknown topics received while proposals are being
	// approved. The first request of a session can reach the event queue
	// before the approval returns.
	proposals int
	pending   map[string][]ports.SessionRequest

	now func() time.Time
}

func NewBridgeSupervisor(opts SupervisorOpts) (*BridgeSupervisor, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	return &BridgeSupervisor{
		SupervisorOpts: opts,
		lock:           &sync.RWMutex{},
		workers:        make(map[string]*topicWorker),
		resuming:       make(map[string]struct{}),
		pending:        make(map[string][]ports.SessionRequest),
		wg:             &sync.WaitGroup{},
		now:            time.Now,
	}, nil
}

// Start makes sure the chain node serves the configured chain, starts the
// transport and resumes all persisted sessions.
func (s *BridgeSupervisor) Start(ctx context.Context) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.running {
		return ErrSupervisorRunning
	}

	if err := s.checkChain(ctx); err != nil {
		return err
	}

	sessions, err := s.Sessions.GetAllSessions(ctx)
	if err != nil {
		return fmt.Errorf("failed to load sessions: %w", err)
	}

	if err := s.Transport.Start(ctx); err != nil {
		return fmt.Errorf("failed to start transport: %w", err)
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.running = true

	s.wg.Add(1)
	go s.listen()

	resumed := 0
	for i := range sessions {
		session := sessions[i]
		if session.IsExpired(s.now()) {
			log.Infof("dropping expired session %s", session.Topic)
			if err := s.Sessions.DeleteSession(ctx, session.Topic); err != nil {
				log.WithError(err).Warnf(
					"failed to delete expired session %s", session.Topic,
				)
			}
			continue
		}
		s.resuming[session.Topic] = struct{}{}
		s.goTracked(func() { s.resume(session) })
		resumed++
	}

	log.Infof(
		"supervisor started on chain %s, resuming %d sessions",
		s.Network.ChainId, resumed,
	)
	return nil
}

// Stop cancels every in-flight request, stops the transport and waits for
// all workers to exit.
func (s *BridgeSupervisor) Stop() {
	s.lock.Lock()
	if !s.running {
		s.lock.Unlock()
		return
	}
	s.running = false
	s.cancel()
	for topic, w := range s.workers {
		w.stop()
		delete(s.workers, topic)
	}
	s.resuming = make(map[string]struct{})
	s.pending = make(map[string][]ports.SessionRequest)
	s.lock.Unlock()

	s.Transport.Stop()
	s.wg.Wait()
	s.Metrics.SetActiveSessions(0)
	log.Info("supervisor stopped")
}

func (s *BridgeSupervisor) IsRunning() bool {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.running
}

func (s *BridgeSupervisor) checkChain(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.RequestTimeout)
	defer cancel()

	genesisHash, err := s.Chain.GetBlockHash(ctx, 0)
	if err != nil {
		return fmt.Errorf("failed to fetch genesis block hash: %w", err)
	}
	chainId, err := domain.ChainIdFromGenesis(genesisHash)
	if err != nil {
		return err
	}
	if !s.Network.IsSupported(chainId) {
		return fmt.Errorf(
			"%w: node serves %s, expected %s", ErrChainMismatch, chainId,
			s.Network.ChainId,
		)
	}
	return nil
}

func (s *BridgeSupervisor) listen() {
	defer s.wg.Done()

	events := s.Transport.Events()
	for {
		select {
		case <-s.ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				log.Warn("transport event queue closed")
				return
			}
			s.handleEvent(event)
		}
	}
}

func (s *BridgeSupervisor) handleEvent(event ports.TransportEvent) {
	log.Debugf("received %s event on topic %s", event.Type, event.Topic)

	switch event.Type {
	case ports.EventSessionProposal:
		if event.Proposal == nil {
			log.Warn("dropping session proposal event with no proposal")
			return
		}
		proposal := *event.Proposal
		s.lock.Lock()
		s.proposals++
		s.lock.Unlock()
		s.goTracked(func() { s.handleProposal(proposal) })
	case ports.EventSessionRequest:
		if event.Request == nil {
			log.Warn("dropping session request event with no request")
			return
		}
		s.handleRequest(*event.Request)
	case ports.EventSessionDelete, ports.EventSessionExpire:
		s.closeSession(event.Topic, event.Type.String())
	case ports.EventTopicLost:
		s.onTopicLost(event.Topic)
	case ports.EventTransportReset:
		s.lock.RLock()
		topics := make([]string, 0, len(s.workers))
		for topic := range s.workers {
			topics = append(topics, topic)
		}
		s.lock.RUnlock()

		log.Warnf("transport reset, resuming %d sessions", len(topics))
		for _, topic := range topics {
			s.onTopicLost(topic)
		}
	default:
		log.Warnf("dropping unknown transport event %d", event.Type)
	}
}

func (s *BridgeSupervisor) handleProposal(proposal ports.SessionProposal) {
	ctx, cancel := context.WithTimeout(s.ctx, s.RequestTimeout)
	defer cancel()

	var w *topicWorker
	var topic string
	defer func() { s.proposalDone(topic, w) }()

	namespace, err := s.Negotiator.Evaluate(
		proposal.RequiredNamespaces, proposal.OptionalNamespaces,
	)
	if err != nil {
		log.WithError(err).Infof(
			"rejecting session proposal %d from %s",
			proposal.ID, proposal.Proposer.Name,
		)
		reason := ports.RPCError{Code: ErrorCode(err), Message: err.Error()}
		if err := s.Transport.Reject(ctx, proposal.ID, reason); err != nil {
			log.WithError(err).Warnf(
				"failed to reject session proposal %d", proposal.ID,
			)
		}
		return
	}

	settlement, err := s.Transport.Approve(ctx, proposal.ID, *namespace)
	if err != nil {
		log.WithError(err).Warnf(
			"failed to approve session proposal %d", proposal.ID,
		)
		return
	}

	session := domain.Session{
		Topic:     settlement.Topic,
		PeerName:  proposal.Proposer.Name,
		PeerURL:   proposal.Proposer.URL,
		Namespace: *namespace,
		Expiry:    settlement.Expiry,
		CreatedAt: s.now().Unix(),
	}
	if err := s.Sessions.AddSession(ctx, session); err != nil {
		log.WithError(err).Warnf("failed to persist session %s", session.Topic)
		s.disconnect(ctx, session.Topic, "internal error")
		return
	}

	s.lock.Lock()
	w = s.startWorker(session.Topic)
	s.lock.Unlock()
	if w == nil {
		return
	}
	topic = session.Topic

	log.Infof(
		"approved session %s with %s, methods %v",
		session.Topic, session.PeerName, session.Namespace.Methods,
	)
}

func (s *BridgeSupervisor) handleRequest(req ports.SessionRequest) {
	s.lock.Lock()
	w, ok := s.workers[req.Topic]
	_, resuming := s.resuming[req.Topic]
	if !ok && !resuming && s.proposals > 0 {
		s.pending[req.Topic] = append(s.pending[req.Topic], req)
		s.lock.Unlock()
		log.Debugf(
			"holding request %d on topic %s until pending proposals settle",
			req.ID, req.Topic,
		)
		return
	}
	s.lock.Unlock()

	if resuming {
		log.Warnf(
			"dropping request %d received on topic %s while resuming",
			req.ID, req.Topic,
		)
		return
	}

	if !ok || !w.enqueue(func(ctx context.Context) { s.serveRequest(ctx, req) }) {
		s.refuseRequest(req)
	}
}

// proposalDone hands the requests held for the topic to its worker, if the
// proposal settled one. Once no proposal is in flight, the requests still
// held are for topics that don't exist and get refused.
func (s *BridgeSupervisor) proposalDone(topic string, w *topicWorker) {
	s.lock.Lock()
	s.proposals--
	held := s.pending[topic]
	delete(s.pending, topic)

	var orphans []ports.SessionRequest
	if s.proposals <= 0 {
		for t, reqs := range s.pending {
			orphans = append(orphans, reqs...)
			delete(s.pending, t)
		}
	}
	running := s.running
	s.lock.Unlock()

	if !running {
		return
	}
	for i := range held {
		req := held[i]
		if w == nil ||
			!w.enqueue(func(ctx context.Context) { s.serveRequest(ctx, req) }) {
			s.refuseRequest(req)
		}
	}
	for _, req := range orphans {
		s.refuseRequest(req)
	}
}

// refuseRequest answers a request for a topic with no live session.
func (s *BridgeSupervisor) refuseRequest(req ports.SessionRequest) {
	s.goTracked(func() {
		ctx, cancel := context.WithTimeout(s.ctx, s.RequestTimeout)
		defer cancel()
		res := s.Dispatcher.Handle(ctx, nil, req)
		s.respond(ctx, req, res)
	})
}

// serveRequest runs on the topic worker. If the topic is cancelled while the
// request is in flight, its response is never sent.
func (s *BridgeSupervisor) serveRequest(
	ctx context.Context, req ports.SessionRequest,
) {
	session, err := s.Sessions.GetSession(ctx, req.Topic)
	if err != nil {
		if !errors.Is(err, domain.ErrSessionNotFound) {
			log.WithError(err).Warnf("failed to get session %s", req.Topic)
		}
		session = nil
	}

	expired := session != nil && session.IsExpired(s.now())
	if expired {
		session = nil
	}

	res := s.Dispatcher.Handle(ctx, session, req)
	if ctx.Err() != nil {
		log.Infof(
			"dropping response to request %d, topic %s was cancelled",
			req.ID, req.Topic,
		)
		return
	}
	s.respond(ctx, req, res)

	if expired {
		s.goTracked(func() { s.closeSession(req.Topic, "expired") })
	}
}

func (s *BridgeSupervisor) respond(
	ctx context.Context, req ports.SessionRequest, res ports.RPCResponse,
) {
	ctx, cancel := context.WithTimeout(ctx, s.RequestTimeout)
	defer cancel()

	if err := s.Transport.Respond(ctx, req.Topic, res); err != nil {
		log.WithError(err).Warnf(
			"failed to respond to request %d on topic %s", req.ID, req.Topic,
		)
	}
}

// onTopicLost cancels the requests in flight on the topic, so that their
// responses are never delivered, and resumes the session in background.
func (s *BridgeSupervisor) onTopicLost(topic string) {
	s.lock.Lock()
	if _, ok := s.resuming[topic]; ok || !s.running {
		s.lock.Unlock()
		return
	}
	if w, ok := s.workers[topic]; ok {
		if discarded := w.stop(); discarded > 0 {
			log.Infof("discarded %d pending jobs on lost topic %s", discarded, topic)
		}
		delete(s.workers, topic)
	}
	s.resuming[topic] = struct{}{}
	s.lock.Unlock()

	session, err := s.Sessions.GetSession(s.ctx, topic)
	if err != nil {
		log.WithError(err).Warnf("cannot resume topic %s", topic)
		s.lock.Lock()
		delete(s.resuming, topic)
		s.lock.Unlock()
		return
	}

	log.Warnf("topic %s lost, resuming session", topic)
	s.goTracked(func() { s.resume(*session) })
}

// resume tries to re-establish the session up to ResumeMaxRetries times
// with a linear backoff. The session is expired if all attempts fail.
func (s *BridgeSupervisor) resume(session domain.Session) {
	topic := session.Topic

	for attempt := 1; attempt <= s.ResumeMaxRetries; attempt++ {
		if !s.isResuming(topic) {
			return
		}

		ctx, cancel := context.WithTimeout(s.ctx, s.RequestTimeout)
		newTopic, err := s.Transport.Resume(ctx, session)
		cancel()
		if err == nil {
			s.Metrics.ObserveResumption(resumeOutcomeOk)
			s.completeResume(session, newTopic)
			return
		}
		if s.ctx.Err() != nil {
			return
		}

		s.Metrics.ObserveResumption(resumeOutcomeRetry)
		log.WithError(err).Warnf(
			"failed to resume session %s (%d/%d)",
			topic, attempt, s.ResumeMaxRetries,
		)
		if attempt >= s.ResumeMaxRetries {
			break
		}

		select {
		case <-s.ctx.Done():
			return
		case <-time.After(s.ResumeBackoff * time.Duration(attempt)):
		}
	}

	s.Metrics.ObserveResumption(resumeOutcomeFailed)
	s.closeSession(topic, "resumption failed")
}

func (s *BridgeSupervisor) completeResume(session domain.Session, newTopic string) {
	oldTopic := session.Topic
	ctx, cancel := context.WithTimeout(s.ctx, s.RequestTimeout)
	defer cancel()

	if newTopic != "" && newTopic != oldTopic {
		session.Topic = newTopic
		if err := s.Sessions.AddSession(ctx, session); err != nil {
			log.WithError(err).Warnf("failed to persist resumed session %s", newTopic)
			s.closeSession(oldTopic, "resumption failed")
			return
		}
		if err := s.Sessions.DeleteSession(ctx, oldTopic); err != nil {
			log.WithError(err).Warnf("failed to delete session %s", oldTopic)
		}
	}

	s.lock.Lock()
	if _, ok := s.resuming[oldTopic]; !ok {
		// closed while resuming
		s.lock.Unlock()
		if session.Topic != oldTopic {
			if err := s.Sessions.DeleteSession(ctx, session.Topic); err != nil {
				log.WithError(err).Warnf(
					"failed to delete session %s", session.Topic,
				)
			}
		}
		return
	}
	delete(s.resuming, oldTopic)
	w := s.startWorker(session.Topic)
	s.lock.Unlock()
	if w == nil {
		return
	}

	log.Infof("session %s resumed on topic %s", oldTopic, session.Topic)

	// the account set or the chain might have changed while the session was
	// not served.
	topic := session.Topic
	w.enqueue(func(ctx context.Context) { s.syncNamespace(ctx, topic) })
}

// closeSession stops the topic worker, if any, and deletes the session.
func (s *BridgeSupervisor) closeSession(topic, reason string) {
	s.lock.Lock()
	if w, ok := s.workers[topic]; ok {
		w.stop()
		delete(s.workers, topic)
	}
	delete(s.resuming, topic)
	s.Metrics.SetActiveSessions(len(s.workers))
	s.lock.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.RequestTimeout)
	defer cancel()
	if err := s.Sessions.DeleteSession(ctx, topic); err != nil {
		log.WithError(err).Warnf("failed to delete session %s", topic)
	}
	log.Infof("session %s closed: %s", topic, reason)
}

func (s *BridgeSupervisor) disconnect(ctx context.Context, topic, reason string) {
	if err := s.Transport.Disconnect(ctx, topic, ports.RPCError{
		Code: CodeUserDisconnected, Message: reason,
	}); err != nil {
		log.WithError(err).Warnf("failed to disconnect topic %s", topic)
	}
}

// syncNamespace aligns the chain and accounts of the session with the ones
// served by the bridge and notifies the peer. It runs on the topic worker so
// that the events are emitted before any later request is dispatched.
func (s *BridgeSupervisor) syncNamespace(ctx context.Context, topic string) {
	var chainChanged, accountsChanged bool
	var namespace domain.SessionNamespace

	chainId := s.Network.ChainId
	accounts := s.chainAccounts()
	if err := s.Sessions.UpdateSession(
		ctx, topic, func(session *domain.Session) (*domain.Session, error) {
			chainChanged = session.SetChain(chainId)
			accountsChanged = session.SetAccounts(accounts)
			namespace = session.Namespace
			return session, nil
		},
	); err != nil {
		log.WithError(err).Warnf("failed to update session %s", topic)
		return
	}
	if !chainChanged && !accountsChanged {
		return
	}

	if err := s.Transport.UpdateSession(ctx, topic, namespace); err != nil {
		log.WithError(err).Warnf("failed to update namespace of topic %s", topic)
	}
	if chainChanged {
		if err := s.Transport.Emit(
			ctx, topic, chainId, domain.EventChainChanged, chainId.String(),
		); err != nil {
			log.WithError(err).Warnf("failed to emit chainChanged on topic %s", topic)
		}
	}
	if accountsChanged {
		data := make([]string, 0, len(accounts))
		for _, a := range accounts {
			data = append(data, a.String())
		}
		if err := s.Transport.Emit(
			ctx, topic, chainId, domain.EventAccountsChanged, data,
		); err != nil {
			log.WithError(err).Warnf(
				"failed to emit accountsChanged on topic %s", topic,
			)
		}
	}
	log.Debugf("namespace of session %s updated", topic)
}

// startWorker must be called with the lock held.
func (s *BridgeSupervisor) startWorker(topic string) *topicWorker {
	if !s.running {
		return nil
	}
	if w, ok := s.workers[topic]; ok && !w.isStopped() {
		return w
	}
	w := newTopicWorker(s.ctx, topic)
	s.workers[topic] = w
	w.start(s.wg)
	s.Metrics.SetActiveSessions(len(s.workers))
	return w
}

func (s *BridgeSupervisor) isResuming(topic string) bool {
	s.lock.RLock()
	defer s.lock.RUnlock()
	_, ok := s.resuming[topic]
	return ok
}

func (s *BridgeSupervisor) goTracked(f func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		f()
	}()
}

func (s *BridgeSupervisor) chainAccounts() []domain.AccountId {
	chainId := s.Network.ChainId
	accounts := make([]domain.AccountId, 0)
	for _, a := range s.Accounts.AccountIds() {
		if a.ChainId == chainId {
			accounts = append(accounts, a)
		}
	}
	return accounts
}

// syncAllNamespaces enqueues a namespace update on every served topic.
func (s *BridgeSupervisor) syncAllNamespaces() {
	s.lock.RLock()
	defer s.lock.RUnlock()

	for topic, w := range s.workers {
		topic := topic
		w.enqueue(func(ctx context.Context) { s.syncNamespace(ctx, topic) })
	}
}
