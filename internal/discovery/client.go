// Package discovery turns a signaling connection into a peer-to-peer node:
// the relay-assigned connection id is the node's network identity, stable
// identities are resolved through a PeerRegistry, and native peer links are
// negotiated by exchanging SDP and ICE through the relay.
package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"streamrelay/internal/core/domain"
	"streamrelay/internal/core/ports"
	"streamrelay/pkg/tracing"
)

const DefaultDialTimeout = 30 * time.Second

type Options struct {
	// DialTimeout bounds Dial when the caller's context has no deadline. It
	// also bounds how long an inbound link may take to connect.
	DialTimeout time.Duration
	EventBuffer int
}

// Client is one discovery node.
type Client struct {
	transport ports.SignalTransport
	registry  ports.PeerRegistry
	links     ports.PeerLinkFactory
	opts      Options
	logger    *zap.SugaredLogger

	mu       sync.Mutex
	starting bool
	started  bool
	closed   bool
	id       domain.NetworkID
	sessions map[domain.NetworkID]*linkSession

	accepted     chan ports.PeerLink
	events       chan domain.Envelope
	done         chan struct{}
	disconnected chan struct{}
	wg           sync.WaitGroup
}

// linkSession tracks one negotiation with a remote node.
type linkSession struct {
	link     ports.PeerLink
	outbound bool

	answer   chan json.RawMessage
	rejected chan struct{}
	once     sync.Once

	mu       sync.Mutex
	signaled bool
	pending  []json.RawMessage
}

func newLinkSession(link ports.PeerLink, outbound bool) *linkSession {
	return &linkSession{
		link:     link,
		outbound: outbound,
		answer:   make(chan json.RawMessage, 1),
		rejected: make(chan struct{}),
	}
}

func (s *linkSession) reject() {
	s.once.Do(func() { close(s.rejected) })
}

// holdCandidate queues a local candidate until the description it belongs
// to has gone out. It reports whether the candidate may be sent now.
func (s *linkSession) holdCandidate(candidate json.RawMessage) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.signaled {
		return true
	}
	s.pending = append(s.pending, candidate)
	return false
}

func (s *linkSession) markSignaled() []json.RawMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signaled = true
	pending := s.pending
	s.pending = nil
	return pending
}

func NewClient(transport ports.SignalTransport, registry ports.PeerRegistry, links ports.PeerLinkFactory, opts Options, logger *zap.SugaredLogger) *Client {
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = DefaultDialTimeout
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = 64
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Client{
		transport:    transport,
		registry:     registry,
		links:        links,
		opts:         opts,
		logger:       logger,
		sessions:     make(map[domain.NetworkID]*linkSession),
		accepted:     make(chan ports.PeerLink, 8),
		events:       make(chan domain.Envelope, opts.EventBuffer),
		done:         make(chan struct{}),
		disconnected: make(chan struct{}),
	}
}

// Start connects to the relay. The identity the relay assigns becomes the
// node's network identity.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started || c.starting {
		c.mu.Unlock()
		return domain.ErrAlreadyStarted
	}
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("%w: client is closed", domain.ErrNodeStartFailure)
	}
	c.starting = true
	c.mu.Unlock()

	id, err := c.transport.Connect(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.starting = false
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrNodeStartFailure, err)
	}
	if c.closed {
		return fmt.Errorf("%w: client closed while connecting", domain.ErrNodeStartFailure)
	}

	c.id = id
	c.started = true
	c.logger = c.logger.With("network_id", id)
	c.logger.Infow("discovery node started")

	c.wg.Add(1)
	go c.readLoop()
	return nil
}

// ID returns the node's network identity; empty before Start.
func (c *Client) ID() domain.NetworkID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

// Accepted delivers links that remote nodes dialed and that reached the
// connected state.
func (c *Client) Accepted() <-chan ports.PeerLink {
	return c.accepted
}

// Events delivers relay events that are not part of a link handshake, such
// as chat, peerJoined and deliveryFailed. It is closed when the relay
// connection ends.
func (c *Client) Events() <-chan domain.Envelope {
	return c.events
}

// Disconnected is closed when the relay connection ends.
func (c *Client) Disconnected() <-chan struct{} {
	return c.disconnected
}

// Announce registers this node's network identity under stableID.
func (c *Client) Announce(ctx context.Context, stableID domain.StableID) error {
	id, err := c.requireStarted()
	if err != nil {
		return err
	}
	if err := c.registry.Register(ctx, stableID, id); err != nil {
		return fmt.Errorf("failed to announce %s: %w", stableID, err)
	}
	c.logger.Infow("announced stable identity", "stable_id", stableID)
	return nil
}

// JoinRoom asks the relay to place this node in streamID.
func (c *Client) JoinRoom(streamID domain.StreamID) error {
	if _, err := c.requireStarted(); err != nil {
		return err
	}
	env, err := domain.NewEnvelope(domain.EventJoinStream, string(streamID))
	if err != nil {
		return err
	}
	return c.transport.Send(env)
}

// SendChat broadcasts a chat message to the node's room.
func (c *Client) SendChat(text string) error {
	if _, err := c.requireStarted(); err != nil {
		return err
	}
	env, err := domain.NewEnvelope(domain.EventChatMessage, domain.ChatPayload{Message: text})
	if err != nil {
		return err
	}
	return c.transport.Send(env)
}

// ConnectToStable resolves stableID and dials the node registered under it.
func (c *Client) ConnectToStable(ctx context.Context, stableID domain.StableID) (ports.PeerLink, error) {
	if _, err := c.requireStarted(); err != nil {
		return nil, err
	}

	networkID, err := c.registry.Lookup(ctx, stableID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownStreamer, stableID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up %s: %w", stableID, err)
	}

	c.logger.Infow("resolved streamer", "stable_id", stableID, "target_id", networkID)
	return c.Dial(ctx, networkID)
}

// Dial negotiates a link with target through the relay. It returns once the
// link is connected. Failures, including timeouts, wrap domain.ErrDialFailure
// and are not retried.
func (c *Client) Dial(ctx context.Context, target domain.NetworkID) (ports.PeerLink, error) {
	self, err := c.requireStarted()
	if err != nil {
		return nil, err
	}
	if target == self {
		return nil, fmt.Errorf("%w: cannot dial own identity", domain.ErrDialFailure)
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.DialTimeout)
		defer cancel()
	}

	ctx, span := tracing.TraceDial(ctx, string(self), string(target))
	defer span.End()
	start := time.Now()

	link, err := c.links.NewLink(target)
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, fmt.Errorf("%w: %v", domain.ErrDialFailure, err)
	}

	session := newLinkSession(link, true)
	c.putSession(target, session)

	if err := c.negotiate(ctx, target, session); err != nil {
		c.dropSession(target, session)
		_ = link.Close()
		tracing.RecordError(ctx, err)
		c.logger.Warnw("dial failed", "target_id", target, "error", err)
		return nil, fmt.Errorf("%w: %v", domain.ErrDialFailure, err)
	}

	tracing.MeasureDuration(ctx, start, "dial")
	c.logger.Infow("link established", "target_id", target, "duration", time.Since(start))

	c.wg.Add(1)
	go c.watchLink(target, session)
	return link, nil
}

func (c *Client) negotiate(ctx context.Context, target domain.NetworkID, s *linkSession) error {
	c.trickle(target, s)

	offer, err := s.link.CreateOffer()
	if err != nil {
		return err
	}
	if err := c.sendDirected(domain.EventSDPOffer, target, offer); err != nil {
		return err
	}
	c.flushCandidates(target, s)

	answered := false
	for {
		var answer <-chan json.RawMessage
		if !answered {
			answer = s.answer
		}

		select {
		case raw := <-answer:
			if err := s.link.AcceptAnswer(raw); err != nil {
				return err
			}
			answered = true
		case <-s.link.Connected():
			return nil
		case <-s.link.Failed():
			return fmt.Errorf("peer connection failed")
		case <-s.rejected:
			return fmt.Errorf("relay could not deliver to %s", target)
		case <-c.disconnected:
			return fmt.Errorf("relay connection lost")
		case <-c.done:
			return fmt.Errorf("client closed")
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// readLoop routes relay traffic until the transport closes.
func (c *Client) readLoop() {
	defer c.wg.Done()
	defer func() {
		close(c.disconnected)
		close(c.events)
	}()

	for env := range c.transport.Incoming() {
		switch env.Type {
		case domain.EventSDPOffer:
			c.handleOffer(env)
		case domain.EventSDPAnswer:
			c.handleAnswer(env)
		case domain.EventICECandidate:
			c.handleCandidate(env)
		case domain.EventDeliveryFailed:
			c.handleDeliveryFailed(env)
			c.emit(env)
		case domain.EventConnected:
		default:
			c.emit(env)
		}
	}

	c.logger.Infow("relay connection closed")
}

func (c *Client) handleOffer(env domain.Envelope) {
	var msg domain.RelayedPayload
	if err := env.Decode(&msg); err != nil || msg.SenderID == "" {
		c.logger.Warnw("ignoring malformed offer", "error", err)
		return
	}
	sender := msg.SenderID

	link, err := c.links.NewLink(sender)
	if err != nil {
		c.logger.Warnw("failed to create link for inbound offer", "sender_id", sender, "error", err)
		return
	}
	session := newLinkSession(link, false)
	c.putSession(sender, session)

	c.trickle(sender, session)

	answer, err := link.AcceptOffer(msg.Offer)
	if err == nil {
		err = c.sendDirected(domain.EventSDPAnswer, sender, answer)
	}
	if err != nil {
		c.logger.Warnw("failed to answer offer", "sender_id", sender, "error", err)
		c.dropSession(sender, session)
		_ = link.Close()
		return
	}
	c.flushCandidates(sender, session)

	c.wg.Add(1)
	go c.awaitInbound(sender, session)
}

func (c *Client) awaitInbound(sender domain.NetworkID, s *linkSession) {
	defer c.wg.Done()

	timer := time.NewTimer(c.opts.DialTimeout)
	defer timer.Stop()

	select {
	case <-s.link.Connected():
	case <-s.link.Failed():
		c.logger.Infow("inbound link failed", "sender_id", sender)
		c.dropSession(sender, s)
		_ = s.link.Close()
		return
	case <-timer.C:
		c.logger.Infow("inbound link timed out", "sender_id", sender)
		c.dropSession(sender, s)
		_ = s.link.Close()
		return
	case <-c.done:
		return
	}

	c.logger.Infow("accepted inbound link", "sender_id", sender)
	select {
	case c.accepted <- s.link:
	case <-c.done:
		return
	}

	c.wg.Add(1)
	go c.watchLink(sender, s)
}

// watchLink forgets a session once its link fails.
func (c *Client) watchLink(remote domain.NetworkID, s *linkSession) {
	defer c.wg.Done()
	select {
	case <-s.link.Failed():
		c.dropSession(remote, s)
	case <-c.done:
	}
}

func (c *Client) handleAnswer(env domain.Envelope) {
	var msg domain.RelayedPayload
	if err := env.Decode(&msg); err != nil {
		c.logger.Warnw("ignoring malformed answer", "error", err)
		return
	}

	s := c.session(msg.SenderID)
	if s == nil || !s.outbound {
		c.logger.Debugw("answer without pending dial", "sender_id", msg.SenderID)
		return
	}
	select {
	case s.answer <- msg.Answer:
	default:
		c.logger.Debugw("duplicate answer ignored", "sender_id", msg.SenderID)
	}
}

func (c *Client) handleCandidate(env domain.Envelope) {
	var msg domain.RelayedPayload
	if err := env.Decode(&msg); err != nil {
		c.logger.Warnw("ignoring malformed candidate", "error", err)
		return
	}

	s := c.session(msg.SenderID)
	if s == nil {
		c.logger.Debugw("candidate without link", "sender_id", msg.SenderID)
		return
	}
	if err := s.link.AddRemoteCandidate(msg.Candidate); err != nil {
		c.logger.Warnw("failed to add remote candidate", "sender_id", msg.SenderID, "error", err)
	}
}

func (c *Client) handleDeliveryFailed(env domain.Envelope) {
	var msg domain.DeliveryFailedPayload
	if err := env.Decode(&msg); err != nil {
		return
	}
	if s := c.session(msg.ToID); s != nil && s.outbound {
		s.reject()
	}
}

// trickle forwards the link's local candidates to remote through the relay.
func (c *Client) trickle(remote domain.NetworkID, s *linkSession) {
	s.link.OnLocalCandidate(func(candidate json.RawMessage) {
		if s.holdCandidate(candidate) {
			c.sendDirected(domain.EventICECandidate, remote, candidate)
		}
	})
}

func (c *Client) flushCandidates(remote domain.NetworkID, s *linkSession) {
	for _, candidate := range s.markSignaled() {
		c.sendDirected(domain.EventICECandidate, remote, candidate)
	}
}

func (c *Client) emit(env domain.Envelope) {
	select {
	case c.events <- env:
	default:
		c.logger.Warnw("event buffer full, dropping event", "type", env.Type)
	}
}

func (c *Client) sendDirected(t domain.EventType, to domain.NetworkID, body json.RawMessage) error {
	env, err := domain.NewEnvelope(t, domain.NewDirectedPayload(t, to, body))
	if err != nil {
		return err
	}
	if err := c.transport.Send(env); err != nil {
		c.logger.Warnw("failed to send to relay", "type", t, "target_id", to, "error", err)
		return err
	}
	return nil
}

func (c *Client) requireStarted() (domain.NetworkID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started || c.closed {
		return "", domain.ErrNotStarted
	}
	return c.id, nil
}

func (c *Client) session(remote domain.NetworkID) *linkSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessions[remote]
}

// putSession replaces any earlier negotiation with remote. The replaced
// link is closed; nothing else holds on to it.
func (c *Client) putSession(remote domain.NetworkID, s *linkSession) {
	c.mu.Lock()
	prev := c.sessions[remote]
	c.sessions[remote] = s
	c.mu.Unlock()

	if prev != nil && prev != s {
		c.logger.Infow("replacing link", "remote_id", remote)
		prev.reject()
		_ = prev.link.Close()
	}
}

func (c *Client) dropSession(remote domain.NetworkID, s *linkSession) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sessions[remote] == s {
		delete(c.sessions, remote)
	}
}

// Close disconnects from the relay and closes every link.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	sessions := c.sessions
	c.sessions = make(map[domain.NetworkID]*linkSession)
	c.mu.Unlock()

	close(c.done)
	err := c.transport.Close()

	for _, s := range sessions {
		_ = s.link.Close()
	}

	c.wg.Wait()
	return err
}
