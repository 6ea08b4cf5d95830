// Package session drives a discovery node through the publish and watch
// flows and reports progress as human-readable status lines.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"streamrelay/internal/core/domain"
	"streamrelay/internal/core/ports"
	"streamrelay/pkg/retry"
)

// Node is the part of discovery.Client a session needs.
type Node interface {
	Start(ctx context.Context) error
	ID() domain.NetworkID
	Announce(ctx context.Context, stableID domain.StableID) error
	JoinRoom(streamID domain.StreamID) error
	SendChat(text string) error
	ConnectToStable(ctx context.Context, stableID domain.StableID) (ports.PeerLink, error)
	Accepted() <-chan ports.PeerLink
	Events() <-chan domain.Envelope
	Disconnected() <-chan struct{}
	Close() error
}

type Options struct {
	// Retry bounds repeated ConnectToStable attempts. Disabled by default;
	// only dial failures are retried.
	Retry retry.Config

	// OnStatus receives every status line.
	OnStatus func(status string)
}

type Session struct {
	node   Node
	opts   Options
	logger *zap.SugaredLogger
}

func New(node Node, opts Options, logger *zap.SugaredLogger) *Session {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Session{node: node, opts: opts, logger: logger}
}

// Publish announces the node under stableID, joins streamID and hands every
// inbound link to onLink until ctx ends or the relay connection drops.
func (s *Session) Publish(ctx context.Context, stableID domain.StableID, streamID domain.StreamID, onLink func(ports.PeerLink)) error {
	if err := s.start(ctx); err != nil {
		return err
	}

	s.status("Registering network identity for %s...", stableID)
	if err := s.node.Announce(ctx, stableID); err != nil {
		s.status("Registration failed: %v", err)
		return err
	}
	s.status("Registered %s as %s", stableID, s.node.ID())

	if err := s.join(streamID); err != nil {
		return err
	}

	s.status("Waiting for viewers...")
	for {
		select {
		case link := <-s.node.Accepted():
			s.status("Viewer %s connected", link.Remote())
			if onLink != nil {
				onLink(link)
			}
		case <-s.node.Disconnected():
			s.status("Relay connection lost")
			return domain.ErrRelayDisconnected
		case <-ctx.Done():
			s.status("Stopped publishing")
			return nil
		}
	}
}

// Watch joins streamID and connects to the publisher registered under
// stableID. The returned link is connected.
func (s *Session) Watch(ctx context.Context, stableID domain.StableID, streamID domain.StreamID) (ports.PeerLink, error) {
	if stableID == "" {
		s.status("Please enter a streamer address.")
		return nil, fmt.Errorf("%w: empty stable id", domain.ErrInvalidIdentity)
	}
	if err := s.start(ctx); err != nil {
		return nil, err
	}
	if err := s.join(streamID); err != nil {
		return nil, err
	}

	cfg := s.opts.Retry
	cfg.RetryableErrors = []error{domain.ErrDialFailure}
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		s.status("Connection attempt %d failed, retrying in %s", attempt, delay.Round(time.Millisecond))
	}

	s.status("Looking up network identity for %s...", stableID)
	link, err := retry.RetryWithResult(ctx, cfg, func() (ports.PeerLink, error) {
		return s.node.ConnectToStable(ctx, stableID)
	})
	switch {
	case errors.Is(err, domain.ErrUnknownStreamer):
		s.status("Could not find a network identity for %s in the registry.", stableID)
		return nil, err
	case errors.Is(err, domain.ErrDialFailure):
		s.status("Connection failed. Streamer may be offline or unreachable.")
		return nil, err
	case err != nil:
		s.status("Connection failed: %v", err)
		return nil, err
	}

	s.status("Successfully connected to streamer %s", link.Remote())
	return link, nil
}

func (s *Session) SendChat(text string) error {
	if err := s.node.SendChat(text); err != nil {
		s.status("Could not send message: %v", err)
		return err
	}
	return nil
}

// Events exposes relay events such as chat and peerJoined.
func (s *Session) Events() <-chan domain.Envelope {
	return s.node.Events()
}

func (s *Session) Close() error {
	return s.node.Close()
}

func (s *Session) start(ctx context.Context) error {
	s.status("Starting node...")
	if err := s.node.Start(ctx); err != nil && !errors.Is(err, domain.ErrAlreadyStarted) {
		s.status("Node failed to start: %v", err)
		return err
	}
	s.status("Node started as %s", s.node.ID())
	return nil
}

func (s *Session) join(streamID domain.StreamID) error {
	if streamID == "" {
		return nil
	}
	if err := s.node.JoinRoom(streamID); err != nil {
		s.status("Could not join stream %s: %v", streamID, err)
		return err
	}
	s.status("Joined stream %s", streamID)
	return nil
}

func (s *Session) status(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	s.logger.Infow("session status", "status", msg)
	if s.opts.OnStatus != nil {
		s.opts.OnStatus(msg)
	}
}
