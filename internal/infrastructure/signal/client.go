package signal

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"streamrelay/internal/core/domain"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

var errClientClosed = errors.New("signaling client closed")

// Client is a websocket connection to the relay. It implements
// ports.SignalTransport.
type Client struct {
	serverURL string
	dialer    *websocket.Dialer

	conn     *websocket.Conn
	incoming chan domain.Envelope
	outgoing chan domain.Envelope
	done     chan struct{}

	// writerGone is closed when writePump exits.
	writerGone chan struct{}

	closeOnce sync.Once
	wg        sync.WaitGroup
}

func NewClient(serverURL string) *Client {
	return &Client{
		serverURL:  serverURL,
		dialer:     websocket.DefaultDialer,
		incoming:   make(chan domain.Envelope, 64),
		outgoing:   make(chan domain.Envelope, 64),
		done:       make(chan struct{}),
		writerGone: make(chan struct{}),
	}
}

// WithHandshakeTimeout bounds the websocket handshake.
func (c *Client) WithHandshakeTimeout(d time.Duration) *Client {
	dialer := *c.dialer
	dialer.HandshakeTimeout = d
	c.dialer = &dialer
	return c
}

// Connect dials the relay and waits for the connected event carrying the
// identity the relay assigned to this client.
func (c *Client) Connect(ctx context.Context) (domain.ConnectionID, error) {
	u, err := url.Parse(c.serverURL)
	if err != nil {
		return "", fmt.Errorf("invalid server URL: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return "", fmt.Errorf("invalid server URL scheme: %s", u.Scheme)
	}

	conn, _, err := c.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return "", fmt.Errorf("failed to connect: %w", err)
	}
	conn.SetReadLimit(maxMessageSize)

	id, err := awaitConnected(ctx, conn)
	if err != nil {
		conn.Close()
		return "", err
	}

	c.conn = conn
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	conn.SetPingHandler(func(data string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	c.wg.Add(2)
	go c.readPump()
	go c.writePump()

	return id, nil
}

func awaitConnected(ctx context.Context, conn *websocket.Conn) (domain.ConnectionID, error) {
	deadline := time.Now().Add(pongWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	conn.SetReadDeadline(deadline)

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	var env domain.Envelope
	if err := conn.ReadJSON(&env); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("failed to read connected event: %w", err)
	}
	if !stop() {
		return "", ctx.Err()
	}
	if env.Type != domain.EventConnected {
		return "", fmt.Errorf("expected %s event, got %q", domain.EventConnected, env.Type)
	}

	var payload domain.ConnectedPayload
	if err := env.Decode(&payload); err != nil {
		return "", err
	}
	if payload.ConnectionID == "" {
		return "", fmt.Errorf("relay assigned an empty connection id")
	}
	return payload.ConnectionID, nil
}

// readPump forwards frames from the relay until the connection fails or the
// client is closed, then closes the incoming channel.
func (c *Client) readPump() {
	defer func() {
		c.conn.Close()
		close(c.incoming)
		c.wg.Done()
	}()

	for {
		var env domain.Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))

		select {
		case c.incoming <- env:
		case <-c.done:
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		c.conn.Close()
		close(c.writerGone)
		c.wg.Done()
	}()

	for {
		select {
		case env := <-c.outgoing:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(env); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// Send queues env for the relay. It blocks while the outgoing queue is full.
func (c *Client) Send(env domain.Envelope) error {
	if c.conn == nil {
		return fmt.Errorf("signaling client is not connected")
	}
	select {
	case <-c.done:
		return errClientClosed
	case <-c.writerGone:
		return errClientClosed
	default:
	}

	select {
	case c.outgoing <- env:
		return nil
	case <-c.done:
		return errClientClosed
	case <-c.writerGone:
		return errClientClosed
	}
}

// Incoming returns the channel of frames from the relay. It is closed when
// the connection ends.
func (c *Client) Incoming() <-chan domain.Envelope {
	return c.incoming
}

// Close shuts the connection down and waits for the pumps to exit.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
	})
	if c.conn != nil {
		c.wg.Wait()
	}
	return nil
}
