// Package audit publishes auth lifecycle events to NATS so an out-of-band
// consumer (cmd/auditor) can log or archive them. Events are observability
// only: nothing in the request path depends on them, and the evicted party
// is never notified through this channel.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"
)

// SubjectAuthEvents is the NATS subject all auth events are published to.
const SubjectAuthEvents = "auth.events"

// Event is one auth lifecycle event. Type is one of login_succeeded,
// login_failed, claim_lost, session_evicted, or logout.
type Event struct {
	Type      string `json:"type"`
	Username  string `json:"username"`
	SessionID string `json:"session_id,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Ts        int64  `json:"ts"` // unix timestamp
}

// Client wraps the NATS connection with publish/subscribe helpers for the
// auth event stream.
type Client struct {
	conn *nats.Conn
}

// Config holds NATS connection settings.
type Config struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:           "nats://localhost:4222",
		Name:          "skycast",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1, // infinite reconnects
	}
}

// Connect dials NATS with the given config and returns a ready client.
// It returns an error if the initial connection fails.
func Connect(config Config) (*Client, error) {
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("[audit] nats disconnected: %v", err)
			} else {
				log.Printf("[audit] nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[audit] nats reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Printf("[audit] nats connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("audit: nats connect: %w", err)
	}

	log.Printf("[audit] connected to %s", nc.ConnectedUrl())

	return &Client{conn: nc}, nil
}

// Record publishes one auth event. Publish failures are logged and
// swallowed: auditing must never fail a login or a guarded request.
func (c *Client) Record(_ context.Context, event, username, sessionID, reason string) {
	data, err := json.Marshal(Event{
		Type:      event,
		Username:  username,
		SessionID: sessionID,
		Reason:    reason,
		Ts:        time.Now().Unix(),
	})
	if err != nil {
		log.Printf("[audit] marshal event type=%s: %v", event, err)
		return
	}
	if err := c.conn.Publish(SubjectAuthEvents, data); err != nil {
		log.Printf("[audit] publish event type=%s: %v", event, err)
	}
}

// Subscribe registers a handler for incoming auth events. Malformed
// payloads are logged and dropped.
func (c *Client) Subscribe(handler func(Event)) error {
	_, err := c.conn.Subscribe(SubjectAuthEvents, func(msg *nats.Msg) {
		var event Event
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			log.Printf("[audit] unmarshal event: %v", err)
			return
		}
		handler(event)
	})
	if err != nil {
		return fmt.Errorf("audit: subscribe %s: %w", SubjectAuthEvents, err)
	}
	return nil
}

// Close flushes pending events and closes the NATS connection.
func (c *Client) Close() {
	if err := c.conn.Flush(); err != nil {
		log.Printf("[audit] flush: %v", err)
	}
	c.conn.Close()
}
