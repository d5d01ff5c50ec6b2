package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/facility-review-core/internal/infrastructure/config"
)

// Client publishes review events to an MQTT broker. It is safe for
// concurrent use.
type Client struct {
	client   pahomqtt.Client
	cfg      config.MQTTConfig
	topics   Topics
	clientID string

	connected atomic.Bool

	hooksMu sync.RWMutex
	hooks   connectionHooks
}

type connectionHooks struct {
	up   func()
	down func(error)
}

// Connect dials the broker described by cfg and announces the service as
// online on the retained status topic. The broker publishes an offline
// status on our behalf if the connection drops without Close.
//
// Returns ErrDisabled when cfg.Enabled is false.
func Connect(cfg config.MQTTConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}
	if cfg.QoS < 0 || cfg.QoS > maxQoS {
		return nil, ErrInvalidQoS
	}

	opts := buildClientOptions(cfg)
	c := &Client{
		cfg:      cfg,
		topics:   NewTopics(cfg.TopicPrefix),
		clientID: opts.ClientID,
	}
	configureLWT(opts, c.topics, c.clientID)
	opts.SetOnConnectHandler(func(pahomqtt.Client) { c.onUp() })
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.onDown(err) })

	c.client = pahomqtt.NewClient(opts)
	token := c.client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		return nil, fmt.Errorf("%w: no answer within %v", ErrConnectionFailed, defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// The connect handler fires on paho's goroutine and may not have run yet.
	c.connected.Store(true)
	return c, nil
}

// Topics returns the topic builder for this client's prefix.
func (c *Client) Topics() Topics {
	return c.topics
}

func (c *Client) announce(status, reason string) pahomqtt.Token {
	return c.client.Publish(c.topics.SystemStatus(), byte(c.cfg.QoS), true,
		statusPayload(c.clientID, status, reason, time.Now()))
}

func (c *Client) onUp() {
	c.connected.Store(true)
	c.announce("online", "")

	c.hooksMu.RLock()
	up := c.hooks.up
	c.hooksMu.RUnlock()
	if up != nil {
		up()
	}
}

func (c *Client) onDown(err error) {
	c.connected.Store(false)

	c.hooksMu.RLock()
	down := c.hooks.down
	c.hooksMu.RUnlock()
	if down != nil {
		down(err)
	}
}

// Close announces a graceful shutdown and disconnects. A nil or
// never-connected client closes without error.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	if c.IsConnected() {
		c.announce("offline", "graceful_shutdown").WaitTimeout(defaultPublishTimeout)
	}
	c.client.Disconnect(defaultDisconnectQuiesce)
	c.connected.Store(false)
	return nil
}

// HealthCheck reports ErrNotConnected while the broker link is down.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected returns the last known connection state.
func (c *Client) IsConnected() bool {
	return c.connected.Load() && c.client != nil && c.client.IsConnected()
}

// SetOnConnect registers fn to run after the first connect and every reconnect.
func (c *Client) SetOnConnect(fn func()) {
	c.hooksMu.Lock()
	c.hooks.up = fn
	c.hooksMu.Unlock()
}

// SetOnDisconnect registers fn to run when the connection is lost.
func (c *Client) SetOnDisconnect(fn func(err error)) {
	c.hooksMu.Lock()
	c.hooks.down = fn
	c.hooksMu.Unlock()
}
