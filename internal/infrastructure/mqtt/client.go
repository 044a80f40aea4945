package mqtt

import (
	"context"
	"fmt"
	"sync"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/gray-logic-tasmota/internal/infrastructure/config"
)

// Logger is the subset of logging.Logger the client needs.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Error(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// MessageHandler receives one message. A returned error is logged only.
type MessageHandler func(topic string, payload []byte) error

// ConnectOptions are fixed for the lifetime of a Client.
type ConnectOptions struct {
	// Version is advertised in the retained presence message.
	Version string

	Logger Logger

	// OnConnect runs after every successful (re)connect, once subscriptions
	// have been restored.
	OnConnect func()

	// OnDisconnect runs when the broker connection drops.
	OnDisconnect func(err error)
}

// Client is a paho connection that restores its subscriptions after a
// reconnect and keeps a retained presence message for the service.
//
// All methods are safe for concurrent use.
type Client struct {
	paho pahomqtt.Client
	cfg  config.MQTTConfig
	opts ConnectOptions

	mu            sync.RWMutex
	connected     bool
	subscriptions map[string]subscription
}

type subscription struct {
	qos     byte
	handler MessageHandler
}

// Connect dials the broker and waits up to connectTimeout for the session.
func Connect(cfg config.MQTTConfig, opts ConnectOptions) (*Client, error) {
	c := &Client{
		cfg:           cfg,
		opts:          opts,
		subscriptions: make(map[string]subscription),
	}
	c.paho = pahomqtt.NewClient(c.newClientOptions())

	tok := c.paho.Connect()
	if !tok.WaitTimeout(connectTimeout) {
		c.paho.Disconnect(0)
		return nil, fmt.Errorf("%w: no answer from %s:%d after %v",
			ErrConnectionFailed, cfg.Broker.Host, cfg.Broker.Port, connectTimeout)
	}
	if err := tok.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// The connect handler runs asynchronously; callers may publish first.
	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
	return c, nil
}

func (c *Client) handleConnect() {
	c.mu.Lock()
	c.connected = true
	subs := make(map[string]subscription, len(c.subscriptions))
	for topic, sub := range c.subscriptions {
		subs[topic] = sub
	}
	c.mu.Unlock()

	for topic, sub := range subs {
		go c.logFailure("subscribe", topic, c.paho.Subscribe(topic, sub.qos, c.deliver(sub.handler)))
	}
	c.publishStatus(c.status(StatusOnline, ""), false)

	if c.opts.OnConnect != nil {
		c.opts.OnConnect()
	}
}

func (c *Client) handleDisconnect(err error) {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()

	if c.opts.OnDisconnect != nil {
		c.opts.OnDisconnect(err)
	}
}

// Publish sends payload and waits for the broker to acknowledge it.
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if err := validate(topic, qos); err != nil {
		return err
	}
	if len(payload) > maxPayloadSize {
		return &OpError{Op: "publish", Topic: topic, Err: fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(payload))}
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return c.wait("publish", topic, c.paho.Publish(topic, qos, retained, payload))
}

// Subscribe registers handler for topic (wildcards allowed). The subscription
// is replayed after every reconnect.
func (c *Client) Subscribe(topic string, qos byte, handler MessageHandler) error {
	if err := validate(topic, qos); err != nil {
		return err
	}
	if handler == nil {
		return &OpError{Op: "subscribe", Topic: topic, Err: ErrNilHandler}
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.mu.Lock()
	c.subscriptions[topic] = subscription{qos: qos, handler: handler}
	c.mu.Unlock()

	if err := c.wait("subscribe", topic, c.paho.Subscribe(topic, qos, c.deliver(handler))); err != nil {
		c.mu.Lock()
		delete(c.subscriptions, topic)
		c.mu.Unlock()
		return err
	}
	return nil
}

// Close replaces the retained presence with a graceful offline message and
// disconnects. Safe to call on a client that never connected.
func (c *Client) Close() error {
	if c.paho == nil {
		return nil
	}
	if c.IsConnected() {
		c.publishStatus(c.status(StatusOffline, ReasonShutdown), true)
	}
	c.paho.Disconnect(disconnectQuiesce)

	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
	return nil
}

// HealthCheck reports ErrNotConnected while the session is down.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected reports the last known session state.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected && c.paho != nil && c.paho.IsConnected()
}

func (c *Client) qos() byte {
	if c.cfg.QoS < 0 || c.cfg.QoS > maxQoS {
		return 1
	}
	return byte(c.cfg.QoS)
}

func (c *Client) logger() Logger {
	if c.opts.Logger == nil {
		return noopLogger{}
	}
	return c.opts.Logger
}

// deliver adapts handler to paho, logging returned errors and recovering
// panics so one bad message cannot kill the router goroutine.
func (c *Client) deliver(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				c.logger().Error("MQTT handler panic recovered", "topic", msg.Topic(), "panic", r)
			}
		}()
		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			c.logger().Warn("MQTT handler returned error", "topic", msg.Topic(), "error", err)
		}
	}
}

// wait turns a paho token into an error.
func (c *Client) wait(op, topic string, tok pahomqtt.Token) error {
	if !tok.WaitTimeout(operationTimeout) {
		return &OpError{Op: op, Topic: topic, Err: ErrTimeout}
	}
	if err := tok.Error(); err != nil {
		return &OpError{Op: op, Topic: topic, Err: err}
	}
	return nil
}

func (c *Client) logFailure(op, topic string, tok pahomqtt.Token) {
	if err := c.wait(op, topic, tok); err != nil {
		c.logger().Error("MQTT "+op+" failed", "topic", topic, "error", err)
	}
}

func validate(topic string, qos byte) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	return nil
}
