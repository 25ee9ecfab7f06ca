package pipeline

import (
	"bytes"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// RequestHandler is called for every dataset received on the request topic.
// err is set when the payload is not a valid dataset.
type RequestHandler func(ds *Dataset, err error)

// MQTTClient manages the broker connection. Run events are published through
// a Publisher built on Client(); when a RequestHandler is set the client also
// subscribes to <prefix>/request and decodes incoming datasets.
type MQTTClient struct {
	client         mqtt.Client
	config         MQTTConfig
	requestHandler RequestHandler
	isConnected    bool
	mu             sync.RWMutex
}

// NewMQTTClient builds a client from the configuration. An empty broker
// disables MQTT: the result is nil with no error. The connection is opened
// by Start.
func NewMQTTClient(cfg MQTTConfig, handler RequestHandler) (*MQTTClient, error) {
	if cfg.Broker == "" {
		Logf("[MQTT] MQTT disabled: no broker configured")
		return nil, nil
	}
	if cfg.PublishPrefix == "" {
		cfg.PublishPrefix = DefaultPublishPrefix
	}

	c := &MQTTClient{
		config:         cfg,
		requestHandler: handler,
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "robustfit"
	}
	opts.SetClientID(clientID)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetCleanSession(false) // keep the request subscription across reconnects
	opts.SetOrderMatters(true)  // requests run one at a time

	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(c.onConnectionLost)
	opts.SetReconnectingHandler(c.onReconnecting)

	c.client = mqtt.NewClient(opts)
	return c, nil
}

// newMQTTClientWithMock wraps an existing mqtt.Client, for tests.
func newMQTTClientWithMock(client mqtt.Client, cfg MQTTConfig, handler RequestHandler) *MQTTClient {
	if cfg.PublishPrefix == "" {
		cfg.PublishPrefix = DefaultPublishPrefix
	}
	return &MQTTClient{
		client:         client,
		config:         cfg,
		requestHandler: handler,
	}
}

// Start connects in the background, retrying with exponential backoff.
func (c *MQTTClient) Start() {
	go c.connectWithRetry()
}

// connectWithRetry attempts to connect to the MQTT broker with exponential backoff
func (c *MQTTClient) connectWithRetry() {
	retryDelay := 1 * time.Second
	maxRetryDelay := 60 * time.Second

	for {
		Logf("[MQTT] Connecting to %s...", c.config.Broker)

		token := c.client.Connect()
		if token.WaitTimeout(10 * time.Second) {
			if token.Error() == nil {
				Logf("[MQTT] Connected to %s", c.config.Broker)
				c.setConnected(true)
				return
			}
			Logf("[MQTT] Connection failed: %v", token.Error())
		} else {
			Logf("[MQTT] Connection timeout")
		}

		Logf("[MQTT] Retrying connection in %v...", retryDelay)
		time.Sleep(retryDelay)
		retryDelay *= 2
		if retryDelay > maxRetryDelay {
			retryDelay = maxRetryDelay
		}
	}
}

// WaitConnected polls the connection state until it is up or timeout
// expires.
func (c *MQTTClient) WaitConnected(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if c.IsConnected() {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(50 * time.Millisecond)
	}
}

// RequestTopic is the topic datasets are accepted on.
func (c *MQTTClient) RequestTopic() string {
	return c.config.PublishPrefix + "/request"
}

func (c *MQTTClient) onConnect(client mqtt.Client) {
	c.setConnected(true)
	if c.requestHandler == nil {
		return
	}

	topic := c.RequestTopic()
	Logf("[MQTT] Subscribing to %s", topic)
	token := client.Subscribe(topic, 1, c.handleRequest)
	if token.WaitTimeout(5*time.Second) && token.Error() != nil {
		Logf("[MQTT] Error subscribing to %s: %v", topic, token.Error())
		return
	}
	Logf("[MQTT] Subscribed to %s", topic)
}

// onConnectionLost is called when the MQTT connection is lost
// Auto-reconnect is enabled, so this is typically a transient event
func (c *MQTTClient) onConnectionLost(client mqtt.Client, err error) {
	Logf("[MQTT] Connection interrupted (%v), auto-reconnect will retry", err)
	c.setConnected(false)
}

func (c *MQTTClient) onReconnecting(client mqtt.Client, opts *mqtt.ClientOptions) {
	Logf("[MQTT] Reconnecting...")
}

func (c *MQTTClient) handleRequest(client mqtt.Client, msg mqtt.Message) {
	payload := msg.Payload()
	Logf("[MQTT] Received request on %s (%d bytes)", msg.Topic(), len(payload))

	ds, err := DecodeDataset(bytes.NewReader(payload))
	if err != nil {
		err = fmt.Errorf("request on %s: %w", msg.Topic(), err)
		Logf("[MQTT] %v", err)
	}
	c.requestHandler(ds, err)
}

// IsConnected returns true if the MQTT client is connected
func (c *MQTTClient) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isConnected
}

func (c *MQTTClient) setConnected(connected bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.isConnected = connected
}

// Disconnect gracefully closes the MQTT connection
func (c *MQTTClient) Disconnect() {
	if c.client != nil && c.client.IsConnected() {
		Logf("[MQTT] Disconnecting...")
		c.client.Disconnect(250)
		c.setConnected(false)
	}
}

// Client returns the underlying MQTT client for publishing.
func (c *MQTTClient) Client() mqtt.Client {
	return c.client
}

// Config returns the effective MQTT settings.
func (c *MQTTClient) Config() MQTTConfig {
	return c.config
}
