package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/fisaks/weatherstation/internal/logging"
)

var ErrNotInitialized = errors.New("mqtt client not initialized")

type BrokerConfig struct {
	BrokerURL        string
	ClientName       string
	TopicPrefix      string
	ConnectTimeout   time.Duration
	PublishTimeout   time.Duration
	SubscribeTimeout time.Duration
}

type PublishRequest struct {
	// If Context is nil, context.Background() is used
	Context      context.Context
	Topic        string
	Qos          QoS
	Retain       bool
	PayloadBytes []byte
	Payload      any
}

// OnConnectPublisher builds a message to send every time the client (re)connects.
type OnConnectPublisher func() (PublishRequest, error)

type subscription struct {
	qos     QoS
	handler mqtt.MessageHandler
}

// MsgBroker wraps a paho client with context aware publish/subscribe, resubscribes
// after reconnects and replays the on-connect publishers.
type MsgBroker struct {
	config         BrokerConfig
	client         mqtt.Client
	mu             sync.RWMutex
	subs           map[string]subscription
	onConnectFuncs map[string]OnConnectPublisher
}

func NewMsgBroker(cfg BrokerConfig) *MsgBroker {
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 5 * time.Second
	}
	if cfg.SubscribeTimeout <= 0 {
		cfg.SubscribeTimeout = 5 * time.Second
	}
	return &MsgBroker{
		config:         cfg,
		subs:           make(map[string]subscription),
		onConnectFuncs: make(map[string]OnConnectPublisher),
	}
}

func (b *MsgBroker) Connect(ctx context.Context) error {
	if b.client == nil {
		b.client = mqtt.NewClient(b.optionsFromConfig())
	}
	if b.client.IsConnected() {
		return nil
	}

	t := b.client.Connect()
	select {
	case <-t.Done():
		if err := t.Error(); err != nil {
			return fmt.Errorf("mqtt connect %s: %w", b.config.BrokerURL, err)
		}
		logging.Info("MQTT connected", "broker", b.config.BrokerURL, "clientName", b.config.ClientName)
		return nil
	case <-ctx.Done():
		b.client.Disconnect(250)
		return ctx.Err()
	}
}

func (b *MsgBroker) optionsFromConfig() *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions().AddBroker(b.config.BrokerURL)
	opts.SetClientID("weather-" + b.config.ClientName)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	if b.config.ConnectTimeout > 0 {
		opts.SetConnectTimeout(b.config.ConnectTimeout)
	}
	opts.SetWill(b.Topic("status"), "offline", byte(AtLeastOnce), true)
	opts.OnConnect = func(c mqtt.Client) {
		b.resubscribe(c)
		b.onConnectPublisher()
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		logging.Warn("MQTT connection lost", "clientName", b.config.ClientName, "error", err)
	}
	return opts
}

func (b *MsgBroker) AddOnConnectPublisher(id string, fn OnConnectPublisher) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onConnectFuncs[id] = fn
}

func (b *MsgBroker) RemoveOnConnectPublisher(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.onConnectFuncs, id)
}

func (b *MsgBroker) onConnectPublisher() {
	b.mu.RLock()
	funcsCopy := make(map[string]OnConnectPublisher, len(b.onConnectFuncs))
	for k, v := range b.onConnectFuncs {
		funcsCopy[k] = v
	}
	b.mu.RUnlock()

	// OnConnect runs on the paho goroutine; waiting for acks here would stall it.
	go func() {
		if err := b.Publish(context.Background(), b.Topic("status"), AtLeastOnce, true, []byte("online")); err != nil {
			logging.Warn("status publish failed", "clientName", b.config.ClientName, "error", err)
		}
		for id, fn := range funcsCopy {
			req, err := fn()
			if err != nil {
				logging.Error("onConnectPublisher failed", "clientName", b.config.ClientName, "id", id, "error", err)
				continue
			}
			ctx := req.Context
			if ctx == nil {
				ctx = context.Background()
			}
			var pubErr error
			if req.PayloadBytes == nil {
				pubErr = b.PublishJSON(ctx, req.Topic, req.Qos, req.Retain, req.Payload)
			} else {
				pubErr = b.Publish(ctx, req.Topic, req.Qos, req.Retain, req.PayloadBytes)
			}
			if pubErr != nil {
				logging.Error("onConnect publish failed", "clientName", b.config.ClientName, "id", id, "topic", req.Topic, "error", pubErr)
			}
		}
	}()
}

func (b *MsgBroker) resubscribe(c mqtt.Client) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for topic, s := range b.subs {
		c.Subscribe(topic, byte(s.qos), s.handler)
	}
}

func (b *MsgBroker) IsConnected() bool {
	if b.client == nil {
		return false
	}
	return b.client.IsConnected()
}

// Topic joins parts below the configured prefix, e.g. Topic("reading", "humidity").
func (b *MsgBroker) Topic(parts ...string) string {
	return JoinTopic(b.config.TopicPrefix, parts...)
}

func JoinTopic(prefix string, parts ...string) string {
	all := make([]string, 0, len(parts)+1)
	if prefix != "" {
		all = append(all, prefix)
	}
	all = append(all, parts...)
	return strings.Join(all, "/")
}

func (b *MsgBroker) Close(ctx context.Context) error {
	if b.client == nil {
		return nil
	}
	if b.client.IsConnected() {
		_ = b.Publish(ctx, b.Topic("status"), AtLeastOnce, true, []byte("offline"))
	}
	done := make(chan struct{})
	go func() {
		// 250 ms quiesce period
		b.client.Disconnect(250)
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *MsgBroker) Publish(ctx context.Context, topic string, qos QoS, retain bool, payload []byte) error {
	if b.client == nil {
		return ErrNotInitialized
	}
	qosByte, wait := qosToByte(qos)
	token := b.client.Publish(topic, qosByte, retain, payload)
	if !wait {
		return nil
	}

	select {
	case <-token.Done():
		return token.Error()
	case <-time.After(b.config.PublishTimeout):
		return fmt.Errorf("publish %s: timeout after %v", topic, b.config.PublishTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func qosToByte(qos QoS) (byte, bool) {
	if qos > 2 {
		return 0, false
	}
	return byte(qos), true
}

func (b *MsgBroker) PublishJSON(ctx context.Context, topic string, qos QoS, retain bool, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", topic, err)
	}
	return b.Publish(ctx, topic, qos, retain, data)
}

// Subscribe registers handler and waits for SUBACK with timeout. Before the first connect
// the subscription is only recorded. Handlers run on their own goroutine with panics logged.
func (b *MsgBroker) Subscribe(ctx context.Context, topic string, qos QoS, handler func(context.Context, string, []byte)) (Subscription, error) {
	onMessage := func(_ mqtt.Client, msg mqtt.Message) {
		go func() {
			defer func() {
				if r := recover(); r != nil {
					logging.Error("mqtt handler panic", "clientName", b.config.ClientName, "topic", msg.Topic(), "err", r)
				}
			}()
			handler(ctx, msg.Topic(), msg.Payload())
		}()
	}
	b.mu.Lock()
	b.subs[topic] = subscription{qos: qos, handler: onMessage}
	b.mu.Unlock()

	if !b.IsConnected() {
		// subscribed by resubscribe once the client connects
		return &msgSubscription{broker: b, topic: topic}, nil
	}
	token := b.client.Subscribe(topic, byte(qos), onMessage)
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return nil, fmt.Errorf("subscribe %s: %w", topic, err)
		}
		return &msgSubscription{broker: b, topic: topic}, nil
	case <-time.After(b.config.SubscribeTimeout):
		// kept in subs; the next reconnect retries it
		return nil, fmt.Errorf("subscribe timeout for %s", topic)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type msgSubscription struct {
	broker *MsgBroker
	topic  string
}

func (s *msgSubscription) Unsubscribe(ctx context.Context) error {
	b := s.broker
	b.mu.Lock()
	delete(b.subs, s.topic)
	b.mu.Unlock()

	if !b.IsConnected() {
		return nil
	}
	token := b.client.Unsubscribe(s.topic)
	select {
	case <-token.Done():
		return token.Error()
	case <-time.After(3 * time.Second):
		return fmt.Errorf("unsubscribe timeout for %s", s.topic)
	case <-ctx.Done():
		return ctx.Err()
	}
}
