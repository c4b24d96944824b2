package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/tsstatus/internal/core"
	"github.com/dkeye/tsstatus/internal/domain"
)

var errNotConnected = errors.New("mqtt not connected")

type Config struct {
	Broker         string
	Topic          string
	ClientID       string
	ConnectTimeout time.Duration
	PublishTimeout time.Duration
}

type snapshotMessage struct {
	Groups      []domain.Group `json:"groups"`
	EmptyGroups []string       `json:"empty_groups"`
	Members     int            `json:"members"`
	At          time.Time      `json:"at"`
}

type countMessage struct {
	Count int       `json:"count"`
	At    time.Time `json:"at"`
}

// Publisher mirrors rendered occupancy to retained MQTT topics:
// <topic>/snapshot and <topic>/count.
type Publisher struct {
	cfg    Config
	client paho.Client

	mu        sync.RWMutex
	connected bool
	published uint64
	failures  uint64
}

var _ core.OccupancyPublisher = (*Publisher)(nil)

func NewPublisher(cfg Config) *Publisher {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 2 * time.Second
	}
	return &Publisher{cfg: cfg}
}

// Connect starts the broker connection. The client keeps retrying in the
// background after the first attempt times out.
func (p *Publisher) Connect(ctx context.Context) error {
	opts := paho.NewClientOptions()
	opts.AddBroker(brokerURL(p.cfg.Broker))
	opts.SetClientID(p.cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(paho.Client) {
		p.setConnected(true)
		log.Info().Str("module", "adapters.mqtt").Str("broker", p.cfg.Broker).Msg("mqtt connected")
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		p.setConnected(false)
		log.Warn().Err(err).Str("module", "adapters.mqtt").Msg("mqtt connection lost, will auto-reconnect")
	}

	p.client = paho.NewClient(opts)
	log.Info().Str("module", "adapters.mqtt").Str("broker", p.cfg.Broker).Msg("connecting to mqtt broker")

	token := p.client.Connect()
	select {
	case <-token.Done():
	case <-time.After(p.cfg.ConnectTimeout):
		return fmt.Errorf("mqtt connect: timeout after %s", p.cfg.ConnectTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	p.setConnected(true)
	return nil
}

func (p *Publisher) PublishSnapshot(snap domain.OccupancySnapshot, at time.Time) error {
	return p.publish("snapshot", snapshotMessage{
		Groups:      snap.Groups,
		EmptyGroups: snap.EmptyGroupNames,
		Members:     snap.MemberCount(),
		At:          at.UTC(),
	})
}

func (p *Publisher) PublishCount(count int, at time.Time) error {
	return p.publish("count", countMessage{Count: count, At: at.UTC()})
}

func (p *Publisher) publish(kind string, v any) error {
	if !p.isConnected() {
		p.fail()
		return errNotConnected
	}
	payload, err := json.Marshal(v)
	if err != nil {
		p.fail()
		return fmt.Errorf("mqtt marshal %s: %w", kind, err)
	}

	topic := p.cfg.Topic + "/" + kind
	token := p.client.Publish(topic, 0, true, payload)
	if !token.WaitTimeout(p.cfg.PublishTimeout) {
		p.fail()
		return fmt.Errorf("mqtt publish %s: timeout", topic)
	}
	if err := token.Error(); err != nil {
		p.fail()
		return fmt.Errorf("mqtt publish %s: %w", topic, err)
	}

	p.mu.Lock()
	p.published++
	p.mu.Unlock()
	log.Debug().Str("module", "adapters.mqtt").Str("topic", topic).Int("size", len(payload)).Msg("published")
	return nil
}

// Disconnect waits up to 250ms for in-flight publishes.
func (p *Publisher) Disconnect() {
	if p.client != nil && p.client.IsConnected() {
		p.client.Disconnect(250)
		log.Info().Str("module", "adapters.mqtt").Msg("mqtt disconnected")
	}
	p.setConnected(false)
}

// Stats returns published and failed message counts.
func (p *Publisher) Stats() (published, failures uint64) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.published, p.failures
}

func (p *Publisher) setConnected(v bool) {
	p.mu.Lock()
	p.connected = v
	p.mu.Unlock()
}

func (p *Publisher) isConnected() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.connected
}

func (p *Publisher) fail() {
	p.mu.Lock()
	p.failures++
	p.mu.Unlock()
}

func brokerURL(broker string) string {
	for _, scheme := range []string{"tcp://", "ssl://", "ws://", "wss://", "mqtt://", "mqtts://"} {
		if strings.HasPrefix(broker, scheme) {
			return broker
		}
	}
	return "tcp://" + broker
}
