package mqtt

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/dkeye/tsstatus/internal/domain"
)

type fakeToken struct {
	paho.Token
	done bool
	err  error
}

func (t *fakeToken) WaitTimeout(time.Duration) bool { return t.done }
func (t *fakeToken) Error() error                   { return t.err }

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

type fakeClient struct {
	paho.Client
	token *fakeToken
	sent  []published
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload any) paho.Token {
	c.sent = append(c.sent, published{topic, qos, retained, payload.([]byte)})
	return c.token
}

func newTestPublisher(tok *fakeToken) (*Publisher, *fakeClient) {
	fc := &fakeClient{token: tok}
	p := NewPublisher(Config{Topic: "tsstatus/occupancy"})
	p.client = fc
	p.setConnected(true)
	return p, fc
}

func TestPublishSnapshot(t *testing.T) {
	p, fc := newTestPublisher(&fakeToken{done: true})
	snap := domain.OccupancySnapshot{
		Groups:          []domain.Group{{ID: 1, Name: "Lobby", Members: []string{"a", "b"}}},
		EmptyGroupNames: []string{"Gaming"},
	}
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	if err := p.PublishSnapshot(snap, at); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(fc.sent) != 1 {
		t.Fatalf("sent %d messages", len(fc.sent))
	}
	m := fc.sent[0]
	if m.topic != "tsstatus/occupancy/snapshot" || m.qos != 0 || !m.retained {
		t.Fatalf("message = %+v", m)
	}
	var body snapshotMessage
	if err := json.Unmarshal(m.payload, &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Members != 2 || len(body.EmptyGroups) != 1 || !body.At.Equal(at) {
		t.Fatalf("body = %+v", body)
	}
}

func TestPublishCount(t *testing.T) {
	p, fc := newTestPublisher(&fakeToken{done: true})
	if err := p.PublishCount(7, time.Now()); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if fc.sent[0].topic != "tsstatus/occupancy/count" {
		t.Fatalf("topic = %s", fc.sent[0].topic)
	}
	if n, _ := p.Stats(); n != 1 {
		t.Fatalf("published = %d", n)
	}
}

func TestPublishFailures(t *testing.T) {
	p, fc := newTestPublisher(&fakeToken{done: true})
	p.setConnected(false)
	if err := p.PublishCount(1, time.Now()); !errors.Is(err, errNotConnected) {
		t.Fatalf("err = %v", err)
	}
	if len(fc.sent) != 0 {
		t.Fatal("published while disconnected")
	}

	p.setConnected(true)
	fc.token = &fakeToken{done: false}
	if err := p.PublishCount(1, time.Now()); err == nil {
		t.Fatal("expected timeout")
	}

	boom := errors.New("broker refused")
	fc.token = &fakeToken{done: true, err: boom}
	if err := p.PublishCount(1, time.Now()); !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	if _, failed := p.Stats(); failed != 3 {
		t.Fatalf("failures = %d", failed)
	}
}

func TestBrokerURL(t *testing.T) {
	cases := map[string]string{
		"localhost:1883":    "tcp://localhost:1883",
		"tcp://broker:1883": "tcp://broker:1883",
		"ssl://broker:8883": "ssl://broker:8883",
		"wss://broker/mqtt": "wss://broker/mqtt",
	}
	for in, want := range cases {
		if got := brokerURL(in); got != want {
			t.Errorf("brokerURL(%q) = %q, want %q", in, got, want)
		}
	}
}
