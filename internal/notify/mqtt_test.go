package notify

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"hadash/internal/config"
	"hadash/internal/model"
)

type doneToken struct{}

func (doneToken) Wait() bool                     { return true }
func (doneToken) WaitTimeout(time.Duration) bool { return true }
func (doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (doneToken) Error() error { return nil }

type published struct {
	topic    string
	retained bool
	payload  []byte
}

type fakeClient struct {
	mu   sync.Mutex
	msgs []published
}

func (f *fakeClient) Publish(topic string, qos byte, retained bool, payload any) mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, published{topic: topic, retained: retained, payload: payload.([]byte)})
	return doneToken{}
}

func TestChanged(t *testing.T) {
	prev := []model.Light{
		{EntityID: "light.a", Name: "A", State: "on", Brightness: 10},
		{EntityID: "light.b", Name: "B", State: "off"},
		{EntityID: "light.c", Name: "C", State: "on", Brightness: 50},
	}
	next := []model.Light{
		{EntityID: "light.a", Name: "A", State: "on", Brightness: 10},
		{EntityID: "light.b", Name: "B", State: "on"},
		{EntityID: "light.c", Name: "C", State: "on", Brightness: 60},
		{EntityID: "light.d", Name: "D", State: "off"},
	}

	got := Changed(prev, next)
	want := []string{"light.b", "light.c", "light.d"}
	if len(got) != len(want) {
		t.Fatalf("changed = %+v", got)
	}
	for i := range want {
		if got[i].EntityID != want[i] {
			t.Errorf("changed[%d] = %s, want %s", i, got[i].EntityID, want[i])
		}
	}
}

func TestPublisher_OnRefresh(t *testing.T) {
	client := &fakeClient{}
	p := newPublisher(client, "home/dash/", true)
	fixed := time.Date(2026, 1, 27, 10, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return fixed }

	p.OnRefresh(nil, []model.Light{{EntityID: "light.a", Name: "A", State: "on", Brightness: 40}})

	client.mu.Lock()
	defer client.mu.Unlock()
	if len(client.msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(client.msgs))
	}
	msg := client.msgs[0]
	if msg.topic != "home/dash/lights/light.a" {
		t.Errorf("topic = %q", msg.topic)
	}
	if !msg.retained {
		t.Error("expected retained message")
	}

	var body LightMessage
	if err := json.Unmarshal(msg.payload, &body); err != nil {
		t.Fatal(err)
	}
	if body.State != "on" || body.Brightness != 40 || !body.UpdatedAt.Equal(fixed) {
		t.Errorf("payload = %+v", body)
	}
}

func TestPublisher_NilIsNoop(t *testing.T) {
	var p *Publisher
	p.OnRefresh(nil, []model.Light{{EntityID: "light.a"}})
	p.Close()
}

func TestConnect_NoBroker(t *testing.T) {
	p, err := Connect(config.MQTTConfig{})
	if err != nil || p != nil {
		t.Errorf("Connect without broker = %v, %v", p, err)
	}
}
