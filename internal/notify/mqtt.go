// Package notify publishes light changes to an MQTT broker.
package notify

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"hadash/internal/config"
	appLog "hadash/internal/log"
	"hadash/internal/model"
)

const (
	connectTimeout = 10 * time.Second
	publishTimeout = 5 * time.Second
)

// publisher is the part of mqtt.Client we use.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload any) mqtt.Token
}

// LightMessage is the JSON payload published per light.
type LightMessage struct {
	EntityID   string    `json:"entity_id"`
	Name       string    `json:"name"`
	State      string    `json:"state"`
	Brightness int       `json:"brightness"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Publisher sends a retained message per light whenever a refresh shows
// the light changed.
type Publisher struct {
	client publisher
	prefix string
	retain bool
	now    func() time.Time
}

// Connect dials the broker from cfg. It returns nil, nil when no broker
// is configured.
func Connect(cfg config.MQTTConfig) (*Publisher, error) {
	if cfg.Broker == "" {
		return nil, nil
	}

	mqtt.ERROR = zap.NewStdLog(appLog.Logger().Named("mqtt"))

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			appLog.Warn("mqtt connection lost", "err", err)
		}).
		SetOnConnectHandler(func(_ mqtt.Client) {
			appLog.Info("mqtt connected", "broker", cfg.Broker)
		})
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, errors.New("mqtt: connect timed out")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt: connect: %w", err)
	}

	return newPublisher(client, cfg.TopicPrefix, cfg.Retained()), nil
}

func newPublisher(client publisher, prefix string, retain bool) *Publisher {
	return &Publisher{
		client: client,
		prefix: strings.TrimRight(prefix, "/"),
		retain: retain,
		now:    time.Now,
	}
}

// Topic is where a light's messages go.
func (p *Publisher) Topic(entityID string) string {
	return p.prefix + "/lights/" + entityID
}

// Changed returns the lights in next that are new or differ from prev in
// state, brightness or name.
func Changed(prev, next []model.Light) []model.Light {
	old := make(map[string]model.Light, len(prev))
	for _, l := range prev {
		old[l.EntityID] = l
	}

	var out []model.Light
	for _, l := range next {
		o, ok := old[l.EntityID]
		if !ok || o.State != l.State || o.Brightness != l.Brightness || o.Name != l.Name {
			out = append(out, l)
		}
	}
	return out
}

// OnRefresh publishes every changed light. Failures are logged only.
func (p *Publisher) OnRefresh(prev, next []model.Light) {
	if p == nil {
		return
	}
	for _, l := range Changed(prev, next) {
		p.publish(l)
	}
}

func (p *Publisher) publish(l model.Light) {
	payload, err := json.Marshal(LightMessage{
		EntityID:   l.EntityID,
		Name:       l.Name,
		State:      l.State,
		Brightness: l.Brightness,
		UpdatedAt:  p.now().UTC(),
	})
	if err != nil {
		appLog.Error("mqtt: marshal light", err, "entity_id", l.EntityID)
		return
	}

	topic := p.Topic(l.EntityID)
	token := p.client.Publish(topic, 0, p.retain, payload)
	go func() {
		if !token.WaitTimeout(publishTimeout) {
			appLog.Warn("mqtt publish timed out", "topic", topic)
			return
		}
		if err := token.Error(); err != nil {
			appLog.Warn("mqtt publish failed", "topic", topic, "err", err)
		}
	}()
}

// Close disconnects from the broker.
func (p *Publisher) Close() {
	if p == nil {
		return
	}
	if c, ok := p.client.(mqtt.Client); ok {
		c.Disconnect(250)
	}
}
