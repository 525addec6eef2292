package integration

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/keypad-relay/keypad-relay-server/internal/config"
	"github.com/keypad-relay/keypad-relay-server/internal/protocol"
)

// DefaultTopicPattern places each event under its base and kind
const DefaultTopicPattern = "keypad/{base_id}/{kind}"

// Topic expands pattern for one event
func Topic(pattern string, kind protocol.MessageType, baseID int) string {
	if pattern == "" {
		pattern = DefaultTopicPattern
	}
	short := strings.TrimSuffix(string(kind), "_event")
	topic := strings.ReplaceAll(pattern, "{base_id}", strconv.Itoa(baseID))
	return strings.ReplaceAll(topic, "{kind}", short)
}

// Envelope is the body published to MQTT
type Envelope struct {
	ID        string      `json:"id"`
	Type      string      `json:"type"`
	BaseID    int         `json:"base_id"`
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

type outbound struct {
	topic string
	body  []byte
}

// Forwarder 将已入库事件转发到 MQTT
type Forwarder struct {
	client  mqtt.Client
	pattern string
	qos     byte
	queue   chan outbound

	published atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
}

// NewForwarder creates a forwarder for the configured broker
func NewForwarder(cfg config.MQTTConfig) *Forwarder {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.BrokerURL)

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "keypad-ingestion"
	}
	opts.SetClientID(clientID + "-" + uuid.NewString()[:8])

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	if cfg.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(10 * time.Second)
	opts.SetKeepAlive(30 * time.Second)

	opts.SetOnConnectHandler(func(mqtt.Client) {
		log.Info().Str("broker", cfg.BrokerURL).Msg("MQTT client connected")
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Error().Err(err).Str("broker", cfg.BrokerURL).Msg("MQTT connection lost")
	})

	return newForwarder(mqtt.NewClient(opts), cfg.TopicPattern, cfg.QoS)
}

func newForwarder(client mqtt.Client, pattern string, qos byte) *Forwarder {
	return &Forwarder{
		client:  client,
		pattern: pattern,
		qos:     qos,
		queue:   make(chan outbound, 256),
	}
}

// Notify queues a stored event for publishing. It never blocks.
func (f *Forwarder) Notify(kind protocol.MessageType, baseID int, payload interface{}) {
	body, err := json.Marshal(Envelope{
		ID:        uuid.NewString(),
		Type:      string(kind),
		BaseID:    baseID,
		Data:      payload,
		Timestamp: time.Now(),
	})
	if err != nil {
		log.Error().Err(err).Str("kind", string(kind)).Msg("Failed to marshal MQTT data")
		return
	}

	select {
	case f.queue <- outbound{topic: Topic(f.pattern, kind, baseID), body: body}:
	default:
		f.dropped.Add(1)
		log.Warn().Str("kind", string(kind)).Int("base_id", baseID).Msg("MQTT queue full, dropping event")
	}
}

// Start connects and publishes queued events until ctx is done
func (f *Forwarder) Start(ctx context.Context) error {
	token := f.client.Connect()
	if !token.WaitTimeout(10*time.Second) || token.Error() != nil {
		log.Error().Err(token.Error()).Msg("Failed to connect MQTT client, retrying in background")
	}

	log.Info().Msg("MQTT forwarder started")

	for {
		select {
		case <-ctx.Done():
			f.client.Disconnect(250)
			log.Info().
				Int64("published", f.published.Load()).
				Int64("failed", f.failed.Load()).
				Int64("dropped", f.dropped.Load()).
				Msg("MQTT forwarder stopped")
			return ctx.Err()
		case out := <-f.queue:
			f.publish(out)
		}
	}
}

func (f *Forwarder) publish(out outbound) {
	token := f.client.Publish(out.topic, f.qos, false, out.body)
	if !token.WaitTimeout(5 * time.Second) {
		f.failed.Add(1)
		log.Error().Str("topic", out.topic).Msg("MQTT publish timeout")
		return
	}
	if err := token.Error(); err != nil {
		f.failed.Add(1)
		log.Error().Err(err).Str("topic", out.topic).Msg("Failed to publish to MQTT")
		return
	}
	f.published.Add(1)
	log.Debug().Str("topic", out.topic).Msg("Event forwarded to MQTT")
}
