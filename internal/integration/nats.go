package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/keypad-relay/keypad-relay-server/internal/config"
	"github.com/keypad-relay/keypad-relay-server/internal/ingest"
	"github.com/keypad-relay/keypad-relay-server/internal/protocol"
)

// DefaultSubjectPrefix is the root of all event subjects
const DefaultSubjectPrefix = "keypad.events"

// ConnectNATS connects with the configured credentials and reconnect policy
func ConnectNATS(cfg config.NATSConfig, name string) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name(name),
		nats.ReconnectWait(cfg.ReconnectInterval),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}
	if cfg.Username != "" {
		opts = append(opts, nats.UserInfo(cfg.Username, cfg.Password))
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", cfg.URL, err)
	}
	return nc, nil
}

// Subject returns prefix.<kind>.<base_id>, where kind drops the "_event"
// suffix of the message type (keypad.events.key.3).
func Subject(prefix string, kind protocol.MessageType, baseID int) string {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	short := strings.TrimSuffix(string(kind), "_event")
	return prefix + "." + short + "." + strconv.Itoa(baseID)
}

// ParseSubject is the inverse of Subject
func ParseSubject(prefix, subject string) (protocol.MessageType, int, error) {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	rest := strings.TrimPrefix(subject, prefix+".")
	if rest == subject {
		return "", 0, fmt.Errorf("subject %q outside %q", subject, prefix)
	}

	parts := strings.Split(rest, ".")
	if len(parts) != 2 {
		return "", 0, fmt.Errorf("malformed subject %q", subject)
	}
	baseID, err := strconv.Atoi(parts[1])
	if err != nil {
		return "", 0, fmt.Errorf("malformed base id in subject %q", subject)
	}
	return protocol.MessageType(parts[0] + "_event"), baseID, nil
}

// NATSPublisher publishes relayed events on the event bus
type NATSPublisher struct {
	nc     *nats.Conn
	prefix string
}

// NewNATSPublisher creates a publisher
func NewNATSPublisher(nc *nats.Conn, prefix string) *NATSPublisher {
	return &NATSPublisher{nc: nc, prefix: prefix}
}

// Publish encodes payload as JSON on the event subject
func (p *NATSPublisher) Publish(kind protocol.MessageType, baseID int, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", kind, err)
	}

	subject := Subject(p.prefix, kind, baseID)
	if err := p.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// Ingester stores one event body
type Ingester interface {
	Ingest(ctx context.Context, kind protocol.MessageType, body []byte, source string) (interface{}, error)
}

// EventSubscriber feeds event bus messages into the ingest service
type EventSubscriber struct {
	nc     *nats.Conn
	svc    Ingester
	prefix string
	subs   []*nats.Subscription
}

// NewEventSubscriber creates an event bus subscriber
func NewEventSubscriber(nc *nats.Conn, svc Ingester, prefix string) *EventSubscriber {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &EventSubscriber{nc: nc, svc: svc, prefix: prefix}
}

// Start subscribes to all event subjects and blocks until ctx is done
func (s *EventSubscriber) Start(ctx context.Context) error {
	sub, err := s.nc.Subscribe(s.prefix+".>", func(msg *nats.Msg) {
		s.Handle(ctx, msg.Subject, msg.Data)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s.>: %w", s.prefix, err)
	}
	s.subs = append(s.subs, sub)

	log.Info().Str("subject", s.prefix+".>").Msg("Event bus subscriber started")

	<-ctx.Done()

	for _, sub := range s.subs {
		sub.Unsubscribe()
	}
	return ctx.Err()
}

// Handle ingests one message
func (s *EventSubscriber) Handle(ctx context.Context, subject string, data []byte) {
	kind, baseID, err := ParseSubject(s.prefix, subject)
	if err != nil {
		log.Warn().Err(err).Msg("Ignoring event bus message")
		return
	}

	if _, err := s.svc.Ingest(ctx, kind, data, ingest.SourceBus); err != nil {
		log.Error().Err(err).Str("subject", subject).Int("base_id", baseID).Msg("Failed to ingest event bus message")
	}
}
