// Package audit implements the broker's outbound-only audit event sink: a
// NATS publisher recording security- and operations-relevant events
// (emergency stops, forced disconnects, auth failures) for external
// consumption. The broker never subscribes back through this client.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/adred-codev/agent-broker/internal/services"
)

// Config configures the underlying NATS connection.
type Config struct {
	URL             string
	Subject         string
	MaxReconnects   int
	ReconnectWait   time.Duration
	ReconnectJitter time.Duration
}

func (c Config) withDefaults() Config {
	if c.Subject == "" {
		c.Subject = "broker.audit"
	}
	if c.MaxReconnects == 0 {
		c.MaxReconnects = -1 // retry forever, per nats.go convention
	}
	if c.ReconnectWait == 0 {
		c.ReconnectWait = 2 * time.Second
	}
	if c.ReconnectJitter == 0 {
		c.ReconnectJitter = 500 * time.Millisecond
	}
	return c
}

// Publisher implements services.AuditService over a NATS connection.
type Publisher struct {
	conn    *nats.Conn
	subject string
	logger  zerolog.Logger
}

var _ services.AuditService = (*Publisher)(nil)

// NewPublisher connects to the NATS server described by cfg.
func NewPublisher(cfg Config, logger zerolog.Logger) (*Publisher, error) {
	cfg = cfg.withDefaults()
	p := &Publisher{subject: cfg.Subject, logger: logger}

	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.ReconnectJitter(cfg.ReconnectJitter, cfg.ReconnectJitter),
		nats.ConnectHandler(func(c *nats.Conn) {
			logger.Info().Str("url", c.ConnectedUrl()).Msg("connected to audit NATS server")
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn().Err(err).Msg("disconnected from audit NATS server")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info().Str("url", c.ConnectedUrl()).Msg("reconnected to audit NATS server")
		}),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			logger.Error().Err(err).Msg("NATS client error")
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("audit: connect to NATS: %w", err)
	}
	p.conn = conn
	return p, nil
}

// Record implements services.AuditService, publishing event to the audit
// subject. A publish failure is logged but never returned to the caller —
// audit delivery is best-effort and must not back-pressure the hot path.
func (p *Publisher) Record(_ context.Context, event services.AuditEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("audit: marshal event: %w", err)
	}
	if err := p.conn.Publish(p.subject, data); err != nil {
		p.logger.Error().Str("event", event.Name).Err(err).Msg("failed to publish audit event")
		return nil
	}
	return nil
}

// Close drains and closes the NATS connection.
func (p *Publisher) Close() {
	p.conn.Drain()
}
