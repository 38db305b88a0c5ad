// Package broker wires every component — pool, heartbeat, tokens, affinity,
// router, terminal mux, transport — into one running instance.
package broker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/adred-codev/agent-broker/internal/affinity"
	"github.com/adred-codev/agent-broker/internal/audit"
	"github.com/adred-codev/agent-broker/internal/authn"
	"github.com/adred-codev/agent-broker/internal/config"
	"github.com/adred-codev/agent-broker/internal/heartbeat"
	"github.com/adred-codev/agent-broker/internal/platform"
	"github.com/adred-codev/agent-broker/internal/pool"
	"github.com/adred-codev/agent-broker/internal/ratelimit"
	"github.com/adred-codev/agent-broker/internal/router"
	"github.com/adred-codev/agent-broker/internal/services"
	"github.com/adred-codev/agent-broker/internal/termmux"
	"github.com/adred-codev/agent-broker/internal/token"
	"github.com/adred-codev/agent-broker/internal/transport"
)

// Broker owns the lifetime of every broker component.
type Broker struct {
	cfg *config.Config

	pool        *pool.Pool
	affinity    *affinity.Table
	validator   authn.TokenValidator
	tokens      *token.Manager
	heartbeat   *heartbeat.Engine
	mux         *termmux.Mux
	router      *router.Router
	transport   *transport.Server
	cpuSampler  *platform.CPUSampler
	connLimiter *ratelimit.ConnectionLimiter
	msgLimiter  *ratelimit.MessageLimiter

	auditPublisher *audit.Publisher
	archiveSink    *termmux.KafkaArchiveSink

	logger zerolog.Logger
}

// Dependencies are the broker's external collaborators — store-backed
// services the broker never implements itself.
type Dependencies struct {
	AgentService   services.AgentService
	CommandService services.CommandService
	Validator      authn.TokenValidator // nil selects the built-in JWT validator
}

// New assembles a Broker from cfg and the optional external collaborators.
func New(cfg *config.Config, deps Dependencies, logger zerolog.Logger) (*Broker, error) {
	b := &Broker{cfg: cfg, logger: logger}

	b.pool = pool.New(cfg.MaxConnections, logger)
	b.affinity = affinity.New()

	if deps.Validator != nil {
		b.validator = deps.Validator
	} else {
		b.validator = authn.NewJWTValidator(cfg.JWTSecret, cfg.AgentConnectionTimeout())
	}

	b.tokens = token.New(b.validator, b.pool, token.Config{
		RefreshInterval:    cfg.RefreshInterval(),
		RefreshThreshold:   cfg.RefreshThreshold(),
		MaxRefreshAttempts: cfg.MaxRefreshAttempts,
	}, logger)

	b.heartbeat = heartbeat.New(b.pool, heartbeat.Config{
		PingInterval: cfg.PingInterval(),
		PongTimeout:  cfg.PongTimeout(),
	}, logger)

	if cfg.KafkaBrokers != "" {
		sink, err := termmux.NewKafkaArchiveSink(strings.Split(cfg.KafkaBrokers, ","), cfg.KafkaArchiveTopic, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("failed to connect terminal archive sink, continuing without it")
		} else {
			b.archiveSink = sink
		}
	}

	var archive termmux.ArchiveSink
	if b.archiveSink != nil {
		archive = b.archiveSink
	}
	b.mux = termmux.New(b.pool, termmux.Config{
		FlushInterval:    cfg.TerminalFlushInterval(),
		BufferSizeBytes:  cfg.TerminalBufferSize,
		MaxBufferedLines: cfg.TerminalMaxBufferedLines,
	}, archive, logger)

	var auditService services.AuditService
	if cfg.NatsURL != "" {
		pub, err := audit.NewPublisher(audit.Config{URL: cfg.NatsURL, Subject: cfg.NatsAuditSubject}, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("failed to connect audit publisher, continuing without it")
		} else {
			b.auditPublisher = pub
			auditService = pub
		}
	}

	b.router = router.New(
		b.pool,
		b.affinity,
		b.validator,
		b.tokens,
		b.heartbeat,
		b.mux,
		deps.AgentService,
		deps.CommandService,
		auditService,
		logger,
	)

	b.connLimiter = ratelimit.NewConnectionLimiter(ratelimit.ConnectionLimiterConfig{
		IPBurst:     cfg.ConnRateLimitIPBurst,
		IPRate:      cfg.ConnRateLimitIPRate,
		GlobalBurst: cfg.ConnRateLimitGlobalBurst,
		GlobalRate:  cfg.ConnRateLimitGlobalRate,
	})
	b.msgLimiter = ratelimit.NewMessageLimiter(0, 0)

	b.cpuSampler = platform.NewCPUSampler(5 * time.Second)

	b.transport = transport.New(cfg, b.pool, b.router, b.connLimiter, b.msgLimiter, b.cpuSampler, logger)

	return b, nil
}

// Start begins every background loop and blocks serving HTTP until Shutdown
// is called or the listener fails.
func (b *Broker) Start(ctx context.Context) error {
	b.cpuSampler.Start(ctx)
	b.heartbeat.Start()
	b.tokens.Start(ctx)
	b.pool.StartCleanup(pool.CleanupConfig{
		Interval:               b.cfg.CleanupInterval(),
		ConnectionTimeout:      b.cfg.AgentConnectionTimeout(),
		UnauthenticatedMaxAge:  60 * time.Second,
		UnhealthyMissThreshold: int32(b.cfg.MaxMissedPings),
	})

	b.logger.Info().Msg("broker starting")
	return b.transport.Start()
}

// Shutdown drains connections and stops every background loop.
func (b *Broker) Shutdown(ctx context.Context) error {
	b.logger.Info().Msg("broker shutting down")
	err := b.transport.Shutdown(ctx)

	b.heartbeat.Stop()
	b.tokens.Stop()
	b.pool.Stop()
	b.connLimiter.Stop()
	b.cpuSampler.Stop()

	if b.archiveSink != nil {
		b.archiveSink.Close()
	}
	if b.auditPublisher != nil {
		b.auditPublisher.Close()
	}

	if err != nil {
		return fmt.Errorf("broker: shutdown: %w", err)
	}
	return nil
}
