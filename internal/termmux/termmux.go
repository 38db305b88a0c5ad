// Package termmux implements the TerminalStreamMux: per-stream-key
// coalescing of high-rate agent terminal output, flushed on a timer or size
// threshold and fanned out to subscribed dashboards. Trace frames are
// broadcast as they arrive, without coalescing.
package termmux

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/adred-codev/agent-broker/internal/metrics"
	"github.com/adred-codev/agent-broker/internal/pool"
	"github.com/adred-codev/agent-broker/internal/wire"
)

// ArchiveSink durably records every ingested terminal frame, independent of
// coalescing and of the live fan-out path. A Kafka/Redpanda-backed implementation is provided by
// NewKafkaArchiveSink; nil disables archiving entirely.
type ArchiveSink interface {
	Archive(streamKey string, payload wire.TerminalStreamPayload)
}

// Config bounds the coalescing policy. BufferSizeBytes/MaxBufferedLines are
// the flush thresholds: crossing either flushes the buffer immediately,
// same as the timer firing. OverflowBytes/MaxOverflowLines are a separate,
// larger safety net that drops the oldest buffered frame instead of
// growing without bound, for the case where a flush itself falls behind.
type Config struct {
	FlushInterval    time.Duration // default 10ms
	BufferSizeBytes  int           // default 8KiB
	MaxBufferedLines int           // default 1000
	OverflowBytes    int           // default 4x BufferSizeBytes
	MaxOverflowLines int           // default 4x MaxBufferedLines
}

func (c Config) withDefaults() Config {
	if c.FlushInterval <= 0 {
		c.FlushInterval = 10 * time.Millisecond
	}
	if c.BufferSizeBytes <= 0 {
		c.BufferSizeBytes = 8 * 1024
	}
	if c.MaxBufferedLines <= 0 {
		c.MaxBufferedLines = 1000
	}
	if c.OverflowBytes <= 0 {
		c.OverflowBytes = 4 * c.BufferSizeBytes
	}
	if c.MaxOverflowLines <= 0 {
		c.MaxOverflowLines = 4 * c.MaxBufferedLines
	}
	return c
}

type streamBuffer struct {
	mu        sync.Mutex
	key       string
	frames    []wire.TerminalStreamPayload
	bytes     int
	firstAt   time.Time
	agentID   string
	commandID string
	timer     *time.Timer
}

// Mux coalesces terminal frames by stream key and fans them out to
// subscribed dashboards; trace frames pass straight through.
type Mux struct {
	cfg     Config
	pool    *pool.Pool
	archive ArchiveSink
	logger  zerolog.Logger

	mu      sync.Mutex
	buffers map[string]*streamBuffer
}

// New builds a terminal stream mux bound to p.
func New(p *pool.Pool, cfg Config, archive ArchiveSink, logger zerolog.Logger) *Mux {
	return &Mux{
		cfg:     cfg.withDefaults(),
		pool:    p,
		archive: archive,
		logger:  logger,
		buffers: make(map[string]*streamBuffer),
	}
}

// streamKey keys by commandId when present, else agent-session-<agentId>.
func streamKey(agentID, commandID string) string {
	if commandID != "" {
		return commandID
	}
	return fmt.Sprintf("agent-session-%s", agentID)
}

// IngestTerminal buffers one agent TERMINAL_STREAM frame, flushing
// immediately once the buffer crosses the size/count threshold rather than
// waiting for the coalescing timer.
func (m *Mux) IngestTerminal(payload wire.TerminalStreamPayload) {
	key := streamKey(payload.AgentID, payload.CommandID)

	m.mu.Lock()
	buf, ok := m.buffers[key]
	if !ok {
		buf = &streamBuffer{key: key, agentID: payload.AgentID, commandID: payload.CommandID}
		m.buffers[key] = buf
	}
	m.mu.Unlock()

	buf.mu.Lock()
	if len(buf.frames) == 0 {
		buf.firstAt = time.Now()
		buf.timer = time.AfterFunc(m.cfg.FlushInterval, func() { m.flush(key) })
	}
	buf.frames = append(buf.frames, payload)
	buf.bytes += approxSize(payload)

	if buf.bytes > m.cfg.OverflowBytes || len(buf.frames) > m.cfg.MaxOverflowLines {
		dropped := buf.frames[0]
		buf.frames = buf.frames[1:]
		buf.bytes -= approxSize(dropped)
		metrics.TerminalOverflows.WithLabelValues(keyClass(key)).Inc()
	}

	thresholdCrossed := buf.bytes > m.cfg.BufferSizeBytes || len(buf.frames) > m.cfg.MaxBufferedLines
	if thresholdCrossed {
		buf.timer.Stop()
	}
	buf.mu.Unlock()

	if m.archive != nil {
		m.archive.Archive(key, payload)
	}

	if thresholdCrossed {
		m.flush(key)
	}
}

// IngestTrace forwards a TRACE_STREAM frame directly — trace output is
// lower-rate and not coalesced, only matched against dashboard subscriptions.
func (m *Mux) IngestTrace(payload wire.TraceStreamPayload) {
	env, err := wire.NewEnvelope(wire.TraceStream, payload)
	if err != nil {
		return
	}
	frame, err := env.Serialize()
	if err != nil {
		return
	}
	m.pool.Broadcast(frame, func(s pool.Snapshot) bool {
		return s.Kind == pool.KindDashboard && s.Subscriptions != nil && s.Subscriptions.Traces()
	})
}

func (m *Mux) flush(key string) {
	m.mu.Lock()
	buf, ok := m.buffers[key]
	if ok {
		delete(m.buffers, key)
	}
	m.mu.Unlock()
	if !ok {
		return
	}

	buf.mu.Lock()
	frames := buf.frames
	firstAt := buf.firstAt
	agentID := buf.agentID
	commandID := buf.commandID
	buf.mu.Unlock()

	if len(frames) == 0 {
		return
	}

	metrics.TerminalFlushes.Inc()
	metrics.TerminalFlushLatency.Observe(time.Since(firstAt).Seconds())

	contents := make([]any, 0, len(frames))
	for _, f := range frames {
		contents = append(contents, f.Content)
	}
	batched := wire.TerminalStreamPayload{
		AgentID:    agentID,
		CommandID:  commandID,
		StreamType: frames[0].StreamType,
		Content:    contents,
		Sequence:   frames[len(frames)-1].Sequence,
		Timestamp:  time.Now().UnixMilli(),
	}

	env, err := wire.NewEnvelope(wire.TerminalStream, batched)
	if err != nil {
		m.logger.Error().Str("stream_key", key).Err(err).Msg("failed to build terminal batch envelope")
		return
	}
	frame, err := env.Serialize()
	if err != nil {
		m.logger.Error().Str("stream_key", key).Err(err).Msg("failed to serialize terminal batch")
		return
	}

	m.pool.Broadcast(frame, func(s pool.Snapshot) bool {
		if s.Kind != pool.KindDashboard || s.Subscriptions == nil {
			return false
		}
		subs := s.Subscriptions
		return subs.MatchesCommand(commandID) || subs.MatchesAgent(agentID) || subs.Terminals()
	})
}

func approxSize(p wire.TerminalStreamPayload) int {
	if s, ok := p.Content.(string); ok {
		return len(s)
	}
	return 64
}

func keyClass(key string) string {
	if len(key) > len("agent-session-") && key[:len("agent-session-")] == "agent-session-" {
		return "agent_session"
	}
	return "command"
}
