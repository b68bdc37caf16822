// Package events publishes provider-change and analysis-completed events so
// other local tooling can react without polling the daemon. NATS is optional:
// without a connection the publisher degrades to the structured log mirror.
package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/repguard/internal/jsonx"
	"github.com/repguard/internal/provider"
)

// Type names double as NATS subject suffixes under the repguard root.
type Type string

const (
	TypeProviderChange    Type = "provider.change"
	TypeAnalysisCompleted Type = "analysis.completed"
)

const subjectRoot = "repguard."

// Event is the wire envelope.
type Event struct {
	ID        string    `json:"id"`
	Type      Type      `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// ProviderChange reports an active-provider transition.
type ProviderChange struct {
	Old    provider.Kind `json:"old"`
	New    provider.Kind `json:"new"`
	Reason string        `json:"reason,omitempty"`
}

// AnalysisCompleted reports a finished analysis with routing metadata.
type AnalysisCompleted struct {
	Provider   provider.Kind `json:"provider"`
	Model      string        `json:"model"`
	Risk       string        `json:"risk"`
	DurationMs int64         `json:"durationMs"`
	CacheHit   bool          `json:"cacheHit"`
}

// Config tunes the async buffer.
type Config struct {
	BufferSize int
}

// Publisher fans events out to NATS and the structured log. Events are
// processed by a single background worker; a full buffer falls back to
// synchronous delivery rather than dropping.
type Publisher struct {
	natsConn  *nats.Conn
	logger    *zap.Logger
	eventChan chan Event
	done      chan struct{}
	closed    atomic.Bool
	closeOnce sync.Once
}

// NewPublisher starts the worker. natsConn may be nil.
func NewPublisher(natsConn *nats.Conn, logger *zap.Logger, cfg Config) *Publisher {
	bufSize := cfg.BufferSize
	if bufSize == 0 {
		bufSize = 256
	}

	p := &Publisher{
		natsConn:  natsConn,
		logger:    logger.Named("events"),
		eventChan: make(chan Event, bufSize),
		done:      make(chan struct{}),
	}
	go p.processEvents()
	return p
}

// Publish enqueues an event. Publishing after Close drops the event with a
// warning instead of panicking; shutdown ordering races are not worth a crash.
func (p *Publisher) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}

	if p.closed.Load() {
		p.logger.Warn("Event published after close, dropping", zap.String("type", string(event.Type)))
		return
	}

	select {
	case p.eventChan <- event:
	default:
		p.logger.Warn("Event buffer full, delivering synchronously")
		p.emit(event)
	}
}

// ProviderChanged publishes a provider transition event.
func (p *Publisher) ProviderChanged(old, new provider.Kind, reason string) {
	p.Publish(Event{
		Type:    TypeProviderChange,
		Payload: ProviderChange{Old: old, New: new, Reason: reason},
	})
}

// AnalysisDone publishes an analysis completion event.
func (p *Publisher) AnalysisDone(completed AnalysisCompleted) {
	p.Publish(Event{
		Type:    TypeAnalysisCompleted,
		Payload: completed,
	})
}

// Close stops intake and waits for the worker to drain the buffer.
func (p *Publisher) Close() {
	p.closeOnce.Do(func() {
		p.closed.Store(true)
		close(p.eventChan)
		<-p.done
	})
}

func (p *Publisher) processEvents() {
	defer close(p.done)
	for event := range p.eventChan {
		p.emit(event)
	}
}

func (p *Publisher) emit(event Event) {
	if p.natsConn != nil {
		data, err := jsonx.Marshal(event)
		if err != nil {
			p.logger.Error("Failed to encode event", zap.Error(err))
		} else if err := p.natsConn.Publish(subjectRoot+string(event.Type), data); err != nil {
			p.logger.Warn("Failed to publish event to NATS", zap.Error(err))
		}
	}

	p.logger.Info("EVENT",
		zap.String("event_id", event.ID),
		zap.String("type", string(event.Type)),
		zap.Any("payload", event.Payload))
}
