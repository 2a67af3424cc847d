// Package audit emits one complete, replayable record per fee calculation:
// the request, every data snapshot with its provenance, the fee breakdown,
// and any input repairs. Emission is asynchronous so the response path never
// waits on the sink.
package audit

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/shortwire/borrowd/internal/domain"
	"github.com/shortwire/borrowd/internal/telemetry"
)

// Record is one calculation audit entry. AuditID is assigned by the emitter
// as a monotonic per-process sequence.
type Record struct {
	AuditID     int64               `json:"audit_id"`
	Timestamp   time.Time           `json:"timestamp"`
	ClientID    string              `json:"client_id"`
	Request     domain.FeeRequest   `json:"request"`
	Snapshots   domain.SnapshotSet  `json:"snapshots"`
	BrokerAppl  domain.BrokerConfig `json:"broker_config"`
	Breakdown   domain.FeeBreakdown `json:"breakdown"`
	TotalFee    decimal.Decimal     `json:"total_fee"`
	RateUsed    decimal.Decimal     `json:"rate_used"`
	Fingerprint string              `json:"fingerprint"`
	Notes       []string            `json:"notes,omitempty"`
}

// Sink receives completed audit records. Write is called from the emitter
// goroutine only.
type Sink interface {
	Write(record Record) error
}

// LogSink serializes records as structured JSON log events.
type LogSink struct {
	logger zerolog.Logger
}

// NewLogSink creates a sink writing through the given logger.
func NewLogSink(logger zerolog.Logger) LogSink {
	return LogSink{logger: logger}
}

func (s LogSink) Write(record Record) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return err
	}
	s.logger.Info().
		Str("comp", "audit").
		Int64("audit_id", record.AuditID).
		RawJSON("record", payload).
		Msg("calculation audited")
	return nil
}

// Emitter queues records onto a single writer goroutine. Emit never blocks:
// when the queue is full the record is dropped and counted rather than
// stalling a response.
type Emitter struct {
	sink    Sink
	queue   chan Record
	metrics *telemetry.Metrics

	seq int64

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewEmitter starts the writer goroutine with the given queue depth.
func NewEmitter(sink Sink, buffer int, metrics *telemetry.Metrics) *Emitter {
	if buffer <= 0 {
		buffer = 256
	}
	e := &Emitter{
		sink:    sink,
		queue:   make(chan Record, buffer),
		metrics: metrics,
	}
	e.wg.Add(1)
	go e.run()
	return e
}

// Emit assigns the record its audit id and queues it for writing. The
// returned id is valid even when the record had to be dropped.
func (e *Emitter) Emit(record Record) int64 {
	id := atomic.AddInt64(&e.seq, 1)
	record.AuditID = id
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now().UTC()
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		e.drop(id, "emitter closed")
		return id
	}

	select {
	case e.queue <- record:
	default:
		e.drop(id, "audit queue full")
	}
	return id
}

// Close stops intake and blocks until every queued record is written.
func (e *Emitter) Close() {
	e.mu.Lock()
	if !e.closed {
		e.closed = true
		close(e.queue)
	}
	e.mu.Unlock()
	e.wg.Wait()
}

func (e *Emitter) run() {
	defer e.wg.Done()
	for record := range e.queue {
		e.write(record)
	}
}

// write delivers one record, retrying a failed sink once.
func (e *Emitter) write(record Record) {
	err := e.sink.Write(record)
	if err != nil {
		if err = e.sink.Write(record); err != nil {
			e.metrics.RecordAudit("failed")
			log.Error().Err(err).
				Str("comp", "audit").
				Int64("audit_id", record.AuditID).
				Msg("audit sink write failed")
			return
		}
	}
	e.metrics.RecordAudit("emitted")
}

func (e *Emitter) drop(id int64, reason string) {
	e.metrics.RecordAudit("dropped")
	log.Error().
		Str("comp", "audit").
		Int64("audit_id", id).
		Msg(reason + ", record dropped")
}
