package audit

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/x402svm/facilitator/internal/metrics"
)

const (
	defaultQueueSize = 1000
	recordTimeout    = 5 * time.Second
)

// Logger accepts audit events on the request path and hands them to the
// journal from a single background worker. Emit never blocks: when the
// queue is full the event is counted and dropped.
type Logger struct {
	journal Journal
	queue   chan Event
	metrics *metrics.Metrics
	log     zerolog.Logger

	closeOnce sync.Once
	done      chan struct{}
}

// NewLogger starts the dispatch worker. The metrics collector is optional.
func NewLogger(journal Journal, queueSize int, m *metrics.Metrics, log zerolog.Logger) *Logger {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}

	l := &Logger{
		journal: journal,
		queue:   make(chan Event, queueSize),
		metrics: m,
		log:     log,
		done:    make(chan struct{}),
	}
	go l.run()
	return l
}

// Emit queues an event for recording. Drops the event when the queue is
// full or the logger is closed.
func (l *Logger) Emit(event Event) {
	defer func() {
		// Emit after Close loses the race to a closed channel; the event
		// is dropped either way.
		if recover() != nil {
			l.countDrop(event)
		}
	}()

	select {
	case l.queue <- event:
	default:
		l.countDrop(event)
	}
}

// Close drains queued events into the journal, then closes the journal.
func (l *Logger) Close() error {
	l.closeOnce.Do(func() {
		close(l.queue)
		<-l.done
	})
	return l.journal.Close()
}

func (l *Logger) run() {
	defer close(l.done)

	for event := range l.queue {
		ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		if err := l.journal.Record(ctx, event); err != nil {
			l.log.Error().
				Err(err).
				Str("event_type", string(event.Type)).
				Msg("audit.record_failed")
		}
		cancel()
	}
}

func (l *Logger) countDrop(event Event) {
	if l.metrics != nil {
		l.metrics.AuditEventDropped()
	}
	l.log.Warn().
		Str("event_type", string(event.Type)).
		Msg("audit.queue_full_event_dropped")
}
