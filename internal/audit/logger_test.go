package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type memoryJournal struct {
	mu      sync.Mutex
	events  []Event
	failErr error
	closed  bool
	block   chan struct{}
}

func (j *memoryJournal) Record(ctx context.Context, event Event) error {
	if j.block != nil {
		<-j.block
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.failErr != nil {
		return j.failErr
	}
	j.events = append(j.events, event)
	return nil
}

func (j *memoryJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.closed = true
	return nil
}

func (j *memoryJournal) recorded() []Event {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]Event, len(j.events))
	copy(out, j.events)
	return out
}

func TestNewEvent(t *testing.T) {
	before := time.Now().UTC()
	event := NewEvent(EventVerificationSuccess)

	if event.ID == "" {
		t.Error("event ID not set")
	}
	if event.Type != EventVerificationSuccess {
		t.Errorf("type = %q, want %q", event.Type, EventVerificationSuccess)
	}
	if event.Timestamp.Before(before) {
		t.Error("timestamp predates construction")
	}
	if other := NewEvent(EventVerificationSuccess); other.ID == event.ID {
		t.Error("two events share an ID")
	}
}

func TestLoggerDeliversEvents(t *testing.T) {
	journal := &memoryJournal{}
	logger := NewLogger(journal, 16, nil, zerolog.Nop())

	event := NewEvent(EventSettlementSuccess)
	event.Payer = "payer-wallet"
	event.TransactionSignature = "sig"
	logger.Emit(event)

	if err := logger.Close(); err != nil {
		t.Fatalf("Close() = %v, want nil", err)
	}

	got := journal.recorded()
	if len(got) != 1 {
		t.Fatalf("recorded events = %d, want 1", len(got))
	}
	if got[0].ID != event.ID || got[0].Payer != "payer-wallet" {
		t.Errorf("recorded event = %+v, want emitted event", got[0])
	}
	if !journal.closed {
		t.Error("journal not closed")
	}
}

func TestLoggerCloseDrainsQueue(t *testing.T) {
	journal := &memoryJournal{}
	logger := NewLogger(journal, 64, nil, zerolog.Nop())

	for i := 0; i < 20; i++ {
		logger.Emit(NewEvent(EventVerificationRequested))
	}
	logger.Close()

	if got := len(journal.recorded()); got != 20 {
		t.Errorf("recorded events = %d, want 20", got)
	}
}

func TestLoggerDropsWhenQueueFull(t *testing.T) {
	journal := &memoryJournal{block: make(chan struct{})}
	logger := NewLogger(journal, 2, nil, zerolog.Nop())

	// The worker takes one event and blocks; two fill the queue; the rest
	// must be dropped without blocking this goroutine.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			logger.Emit(NewEvent(EventVerificationRequested))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Emit blocked on a full queue")
	}

	close(journal.block)
	logger.Close()

	if got := len(journal.recorded()); got >= 10 {
		t.Errorf("recorded events = %d, expected drops under a full queue", got)
	}
}

func TestLoggerSurvivesJournalErrors(t *testing.T) {
	journal := &memoryJournal{failErr: errors.New("db down")}
	logger := NewLogger(journal, 16, nil, zerolog.Nop())

	logger.Emit(NewEvent(EventSettlementFailed))
	logger.Emit(NewEvent(EventSettlementFailed))
	logger.Close()
}

func TestLoggerEmitAfterClose(t *testing.T) {
	journal := &memoryJournal{}
	logger := NewLogger(journal, 16, nil, zerolog.Nop())
	logger.Close()

	logger.Emit(NewEvent(EventServerStopped))

	if got := len(journal.recorded()); got != 0 {
		t.Errorf("recorded events after close = %d, want 0", got)
	}
}

func TestLogJournalFields(t *testing.T) {
	var buf bytes.Buffer
	journal := NewLogJournal(zerolog.New(&buf))

	event := NewEvent(EventVerificationFailed)
	event.Payer = "payer-wallet"
	event.Network = "solana-devnet"
	event.Error = "amount_mismatch"
	event.Metadata = map[string]string{"scheme": "exact"}

	if err := journal.Record(context.Background(), event); err != nil {
		t.Fatalf("Record() = %v, want nil", err)
	}

	var line map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("log output is not JSON: %v", err)
	}
	if line["event_type"] != "verification_failed" {
		t.Errorf("event_type = %v, want verification_failed", line["event_type"])
	}
	if line["payer"] != "payer-wallet" {
		t.Errorf("payer = %v, want payer-wallet", line["payer"])
	}
	if line["error"] != "amount_mismatch" {
		t.Errorf("error = %v, want amount_mismatch", line["error"])
	}
}
