// Package dedup tracks transaction fingerprints so a payment can be
// verified once, settled once, and rejected on replay within a sliding
// window.
package dedup

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

type state uint8

const (
	// stateSeen marks a fingerprint recorded by verification.
	stateSeen state = iota
	// stateConsumed marks a fingerprint recorded by settlement.
	stateConsumed
)

// Fingerprint derives the dedup key for a payment from the raw base64
// transaction text. Hashing the text rather than the decoded bytes keeps
// the key stable even for payloads that fail to decode.
func Fingerprint(rawTransaction string) string {
	sum := sha256.Sum256([]byte(rawTransaction))
	return hex.EncodeToString(sum[:])
}

// Store is an in-memory fingerprint store with LRU eviction and a
// background sweep for entries that have aged out of the window.
type Store struct {
	mu          sync.Mutex
	entries     map[string]*entry
	lru         *list.List
	maxEntries  int
	window      time.Duration
	stopCleanup chan struct{}
	cleanupDone chan struct{}
}

type entry struct {
	fingerprint string
	state       state
	recordedAt  time.Time
	element     *list.Element
}

// New creates a fingerprint store bounded to maxEntries. Entries older than
// window are treated as absent.
func New(maxEntries int, window time.Duration) *Store {
	s := &Store{
		entries:     make(map[string]*entry),
		lru:         list.New(),
		maxEntries:  maxEntries,
		window:      window,
		stopCleanup: make(chan struct{}),
		cleanupDone: make(chan struct{}),
	}

	go s.cleanup()

	return s
}

// CheckAndMark records the fingerprint for verification. It returns false
// when the transaction was already recorded inside the window, regardless
// of whether that recording came from a verify or a settle.
func (s *Store) CheckAndMark(fingerprint string) bool {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if e, exists := s.entries[fingerprint]; exists {
		if now.Sub(e.recordedAt) <= s.window {
			return false
		}
		// Aged out: reuse the slot as a fresh sighting
		e.state = stateSeen
		e.recordedAt = now
		s.lru.MoveToFront(e.element)
		return true
	}

	s.insert(fingerprint, stateSeen, now)
	return true
}

// CheckAndConsume records the fingerprint for settlement. A fingerprint the
// verify path has seen is promoted to consumed; one that was already
// consumed inside the window is rejected. Settling without a prior verify
// is allowed and consumes the fingerprint directly.
func (s *Store) CheckAndConsume(fingerprint string) bool {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if e, exists := s.entries[fingerprint]; exists {
		if now.Sub(e.recordedAt) > s.window {
			e.state = stateConsumed
			e.recordedAt = now
			s.lru.MoveToFront(e.element)
			return true
		}
		if e.state == stateConsumed {
			return false
		}
		// Promote seen -> consumed and restart the window so the settled
		// transaction stays blocked for the full window from now
		e.state = stateConsumed
		e.recordedAt = now
		s.lru.MoveToFront(e.element)
		return true
	}

	s.insert(fingerprint, stateConsumed, now)
	return true
}

// insert adds a new entry, evicting the least recently used one first when
// the store is full (caller must hold lock).
func (s *Store) insert(fingerprint string, st state, now time.Time) {
	if len(s.entries) >= s.maxEntries {
		s.evictLRU()
	}

	e := &entry{
		fingerprint: fingerprint,
		state:       st,
		recordedAt:  now,
	}
	e.element = s.lru.PushFront(e)
	s.entries[fingerprint] = e
}

// evictLRU removes the least recently used entry (caller must hold lock).
func (s *Store) evictLRU() {
	element := s.lru.Back()
	if element == nil {
		return
	}

	e := element.Value.(*entry)
	s.lru.Remove(element)
	delete(s.entries, e.fingerprint)
}

// Len reports the number of tracked fingerprints.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// cleanup periodically removes entries that have aged out of the window.
func (s *Store) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	defer close(s.cleanupDone)

	for {
		select {
		case <-s.stopCleanup:
			return
		case <-ticker.C:
			s.mu.Lock()
			now := time.Now()

			// Collect first to avoid mutating the map mid-iteration
			var stale []*entry
			for _, e := range s.entries {
				if now.Sub(e.recordedAt) > s.window {
					stale = append(stale, e)
				}
			}
			for _, e := range stale {
				s.lru.Remove(e.element)
				delete(s.entries, e.fingerprint)
			}

			s.mu.Unlock()
		}
	}
}

// Stop gracefully shuts down the cleanup goroutine.
func (s *Store) Stop() {
	close(s.stopCleanup)
	<-s.cleanupDone
}
