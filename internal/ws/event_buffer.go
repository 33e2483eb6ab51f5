package ws

import (
	"sync"
	"time"
)

const (
	defaultBufferMaxLen = 1000
	defaultBufferMaxAge = 1 * time.Hour
)

// EventBuffer stores recent events per audience key for replay on reconnect.
// It remembers the highest ID it has evicted so replay can tell a quiet
// audience from one whose history was lost.
type EventBuffer struct {
	mu      sync.RWMutex
	events  map[string][]Event
	evicted map[string]uint64
	// expired is the highest ID of any audience removed wholesale.
	expired uint64
	maxAge  time.Duration
	maxLen  int
	stop    chan struct{}
}

// NewEventBuffer creates an EventBuffer with the given limits and starts
// a background goroutine that removes stale audiences every 10 minutes.
func NewEventBuffer(maxLen int, maxAge time.Duration) *EventBuffer {
	eb := &EventBuffer{
		events:  make(map[string][]Event),
		evicted: make(map[string]uint64),
		maxAge:  maxAge,
		maxLen:  maxLen,
		stop:    make(chan struct{}),
	}
	go eb.cleanupLoop()
	return eb
}

// Stop halts the background cleanup goroutine.
func (eb *EventBuffer) Stop() {
	close(eb.stop)
}

func (eb *EventBuffer) cleanupLoop() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-eb.stop:
			return
		case <-ticker.C:
			eb.evictStale(time.Now())
		}
	}
}

func (eb *EventBuffer) evictStale(now time.Time) {
	cutoff := now.Add(-eb.maxAge)

	eb.mu.Lock()
	defer eb.mu.Unlock()

	for key, buf := range eb.events {
		if len(buf) > 0 && !buf[len(buf)-1].Time.Before(cutoff) {
			continue
		}

		if n := len(buf); n > 0 && buf[n-1].ID > eb.expired {
			eb.expired = buf[n-1].ID
		}
		if eb.evicted[key] > eb.expired {
			eb.expired = eb.evicted[key]
		}

		delete(eb.events, key)
		delete(eb.evicted, key)
	}
}

// Append stores an event for potential replay, evicting old entries.
func (eb *EventBuffer) Append(key string, event *Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	buf := eb.events[key]

	// Evict expired events from the front.
	cutoff := time.Now().Add(-eb.maxAge)
	start := 0
	for start < len(buf) && buf[start].Time.Before(cutoff) {
		start++
	}

	buf = append(buf[start:], *event)
	if over := len(buf) - eb.maxLen; over > 0 {
		eb.markEvicted(key, buf[over-1].ID)
		buf = buf[over:]
	} else if start > 0 {
		eb.markEvicted(key, eb.events[key][start-1].ID)
	}

	eb.events[key] = buf
}

func (eb *EventBuffer) markEvicted(key string, id uint64) {
	if id > eb.evicted[key] {
		eb.evicted[key] = id
	}
}

// Since returns the events for key with ID > lastEventID. complete is false
// when events after lastEventID may have been evicted.
func (eb *EventBuffer) Since(key string, lastEventID uint64) (events []Event, complete bool) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	complete = lastEventID >= eb.evicted[key] && lastEventID >= eb.expired

	buf := eb.events[key]
	if len(buf) == 0 {
		return nil, complete
	}

	// Binary search for the first event with ID > lastEventID.
	lo, hi := 0, len(buf)
	for lo < hi {
		mid := (lo + hi) / 2
		if buf[mid].ID <= lastEventID {
			lo = mid + 1
		} else {
			hi = mid
		}
	}

	if lo >= len(buf) {
		return nil, complete
	}

	// Return a copy to avoid holding the lock via slice reference.
	result := make([]Event, len(buf)-lo)
	copy(result, buf[lo:])
	return result, complete
}

// Len returns the number of buffered events for key.
func (eb *EventBuffer) Len(key string) int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	return len(eb.events[key])
}
