package harvester

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openlabels/scanner/internal/monitoring"
)

// StreamManager buffers pushed events and flushes them in batches.
// When the buffer is full, new events are dropped and counted; the
// already-buffered backlog is never evicted.
type StreamManager struct {
	harvester *Harvester
	source    string

	batchSize     int
	flushInterval time.Duration
	maxBuffer     int

	mu      sync.Mutex
	buffer  []streamEvent
	dropped uint64

	logger *log.Logger
}

type streamEvent struct {
	tenantID uuid.UUID
	event    RawAccessEvent
}

// NewStreamManager builds a manager flushing through h's persist path.
func NewStreamManager(h *Harvester, source string, batchSize, maxBuffer int, flushInterval time.Duration) *StreamManager {
	if batchSize <= 0 {
		batchSize = 500
	}
	if maxBuffer <= 0 {
		maxBuffer = 50000
	}
	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}
	return &StreamManager{
		harvester:     h,
		source:        source,
		batchSize:     batchSize,
		flushInterval: flushInterval,
		maxBuffer:     maxBuffer,
		logger:        log.New(log.Writer(), "[STREAM] ", log.LstdFlags),
	}
}

// Push appends one event. Returns false when the buffer is full and the
// event was dropped.
func (m *StreamManager) Push(tenantID uuid.UUID, e RawAccessEvent) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.buffer) >= m.maxBuffer {
		m.dropped++
		monitoring.EventsDropped.Inc()
		return false
	}
	m.buffer = append(m.buffer, streamEvent{tenantID: tenantID, event: e})
	return true
}

// Dropped returns the total events dropped since start.
func (m *StreamManager) Dropped() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dropped
}

// Buffered returns the current backlog size.
func (m *StreamManager) Buffered() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.buffer)
}

// Run flushes on the interval and whenever the backlog reaches a full
// batch, then drains the buffer completely on shutdown.
func (m *StreamManager) Run(ctx context.Context) {
	t := time.NewTicker(m.flushInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			// Shutdown flush with a fresh deadline; ctx is already dead.
			drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
			m.drain(drainCtx)
			cancel()
			m.logger.Printf("stream flush stopped (dropped=%d)", m.Dropped())
			return
		case <-t.C:
			m.drain(ctx)
		}
	}
}

// drain flushes batches until the buffer is below one batch.
func (m *StreamManager) drain(ctx context.Context) {
	for {
		batch := m.take()
		if len(batch) == 0 {
			return
		}
		m.flush(ctx, batch)
		if len(batch) < m.batchSize {
			return
		}
	}
}

func (m *StreamManager) take() []streamEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.buffer)
	if n == 0 {
		return nil
	}
	if n > m.batchSize {
		n = m.batchSize
	}
	batch := make([]streamEvent, n)
	copy(batch, m.buffer[:n])
	m.buffer = m.buffer[:copy(m.buffer, m.buffer[n:])]
	return batch
}

// flush groups the batch per tenant and persists. A failed group is
// put back at the front of the buffer for the next cycle.
func (m *StreamManager) flush(ctx context.Context, batch []streamEvent) {
	byTenant := map[uuid.UUID][]RawAccessEvent{}
	for _, e := range batch {
		byTenant[e.tenantID] = append(byTenant[e.tenantID], e.event)
	}
	for tenantID, events := range byTenant {
		if err := m.harvester.Persist(ctx, tenantID, m.source, events); err != nil {
			m.logger.Printf("flush failed for tenant %s (%d events): %v", tenantID, len(events), err)
			m.requeue(tenantID, events)
			continue
		}
		monitoring.EventsHarvested.WithLabelValues(m.source).Add(float64(len(events)))
	}
}

// requeue puts failed events back, still subject to the buffer cap.
func (m *StreamManager) requeue(tenantID uuid.UUID, events []RawAccessEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range events {
		if len(m.buffer) >= m.maxBuffer {
			m.dropped++
			monitoring.EventsDropped.Inc()
			continue
		}
		m.buffer = append(m.buffer, streamEvent{tenantID: tenantID, event: e})
	}
}
