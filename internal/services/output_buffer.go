package services

import (
	"sync"
	"time"
)

// OutputBuffer turns a dev server's raw output stream into a bounded,
// replayable scrollback and a throttled batch feed for live subscribers.
// Build tools log in large frequent bursts; forwarding every raw chunk
// would flood a UI socket, so emissions are batched by both a time window
// and a size ceiling. Within one buffer, emission order matches append
// order across batches.
type OutputBuffer struct {
	mu sync.Mutex

	scrollback []byte
	pending    []byte

	limit     int
	batchSize int
	delay     time.Duration

	flushScheduled bool
	timer          *time.Timer
	stopped        bool

	// emit delivers one batch to the subscriber side. Called without the
	// buffer lock held, so implementations may re-enter the buffer.
	emit func(content string)
}

// NewOutputBuffer creates a buffer with the given scrollback cap, per-event
// batch ceiling, and throttle window.
func NewOutputBuffer(limit, batchSize int, delay time.Duration, emit func(content string)) *OutputBuffer {
	return &OutputBuffer{
		limit:     limit,
		batchSize: batchSize,
		delay:     delay,
		emit:      emit,
	}
}

// Append records a chunk of process output. The chunk goes into scrollback
// (evicting the oldest bytes past the cap) and into the pending batch; a
// flush is scheduled if one isn't already. Chunks arriving after Stop are
// discarded.
func (b *OutputBuffer) Append(chunk []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.stopped || len(chunk) == 0 {
		return
	}

	b.scrollback = append(b.scrollback, chunk...)
	if over := len(b.scrollback) - b.limit; over > 0 {
		// FIFO truncation: keep the most recent limit bytes. Reallocate so
		// the evicted prefix doesn't pin the old backing array.
		kept := make([]byte, b.limit)
		copy(kept, b.scrollback[over:])
		b.scrollback = kept
	}

	b.pending = append(b.pending, chunk...)

	if !b.flushScheduled {
		b.flushScheduled = true
		b.timer = time.AfterFunc(b.delay, b.flush)
	}
}

// flush drains up to one batch of pending output. Oversized backlogs are
// delivered progressively: emit one batch, then reschedule for the rest.
// flushScheduled stays set until the emit returns, so appends arriving
// mid-delivery cannot start a second timer and deliveries never overlap
// or reorder.
func (b *OutputBuffer) flush() {
	b.mu.Lock()

	if b.stopped || len(b.pending) == 0 {
		b.flushScheduled = false
		b.mu.Unlock()
		return
	}

	var content string
	if len(b.pending) > b.batchSize {
		content = string(b.pending[:b.batchSize])
		b.pending = b.pending[b.batchSize:]
	} else {
		content = string(b.pending)
		b.pending = nil
	}

	b.mu.Unlock()
	b.emit(content)

	b.mu.Lock()
	if b.stopped || len(b.pending) == 0 {
		b.flushScheduled = false
	} else {
		b.timer = time.AfterFunc(b.delay, b.flush)
	}
	b.mu.Unlock()
}

// History returns the current scrollback verbatim, for replaying to a newly
// attached subscriber. It remains available after Stop.
func (b *OutputBuffer) History() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.scrollback)
}

// Stop is one-way: it cancels any scheduled flush, discards unflushed
// pending output, and refuses all further appends. Already-delivered
// history stays readable.
func (b *OutputBuffer) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.stopped = true
	b.pending = nil
	b.flushScheduled = false
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
}
