package store

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// FlushFunc persists one dirty entity. Errors are logged but never
// propagated to the caller that marked the entity dirty — the in-memory
// value remains authoritative within the process (§4.1, §7).
type FlushFunc func(ctx context.Context) error

// WriteBehind batches dirty-entity flushes on a debounce timer, grounded on
// the teacher's Redis-backed spoke-presence debounce
// (internal/fabric/redis_store.go), generalized from cache refresh to
// arbitrary entity persistence.
type WriteBehind struct {
	mu       sync.Mutex
	dirty    map[string]FlushFunc
	debounce time.Duration
	timer    *time.Timer
	closed   bool
}

// NewWriteBehind creates a write-behind buffer with the given debounce
// period (the spec default is 5s).
func NewWriteBehind(debounce time.Duration) *WriteBehind {
	return &WriteBehind{
		dirty:    make(map[string]FlushFunc),
		debounce: debounce,
	}
}

// MarkDirty registers (or replaces) the flush function for key and arms
// the debounce timer if it isn't already running.
func (wb *WriteBehind) MarkDirty(key string, flush FlushFunc) {
	wb.mu.Lock()
	defer wb.mu.Unlock()
	if wb.closed {
		return
	}
	wb.dirty[key] = flush
	if wb.timer == nil {
		wb.timer = time.AfterFunc(wb.debounce, wb.flushAsync)
	}
}

func (wb *WriteBehind) flushAsync() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	wb.FlushNow(ctx)
}

// FlushNow persists every currently-dirty entity immediately — used at
// explicit boundaries (state transition, clock event, approval decision)
// and during shutdown.
func (wb *WriteBehind) FlushNow(ctx context.Context) {
	wb.mu.Lock()
	pending := wb.dirty
	wb.dirty = make(map[string]FlushFunc)
	wb.timer = nil
	wb.mu.Unlock()

	for key, flush := range pending {
		if err := flush(ctx); err != nil {
			slog.Error("write-behind flush failed", "key", key, "error", err)
		}
	}
}

// Close flushes synchronously and stops accepting new dirty marks,
// matching the §5 shutdown requirement.
func (wb *WriteBehind) Close(ctx context.Context) {
	wb.FlushNow(ctx)
	wb.mu.Lock()
	wb.closed = true
	if wb.timer != nil {
		wb.timer.Stop()
		wb.timer = nil
	}
	wb.mu.Unlock()
}

// PendingCount reports how many entities are currently dirty (test/metrics
// helper).
func (wb *WriteBehind) PendingCount() int {
	wb.mu.Lock()
	defer wb.mu.Unlock()
	return len(wb.dirty)
}
