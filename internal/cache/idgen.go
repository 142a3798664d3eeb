package cache

import (
	"strconv"
	"sync"
	"time"
)

// Allocator hands out short numeric string keys for hot tier entries.
// Keys are unique within a single process; the hot tier is rebuilt from
// the durable store on startup, so cross-process uniqueness is not
// needed.
type Allocator struct {
	mu   sync.Mutex
	next int64
}

// NewAllocator seeds the counter from the wall clock so restarts do not
// immediately reuse recent keys.
func NewAllocator() *Allocator {
	return &Allocator{next: time.Now().UnixMilli() % 1_000_000}
}

func (a *Allocator) Next() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	id := a.next
	a.next++
	return strconv.FormatInt(id, 10)
}
