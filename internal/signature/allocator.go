package signature

import (
	"math/rand/v2"
	"sync"
	"time"
)

const (
	// MaxProcessID is the largest shop_process_id the allocator emits (9 digits).
	MaxProcessID int64 = 999_999_999

	millisWindow = 1_000_000
	suffixSpan   = 1_000
)

// ProcessIDAllocator hands out shop_process_id values built from the last six digits of a
// millisecond clock followed by a three digit random suffix. Values issued inside the same
// millisecond are strictly increasing; when the suffix space of a millisecond is exhausted the
// allocator moves to the next one.
//
// It is best effort. The unique index on transactions.process_id is what enforces uniqueness.
type ProcessIDAllocator struct {
	mu     sync.Mutex
	now    func() time.Time
	intn   func(int) int
	lastMs int64
	lastID int64
}

func NewProcessIDAllocator() *ProcessIDAllocator {
	return &ProcessIDAllocator{
		now:    time.Now,
		intn:   rand.IntN,
		lastMs: -1,
	}
}

// NewProcessIDAllocatorWith is used by tests to pin the clock and the random source.
func NewProcessIDAllocatorWith(now func() time.Time, intn func(int) int) *ProcessIDAllocator {
	a := NewProcessIDAllocator()
	if now != nil {
		a.now = now
	}
	if intn != nil {
		a.intn = intn
	}
	return a
}

func (a *ProcessIDAllocator) Next() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	for {
		ms := a.now().UnixMilli() % millisWindow
		base := ms * suffixSpan
		id := base + int64(a.intn(suffixSpan))

		if ms == a.lastMs && id <= a.lastID {
			id = a.lastID + 1
		}
		if id == 0 {
			id = 1
		}
		if id >= base+suffixSpan {
			// suffix space of this millisecond is used up
			a.waitNextMillisecond(ms)
			continue
		}

		a.lastMs = ms
		a.lastID = id
		return id
	}
}

func (a *ProcessIDAllocator) waitNextMillisecond(ms int64) {
	for a.now().UnixMilli()%millisWindow == ms {
		time.Sleep(100 * time.Microsecond)
	}
}
