package kv

import (
	"context"
	"sort"
	"sync"
	"time"
)

type entry struct {
	mu      sync.Mutex
	dead    bool
	value   []byte
	version uint64
	counter int64
	log     windowLog
	window  time.Duration
}

type stamp struct {
	member string
	at     time.Time
}

// windowLog is a time-ordered queue of recordings plus the latest time per
// member. Expiry pops from the front, so each recording is touched once.
type windowLog struct {
	queue  []stamp
	head   int
	latest map[string]time.Time
}

func (l *windowLog) len() int { return len(l.latest) }

func (l *windowLog) record(member string, at time.Time) {
	if l.latest == nil {
		l.latest = make(map[string]time.Time)
	}
	if prev, ok := l.latest[member]; ok && !at.After(prev) {
		return
	}
	l.latest[member] = at
	s := stamp{member: member, at: at}
	n := len(l.queue)
	if n == l.head || !at.Before(l.queue[n-1].at) {
		l.queue = append(l.queue, s)
		return
	}
	// out-of-order clock: keep the queue sorted
	i := l.head + sort.Search(n-l.head, func(i int) bool { return l.queue[l.head+i].at.After(at) })
	l.queue = append(l.queue, stamp{})
	copy(l.queue[i+1:], l.queue[i:])
	l.queue[i] = s
}

// expire drops recordings at or before cutoff.
func (l *windowLog) expire(cutoff time.Time) {
	for l.head < len(l.queue) && !l.queue[l.head].at.After(cutoff) {
		s := l.queue[l.head]
		if ts, ok := l.latest[s.member]; ok && ts.Equal(s.at) {
			delete(l.latest, s.member)
		}
		l.queue[l.head] = stamp{}
		l.head++
	}
	switch {
	case l.head == len(l.queue):
		l.queue, l.head = l.queue[:0], 0
	case l.head > len(l.queue)/2:
		n := copy(l.queue, l.queue[l.head:])
		l.queue, l.head = l.queue[:n], 0
	}
}

// trim drops members that fell out of the window ending at now. Caller holds mu.
func (e *entry) trim(now time.Time) {
	if e.window <= 0 {
		return
	}
	e.log.expire(now.Add(-e.window))
}

// MemoryStore keeps one independently locked entry per key.
type MemoryStore struct {
	entries sync.Map // string -> *entry
}

// NewMemoryStore returns an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// lock returns the live entry for key with its mutex held.
func (s *MemoryStore) lock(key string) *entry {
	for {
		v, ok := s.entries.Load(key)
		if !ok {
			v, _ = s.entries.LoadOrStore(key, &entry{})
		}
		e := v.(*entry)
		e.mu.Lock()
		if !e.dead {
			return e
		}
		// swept between Load and Lock; fetch the replacement
		e.mu.Unlock()
	}
}

func (s *MemoryStore) Window(ctx context.Context, key, member string, at time.Time, window time.Duration) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	e := s.lock(key)
	defer e.mu.Unlock()
	e.window = window
	e.trim(at)
	e.log.record(member, at)
	return e.log.len(), nil
}

func (s *MemoryStore) Load(ctx context.Context, key string) (Item, error) {
	if err := ctx.Err(); err != nil {
		return Item{}, err
	}
	v, ok := s.entries.Load(key)
	if !ok {
		return Item{}, nil
	}
	e := v.(*entry)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dead || e.version == 0 {
		return Item{}, nil
	}
	return Item{Value: append([]byte(nil), e.value...), Version: e.version}, nil
}

func (s *MemoryStore) CompareAndSwap(ctx context.Context, key string, version uint64, value []byte) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	e := s.lock(key)
	defer e.mu.Unlock()
	if e.version != version {
		return false, nil
	}
	e.value = append([]byte(nil), value...)
	e.version++
	return true, nil
}

func (s *MemoryStore) Increment(ctx context.Context, key string, delta int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	e := s.lock(key)
	defer e.mu.Unlock()
	e.counter += delta
	return e.counter, nil
}

// Sweep removes window-only entries whose members have all expired and
// returns how many keys were dropped. Versioned values and counters are kept.
func (s *MemoryStore) Sweep(now time.Time) int {
	removed := 0
	s.entries.Range(func(k, v any) bool {
		e := v.(*entry)
		e.mu.Lock()
		e.trim(now)
		if e.version == 0 && e.counter == 0 && e.log.len() == 0 {
			e.dead = true
			s.entries.CompareAndDelete(k, e)
			removed++
		}
		e.mu.Unlock()
		return true
	})
	return removed
}

// Len reports the number of live keys.
func (s *MemoryStore) Len() int {
	n := 0
	s.entries.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
