package journal

import "sync"

// buffer is a growable ring of journal entries between the connection
// manager's delivery callback and the writer's consume loop. It doubles its
// capacity at 70% full so a slow flush never drops frames.
type buffer struct {
	mu       sync.Mutex
	cond     *sync.Cond
	entries  []Entry
	head     int
	tail     int
	count    int
	capacity int
	closed   bool

	totalIn  int64
	totalOut int64
	resizes  int
}

func newBuffer(initialCapacity int) *buffer {
	if initialCapacity < 1 {
		initialCapacity = 1
	}
	b := &buffer{
		entries:  make([]Entry, initialCapacity),
		capacity: initialCapacity,
	}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// push adds an entry, growing if needed. Returns false once closed.
func (b *buffer) push(e Entry) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return false
	}

	threshold := (b.capacity * 70) / 100
	if threshold < 1 {
		threshold = 1
	}
	if b.count+1 >= threshold {
		b.grow()
	}

	b.entries[b.tail] = e
	b.tail = (b.tail + 1) % b.capacity
	b.count++
	b.totalIn++

	b.cond.Signal()
	return true
}

// pop blocks until an entry is available or the buffer is closed and drained.
func (b *buffer) pop() (Entry, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for b.count == 0 && !b.closed {
		b.cond.Wait()
	}
	if b.count == 0 && b.closed {
		return Entry{}, false
	}

	e := b.entries[b.head]
	b.entries[b.head] = Entry{}
	b.head = (b.head + 1) % b.capacity
	b.count--
	b.totalOut++
	return e, true
}

// close stops accepting entries; pop drains the remainder then reports closed.
func (b *buffer) close() {
	b.mu.Lock()
	b.closed = true
	b.cond.Broadcast()
	b.mu.Unlock()
}

func (b *buffer) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

func (b *buffer) cap() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.capacity
}

// grow doubles capacity. Caller holds mu.
func (b *buffer) grow() {
	next := make([]Entry, b.capacity*2)
	if b.count > 0 {
		if b.head < b.tail {
			copy(next, b.entries[b.head:b.tail])
		} else {
			n := copy(next, b.entries[b.head:])
			copy(next[n:], b.entries[:b.tail])
		}
	}
	b.entries = next
	b.head = 0
	b.tail = b.count
	b.capacity *= 2
	b.resizes++
}
