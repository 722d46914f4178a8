package monitor

import "sync"

// sampleQueue is a capacity-bounded multi-producer/single-consumer FIFO.
// Push never blocks: when the queue is full the incoming sample is
// dropped. Pop blocks until a sample arrives or the queue is closed.
type sampleQueue struct {
	mu     sync.Mutex
	ready  *sync.Cond
	items  []Sample
	cap    int
	closed bool
}

func newSampleQueue(capacity int) *sampleQueue {
	if capacity <= 0 {
		capacity = defaultQueueCapacity
	}
	q := &sampleQueue{
		items: make([]Sample, 0, capacity),
		cap:   capacity,
	}
	q.ready = sync.NewCond(&q.mu)
	return q
}

// push appends a sample, reporting false when it was dropped because
// the queue was full or already closed. Metric loss is preferable to
// stalling the producer.
func (q *sampleQueue) push(s Sample) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed || len(q.items) >= q.cap {
		return false
	}
	q.items = append(q.items, s)
	q.ready.Signal()
	return true
}

// pop removes the oldest sample, blocking while the queue is open and
// empty. After close it keeps returning buffered samples until the
// queue is drained, then reports ok=false.
func (q *sampleQueue) pop() (Sample, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 {
		if q.closed {
			return Sample{}, false
		}
		q.ready.Wait()
	}
	s := q.items[0]
	q.items = q.items[1:]
	return s, true
}

// close stops accepting pushes and wakes any blocked consumer.
// Buffered samples remain poppable.
func (q *sampleQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.ready.Broadcast()
}

func (q *sampleQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
