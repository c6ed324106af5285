package bridgesvc

import (
	"context"
	"sync"
)

// queue is the bounded multi-producer / single-consumer FIFO between the
// device pollers and the network sender. Pushes never block: under
// sustained backpressure the oldest item is dropped so memory stays
// bounded. Every item carries a sequence number; the consumer peeks the
// head and acknowledges that exact sequence once delivery is confirmed,
// so an item survives both a connection failure mid-send and a
// concurrent eviction of the peeked head.
type queue struct {
	mu       sync.Mutex
	items    []queueItem
	seq      uint64
	capacity int
	dropped  uint64
	notify   chan struct{}
}

type queueItem struct {
	seq  uint64
	data []byte
}

func newQueue(capacity int) *queue {
	return &queue{
		capacity: capacity,
		notify:   make(chan struct{}, 1),
	}
}

// push enqueues an item, evicting the oldest one when full.
func (q *queue) push(data []byte) {
	q.mu.Lock()
	if len(q.items) >= q.capacity {
		q.items = q.items[1:]
		q.dropped++
	}
	q.seq++
	q.items = append(q.items, queueItem{seq: q.seq, data: data})
	q.mu.Unlock()
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// peek blocks until an item is available and returns the head, with its
// sequence number, without removing it. Only the single consumer may
// call peek and ack.
func (q *queue) peek(ctx context.Context) ([]byte, uint64, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			head := q.items[0]
			q.mu.Unlock()
			return head.data, head.seq, nil
		}
		q.mu.Unlock()
		select {
		case <-ctx.Done():
			return nil, 0, ctx.Err()
		case <-q.notify:
		}
	}
}

// ack removes the head after confirmed delivery, but only while it is
// still the peeked item. If backpressure evicted it in the meantime it
// was already counted as dropped and the new head must stay queued.
func (q *queue) ack(seq uint64) {
	q.mu.Lock()
	if len(q.items) > 0 && q.items[0].seq == seq {
		q.items = q.items[1:]
	}
	q.mu.Unlock()
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *queue) droppedCount() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
