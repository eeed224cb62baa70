package engine

import (
	"hash/fnv"
	"sync"
)

// Dispatcher shards jobs by key so jobs with the same key run sequentially
// on one worker while different keys run in parallel.
type Dispatcher struct {
	workers []*Worker

	mu     sync.RWMutex
	closed bool
}

func NewDispatcher(n, queue int) *Dispatcher {
	if n <= 0 {
		n = 1
	}
	ws := make([]*Worker, n)
	for i := range ws {
		ws[i] = NewWorker(queue)
	}
	return &Dispatcher{workers: ws}
}

func (d *Dispatcher) shard(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(d.workers)))
}

// Dispatch reports false when the shard queue is full or the dispatcher is
// closed; the job is dropped in both cases.
func (d *Dispatcher) Dispatch(key string, fn func()) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return false
	}
	return d.workers[d.shard(key)].TrySubmit(fn)
}

func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.mu.Unlock()
	for _, w := range d.workers {
		w.Close()
	}
}
