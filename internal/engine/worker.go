package engine

import "sync"

// Worker runs submitted jobs one at a time, in submission order.
type Worker struct {
	ch   chan func()
	wg   sync.WaitGroup
	once sync.Once
}

func NewWorker(queue int) *Worker {
	if queue <= 0 {
		queue = 1024
	}
	w := &Worker{ch: make(chan func(), queue)}
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for fn := range w.ch {
			fn()
		}
	}()
	return w
}

// TrySubmit queues fn without blocking and reports whether it was accepted.
func (w *Worker) TrySubmit(fn func()) bool {
	select {
	case w.ch <- fn:
		return true
	default:
		return false
	}
}

// Close stops accepting jobs and waits for the queued ones to finish.
// Submitting after Close panics.
func (w *Worker) Close() {
	w.once.Do(func() { close(w.ch) })
	w.wg.Wait()
}
