package sdk

import (
	"errors"
	"sync"

	"github.com/pkuntong/highlanderhomes-sub002/pkg/logger"
)

var (
	errDispatcherClosed = errors.New("sdk: dispatcher closed")
	errDispatchPanicked = errors.New("sdk: dispatched work panicked")
)

// dispatcher runs queued work on a single goroutine in submission order.
//
// Credential events arrive on the session's writer; the realtime lifecycle
// work they trigger (dialing, replaying) is queued here instead so a sign-in
// does not wait on the socket.
type dispatcher struct {
	mu     sync.Mutex
	closed bool

	// senders counts do calls that passed the closed check and may still be
	// blocked on a full queue; close waits for them before closing q.
	senders   sync.WaitGroup
	closeOnce sync.Once

	q    chan func()
	done chan struct{}
}

func newDispatcher(queueSize int) *dispatcher {
	if queueSize <= 0 {
		queueSize = 256
	}
	d := &dispatcher{
		q:    make(chan func(), queueSize),
		done: make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *dispatcher) run() {
	defer close(d.done)
	for fn := range d.q {
		d.runOne(fn)
	}
}

func (d *dispatcher) runOne(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("sdk: dispatched work panicked: %v", r)
		}
	}()
	fn()
}

// do queues fn without waiting for it. It blocks while the queue is full,
// without holding the dispatcher lock.
func (d *dispatcher) do(fn func()) error {
	if fn == nil {
		return nil
	}
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return errDispatcherClosed
	}
	d.senders.Add(1)
	d.mu.Unlock()

	defer d.senders.Done()
	d.q <- fn
	return nil
}

// call queues fn and waits for its result.
func (d *dispatcher) call(fn func() error) error {
	if fn == nil {
		return nil
	}
	done := make(chan error, 1)
	queued := func() {
		err := errDispatchPanicked
		defer func() { done <- err }()
		err = fn()
	}
	if err := d.do(queued); err != nil {
		return err
	}
	return <-done
}

// close stops accepting work and waits for queued work to finish.
func (d *dispatcher) close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	d.closeOnce.Do(func() {
		d.senders.Wait()
		close(d.q)
	})
	<-d.done
}
