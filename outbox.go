package carrier

import (
	"sync"
)

// outbox serializes the writes of one connection. Frames are submitted
// from any goroutine, queued if a write is in flight, and written in FIFO
// order by at most one writer goroutine at a time.
type outbox struct {
	write   func(FrameData) error // performs the actual write
	onError func(error)           // called once with the first write error

	mu      sync.Mutex // guards the below
	queue   []FrameData
	writing bool
	closed  bool
	wg      sync.WaitGroup
}

func newOutbox(write func(FrameData) error, onError func(error)) *outbox {
	return &outbox{
		write:   write,
		onError: onError,
	}
}

// submit queues fd for writing and takes ownership of it. It returns false
// if the outbox is closed, in which case fd has been freed.
func (ob *outbox) submit(fd FrameData) bool {
	ob.mu.Lock()
	if ob.closed {
		ob.mu.Unlock()
		FrameDataFree(fd)
		return false
	}
	ob.queue = append(ob.queue, fd)
	start := !ob.writing
	if start {
		ob.writing = true
		ob.wg.Add(1)
	}
	ob.mu.Unlock()
	if start {
		go ob.drain()
	}
	return true
}

// next pops the oldest queued frame, or marks the writer idle and
// returns nil if there is nothing left to do.
func (ob *outbox) next() (fd FrameData) {
	ob.mu.Lock()
	defer ob.mu.Unlock()
	if ob.closed || len(ob.queue) == 0 {
		ob.writing = false
		return nil
	}
	fd = ob.queue[0]
	ob.queue[0] = nil
	ob.queue = ob.queue[1:]
	return
}

func (ob *outbox) drain() {
	defer ob.wg.Done()
	for fd := ob.next(); fd != nil; fd = ob.next() {
		err := ob.write(fd)
		FrameDataFree(fd)
		if err != nil {
			ob.close()
			ob.onError(err)
			return
		}
	}
}

// close discards queued frames and rejects further submits.
// A write already in progress is allowed to finish.
func (ob *outbox) close() {
	ob.mu.Lock()
	defer ob.mu.Unlock()
	ob.closed = true
	for i, fd := range ob.queue {
		FrameDataFree(fd)
		ob.queue[i] = nil
	}
	ob.queue = nil
}

// wait blocks until no writer goroutine is running.
// Must not be called from within write or onError.
func (ob *outbox) wait() {
	ob.wg.Wait()
}

// pending returns the number of queued frames, not counting one being written.
func (ob *outbox) pending() int {
	ob.mu.Lock()
	defer ob.mu.Unlock()
	return len(ob.queue)
}
