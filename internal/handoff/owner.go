package handoff

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"

	logx "bgsync/pkg/logx"
)

const DefaultOwnerQueue = 16

type ownerTask struct {
	ctx  context.Context
	name string
	fn   func()
}

// Owner is the single serialized execution context. Posted tasks run one at a
// time, in FIFO order, on the goroutine that calls Run.
type Owner struct {
	log   logx.Logger
	queue chan ownerTask

	done     chan struct{}
	doneOnce sync.Once

	ran       atomic.Uint64
	discarded atomic.Uint64
	panics    atomic.Uint64
}

// OwnerStats is a diagnostic snapshot of the owner loop.
type OwnerStats struct {
	QueueLen  int
	QueueCap  int
	Ran       uint64
	Discarded uint64
	Panics    uint64
	Stopped   bool
}

func NewOwner(queue int, log logx.Logger) *Owner {
	if queue <= 0 {
		queue = DefaultOwnerQueue
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Owner{
		log:   log,
		queue: make(chan ownerTask, queue),
		done:  make(chan struct{}),
	}
}

// Run processes posted tasks until ctx is cancelled. Tasks still queued at
// that point are discarded unrun. Run is meant to be started once, typically
// under the supervisor.
func (o *Owner) Run(ctx context.Context) error {
	defer o.stop()
	for {
		select {
		case <-ctx.Done():
			o.stop()
			o.drain()
			return nil
		case t := <-o.queue:
			o.exec(t)
		}
	}
}

// Post enqueues fn without blocking. A task whose ctx is cancelled before it
// reaches the head of the queue is discarded.
func (o *Owner) Post(ctx context.Context, name string, fn func()) error {
	if fn == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case <-o.done:
		return ErrOwnerStopped
	default:
	}
	select {
	case o.queue <- ownerTask{ctx: ctx, name: name, fn: fn}:
		return nil
	default:
		return ErrOwnerBusy
	}
}

// Stopped is closed once the loop has exited.
func (o *Owner) Stopped() <-chan struct{} { return o.done }

func (o *Owner) Stats() OwnerStats {
	st := OwnerStats{
		QueueLen:  len(o.queue),
		QueueCap:  cap(o.queue),
		Ran:       o.ran.Load(),
		Discarded: o.discarded.Load(),
		Panics:    o.panics.Load(),
	}
	select {
	case <-o.done:
		st.Stopped = true
	default:
	}
	return st
}

func (o *Owner) exec(t ownerTask) {
	if t.ctx.Err() != nil {
		o.discarded.Add(1)
		o.log.Debug("owner task discarded", logx.String("task", t.name), logx.Err(t.ctx.Err()))
		return
	}
	defer func() {
		if r := recover(); r != nil {
			o.panics.Add(1)
			o.log.Error("owner task panicked", logx.String("task", t.name), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()
	o.ran.Add(1)
	t.fn()
}

func (o *Owner) drain() {
	for {
		select {
		case t := <-o.queue:
			o.discarded.Add(1)
			o.log.Debug("owner task dropped at shutdown", logx.String("task", t.name))
		default:
			return
		}
	}
}

func (o *Owner) stop() { o.doneOnce.Do(func() { close(o.done) }) }
