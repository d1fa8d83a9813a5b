// Package pool runs keyed tasks on a fixed set of workers. At most one task
// per key is queued or running at a time; later submissions with the same
// key are folded into the one already in flight.
package pool

import (
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"lazymap/ds"
	"lazymap/util"
)

var (
	ErrPoolClosed    = errors.New("pool: closed")
	ErrTaskPanicked  = errors.New("pool: task panicked")
	ErrTaskCancelled = errors.New("pool: task cancelled")
)

type TaskID int64

type State uint8

const (
	StateScheduled State = iota // waiting for its delay
	StateQueued
	StateRunning
	StateDone
	StateFailed
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateScheduled:
		return "scheduled"
	case StateQueued:
		return "queued"
	case StateRunning:
		return "running"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

// Result is what is remembered about a finished task.
type Result struct {
	ID       TaskID
	Key      string
	State    State
	Err      error
	Finished time.Time
}

type task struct {
	id  TaskID
	key string
	fn  func() error
}

// slot is the in-flight record of a key.
type slot struct {
	id    TaskID
	state State
}

type Pool struct {
	cfg    Config
	logger *zap.Logger

	node     *snowflake.Node
	workers  *ants.Pool
	queue    *ds.BlockingQueue[*task]
	inflight *ds.ConcurrentMap[string, slot]
	results  *ds.LRU[string, Result]
	timers   *util.TimerQueue

	running  sync.WaitGroup
	closed   atomic.Bool
	closeMu  sync.RWMutex // excludes Close from submissions in progress
	loopDone chan struct{}
}

// New starts a pool and its dispatcher goroutine.
func New(cfg Config, logger *zap.Logger) (*Pool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	node, err := snowflake.NewNode(cfg.NodeID)
	if err != nil {
		return nil, err
	}

	p := &Pool{
		cfg:      cfg,
		logger:   logger,
		node:     node,
		queue:    ds.NewBlockingQueue[*task](cfg.QueueSize),
		inflight: ds.NewStringMap[slot](ds.WithLogger(logger)),
		results:  ds.NewLRU[string, Result](cfg.ResultCacheSize, nil),
		timers:   util.NewTimerQueue(),
		loopDone: make(chan struct{}),
	}
	// tasks recover their own panics; anything reaching ants is a bug in the pool
	p.workers, err = ants.NewPool(cfg.Workers, ants.WithPanicHandler(func(v interface{}) {
		logger.Error("pool worker panicked", zap.Any("panic", v))
	}))
	if err != nil {
		return nil, err
	}

	go p.dispatch()
	return p, nil
}

// KeyOf derives a task key from its parts.
func KeyOf(parts ...[]byte) string {
	m := util.NewMurmur128()
	for _, part := range parts {
		_ = m.Write(part)
		_ = m.Write([]byte{0})
	}
	return hex.EncodeToString(m.EncodeSum128())
}

// Submit queues fn under key. If a task with the same key is already
// scheduled, queued or running, nothing is queued and Submit returns the id
// of that task with accepted=false. Submit blocks while the queue is full.
func (p *Pool) Submit(key string, fn func() error) (id TaskID, accepted bool, err error) {
	p.closeMu.RLock()
	defer p.closeMu.RUnlock()
	if p.closed.Load() {
		return 0, false, ErrPoolClosed
	}

	t, dup := p.reserve(key, fn, StateQueued)
	if dup != 0 {
		return dup, false, nil
	}
	if err := p.queue.Enqueue(t); err != nil {
		p.release(t)
		return 0, false, err
	}
	return t.id, true, nil
}

// SubmitAfter is Submit with fn queued once delay has passed. The key is
// reserved immediately.
func (p *Pool) SubmitAfter(key string, delay time.Duration, fn func() error) (id TaskID, accepted bool, err error) {
	p.closeMu.RLock()
	defer p.closeMu.RUnlock()
	if p.closed.Load() {
		return 0, false, ErrPoolClosed
	}

	t, dup := p.reserve(key, fn, StateScheduled)
	if dup != 0 {
		return dup, false, nil
	}
	p.timers.Push(time.Now().Add(delay), t)
	return t.id, true, nil
}

// reserve claims key for a new task, or returns the id already holding it.
func (p *Pool) reserve(key string, fn func() error, state State) (*task, TaskID) {
	t := &task{
		id:  TaskID(p.node.Generate().Int64()),
		key: key,
		fn:  fn,
	}
	var dup TaskID
	p.inflight.Compute(key, func(old slot, loaded bool) (slot, bool) {
		if loaded {
			dup = old.id
			return old, true
		}
		return slot{id: t.id, state: state}, true
	})
	return t, dup
}

// release drops key if t still owns it.
func (p *Pool) release(t *task) bool {
	var owned bool
	p.inflight.Compute(t.key, func(old slot, loaded bool) (slot, bool) {
		owned = loaded && old.id == t.id
		return old, loaded && !owned
	})
	return owned
}

// transition moves t's slot from one of from to state. It fails if t no
// longer owns its key or is in another state.
func (p *Pool) transition(t *task, state State, from ...State) bool {
	var ok bool
	p.inflight.Compute(t.key, func(old slot, loaded bool) (slot, bool) {
		if !loaded || old.id != t.id {
			return old, loaded
		}
		for _, f := range from {
			if old.state == f {
				ok = true
				old.state = state
				break
			}
		}
		return old, true
	})
	return ok
}

func (p *Pool) dispatch() {
	defer close(p.loopDone)
	for {
		p.promoteTimers()
		t, err := p.queue.DequeueTimeout(p.cfg.PollIntervalMs)
		switch err {
		case nil:
			p.run(t)
		case ds.ErrQueueTimeout:
		case ds.ErrQueueClosed:
			return
		default:
			p.logger.Error("pool dispatch", zap.Error(err))
		}
	}
}

// promoteTimers moves due delayed tasks to the queue. A full queue pushes
// them back a poll interval; the dispatcher is the only consumer, so it must
// not block on its own queue.
func (p *Pool) promoteTimers() {
	if p.closed.Load() {
		return
	}
	now := time.Now()
	for _, v := range p.timers.PopExpired(now) {
		t := v.(*task)
		if !p.transition(t, StateQueued, StateScheduled) {
			// cancelled while waiting
			continue
		}
		if !p.queue.TryEnqueue(t) {
			p.transition(t, StateScheduled, StateQueued)
			p.timers.Push(now.Add(util.MsToDuration(p.cfg.PollIntervalMs)), t)
		}
	}
}

// run hands t to a worker, blocking while all workers are busy. t counts as
// queued, and stays cancellable, until a worker picks it up.
func (p *Pool) run(t *task) {
	p.running.Add(1)
	err := p.workers.Submit(func() {
		defer p.running.Done()
		if !p.transition(t, StateRunning, StateQueued) {
			return
		}
		p.finish(t, p.call(t))
	})
	if err != nil {
		p.running.Done()
		if p.transition(t, StateRunning, StateQueued) {
			p.finish(t, err)
		}
	}
}

func (p *Pool) call(t *task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Warn("task panicked",
				zap.String("key", t.key),
				zap.Int64("id", int64(t.id)),
				zap.Any("panic", r))
			err = fmt.Errorf("%w: %v", ErrTaskPanicked, r)
		}
	}()
	return t.fn()
}

func (p *Pool) finish(t *task, err error) {
	res := Result{ID: t.id, Key: t.key, State: StateDone, Err: err, Finished: time.Now()}
	if err != nil {
		res.State = StateFailed
		p.logger.Debug("task failed", zap.String("key", t.key), zap.Error(err))
	}
	// record before releasing the key, so a finished key always has a result
	p.results.Set(t.key, res, 1)
	p.release(t)
}

func (p *Pool) cancelled(t *task) {
	p.results.Set(t.key, Result{
		ID:       t.id,
		Key:      t.key,
		State:    StateCancelled,
		Err:      ErrTaskCancelled,
		Finished: time.Now(),
	}, 1)
}

// Cancel drops the task holding key if it has not started yet.
func (p *Pool) Cancel(key string) bool {
	return p.cancel(key, 0)
}

// CancelIf drops every task not yet started whose key matches pred and
// returns how many were dropped. pred runs on a snapshot of the keys with
// no lock held, so it may call back into p. A task that starts or is
// replaced after the snapshot is left alone.
func (p *Pool) CancelIf(pred func(key string) bool) int {
	var pending []task
	p.inflight.ForEachRO(func(key string, s slot) bool {
		if s.state == StateRunning {
			return false
		}
		pending = append(pending, task{id: s.id, key: key})
		return true
	})
	n := 0
	for _, t := range pending {
		if pred(t.key) && p.cancel(t.key, t.id) {
			n++
		}
	}
	return n
}

// cancel drops the slot of key while it is scheduled or queued. A non zero
// id must also match the slot.
func (p *Pool) cancel(key string, id TaskID) bool {
	var victim slot
	p.inflight.Compute(key, func(old slot, loaded bool) (slot, bool) {
		if !loaded || (id != 0 && old.id != id) {
			return old, loaded
		}
		if old.state == StateQueued || old.state == StateScheduled {
			victim = old
			return old, false
		}
		return old, true
	})
	if victim.id == 0 {
		return false
	}
	p.cancelled(&task{id: victim.id, key: key})
	return true
}

// Running reports whether the task holding key is executing.
func (p *Pool) Running(key string) bool {
	s, ok := p.inflight.Find(key)
	return ok && s.state == StateRunning
}

// InFlight returns the number of keys scheduled, queued or running.
func (p *Pool) InFlight() int {
	return p.inflight.Size()
}

// Keys lists the keys in flight, in no particular order.
func (p *Pool) Keys() []string {
	return p.inflight.GetKeyList()
}

// Stats counts in-flight tasks per state.
func (p *Pool) Stats() map[State]int {
	stats := make(map[State]int)
	p.inflight.ForEachRO(func(key string, s slot) bool {
		stats[s.state]++
		return true
	})
	return stats
}

// Result returns the outcome of the last finished task for key, while it is still cached.
func (p *Pool) Result(key string) (Result, bool) {
	return p.results.Get(key)
}

// Close stops accepting tasks, runs what is already queued, cancels delayed
// tasks that have not come due, and waits for running tasks to finish.
func (p *Pool) Close() {
	p.closeMu.Lock()
	if p.closed.Swap(true) {
		p.closeMu.Unlock()
		<-p.loopDone
		return
	}
	p.queue.Close()
	p.closeMu.Unlock()

	<-p.loopDone
	for _, v := range p.timers.PopExpired(time.Now().Add(100 * 365 * 24 * time.Hour)) {
		t := v.(*task)
		if p.release(t) {
			p.cancelled(t)
		}
	}
	p.running.Wait()
	p.workers.Release()
	p.logger.Debug("pool closed")
}
