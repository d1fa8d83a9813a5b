package pool

import (
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestPool(t *testing.T, workers int) *Pool {
	cfg := DefaultConfig()
	cfg.Workers = workers
	cfg.QueueSize = 16
	cfg.PollIntervalMs = 5
	p, err := New(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	return p
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(c *Config)
		wantErr bool
	}{
		{name: "default", modify: func(c *Config) {}},
		{name: "no workers", modify: func(c *Config) { c.Workers = 0 }, wantErr: true},
		{name: "no queue", modify: func(c *Config) { c.QueueSize = 0 }, wantErr: true},
		{name: "no result cache", modify: func(c *Config) { c.ResultCacheSize = 0 }},
		{name: "negative result cache", modify: func(c *Config) { c.ResultCacheSize = -1 }, wantErr: true},
		{name: "zero poll interval", modify: func(c *Config) { c.PollIntervalMs = 0 }, wantErr: true},
		{name: "max node", modify: func(c *Config) { c.NodeID = 1023 }},
		{name: "node out of range", modify: func(c *Config) { c.NodeID = 1024 }, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfig)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	p, err := New(Config{}, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.Nil(t, p)
}

func TestPool_Submit(t *testing.T) {
	p := newTestPool(t, 4)

	boom := errors.New("boom")
	var ran atomic.Int32
	tasks := map[string]func() error{
		"ok":    func() error { ran.Add(1); return nil },
		"err":   func() error { ran.Add(1); return boom },
		"panic": func() error { ran.Add(1); panic("oops") },
	}
	ids := make(map[string]TaskID)
	for key, fn := range tasks {
		id, accepted, err := p.Submit(key, fn)
		require.NoError(t, err)
		assert.True(t, accepted)
		assert.NotZero(t, id)
		ids[key] = id
	}
	p.Close()

	assert.Equal(t, int32(3), ran.Load())
	assert.Equal(t, 0, p.InFlight())

	res, ok := p.Result("ok")
	require.True(t, ok)
	assert.Equal(t, StateDone, res.State)
	assert.Equal(t, ids["ok"], res.ID)
	assert.NoError(t, res.Err)

	res, ok = p.Result("err")
	require.True(t, ok)
	assert.Equal(t, StateFailed, res.State)
	assert.ErrorIs(t, res.Err, boom)

	res, ok = p.Result("panic")
	require.True(t, ok)
	assert.Equal(t, StateFailed, res.State)
	assert.ErrorIs(t, res.Err, ErrTaskPanicked)
}

func TestPool_SubmitDeduplicates(t *testing.T) {
	p := newTestPool(t, 2)

	release := make(chan struct{})
	var ran atomic.Int32
	block := func() error {
		ran.Add(1)
		<-release
		return nil
	}

	id, accepted, err := p.Submit("k", block)
	require.NoError(t, err)
	require.True(t, accepted)
	assert.Eventually(t, func() bool { return p.Running("k") }, time.Second, time.Millisecond)

	dup, accepted, err := p.Submit("k", block)
	require.NoError(t, err)
	assert.False(t, accepted)
	assert.Equal(t, id, dup)
	assert.Equal(t, 1, p.InFlight())
	assert.Equal(t, []string{"k"}, p.Keys())
	assert.Equal(t, map[State]int{StateRunning: 1}, p.Stats())

	// running tasks cannot be cancelled
	assert.False(t, p.Cancel("k"))

	close(release)
	p.Close()
	assert.Equal(t, int32(1), ran.Load())
	assert.False(t, p.Running("k"))
}

func TestPool_SubmitDeduplicatesConcurrently(t *testing.T) {
	p := newTestPool(t, 1)
	release := make(chan struct{})

	var accepted atomic.Int32
	ids := make([]TaskID, 32)
	var wg sync.WaitGroup
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, ok, err := p.Submit("same", func() error {
				<-release
				return nil
			})
			assert.NoError(t, err)
			if ok {
				accepted.Add(1)
			}
			ids[i] = id
		}(i)
	}
	wg.Wait()
	close(release)
	p.Close()

	assert.Equal(t, int32(1), accepted.Load())
	for _, id := range ids[1:] {
		assert.Equal(t, ids[0], id)
	}
}

func TestPool_Cancel(t *testing.T) {
	p := newTestPool(t, 1)

	release := make(chan struct{})
	_, _, err := p.Submit("first", func() error {
		<-release
		return nil
	})
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return p.Running("first") }, time.Second, time.Millisecond)

	var ran atomic.Bool
	_, accepted, err := p.Submit("second", func() error {
		ran.Store(true)
		return nil
	})
	require.NoError(t, err)
	require.True(t, accepted)

	assert.True(t, p.Cancel("second"))
	assert.False(t, p.Cancel("second"))
	assert.False(t, p.Cancel("missing"))

	close(release)
	p.Close()

	assert.False(t, ran.Load())
	res, ok := p.Result("second")
	require.True(t, ok)
	assert.Equal(t, StateCancelled, res.State)
	assert.ErrorIs(t, res.Err, ErrTaskCancelled)
}

func TestPool_CancelIf(t *testing.T) {
	p := newTestPool(t, 1)

	release := make(chan struct{})
	_, _, err := p.Submit("busy", func() error {
		<-release
		return nil
	})
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return p.Running("busy") }, time.Second, time.Millisecond)

	var ran atomic.Int32
	for i := 0; i < 6; i++ {
		_, _, err := p.SubmitAfter("delayed-"+strconv.Itoa(i), time.Hour, func() error {
			ran.Add(1)
			return nil
		})
		require.NoError(t, err)
	}
	assert.Equal(t, map[State]int{StateRunning: 1, StateScheduled: 6}, p.Stats())

	n := p.CancelIf(func(key string) bool { return key != "delayed-0" })
	assert.Equal(t, 5, n)
	assert.ElementsMatch(t, []string{"busy", "delayed-0"}, p.Keys())

	close(release)
	p.Close()

	// delayed tasks still pending at close are cancelled
	assert.Equal(t, int32(0), ran.Load())
	for i := 0; i < 6; i++ {
		res, ok := p.Result("delayed-" + strconv.Itoa(i))
		require.True(t, ok)
		assert.Equal(t, StateCancelled, res.State)
	}
	assert.Equal(t, 0, p.InFlight())
}

func TestPool_CancelIfPredicateReadsPool(t *testing.T) {
	p := newTestPool(t, 1)

	release := make(chan struct{})
	_, _, err := p.Submit("busy", func() error {
		<-release
		return nil
	})
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return p.Running("busy") }, time.Second, time.Millisecond)
	for i := 0; i < 4; i++ {
		_, _, err := p.SubmitAfter("delayed-"+strconv.Itoa(i), time.Hour, func() error { return nil })
		require.NoError(t, err)
	}

	done := make(chan int)
	go func() {
		done <- p.CancelIf(func(key string) bool {
			// every call here takes bucket locks of the same map
			_ = p.Stats()
			_ = p.Keys()
			return !p.Running(key) && p.InFlight() > 0
		})
	}()
	select {
	case n := <-done:
		assert.Equal(t, 4, n)
	case <-time.After(5 * time.Second):
		t.Fatal("CancelIf deadlocked on a predicate reading the pool")
	}
	assert.Equal(t, []string{"busy"}, p.Keys())
	close(release)
}

func TestPool_SubmitAfter(t *testing.T) {
	p := newTestPool(t, 2)

	done := make(chan time.Time, 1)
	start := time.Now()
	id, accepted, err := p.SubmitAfter("later", 30*time.Millisecond, func() error {
		done <- time.Now()
		return nil
	})
	require.NoError(t, err)
	require.True(t, accepted)

	dup, accepted, err := p.Submit("later", func() error { return nil })
	require.NoError(t, err)
	assert.False(t, accepted)
	assert.Equal(t, id, dup)

	select {
	case at := <-done:
		assert.GreaterOrEqual(t, at.Sub(start), 30*time.Millisecond)
	case <-time.After(5 * time.Second):
		t.Fatal("delayed task never ran")
	}
	p.Close()

	res, ok := p.Result("later")
	require.True(t, ok)
	assert.Equal(t, StateDone, res.State)
}

func TestPool_Closed(t *testing.T) {
	p := newTestPool(t, 1)
	p.Close()
	p.Close()

	_, _, err := p.Submit("k", func() error { return nil })
	assert.ErrorIs(t, err, ErrPoolClosed)
	_, _, err = p.SubmitAfter("k", time.Millisecond, func() error { return nil })
	assert.ErrorIs(t, err, ErrPoolClosed)
}

func TestPool_ResultEvicted(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Workers = 1
	cfg.ResultCacheSize = 2
	p, err := New(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)

	for _, key := range []string{"a", "b", "c"} {
		_, _, err := p.Submit(key, func() error { return nil })
		require.NoError(t, err)
		// one at a time so results land in order
		assert.Eventually(t, func() bool {
			_, ok := p.Result(key)
			return ok
		}, time.Second, time.Millisecond)
	}
	p.Close()

	_, ok := p.Result("a")
	assert.False(t, ok)
	_, ok = p.Result("c")
	assert.True(t, ok)
}

func TestKeyOf(t *testing.T) {
	a := KeyOf([]byte("user"), []byte("42"))
	assert.Equal(t, a, KeyOf([]byte("user"), []byte("42")))
	assert.NotEmpty(t, a)
	assert.NotEqual(t, a, KeyOf([]byte("user4"), []byte("2")))
	assert.NotEqual(t, a, KeyOf([]byte("user"), []byte("43")))
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "running", StateRunning.String())
	assert.Equal(t, "cancelled", StateCancelled.String())
	assert.Equal(t, "State(42)", State(42).String())
}
