package sched

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wyzrun/fiberd/fiber"
)

func TestSubmitCallableRunsOnWorker(t *testing.T) {
	s := New(2, false, "t")
	s.Start()
	defer s.Stop()

	done := make(chan struct{})
	s.Submit(Task{Callable: func() { close(done) }, Affinity: AnyThread})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("callable never ran")
	}
}

func TestSubmitFiberRunsToCompletion(t *testing.T) {
	s := New(2, false, "t")
	s.Start()
	defer s.Stop()

	done := make(chan struct{})
	f := fiber.New("work", func(self *fiber.Fiber) { close(done) }, 0, false)
	s.Submit(Task{Fiber: f, Affinity: AnyThread})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("fiber never ran")
	}

	require.Eventually(t, func() bool { return f.State() == fiber.Term }, time.Second, time.Millisecond)
}

func TestYieldToReadyGetsResubmittedAndCompletes(t *testing.T) {
	s := New(2, false, "t")
	s.Start()
	defer s.Stop()

	var passes atomic.Int32
	done := make(chan struct{})
	f := fiber.New("multi-pass", func(self *fiber.Fiber) {
		passes.Add(1)
		if passes.Load() < 3 {
			self.YieldToReady()
			return
		}
		close(done)
	}, 0, false)
	s.Submit(Task{Fiber: f, Affinity: AnyThread})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("fiber never reached its final pass")
	}
	require.EqualValues(t, 3, passes.Load())
}

func TestAffinityPinsTaskToThread(t *testing.T) {
	s := New(3, false, "t")
	s.Start()
	defer s.Stop()

	var mu sync.Mutex
	seen := map[int]bool{}
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		s.Submit(Task{Affinity: 1, Callable: func() {
			defer wg.Done()
			mu.Lock()
			seen[1] = true
			mu.Unlock()
		}})
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.True(t, seen[1])

	// On an unstarted scheduler, drive the dispatch scan directly: a task
	// pinned to thread 1 is skipped by thread 0 and taken by thread 1.
	p := New(3, false, "pin")
	p.Submit(Task{Affinity: 1, Callable: func() {}})
	_, tickleOthers, found := p.pop(0)
	require.False(t, found)
	require.True(t, tickleOthers)
	task, _, found := p.pop(1)
	require.True(t, found)
	require.Equal(t, 1, task.Affinity)
}

func TestStopDrainsQueueAndJoinsWorkers(t *testing.T) {
	s := New(4, false, "t")
	s.Start()

	var n atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		s.Submit(Task{Callable: func() {
			defer wg.Done()
			n.Add(1)
		}})
	}
	wg.Wait()
	s.Stop()

	require.EqualValues(t, 50, n.Load())
	require.Equal(t, 0, s.QueueLen())
	require.EqualValues(t, 0, s.ActiveCount())
}

func TestSubmitBatchEnqueuesAllAtomically(t *testing.T) {
	s := New(2, false, "t")
	s.Start()
	defer s.Stop()

	var wg sync.WaitGroup
	wg.Add(10)
	var tasks []Task
	for i := 0; i < 10; i++ {
		tasks = append(tasks, Task{Affinity: AnyThread, Callable: func() { wg.Done() }})
	}
	s.SubmitBatch(tasks)
	wg.Wait()
}

func TestStatsTrackCompletionAndYields(t *testing.T) {
	s := New(1, false, "t")
	s.Start()
	defer s.Stop()

	done := make(chan struct{})
	f := fiber.New("yielder", func(self *fiber.Fiber) {
		self.YieldToReady()
	}, 0, false)
	s.fibersCreated.Add(1)
	s.Submit(Task{Fiber: f, Affinity: AnyThread})

	require.Eventually(t, func() bool { return f.State() == fiber.Term }, time.Second, time.Millisecond)
	close(done)

	st := s.Stats()
	require.GreaterOrEqual(t, st.TotalYields, int64(1))
	require.GreaterOrEqual(t, st.FibersCompleted, int64(1))
}

func TestUseCallerSuppliesLastWorker(t *testing.T) {
	s := New(2, true, "t")
	s.Start()

	done := make(chan struct{})
	s.Submit(Task{Callable: func() { close(done) }, Affinity: AnyThread})

	go func() {
		<-done
		s.Stop()
	}()

	s.RunCaller() // blocks until Stop
}

func TestRunCallerWithoutUseCallerPanics(t *testing.T) {
	s := New(1, false, "t")
	require.Panics(t, func() { s.RunCaller() })
}

func TestSubmitEmptyTaskPanics(t *testing.T) {
	s := New(1, false, "t")
	require.Panics(t, func() { s.Submit(Task{}) })
}

func TestSpawnConvenienceCreatesAndRunsFiber(t *testing.T) {
	s := New(1, false, "t")
	s.Start()
	defer s.Stop()

	done := make(chan struct{})
	f := s.Spawn("spawned", func(self *fiber.Fiber) { close(done) })
	require.NotNil(t, f)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("spawned fiber never ran")
	}
}
