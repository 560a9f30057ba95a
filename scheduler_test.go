//go:build linux || darwin

package cosched

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/legamerdc/cosched/internal/trace"
	"github.com/legamerdc/cosched/poller"
)

func socketPair(t *testing.T) (int, int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	require.NoError(t, unix.SetNonblock(fds[0], true))
	t.Cleanup(func() {
		unix.Close(fds[0])
		unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

func newScheduler(t *testing.T, opts ...Option) *Scheduler {
	t.Helper()
	s, err := New(opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func runIdle(t *testing.T, s *Scheduler) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.RunUntilIdle(ctx)
}

type failure struct {
	info TaskInfo
	err  error
}

func recordFailures(dst *[]failure) Option {
	return WithFailureHook(func(info TaskInfo, err error) {
		*dst = append(*dst, failure{info: info, err: err})
	})
}

func TestSchedulerFIFO(t *testing.T) {
	s := newScheduler(t)
	var order []string
	for _, name := range []string{"a", "b", "c"} {
		s.Spawn(name, TaskFunc(func() Outcome {
			order = append(order, name)
			return Completed()
		}))
	}
	require.NoError(t, runIdle(t, s))
	assert.Equal(t, []string{"a", "b", "c"}, order)

	st := s.Stats()
	assert.Equal(t, uint64(3), st.Spawned)
	assert.Equal(t, uint64(3), st.Completed)
	assert.Zero(t, st.Live())
}

func TestSchedulerSpawnFromTaskAppends(t *testing.T) {
	s := newScheduler(t)
	var order []string
	s.Spawn("parent", TaskFunc(func() Outcome {
		order = append(order, "parent")
		s.Spawn("child", TaskFunc(func() Outcome {
			order = append(order, "child")
			return Completed()
		}))
		return Completed()
	}))
	s.Spawn("sibling", TaskFunc(func() Outcome {
		order = append(order, "sibling")
		return Completed()
	}))
	require.NoError(t, runIdle(t, s))
	assert.Equal(t, []string{"parent", "sibling", "child"}, order)
}

func TestSchedulerTaskIDs(t *testing.T) {
	s := newScheduler(t)
	a := s.Spawn("a", TaskFunc(Completed))
	b := s.Spawn("b", TaskFunc(Completed))
	assert.Equal(t, TaskID(1), a)
	assert.Equal(t, TaskID(2), b)
	assert.NotEmpty(t, s.ID())
}

func TestSchedulerFailureIsolation(t *testing.T) {
	var got []failure
	s := newScheduler(t, recordFailures(&got))
	boom := errors.New("boom")
	ran := 0
	s.Spawn("ok-1", TaskFunc(func() Outcome { ran++; return Completed() }))
	s.Spawn("bad", TaskFunc(func() Outcome { return Failed(boom) }))
	s.Spawn("panics", TaskFunc(func() Outcome { panic("kaboom") }))
	s.Spawn("ok-2", TaskFunc(func() Outcome { ran++; return Completed() }))

	require.NoError(t, runIdle(t, s))
	assert.Equal(t, 2, ran)
	require.Len(t, got, 2)
	assert.Equal(t, "bad", got[0].info.Name)
	assert.ErrorIs(t, got[0].err, boom)
	assert.Equal(t, "panics", got[1].info.Name)
	assert.ErrorIs(t, got[1].err, ErrTaskPanic)
	assert.Contains(t, got[1].err.Error(), "kaboom")

	st := s.Stats()
	assert.Equal(t, uint64(2), st.Completed)
	assert.Equal(t, uint64(2), st.Failed)
}

func TestSchedulerFailedWithoutError(t *testing.T) {
	var got []failure
	s := newScheduler(t, recordFailures(&got))
	s.Spawn("nil", TaskFunc(func() Outcome { return Outcome{Kind: OutcomeFailed} }))
	require.NoError(t, runIdle(t, s))
	require.Len(t, got, 1)
	assert.Error(t, got[0].err)
}

func TestSchedulerHookPanicContained(t *testing.T) {
	s := newScheduler(t, WithFailureHook(func(TaskInfo, error) { panic("hook") }))
	done := false
	s.Spawn("bad", TaskFunc(func() Outcome { return Failed(errors.New("x")) }))
	s.Spawn("after", TaskFunc(func() Outcome { done = true; return Completed() }))
	require.NoError(t, runIdle(t, s))
	assert.True(t, done)
}

func TestSchedulerInvalidOutcomeIsFatal(t *testing.T) {
	s := newScheduler(t)
	s.Spawn("zero", TaskFunc(func() Outcome { return Outcome{} }))
	err := runIdle(t, s)
	assert.ErrorIs(t, err, ErrInvalidOutcome)
}

func TestSchedulerUnknownSuspensionIsFatal(t *testing.T) {
	s := newScheduler(t)
	a, _ := socketPair(t)
	s.Spawn("weird", TaskFunc(func() Outcome {
		return Suspend(Suspension{Kind: WaitKind(9), FD: a})
	}))
	err := runIdle(t, s)
	assert.ErrorIs(t, err, ErrUnknownSuspension)
}

func TestSchedulerDuplicateRegistrationIsFatal(t *testing.T) {
	s := newScheduler(t)
	a, _ := socketPair(t)
	s.Spawn("first", TaskFunc(func() Outcome { return SuspendRead(a) }))
	s.Spawn("second", TaskFunc(func() Outcome { return SuspendWrite(a) }))
	err := runIdle(t, s)
	assert.ErrorIs(t, err, ErrDuplicateRegistration)
}

func TestSchedulerRegisterErrorFailsTaskOnly(t *testing.T) {
	var got []failure
	s := newScheduler(t, recordFailures(&got))
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	unix.Close(fds[0])
	unix.Close(fds[1])

	s.Spawn("closed", TaskFunc(func() Outcome { return SuspendRead(fds[0]) }))
	ok := false
	s.Spawn("other", TaskFunc(func() Outcome { ok = true; return Completed() }))
	require.NoError(t, runIdle(t, s))
	assert.True(t, ok)
	require.Len(t, got, 1)
	assert.Equal(t, "closed", got[0].info.Name)
}

type abortTask struct {
	fd      int
	resumed int
	aborted error
	panics  bool
}

func (a *abortTask) Resume() Outcome { a.resumed++; return SuspendRead(a.fd) }

func (a *abortTask) Abort(err error) {
	a.aborted = err
	if a.panics {
		panic("abort")
	}
}

func TestSchedulerRegisterErrorAbortsTask(t *testing.T) {
	var got []failure
	s := newScheduler(t, recordFailures(&got))
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	unix.Close(fds[0])
	unix.Close(fds[1])

	a := &abortTask{fd: fds[0]}
	b := &abortTask{fd: fds[1], panics: true}
	s.Spawn("a", a)
	s.Spawn("b", b)
	require.NoError(t, runIdle(t, s))

	assert.Equal(t, 1, a.resumed)
	assert.ErrorIs(t, a.aborted, unix.EBADF)
	assert.Error(t, b.aborted)
	require.Len(t, got, 2)
	assert.ErrorIs(t, got[0].err, a.aborted)
	assert.Equal(t, uint64(2), s.Stats().Failed)
}

func TestSchedulerResumesOnReadiness(t *testing.T) {
	s := newScheduler(t)
	a, b := socketPair(t)

	var got []byte
	op := Recv(a, make([]byte, 16))
	s.Spawn("reader", TaskFunc(func() Outcome {
		out, done, err := Await(op)
		if !done {
			return out
		}
		if err != nil {
			return Failed(err)
		}
		got = append(got, op.Bytes()...)
		return Completed()
	}))

	go func() {
		time.Sleep(20 * time.Millisecond)
		_, _ = unix.Write(b, []byte("ping"))
	}()
	require.NoError(t, runIdle(t, s))
	assert.Equal(t, "ping", string(got))
}

func TestSchedulerRunStopsOnCancel(t *testing.T) {
	s := newScheduler(t)
	a, _ := socketPair(t)
	s.Spawn("forever", TaskFunc(func() Outcome { return SuspendRead(a) }))

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- s.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case err := <-errc:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

// spinner 每次 Resume 都重新 spawn 自己，直到 n 次
func spinner(s *Scheduler, count *int, n int) Task {
	var self TaskFunc
	self = func() Outcome {
		*count++
		if *count < n {
			s.Spawn("spin", self)
		}
		return Completed()
	}
	return self
}

func TestSchedulerUnboundedDrainStarvesReactor(t *testing.T) {
	s := newScheduler(t)
	a, b := socketPair(t)
	_, err := unix.Write(b, []byte("x"))
	require.NoError(t, err)

	count, seen := 0, -1
	op := Recv(a, make([]byte, 4))
	s.Spawn("reader", TaskFunc(func() Outcome {
		if out, done, _ := Await(op); !done {
			return out
		}
		seen = count
		return Completed()
	}))
	s.Spawn("spin", spinner(s, &count, 100))
	require.NoError(t, runIdle(t, s))
	assert.Equal(t, 100, seen)
}

func TestSchedulerMaxDrainInterleavesPoll(t *testing.T) {
	s := newScheduler(t, WithMaxDrain(1))
	a, b := socketPair(t)
	_, err := unix.Write(b, []byte("x"))
	require.NoError(t, err)

	count, seen := 0, -1
	op := Recv(a, make([]byte, 4))
	s.Spawn("reader", TaskFunc(func() Outcome {
		if out, done, _ := Await(op); !done {
			return out
		}
		seen = count
		return Completed()
	}))
	s.Spawn("spin", spinner(s, &count, 100))
	require.NoError(t, runIdle(t, s))
	assert.GreaterOrEqual(t, seen, 0)
	assert.Less(t, seen, 100)
	assert.Equal(t, 100, count)
}

func TestSchedulerTraceEvents(t *testing.T) {
	ring := trace.NewRingTracer(64, trace.LevelIO)
	s := newScheduler(t, WithTracer(ring))
	a, b := socketPair(t)
	_, err := unix.Write(b, []byte("x"))
	require.NoError(t, err)

	op := Recv(a, make([]byte, 4))
	s.Spawn("reader", TaskFunc(func() Outcome {
		if out, done, _ := Await(op); !done {
			return out
		}
		return Completed()
	}))
	require.NoError(t, runIdle(t, s))

	var names []string
	for _, ev := range ring.Snapshot() {
		if ev.Kind == trace.KindPoint {
			names = append(names, ev.Name)
			assert.Equal(t, s.ID(), ev.Loop)
		}
	}
	assert.Equal(t, []string{"spawn", "register", "ready", "complete"}, names)
}

// flakyReactor 让前 fails 次 Poll 失败
type flakyReactor struct {
	reactor
	fails int
	calls int
}

func (f *flakyReactor) Poll(block bool) ([]poller.Ready[*task], error) {
	f.calls++
	if f.calls <= f.fails {
		return nil, unix.EIO
	}
	return f.reactor.Poll(block)
}

func TestSchedulerPollRetryRecovers(t *testing.T) {
	s := newScheduler(t, WithPollRetries(2))
	flaky := &flakyReactor{reactor: s.reactor, fails: 2}
	s.reactor = flaky

	a, b := socketPair(t)
	_, err := unix.Write(b, []byte("x"))
	require.NoError(t, err)
	op := Recv(a, make([]byte, 4))
	s.Spawn("reader", TaskFunc(func() Outcome {
		if out, done, _ := Await(op); !done {
			return out
		}
		return Completed()
	}))
	require.NoError(t, runIdle(t, s))
	assert.Equal(t, 3, flaky.calls)
}

func TestSchedulerPollErrorAfterRetries(t *testing.T) {
	s := newScheduler(t, WithPollRetries(2))
	s.reactor = &flakyReactor{reactor: s.reactor, fails: 10}

	a, _ := socketPair(t)
	s.Spawn("reader", TaskFunc(func() Outcome { return SuspendRead(a) }))
	err := runIdle(t, s)

	var perr *PollError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, 3, perr.Attempts)
	assert.ErrorIs(t, err, unix.EIO)
}
