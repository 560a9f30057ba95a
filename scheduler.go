package cosched

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/eapache/queue"
	"github.com/google/uuid"

	"github.com/legamerdc/cosched/internal/trace"
	"github.com/legamerdc/cosched/poller"
)

// DefaultPollRetries poll 失败时默认的重试次数
const DefaultPollRetries = 3

// reactor 为调度器所需的就绪多路复用能力，由 poller.Reactor 实现
type reactor interface {
	Register(fd poller.FD, kind poller.Kind, v *task) error
	Poll(block bool) ([]poller.Ready[*task], error)
	Len() int
	Wake() error
	Close() error
}

type task struct {
	TaskInfo
	body Task
}

// Stats 为调度器的计数快照
type Stats struct {
	Ready     int // 就绪队列长度
	Waiting   int // reactor 中的未决注册
	Spawned   uint64
	Completed uint64
	Failed    uint64
}

// Live 返回尚未结束的任务数
func (st Stats) Live() int { return st.Ready + st.Waiting }

// Scheduler 是单线程协作式调度器：
// 就绪队列非空时逐个 Resume（Draining），为空时阻塞在 reactor 上（Polling）。
//
// Spawn/Run/Stats 必须在同一个 goroutine 中调用；任务内部可以 Spawn。
type Scheduler struct {
	id          string
	reactor     reactor
	ready       *queue.Queue
	hook        FailureHook
	tracer      trace.Tracer
	maxDrain    int
	pollRetries int
	nextID      TaskID
	stats       Stats
}

// New 创建调度器及其 reactor
func New(opts ...Option) (*Scheduler, error) {
	r, err := poller.New[*task]()
	if err != nil {
		return nil, err
	}
	s := &Scheduler{
		id:          uuid.NewString(),
		reactor:     r,
		ready:       queue.New(),
		hook:        nopHook,
		tracer:      trace.Nop,
		pollRetries: DefaultPollRetries,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// ID 返回本调度器实例的标识，用于日志与追踪
func (s *Scheduler) ID() string { return s.id }

// Spawn 将任务追加到就绪队列末尾
func (s *Scheduler) Spawn(name string, t Task) TaskID {
	s.nextID++
	tk := &task{TaskInfo: TaskInfo{ID: s.nextID, Name: name}, body: t}
	s.ready.Add(tk)
	s.stats.Spawned++
	s.point(trace.ScopeTask, "spawn", tk, -1, name)
	return tk.ID
}

// Stats 返回当前计数
func (s *Scheduler) Stats() Stats {
	st := s.stats
	st.Ready = s.ready.Length()
	st.Waiting = s.reactor.Len()
	return st
}

// Run 永久运行事件循环，直到 ctx 取消（返回 ctx.Err()）或出现致命错误。
func (s *Scheduler) Run(ctx context.Context) error {
	return s.loop(ctx, false)
}

// RunUntilIdle 运行到就绪队列为空且 reactor 无注册为止，用于测试。
func (s *Scheduler) RunUntilIdle(ctx context.Context) error {
	return s.loop(ctx, true)
}

// Close 释放 reactor；等待中的任务被丢弃
func (s *Scheduler) Close() error {
	for s.ready.Length() > 0 {
		s.ready.Remove()
	}
	return s.reactor.Close()
}

func (s *Scheduler) loop(ctx context.Context, untilIdle bool) error {
	stop := context.AfterFunc(ctx, func() { _ = s.reactor.Wake() })
	defer stop()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.drain(); err != nil {
			return err
		}
		pending := s.ready.Length() > 0
		if s.reactor.Len() == 0 {
			if pending {
				continue
			}
			if untilIdle {
				return nil
			}
		}
		// 仍有就绪任务说明 drain 被截断，只做非阻塞检查
		if err := s.poll(!pending); err != nil {
			return err
		}
	}
}

func (s *Scheduler) drain() error {
	span := trace.Begin(s.tracer, trace.ScopeLoop, s.id, "drain")
	n := 0
	for s.ready.Length() > 0 {
		if s.maxDrain > 0 && n >= s.maxDrain {
			break
		}
		t := s.ready.Remove().(*task)
		n++
		if err := s.step(t); err != nil {
			span.End(err.Error())
			return err
		}
	}
	span.WithExtra("resumed", strconv.Itoa(n)).End("")
	return nil
}

func (s *Scheduler) step(t *task) error {
	out := s.resume(t)
	switch out.Kind {
	case OutcomeSuspended:
		kind, ok := out.Wait.Kind.pollKind()
		if !ok {
			return fmt.Errorf("cosched: task %d (%s): %w: %s", t.ID, t.Name, ErrUnknownSuspension, out.Wait.Kind)
		}
		if err := s.reactor.Register(out.Wait.FD, kind, t); err != nil {
			if errors.Is(err, ErrDuplicateRegistration) {
				return fmt.Errorf("cosched: task %d (%s): %w", t.ID, t.Name, err)
			}
			// fd 本身不可等待（已关闭、普通文件等），只影响该任务
			s.fail(t, err)
			s.abort(t, err)
			return nil
		}
		s.point(trace.ScopeIO, "register", t, out.Wait.FD, kind.String())
	case OutcomeCompleted:
		s.stats.Completed++
		s.point(trace.ScopeTask, "complete", t, -1, "")
	case OutcomeFailed:
		s.fail(t, out.Err)
	default:
		return fmt.Errorf("cosched: task %d (%s): %w: %s", t.ID, t.Name, ErrInvalidOutcome, out.Kind)
	}
	return nil
}

func (s *Scheduler) resume(t *task) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			out = Failed(fmt.Errorf("%w: %v", ErrTaskPanic, r))
		}
	}()
	return t.body.Resume()
}

func (s *Scheduler) fail(t *task, err error) {
	if err == nil {
		err = errUnspecified
	}
	s.stats.Failed++
	s.point(trace.ScopeTask, "fail", t, -1, err.Error())
	func() {
		defer func() { _ = recover() }()
		s.hook(t.TaskInfo, err)
	}()
}

// abort 通知任务它已被丢弃；panic 按钩子同样处理
func (s *Scheduler) abort(t *task, err error) {
	a, ok := t.body.(Aborter)
	if !ok {
		return
	}
	defer func() { _ = recover() }()
	a.Abort(err)
}

func (s *Scheduler) poll(block bool) error {
	span := trace.Begin(s.tracer, trace.ScopeLoop, s.id, "poll")
	var (
		ready []poller.Ready[*task]
		err   error
	)
	for attempt := 1; ; attempt++ {
		ready, err = s.reactor.Poll(block)
		if err == nil {
			break
		}
		if attempt > s.pollRetries {
			perr := &PollError{Attempts: attempt, Err: err}
			span.End(perr.Error())
			return perr
		}
	}
	for _, r := range ready {
		s.point(trace.ScopeIO, "ready", r.Value, r.FD, r.Kind.String())
		s.ready.Add(r.Value)
	}
	span.WithExtra("ready", strconv.Itoa(len(ready))).End("")
	return nil
}

func (s *Scheduler) point(scope trace.Scope, name string, t *task, fd int, detail string) {
	if !s.tracer.Enabled() || !s.tracer.Level().ShouldEmit(scope) {
		return
	}
	s.tracer.Emit(&trace.Event{
		Time:   time.Now(),
		Kind:   trace.KindPoint,
		Scope:  scope,
		Loop:   s.id,
		Task:   uint64(t.ID),
		FD:     fd,
		Name:   name,
		Detail: detail,
	})
}
