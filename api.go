package cosched

import (
	"errors"
	"fmt"

	"github.com/legamerdc/cosched/poller"
)

// Task 是一个可挂起的执行单元。
// Resume 同步运行到下一个挂起点，返回挂起请求或结束结果；
// 结束（Completed/Failed）之后调度器不会再调用 Resume。
type Task interface {
	Resume() Outcome
}

// Aborter 由持有资源的任务实现。
// 调度器在任务未经自身返回就被判失败时（例如 reactor 拒绝注册）调用 Abort，
// 之后不会再 Resume 该任务。
type Aborter interface {
	Abort(err error)
}

// TaskFunc 将普通函数适配为 Task
type TaskFunc func() Outcome

func (f TaskFunc) Resume() Outcome { return f() }

// WaitKind 为挂起请求等待的就绪类型
type WaitKind uint8

const (
	WaitRead WaitKind = iota + 1
	WaitWrite
)

func (k WaitKind) String() string {
	switch k {
	case WaitRead:
		return "wait_read"
	case WaitWrite:
		return "wait_write"
	default:
		return fmt.Sprintf("wait(%d)", uint8(k))
	}
}

// pollKind 映射到 reactor 的就绪类型；未知类型返回 false
func (k WaitKind) pollKind() (poller.Kind, bool) {
	switch k {
	case WaitRead:
		return poller.Read, true
	case WaitWrite:
		return poller.Write, true
	default:
		return 0, false
	}
}

// Suspension 描述任务在继续之前需要的就绪条件
type Suspension struct {
	Kind WaitKind
	FD   int
}

// OnRead 等待 fd 可读
func OnRead(fd int) Suspension { return Suspension{Kind: WaitRead, FD: fd} }

// OnWrite 等待 fd 可写
func OnWrite(fd int) Suspension { return Suspension{Kind: WaitWrite, FD: fd} }

func (s Suspension) String() string { return fmt.Sprintf("%s(fd=%d)", s.Kind, s.FD) }

// OutcomeKind 为一次 Resume 的结果类型。零值非法。
type OutcomeKind uint8

const (
	OutcomeSuspended OutcomeKind = iota + 1
	OutcomeCompleted
	OutcomeFailed
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuspended:
		return "suspended"
	case OutcomeCompleted:
		return "completed"
	case OutcomeFailed:
		return "failed"
	default:
		return fmt.Sprintf("outcome(%d)", uint8(k))
	}
}

// Outcome 为 Resume 的返回值
type Outcome struct {
	Kind OutcomeKind
	Wait Suspension // Kind == OutcomeSuspended
	Err  error      // Kind == OutcomeFailed
}

var errUnspecified = errors.New("cosched: task failed without error")

// Suspend 挂起直到 s 就绪
func Suspend(s Suspension) Outcome { return Outcome{Kind: OutcomeSuspended, Wait: s} }

// SuspendRead 等价于 Suspend(OnRead(fd))
func SuspendRead(fd int) Outcome { return Suspend(OnRead(fd)) }

// SuspendWrite 等价于 Suspend(OnWrite(fd))
func SuspendWrite(fd int) Outcome { return Suspend(OnWrite(fd)) }

// Completed 任务正常结束
func Completed() Outcome { return Outcome{Kind: OutcomeCompleted} }

// Failed 任务以错误结束；错误交给失败钩子，不影响其他任务
func Failed(err error) Outcome {
	if err == nil {
		err = errUnspecified
	}
	return Outcome{Kind: OutcomeFailed, Err: err}
}
