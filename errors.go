package cosched

import (
	"errors"
	"fmt"

	"github.com/legamerdc/cosched/poller"
)

var (
	// ErrDuplicateRegistration 同一 socket 已有未决等待；调度器与任务失步，致命
	ErrDuplicateRegistration = poller.ErrDuplicateRegistration

	// ErrUnknownSuspension 任务给出了无法识别的挂起类型，致命
	ErrUnknownSuspension = errors.New("cosched: unknown suspension kind")

	// ErrInvalidOutcome 任务返回了非法的结果类型，致命
	ErrInvalidOutcome = errors.New("cosched: invalid task outcome")

	// ErrTaskPanic 任务在 Resume 中 panic，按失败处理
	ErrTaskPanic = errors.New("cosched: task panicked")

	// ErrPlatformNotSupported 非 Linux/Darwin 平台（需要 epoll 或 kqueue）
	ErrPlatformNotSupported = poller.ErrPlatformNotSupported

	// ErrInvalidArgument 参数非法
	ErrInvalidArgument = errors.New("cosched: invalid argument")
)

// PollError 就绪轮询在有限次重试后仍失败，致命
type PollError struct {
	Attempts int
	Err      error
}

func (e *PollError) Error() string {
	return fmt.Sprintf("cosched: poll failed after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *PollError) Unwrap() error { return e.Err }
