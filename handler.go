package cosched

// TaskID 在调度器内单调递增，从 1 开始
type TaskID uint64

// TaskInfo 为任务的身份：仅用于失败报告与追踪
type TaskInfo struct {
	ID   TaskID
	Name string
}

// FailureHook 接收失败任务及其错误。
// 在调度线程中同步调用，必须快速返回；panic 会被吞掉。
type FailureHook func(info TaskInfo, err error)

func nopHook(TaskInfo, error) {}
