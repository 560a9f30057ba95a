package cosched

import "github.com/legamerdc/cosched/internal/trace"

// Option 配置 Scheduler
type Option func(s *Scheduler)

// WithFailureHook 设置任务失败的观测钩子
func WithFailureHook(h FailureHook) Option {
	return func(s *Scheduler) {
		if h != nil {
			s.hook = h
		}
	}
}

// WithTracer 设置调度追踪
func WithTracer(t trace.Tracer) Option {
	return func(s *Scheduler) {
		if t != nil {
			s.tracer = t
		}
	}
}

// WithMaxDrain 限制每轮连续 Resume 的次数；达到上限且仍有就绪任务时，
// 先做一次非阻塞 poll 再继续。0 表示不限（持续 spawn 可能饿死 reactor）。
func WithMaxDrain(n int) Option {
	return func(s *Scheduler) {
		if n >= 0 {
			s.maxDrain = n
		}
	}
}

// WithPollRetries 设置 poll 失败后的重试次数，超过则返回 *PollError
func WithPollRetries(n int) Option {
	return func(s *Scheduler) {
		if n >= 0 {
			s.pollRetries = n
		}
	}
}
