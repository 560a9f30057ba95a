package server

import (
	"context"
	"errors"
	"net"

	"go.uber.org/zap"

	"github.com/legamerdc/cosched"
	"github.com/legamerdc/cosched/internal/trace"
)

// Server 是运行在单个调度器上的回显服务器。
//
// 所有连接都由同一个 goroutine（调用 Run 的那个）驱动；
// Close 必须在 Run 返回之后调用。
type Server struct {
	cfg    Config
	log    *zap.Logger
	h      Handler
	extra  []Handler
	tracer trace.Tracer

	lfd   int
	spare int // 预留 fd，accept 遇到 EMFILE 时使用
	addr  net.Addr
	sched *cosched.Scheduler
	stop  context.CancelCauseFunc

	bufs     *bufPool
	nextConn uint64
	conns    map[int]*Conn // fd -> conn
	closed   bool
}

type Option func(s *Server)

// WithLogger 设置日志；默认 zap.NewNop()
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// WithHandler 追加连接生命周期回调，可多次使用
func WithHandler(h Handler) Option {
	return func(s *Server) {
		if h != nil {
			s.extra = append(s.extra, h)
		}
	}
}

// WithTracer 设置调度器追踪
func WithTracer(t trace.Tracer) Option {
	return func(s *Server) { s.tracer = t }
}

// New 校验配置、打开监听 socket、创建调度器并 spawn accept 任务
func New(cfg Config, opts ...Option) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Server{
		cfg:    cfg,
		log:    zap.NewNop(),
		tracer: trace.Nop,
		lfd:    -1,
		spare:  -1,
		stop:   func(error) {},
		bufs:   newBufPool(cfg.RecvSize),
		conns:  make(map[int]*Conn),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.h = multiHandler(append([]Handler{LogHandler(s.log)}, s.extra...))

	lfd, addr, err := openListener(cfg)
	if err != nil {
		return nil, err
	}
	s.lfd, s.addr = lfd, addr

	s.sched, err = cosched.New(
		cosched.WithFailureHook(LogFailures(s.log)),
		cosched.WithTracer(s.tracer),
		cosched.WithMaxDrain(cfg.MaxDrain),
		cosched.WithPollRetries(cfg.PollRetries),
	)
	if err != nil {
		_ = closeFD(lfd)
		return nil, err
	}
	s.sched.Spawn("accept "+addr.String(), newAcceptTask(s))
	return s, nil
}

// Addr 返回实际监听地址
func (s *Server) Addr() net.Addr { return s.addr }

// Scheduler 返回底层调度器，可在 Run 之前 spawn 额外任务
func (s *Server) Scheduler() *cosched.Scheduler { return s.sched }

// Conns 返回当前连接数
func (s *Server) Conns() int { return len(s.conns) }

// Run 运行事件循环直到 ctx 取消或出现致命错误。
// accept 任务无法继续时返回其错误，而不是只服务已有连接。
func (s *Server) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	s.stop = cancel
	defer func() { s.stop = func(error) {} }()

	s.log.Info("listening",
		zap.Stringer("addr", s.addr),
		zap.String("loop", s.sched.ID()),
		zap.Int("recv_size", s.cfg.RecvSize),
		zap.Int("max_drain", s.cfg.MaxDrain))
	err := s.sched.Run(ctx)
	if err != nil && ctx.Err() != nil {
		err = context.Cause(ctx)
	}
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		s.log.Error("event loop stopped", zap.String("loop", s.sched.ID()), zap.Error(err))
	}
	return err
}

// Close 关闭监听 socket、所有存活连接与 reactor
func (s *Server) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	for _, c := range s.conns {
		s.release(c)
	}
	if s.spare >= 0 {
		_ = closeFD(s.spare)
		s.spare = -1
	}
	err := closeFD(s.lfd)
	if cerr := s.sched.Close(); err == nil {
		err = cerr
	}
	return err
}

// release 关闭连接 fd；重复调用无效果
func (s *Server) release(c *Conn) {
	if s.conns[c.FD] != c {
		return
	}
	delete(s.conns, c.FD)
	if err := closeFD(c.FD); err != nil {
		s.log.Debug("close connection", zap.Uint64("conn", c.ID), zap.Error(err))
	}
}

// LogFailures 返回把任务失败写入日志的钩子
func LogFailures(l *zap.Logger) cosched.FailureHook {
	return func(info cosched.TaskInfo, err error) {
		l.Warn("task failed",
			zap.Uint64("task", uint64(info.ID)),
			zap.String("name", info.Name),
			zap.Error(err))
	}
}
