//go:build linux || darwin

package server

import (
	"errors"
	"fmt"
	"net"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/legamerdc/cosched"
)

// acceptTask 循环接受连接，每个连接 spawn 一个回显任务。
// 暂时性错误由 AcceptOp 吸收；资源耗尽时丢弃一个连接后继续；
// 其余错误结束该任务并停止 Run。
type acceptTask struct {
	srv *Server
	op  *cosched.AcceptOp
}

func newAcceptTask(s *Server) cosched.Task {
	s.spare = openSpare()
	return &acceptTask{srv: s, op: cosched.Accept(s.lfd)}
}

func (t *acceptTask) Resume() cosched.Outcome {
	for {
		out, done, err := cosched.Await(t.op)
		if !done {
			return out
		}
		if err != nil {
			if exhausted(err) {
				t.shed(err)
				continue
			}
			err = fmt.Errorf("server: accept on %s: %w", t.srv.addr, err)
			t.srv.stop(err)
			return cosched.Failed(err)
		}
		t.srv.serve(t.op.FD, t.op.Peer)
	}
}

// Abort reactor 拒绝监听 socket 时调用
func (t *acceptTask) Abort(err error) {
	t.srv.stop(fmt.Errorf("server: accept on %s: %w", t.srv.addr, err))
}

// shed 借用预留 fd 接受并立即关闭一个待处理连接，
// 否则水平触发下监听 socket 会一直就绪。
func (t *acceptTask) shed(cause error) {
	s := t.srv
	s.log.Warn("accept: out of resources, dropping connection",
		zap.Stringer("addr", s.addr), zap.Error(cause))
	if s.spare < 0 {
		return
	}
	_ = closeFD(s.spare)
	if fd, _, err := unix.Accept(s.lfd); err == nil {
		_ = closeFD(fd)
	}
	s.spare = openSpare()
}

// exhausted 进程或系统资源不足，等连接释放后可恢复
func exhausted(err error) bool {
	return errors.Is(err, unix.EMFILE) || errors.Is(err, unix.ENFILE) ||
		errors.Is(err, unix.ENOBUFS) || errors.Is(err, unix.ENOMEM)
}

// openSpare 预留一个 fd 供资源耗尽时使用；失败返回 -1
func openSpare() int {
	fd, err := unix.Open("/dev/null", unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		return -1
	}
	return fd
}

func (s *Server) serve(fd int, peer net.Addr) {
	if err := tuneConn(fd, s.cfg); err != nil {
		s.log.Debug("tune connection", zap.Int("fd", fd), zap.Error(err))
	}
	s.nextConn++
	c := &Conn{ID: s.nextConn, FD: fd, Peer: peer}
	s.conns[fd] = c
	c.Task = s.sched.Spawn("echo "+c.String(), newEchoTask(s, c))
	s.notify("open", c, func() { s.h.OnOpen(c) })
}

// notify 调用 Handler；panic 只记录，不影响 accept 与回显任务
func (s *Server) notify(event string, c *Conn, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("handler panicked",
				zap.String("event", event),
				zap.Uint64("conn", c.ID),
				zap.Any("panic", r))
		}
	}()
	fn()
}
