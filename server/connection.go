//go:build linux || darwin

package server

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/legamerdc/cosched"
)

// echoTask 读到什么就原样写回，直到对端关闭
type echoTask struct {
	srv     *Server
	conn    *Conn
	buf     *[]byte
	recv    *cosched.RecvOp
	send    *cosched.SendAllOp
	sending bool
}

func newEchoTask(s *Server, c *Conn) *echoTask {
	buf := s.bufs.get()
	return &echoTask{
		srv:  s,
		conn: c,
		buf:  buf,
		recv: cosched.Recv(c.FD, *buf),
		send: cosched.SendAll(c.FD, nil),
	}
}

func (t *echoTask) Resume() cosched.Outcome {
	for {
		if t.sending {
			out, done, err := cosched.Await(t.send)
			if !done {
				return out
			}
			if err != nil {
				return t.finish(err)
			}
			t.sending = false
		}

		out, done, err := cosched.Await(t.recv)
		if !done {
			return out
		}
		if err != nil {
			return t.finish(err)
		}
		if t.recv.EOF() {
			return t.finish(nil)
		}
		// recv 缓冲在发送完成前不会被复用
		t.send.Reset(t.recv.Bytes())
		t.sending = true
	}
}

// finish 关闭 fd（恰好一次）并通知 Handler
func (t *echoTask) finish(err error) cosched.Outcome {
	t.srv.release(t.conn)
	t.srv.bufs.put(t.buf)
	t.buf = nil
	t.srv.notify("close", t.conn, func() { t.srv.h.OnClose(t.conn, err) })
	if err == nil || isDisconnect(err) {
		return cosched.Completed()
	}
	return cosched.Failed(fmt.Errorf("server: conn %d: %w", t.conn.ID, err))
}

// Abort reactor 拒绝该连接 fd 时调用，释放连接
func (t *echoTask) Abort(err error) {
	if t.buf != nil {
		t.finish(err)
	}
}

// isDisconnect 对端复位或已关闭读方向，视为正常断开
func isDisconnect(err error) bool {
	return errors.Is(err, unix.ECONNRESET) || errors.Is(err, unix.EPIPE)
}
