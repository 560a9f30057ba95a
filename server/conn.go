package server

import (
	"net"
	"strconv"

	"go.uber.org/zap"

	"github.com/legamerdc/cosched"
)

// Conn 表示一条已接受的连接
type Conn struct {
	ID   uint64 // 服务器内单调递增
	FD   int
	Peer net.Addr
	Task cosched.TaskID // 负责回显的任务
}

func (c *Conn) String() string {
	if c.Peer == nil {
		return "conn#" + strconv.FormatUint(c.ID, 10)
	}
	return c.Peer.String()
}

// Handler 观察连接生命周期。在调度线程中同步调用，不得阻塞。
type Handler interface {
	OnOpen(c *Conn)
	// OnClose 在 fd 关闭后调用；err 为 nil 表示对端正常断开
	OnClose(c *Conn, err error)
}

// NopHandler 忽略所有事件
type NopHandler struct{}

func (NopHandler) OnOpen(*Conn)         {}
func (NopHandler) OnClose(*Conn, error) {}

type logHandler struct{ log *zap.Logger }

// LogHandler 记录连接建立与断开
func LogHandler(l *zap.Logger) Handler {
	if l == nil {
		l = zap.NewNop()
	}
	return logHandler{log: l}
}

func (h logHandler) OnOpen(c *Conn) {
	h.log.Info("connection from", zap.Uint64("conn", c.ID), zap.Stringer("peer", addrStringer{c.Peer}), zap.Int("fd", c.FD))
}

func (h logHandler) OnClose(c *Conn, err error) {
	if err != nil {
		h.log.Warn("client disconnected", zap.Uint64("conn", c.ID), zap.Stringer("peer", addrStringer{c.Peer}), zap.Error(err))
		return
	}
	h.log.Info("client disconnected", zap.Uint64("conn", c.ID), zap.Stringer("peer", addrStringer{c.Peer}))
}

// multiHandler 依次通知多个 Handler
type multiHandler []Handler

func (m multiHandler) OnOpen(c *Conn) {
	for _, h := range m {
		h.OnOpen(c)
	}
}

func (m multiHandler) OnClose(c *Conn, err error) {
	for _, h := range m {
		h.OnClose(c, err)
	}
}

type addrStringer struct{ a net.Addr }

func (s addrStringer) String() string {
	if s.a == nil {
		return "unknown"
	}
	return s.a.String()
}
