//go:build linux || darwin

package cosched

import (
	"errors"
	"net"

	"golang.org/x/sys/unix"

	"github.com/legamerdc/cosched/internal/netutil"
)

// Op 是可组合的子任务：任务在 Resume 中调用 Poll，
// 未完成时把返回的 Suspension 原样交给调度器。
//
// 首次 Poll 总是先挂起等待就绪，不做任何系统调用；
// 完成（done=true）后自动复位，可再次使用。
type Op interface {
	Poll() (wait Suspension, done bool, err error)
}

// Await 驱动 op 一步：未完成时返回挂起结果，done 为 false
func Await(op Op) (out Outcome, done bool, err error) {
	wait, done, err := op.Poll()
	if !done {
		return Suspend(wait), false, nil
	}
	return Outcome{}, true, err
}

// wouldBlock 表示就绪通知是虚假的，应重新挂起
func wouldBlock(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) || errors.Is(err, unix.EINTR)
}

// AcceptOp 在监听 socket 上接受一个连接
type AcceptOp struct {
	lfd   int
	armed bool

	FD   int      // 新连接，非阻塞、close-on-exec
	Peer net.Addr // 对端地址，未知时为 nil
}

// Accept 创建 accept 子任务；lfd 必须是非阻塞监听 socket
func Accept(lfd int) *AcceptOp { return &AcceptOp{lfd: lfd, FD: -1} }

// Reset 放弃进行中的等待
func (op *AcceptOp) Reset() {
	op.armed = false
	op.FD = -1
	op.Peer = nil
}

func (op *AcceptOp) Poll() (Suspension, bool, error) {
	if !op.armed {
		op.armed = true
		return OnRead(op.lfd), false, nil
	}
	fd, sa, err := acceptNonblock(op.lfd)
	if err != nil {
		// 对端在 accept 前已经放弃，继续等下一个
		if wouldBlock(err) || errors.Is(err, unix.ECONNABORTED) || errors.Is(err, unix.EPROTO) {
			return OnRead(op.lfd), false, nil
		}
		op.armed = false
		return Suspension{}, true, err
	}
	op.armed = false
	op.FD = fd
	op.Peer = netutil.SockaddrToAddr(sa)
	return Suspension{}, true, nil
}

// RecvOp 从 fd 读取一次，最多 len(buf) 字节
type RecvOp struct {
	fd    int
	buf   []byte
	armed bool

	N int // 本次读取的字节数；0 表示对端关闭
}

// Recv 创建 recv 子任务
func Recv(fd int, buf []byte) *RecvOp { return &RecvOp{fd: fd, buf: buf} }

// Reset 放弃进行中的等待，下次 Poll 重新挂起
func (op *RecvOp) Reset() {
	op.armed = false
	op.N = 0
}

// EOF 对端已关闭写方向
func (op *RecvOp) EOF() bool { return op.N == 0 }

// Bytes 返回本次读取的数据，直到下次 Poll 前有效
func (op *RecvOp) Bytes() []byte { return op.buf[:op.N] }

func (op *RecvOp) Poll() (Suspension, bool, error) {
	if !op.armed {
		op.armed = true
		op.N = 0
		return OnRead(op.fd), false, nil
	}
	n, err := unix.Read(op.fd, op.buf)
	if err != nil {
		if wouldBlock(err) {
			return OnRead(op.fd), false, nil
		}
		op.armed = false
		return Suspension{}, true, err
	}
	op.armed = false
	op.N = n
	return Suspension{}, true, nil
}

// SendAllOp 写出整个缓冲区；短写时继续等待可写
type SendAllOp struct {
	fd    int
	p     []byte
	off   int
	armed bool
}

// SendAll 创建 send-all 子任务；p 在完成前不得修改
func SendAll(fd int, p []byte) *SendAllOp { return &SendAllOp{fd: fd, p: p} }

// Sent 返回已写出的字节数
func (op *SendAllOp) Sent() int { return op.off }

// Reset 以新的数据复用该子任务
func (op *SendAllOp) Reset(p []byte) {
	op.p = p
	op.off = 0
	op.armed = false
}

func (op *SendAllOp) Poll() (Suspension, bool, error) {
	if op.off >= len(op.p) {
		op.armed = false
		return Suspension{}, true, nil
	}
	if !op.armed {
		op.armed = true
		return OnWrite(op.fd), false, nil
	}
	n, err := unix.Write(op.fd, op.p[op.off:])
	if n > 0 {
		op.off += n
	}
	if err != nil {
		if wouldBlock(err) {
			return OnWrite(op.fd), false, nil
		}
		op.armed = false
		return Suspension{}, true, err
	}
	if op.off < len(op.p) {
		return OnWrite(op.fd), false, nil
	}
	op.armed = false
	return Suspension{}, true, nil
}
