//go:build linux || darwin

package server

import (
	"net"
	"net/netip"

	"golang.org/x/sys/unix"

	"github.com/legamerdc/cosched/internal/netutil"
)

// openListener 创建非阻塞监听 socket；SO_REUSEADDR 必须在 bind 之前设置。
// 返回 fd 与实际绑定的地址（Port 为 0 时由内核分配）。
func openListener(cfg Config) (int, net.Addr, error) {
	ip, err := netip.ParseAddr(cfg.Host)
	if err != nil {
		return -1, nil, err
	}
	sa, fam := netutil.AddrToSockaddr(netip.AddrPortFrom(ip, uint16(cfg.Port)))

	fd, err := unix.Socket(fam, unix.SOCK_STREAM, 0)
	if err != nil {
		return -1, nil, err
	}
	unix.CloseOnExec(fd)
	fail := func(err error) (int, net.Addr, error) {
		unix.Close(fd)
		return -1, nil, err
	}
	if err := netutil.SetReuseAddr(fd, true); err != nil {
		return fail(err)
	}
	if cfg.ReusePort {
		if err := netutil.SetReusePort(fd, true); err != nil {
			return fail(err)
		}
	}
	if err := netutil.SetNonblock(fd, true); err != nil {
		return fail(err)
	}
	if err := unix.Bind(fd, sa); err != nil {
		return fail(err)
	}
	if err := unix.Listen(fd, cfg.Backlog); err != nil {
		return fail(err)
	}
	bound, err := unix.Getsockname(fd)
	if err != nil {
		return fail(err)
	}
	return fd, netutil.SockaddrToAddr(bound), nil
}

func closeFD(fd int) error { return unix.Close(fd) }

// tuneConn 按配置设置已接受连接的 socket 选项
func tuneConn(fd int, cfg Config) error {
	if cfg.NoDelay {
		if err := netutil.SetNoDelay(fd, true); err != nil {
			return err
		}
	}
	if cfg.SendBuffer > 0 {
		if err := netutil.SetSendBuf(fd, cfg.SendBuffer); err != nil {
			return err
		}
	}
	if cfg.RecvBuffer > 0 {
		if err := netutil.SetRecvBuf(fd, cfg.RecvBuffer); err != nil {
			return err
		}
	}
	return nil
}
