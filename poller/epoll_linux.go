//go:build linux

package poller

import (
	"fortio.org/safecast"
	"golang.org/x/sys/unix"
)

type epollBackend struct {
	efd    int
	wfd    int // eventfd for wakeup
	events []unix.EpollEvent
}

func newBackend() (backend, error) {
	efd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	wfd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(efd)
		return nil, err
	}
	wfd32, err := safecast.Conv[int32](wfd)
	if err != nil {
		unix.Close(wfd)
		unix.Close(efd)
		return nil, err
	}
	// 注册 wakeup fd
	ev := &unix.EpollEvent{Events: unix.EPOLLIN | unix.EPOLLET, Fd: wfd32}
	if err := unix.EpollCtl(efd, unix.EPOLL_CTL_ADD, wfd, ev); err != nil {
		unix.Close(wfd)
		unix.Close(efd)
		return nil, err
	}
	return &epollBackend{efd: efd, wfd: wfd, events: make([]unix.EpollEvent, 1024)}, nil
}

// 水平触发：注册在就绪后立即删除，不需要 EPOLLET/ONESHOT
func epollMask(kind Kind) uint32 {
	if kind == Write {
		return unix.EPOLLOUT
	}
	return unix.EPOLLIN | unix.EPOLLRDHUP
}

func (p *epollBackend) add(fd FD, kind Kind) error {
	fd32, err := safecast.Conv[int32](fd)
	if err != nil {
		return err
	}
	ev := &unix.EpollEvent{Events: epollMask(kind), Fd: fd32}
	return unix.EpollCtl(p.efd, unix.EPOLL_CTL_ADD, fd, ev)
}

func (p *epollBackend) del(fd FD, _ Kind) error {
	return unix.EpollCtl(p.efd, unix.EPOLL_CTL_DEL, fd, nil)
}

func (p *epollBackend) wake() error {
	var buf [8]byte
	buf[0] = 1
	_, err := unix.Write(p.wfd, buf[:])
	if err == unix.EAGAIN {
		return nil
	}
	return err
}

func (p *epollBackend) close() error {
	unix.Close(p.wfd)
	return unix.Close(p.efd)
}

func (p *epollBackend) wait(dst []FD, block bool) (int, error) {
	timeout := 0
	if block {
		timeout = -1
	}
	events := p.events
	if len(dst) < len(events) {
		events = events[:len(dst)]
	}
	var (
		n   int
		err error
	)
	for {
		n, err = unix.EpollWait(p.efd, events, timeout)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return 0, err
		}
		break
	}
	k := 0
	for i := 0; i < n; i++ {
		fd := int(events[i].Fd)
		if fd == p.wfd {
			// 清空 eventfd
			var efdBuf [8]byte
			for {
				_, rerr := unix.Read(p.wfd, efdBuf[:])
				if rerr == unix.EAGAIN {
					break
				}
				if rerr != nil {
					return 0, rerr
				}
			}
			continue
		}
		dst[k] = fd
		k++
	}
	return k, nil
}
