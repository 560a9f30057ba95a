//go:build darwin

package poller

import (
	"fortio.org/safecast"
	"golang.org/x/sys/unix"
)

type kqueueBackend struct {
	kq     int
	wfd    int // 写端，用于唤醒
	rfd    int // 读端，注册到 kqueue
	events []unix.Kevent_t
}

func newBackend() (backend, error) {
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, err
	}
	// 使用管道作为唤醒
	var p [2]int
	if err := unix.Pipe(p[:]); err != nil {
		unix.Close(kq)
		return nil, err
	}
	rfd, wfd := p[0], p[1]
	_ = unix.SetNonblock(rfd, true)
	_ = unix.SetNonblock(wfd, true)
	unix.CloseOnExec(kq)
	unix.CloseOnExec(rfd)
	unix.CloseOnExec(wfd)
	kev := unix.Kevent_t{
		Ident:  uint64(rfd),
		Filter: unix.EVFILT_READ,
		Flags:  unix.EV_ADD | unix.EV_CLEAR,
	}
	if _, err := unix.Kevent(kq, []unix.Kevent_t{kev}, nil, nil); err != nil {
		unix.Close(rfd)
		unix.Close(wfd)
		unix.Close(kq)
		return nil, err
	}
	return &kqueueBackend{kq: kq, wfd: wfd, rfd: rfd, events: make([]unix.Kevent_t, 1024)}, nil
}

func kqueueFilter(kind Kind) int16 {
	if kind == Write {
		return unix.EVFILT_WRITE
	}
	return unix.EVFILT_READ
}

func (p *kqueueBackend) change(fd FD, kind Kind, flags uint16) error {
	ident, err := safecast.Conv[uint64](fd)
	if err != nil {
		return err
	}
	kev := unix.Kevent_t{Ident: ident, Filter: kqueueFilter(kind), Flags: flags}
	_, err = unix.Kevent(p.kq, []unix.Kevent_t{kev}, nil, nil)
	return err
}

func (p *kqueueBackend) add(fd FD, kind Kind) error {
	return p.change(fd, kind, unix.EV_ADD)
}

func (p *kqueueBackend) del(fd FD, kind Kind) error {
	return p.change(fd, kind, unix.EV_DELETE)
}

func (p *kqueueBackend) wake() error {
	var b [1]byte
	b[0] = 1
	_, err := unix.Write(p.wfd, b[:])
	if err == unix.EAGAIN {
		return nil
	}
	return err
}

func (p *kqueueBackend) close() error {
	unix.Close(p.rfd)
	unix.Close(p.wfd)
	return unix.Close(p.kq)
}

func (p *kqueueBackend) wait(dst []FD, block bool) (int, error) {
	var timeout *unix.Timespec
	if !block {
		timeout = &unix.Timespec{}
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
		n, err = unix.Kevent(p.kq, nil, events, timeout)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return 0, err
		}
		break
	}
	k := 0
	buf := make([]byte, 16)
	for i := 0; i < n; i++ {
		fd, err := safecast.Conv[int](events[i].Ident)
		if err != nil {
			continue
		}
		if fd == p.rfd {
			for {
				_, rerr := unix.Read(p.rfd, buf)
				if rerr == unix.EAGAIN {
					break
				}
				if rerr != nil {
					return 0, rerr
				}
			}
			continue
		}
		// EV_EOF/EV_ERROR 也按就绪交还，由读写暴露错误
		dst[k] = fd
		k++
	}
	return k, nil
}
