package poller

import (
	"errors"
	"fmt"
)

// FD 表示文件描述符。
type FD = int

// Kind 是等待的就绪类型。
type Kind uint8

const (
	// Read 等待可读（对监听 fd 即有连接可 accept）
	Read Kind = iota + 1
	// Write 等待可写
	Write
)

func (k Kind) String() string {
	switch k {
	case Read:
		return "read"
	case Write:
		return "write"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

var (
	// ErrDuplicateRegistration 同一 fd 已有未决注册（任意类型）
	ErrDuplicateRegistration = errors.New("poller: duplicate registration")

	// ErrInvalidKind 就绪类型非法
	ErrInvalidKind = errors.New("poller: invalid readiness kind")

	// ErrPlatformNotSupported 当前平台没有可用的多路复用后端
	ErrPlatformNotSupported = errors.New("poller: platform not supported (requires epoll or kqueue)")
)

// backend 为平台相关的多路复用原语。
// wait 将就绪 fd 写入 dst 并返回个数；唤醒事件由后端自行消化。
type backend interface {
	add(fd FD, kind Kind) error
	del(fd FD, kind Kind) error
	wait(dst []FD, block bool) (int, error)
	wake() error
	close() error
}

type registration[T any] struct {
	kind  Kind
	value T
}

// Ready 是一次 Poll 返回的就绪项，对应的注册已被移除。
type Ready[T any] struct {
	FD    FD
	Kind  Kind
	Value T
}

// Reactor 维护 fd -> (kind, value) 的注册表，并在就绪时交还 value。
// 每个 fd 同一时刻至多一个注册；注册是一次性的，就绪即注销。
//
// 除 Wake 外的方法都必须在同一个 goroutine 中调用。
type Reactor[T any] struct {
	be   backend
	regs map[FD]registration[T]
	fds  []FD
}

// New 创建当前平台的 Reactor（Linux: epoll，Darwin: kqueue）。
func New[T any]() (*Reactor[T], error) {
	be, err := newBackend()
	if err != nil {
		return nil, err
	}
	return &Reactor[T]{
		be:   be,
		regs: make(map[FD]registration[T]),
		fds:  make([]FD, 1024),
	}, nil
}

// Register 登记对 fd 的一次就绪兴趣。
func (r *Reactor[T]) Register(fd FD, kind Kind, v T) error {
	if kind != Read && kind != Write {
		return fmt.Errorf("%w: %s", ErrInvalidKind, kind)
	}
	if prev, ok := r.regs[fd]; ok {
		return fmt.Errorf("%w: fd=%d pending=%s requested=%s", ErrDuplicateRegistration, fd, prev.kind, kind)
	}
	if err := r.be.add(fd, kind); err != nil {
		return fmt.Errorf("poller: register fd=%d %s: %w", fd, kind, err)
	}
	r.regs[fd] = registration[T]{kind: kind, value: v}
	return nil
}

// Poll 等待就绪并返回对应的注册值。
// block 为 true 时阻塞直到至少一个 fd 就绪或被 Wake 唤醒（此时可能返回空）；
// 为 false 时只检查当前状态。
// 错误/挂断同样按注册的类型报告为就绪，由后续读写去暴露错误。
func (r *Reactor[T]) Poll(block bool) ([]Ready[T], error) {
	n, err := r.be.wait(r.fds, block)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	out := make([]Ready[T], 0, n)
	for _, fd := range r.fds[:n] {
		reg, ok := r.regs[fd]
		if !ok {
			continue
		}
		delete(r.regs, fd)
		// fd 可能已被关闭并自动移出，删除失败不影响交还
		_ = r.be.del(fd, reg.kind)
		out = append(out, Ready[T]{FD: fd, Kind: reg.kind, Value: reg.value})
	}
	return out, nil
}

// Pending 报告 fd 是否有未决注册及其类型。
func (r *Reactor[T]) Pending(fd FD) (Kind, bool) {
	reg, ok := r.regs[fd]
	return reg.kind, ok
}

// Len 返回未决注册数。
func (r *Reactor[T]) Len() int { return len(r.regs) }

// Wake 唤醒阻塞中的 Poll，可从任意 goroutine 调用。
func (r *Reactor[T]) Wake() error { return r.be.wake() }

// Close 释放后端资源，未决注册被丢弃。
func (r *Reactor[T]) Close() error {
	clear(r.regs)
	return r.be.close()
}
