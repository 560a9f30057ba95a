//go:build linux || darwin

package cosched

import (
	"bytes"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestRecvSuspendsBeforeReading(t *testing.T) {
	a, b := socketPair(t)
	_, err := unix.Write(b, []byte("hi"))
	require.NoError(t, err)

	op := Recv(a, make([]byte, 8))
	wait, done, err := op.Poll()
	require.NoError(t, err)
	assert.False(t, done)
	assert.Equal(t, OnRead(a), wait)

	wait, done, err = op.Poll()
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, Suspension{}, wait)
	assert.Equal(t, "hi", string(op.Bytes()))
	assert.False(t, op.EOF())

	// 完成后复位，下一次又从挂起开始
	_, done, _ = op.Poll()
	assert.False(t, done)
}

func TestRecvSpuriousWakeupResuspends(t *testing.T) {
	a, _ := socketPair(t)
	op := Recv(a, make([]byte, 8))
	_, done, _ := op.Poll()
	require.False(t, done)

	wait, done, err := op.Poll()
	require.NoError(t, err)
	assert.False(t, done)
	assert.Equal(t, OnRead(a), wait)
}

func TestRecvEOF(t *testing.T) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	defer unix.Close(fds[0])
	require.NoError(t, unix.SetNonblock(fds[0], true))
	require.NoError(t, unix.Close(fds[1]))

	op := Recv(fds[0], make([]byte, 8))
	op.Poll()
	_, done, err := op.Poll()
	require.NoError(t, err)
	assert.True(t, done)
	assert.True(t, op.EOF())
}

func TestSendAllShortWrites(t *testing.T) {
	a, b := socketPair(t)
	require.NoError(t, unix.SetsockoptInt(a, unix.SOL_SOCKET, unix.SO_SNDBUF, 4096))

	payload := bytes.Repeat([]byte("0123456789abcdef"), 64*1024)
	got := make(chan []byte, 1)
	go func() {
		buf := make([]byte, 0, len(payload))
		tmp := make([]byte, 8192)
		for len(buf) < len(payload) {
			time.Sleep(time.Millisecond)
			n, err := unix.Read(b, tmp)
			if n <= 0 || err != nil {
				break
			}
			buf = append(buf, tmp[:n]...)
		}
		got <- buf
	}()

	s := newScheduler(t)
	op := SendAll(a, payload)
	suspensions := 0
	s.Spawn("sender", TaskFunc(func() Outcome {
		out, done, err := Await(op)
		if !done {
			suspensions++
			return out
		}
		if err != nil {
			return Failed(err)
		}
		return Completed()
	}))
	require.NoError(t, runIdle(t, s))
	assert.Equal(t, len(payload), op.Sent())
	assert.Greater(t, suspensions, 2)

	select {
	case buf := <-got:
		assert.True(t, bytes.Equal(payload, buf))
	case <-time.After(5 * time.Second):
		t.Fatal("reader did not finish")
	}
}

func TestSendAllEmpty(t *testing.T) {
	a, _ := socketPair(t)
	op := SendAll(a, nil)
	_, done, err := op.Poll()
	assert.True(t, done)
	assert.NoError(t, err)
}

func TestSendAllReset(t *testing.T) {
	a, b := socketPair(t)
	op := SendAll(a, []byte("one"))
	op.Poll()
	_, done, err := op.Poll()
	require.NoError(t, err)
	require.True(t, done)

	op.Reset([]byte("two"))
	assert.Zero(t, op.Sent())
	_, done, _ = op.Poll()
	assert.False(t, done)
	_, done, err = op.Poll()
	require.NoError(t, err)
	assert.True(t, done)

	buf := make([]byte, 16)
	n, err := unix.Read(b, buf)
	require.NoError(t, err)
	assert.Equal(t, "onetwo", string(buf[:n]))
}

func TestSendAllPeerClosed(t *testing.T) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	defer unix.Close(fds[0])
	require.NoError(t, unix.SetNonblock(fds[0], true))
	require.NoError(t, unix.Close(fds[1]))

	op := SendAll(fds[0], []byte("lost"))
	op.Poll()
	_, done, err := op.Poll()
	assert.True(t, done)
	assert.ErrorIs(t, err, unix.EPIPE)
}

func listenLoopback(t *testing.T) (int, int) {
	t.Helper()
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	t.Cleanup(func() { unix.Close(fd) })
	require.NoError(t, unix.SetNonblock(fd, true))
	require.NoError(t, unix.Bind(fd, &unix.SockaddrInet4{Addr: [4]byte{127, 0, 0, 1}}))
	require.NoError(t, unix.Listen(fd, 16))
	sa, err := unix.Getsockname(fd)
	require.NoError(t, err)
	return fd, sa.(*unix.SockaddrInet4).Port
}

func TestAcceptOp(t *testing.T) {
	lfd, port := listenLoopback(t)
	s := newScheduler(t)

	op := Accept(lfd)
	s.Spawn("accept", TaskFunc(func() Outcome {
		out, done, err := Await(op)
		if !done {
			return out
		}
		if err != nil {
			return Failed(err)
		}
		return Completed()
	}))

	go func() {
		time.Sleep(20 * time.Millisecond)
		c, err := net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
		if err == nil {
			time.Sleep(50 * time.Millisecond)
			c.Close()
		}
	}()
	require.NoError(t, runIdle(t, s))
	require.Greater(t, op.FD, 0)
	defer unix.Close(op.FD)

	require.NotNil(t, op.Peer)
	assert.Equal(t, "127.0.0.1", op.Peer.(*net.TCPAddr).IP.String())

	fl, err := unix.FcntlInt(uintptr(op.FD), unix.F_GETFL, 0)
	require.NoError(t, err)
	assert.NotZero(t, fl&unix.O_NONBLOCK)
}
