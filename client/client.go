package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"
)

// ErrMismatch 回显内容与发送内容不一致
var ErrMismatch = errors.New("client: echo mismatch")

// Client 是阻塞式回显客户端
type Client struct {
	conn net.Conn
	mu   sync.Mutex
	rb   []byte
}

func Dial(address string) (*Client, error) {
	return DialContext(context.Background(), address)
}

func DialContext(ctx context.Context, address string) (*Client, error) {
	var d net.Dialer
	nc, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}
	return &Client{conn: nc}, nil
}

// Echo 发送 p 并读回同样长度的数据；内容不一致时返回 ErrMismatch
func (c *Client) Echo(p []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.conn.Write(p); err != nil {
		return nil, err
	}
	if cap(c.rb) < len(p) {
		c.rb = make([]byte, len(p))
	}
	got := c.rb[:len(p)]
	if _, err := io.ReadFull(c.conn, got); err != nil {
		return nil, err
	}
	if !bytes.Equal(got, p) {
		return got, fmt.Errorf("%w: sent %q, got %q", ErrMismatch, p, got)
	}
	return got, nil
}

func (c *Client) Write(p []byte) (int, error) { return c.conn.Write(p) }

func (c *Client) Read(p []byte) (int, error) { return c.conn.Read(p) }

// CloseWrite 半关闭，服务器会读到 EOF
func (c *Client) CloseWrite() error {
	if tc, ok := c.conn.(*net.TCPConn); ok {
		return tc.CloseWrite()
	}
	return c.conn.Close()
}

func (c *Client) SetDeadline(t time.Time) error { return c.conn.SetDeadline(t) }

func (c *Client) LocalAddr() net.Addr { return c.conn.LocalAddr() }

func (c *Client) Close() error { return c.conn.Close() }
