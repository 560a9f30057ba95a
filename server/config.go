package server

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig 配置校验失败
var ErrInvalidConfig = errors.New("server: invalid config")

const (
	DefaultHost        = "127.0.0.1"
	DefaultPort        = 55556
	DefaultBacklog     = 128
	DefaultRecvSize    = 4096
	DefaultPollRetries = 3
)

type Config struct {
	Host    string `toml:"host" yaml:"host"`
	Port    int    `toml:"port" yaml:"port"` // 0 表示由内核分配
	Backlog int    `toml:"backlog" yaml:"backlog"`

	// 每个连接的接收缓冲大小，也是单次回显的上限
	RecvSize int `toml:"recv_size" yaml:"recv_size"`

	NoDelay    bool `toml:"nodelay" yaml:"nodelay"`
	ReusePort  bool `toml:"reuse_port" yaml:"reuse_port"`
	SendBuffer int  `toml:"send_buffer" yaml:"send_buffer"` // SO_SNDBUF，0 为系统默认
	RecvBuffer int  `toml:"recv_buffer" yaml:"recv_buffer"` // SO_RCVBUF，0 为系统默认

	// 调度器参数
	MaxDrain    int `toml:"max_drain" yaml:"max_drain"`
	PollRetries int `toml:"poll_retries" yaml:"poll_retries"`
}

func DefaultConfig() Config {
	return Config{
		Host:        DefaultHost,
		Port:        DefaultPort,
		Backlog:     DefaultBacklog,
		RecvSize:    DefaultRecvSize,
		PollRetries: DefaultPollRetries,
	}
}

// Address 返回 host:port
func (c Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func (c Config) Validate() error {
	if net.ParseIP(c.Host) == nil {
		return fmt.Errorf("%w: host %q is not an IP address", ErrInvalidConfig, c.Host)
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidConfig, c.Port)
	}
	if c.Backlog <= 0 {
		return fmt.Errorf("%w: backlog must be positive, got %d", ErrInvalidConfig, c.Backlog)
	}
	if c.RecvSize <= 0 {
		return fmt.Errorf("%w: recv_size must be positive, got %d", ErrInvalidConfig, c.RecvSize)
	}
	if c.SendBuffer < 0 || c.RecvBuffer < 0 {
		return fmt.Errorf("%w: socket buffer sizes must not be negative", ErrInvalidConfig)
	}
	if c.MaxDrain < 0 {
		return fmt.Errorf("%w: max_drain must not be negative, got %d", ErrInvalidConfig, c.MaxDrain)
	}
	if c.PollRetries < 0 {
		return fmt.Errorf("%w: poll_retries must not be negative, got %d", ErrInvalidConfig, c.PollRetries)
	}
	return nil
}

// LoadConfig 从 .toml 或 .yaml/.yml 文件读取配置；文件中未出现的字段保留默认值
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("server: load %s: %w", path, err)
		}
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("server: load %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("server: load %s: %w", path, err)
		}
	default:
		return Config{}, fmt.Errorf("%w: unsupported config format %q", ErrInvalidConfig, ext)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
