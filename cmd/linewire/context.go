package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"syscall"
	"time"

	"linewire/internal/config"
	"linewire/internal/logging"
	"linewire/internal/transport"
)

type commandContext struct {
	socketFlag *string
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(socketFlag, configFlag *string) *commandContext {
	return &commandContext{
		socketFlag: socketFlag,
		configFlag: configFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) socketPath() string {
	if c.socketFlag != nil && strings.TrimSpace(*c.socketFlag) != "" {
		return strings.TrimSpace(*c.socketFlag)
	}
	if cfg, err := c.ensureConfig(); err == nil {
		return cfg.Daemon.SocketPath
	}
	return config.Default().Daemon.SocketPath
}

func (c *commandContext) requestTimeout() time.Duration {
	if cfg, err := c.ensureConfig(); err == nil {
		return time.Duration(cfg.Daemon.RequestTimeout) * time.Second
	}
	return time.Duration(config.Default().Daemon.RequestTimeout) * time.Second
}

func (c *commandContext) logger() *slog.Logger {
	cfg, err := c.ensureConfig()
	if err != nil {
		return logging.NewNop()
	}
	logger, err := logging.New(logging.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: os.Stderr,
	})
	if err != nil {
		return logging.NewNop()
	}
	return logger
}

func (c *commandContext) dialConn() (*transport.Conn, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}

	socket := c.socketPath()
	conn, err := transport.Dial(socket,
		transport.WithLogger(c.logger()),
		transport.WithEventType(cfg.Daemon.EventType),
		transport.WithEventBuffer(cfg.Daemon.EventBuffer),
		transport.WithDialTimeout(time.Duration(cfg.Daemon.DialTimeout)*time.Second),
	)
	if err != nil {
		return nil, wrapDialError(err, socket)
	}
	return conn, nil
}

func (c *commandContext) withConn(fn func(*transport.Conn) error) error {
	conn, err := c.dialConn()
	if err != nil {
		return err
	}
	defer conn.Close()
	return fn(conn)
}

func wrapDialError(err error, socket string) error {
	switch {
	case errors.Is(err, syscall.ENOENT) || os.IsNotExist(err):
		return fmt.Errorf("connect to daemon: socket %s not found; is the daemon running?", socket)
	case errors.Is(err, syscall.ECONNREFUSED):
		return fmt.Errorf("connect to daemon: socket %s refused the connection; verify the daemon is healthy", socket)
	default:
		return fmt.Errorf("connect to daemon: %w", err)
	}
}
