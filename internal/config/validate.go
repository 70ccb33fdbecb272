package config

import (
	"errors"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateDaemon(); err != nil {
		return err
	}
	if err := c.validateJournal(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateDaemon() error {
	if strings.TrimSpace(c.Daemon.SocketPath) == "" {
		return errors.New("daemon.socket_path must be set")
	}
	if c.Daemon.DialTimeout <= 0 {
		return errors.New("daemon.dial_timeout must be positive")
	}
	if c.Daemon.RequestTimeout <= 0 {
		return errors.New("daemon.request_timeout must be positive")
	}
	if c.Daemon.EventBuffer <= 0 {
		return errors.New("daemon.event_buffer must be positive")
	}
	return nil
}

func (c *Config) validateJournal() error {
	if c.Journal.RetentionDays < 0 {
		return errors.New("journal.retention_days must not be negative")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return errors.New("logging.format must be console or json")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return errors.New("logging.level must be debug, info, warn, or error")
	}
	return nil
}
