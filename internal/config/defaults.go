package config

const (
	defaultSocketPath     = "/var/run/linewire/daemon.sock"
	defaultDialTimeout    = 2
	defaultRequestTimeout = 30
	defaultEventType      = "event"
	defaultEventBuffer    = 32
	defaultJournalPath    = "~/.local/share/linewire/journal.db"
	defaultRetentionDays  = 30
	defaultLogFormat      = "console"
	defaultLogLevel       = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Daemon: Daemon{
			SocketPath:     defaultSocketPath,
			DialTimeout:    defaultDialTimeout,
			RequestTimeout: defaultRequestTimeout,
			EventType:      defaultEventType,
			EventBuffer:    defaultEventBuffer,
		},
		Journal: Journal{
			Path:          defaultJournalPath,
			RetentionDays: defaultRetentionDays,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
