package sqlite

import "fmt"

const (
	defaultBusyTimeout = 5000
	defaultDBFile      = "chatlog.db"
	defaultLoadLimit   = 50
)

// Config holds the SQLite chat log configuration.
type Config struct {
	// Path is the database file path. Defaults to {DataDir}/chatlog.db.
	Path string `yaml:"path"`

	// WAL enables WAL journal mode for concurrent reads. Defaults to true.
	WAL *bool `yaml:"wal"`

	// BusyTimeout is the milliseconds to wait on a busy lock. Defaults to 5000.
	BusyTimeout int `yaml:"busy_timeout"`

	// LoadLimit caps the exchanges returned by LoadHistory. Defaults to 50.
	LoadLimit int `yaml:"load_limit"`
}

func (c *Config) defaults() {
	if c.WAL == nil {
		t := true
		c.WAL = &t
	}
	if c.BusyTimeout == 0 {
		c.BusyTimeout = defaultBusyTimeout
	}
	if c.LoadLimit == 0 {
		c.LoadLimit = defaultLoadLimit
	}
}

func (c *Config) walEnabled() bool {
	return c.WAL == nil || *c.WAL
}

func (c *Config) validate() error {
	if c.BusyTimeout < 0 {
		return fmt.Errorf("chatlog: busy_timeout must be non-negative, got %d", c.BusyTimeout)
	}
	if c.LoadLimit < 0 {
		return fmt.Errorf("chatlog: load_limit must be non-negative, got %d", c.LoadLimit)
	}
	return nil
}
