package proxy

import (
	"errors"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
)

const (
	defaultWorkers       = 4
	defaultMaxEvents     = 20
	defaultAcceptTimeout = 3 * time.Second
	defaultDialTimeout   = 10 * time.Second
	defaultBufSize       = 4096
)

// Config holds the wiring and tunables for one Proxy instance.
type Config struct {
	Logger   *slog.Logger
	Clock    clockwork.Clock
	ListenFD int // bound+listening socket, created by the caller

	// Optional with defaults.
	Workers       int           // forwarder pool size
	PollTimeout   time.Duration // reactor wait; <= 0 means indefinite
	MaxEvents     int           // max events per reactor wait
	AcceptTimeout time.Duration // accept poll granularity (shutdown latency bound)
	DialTimeout   time.Duration // outbound connect deadline
	BufSize       int           // per-drain read buffer
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.ListenFD <= 0 {
		return errors.New("listen fd is required")
	}

	if c.Workers == 0 {
		c.Workers = defaultWorkers
	}
	if c.Workers < 0 {
		return errors.New("workers must be > 0")
	}

	if c.PollTimeout <= 0 {
		c.PollTimeout = -1
	}

	if c.MaxEvents == 0 {
		c.MaxEvents = defaultMaxEvents
	}
	if c.MaxEvents < 0 {
		return errors.New("max events must be > 0")
	}

	if c.AcceptTimeout == 0 {
		c.AcceptTimeout = defaultAcceptTimeout
	}
	if c.AcceptTimeout < 0 {
		return errors.New("accept timeout must be > 0")
	}

	if c.DialTimeout == 0 {
		c.DialTimeout = defaultDialTimeout
	}
	if c.DialTimeout < 0 {
		return errors.New("dial timeout must be > 0")
	}

	if c.BufSize == 0 {
		c.BufSize = defaultBufSize
	}
	if c.BufSize < 0 {
		return errors.New("buffer size must be > 0")
	}

	return nil
}
