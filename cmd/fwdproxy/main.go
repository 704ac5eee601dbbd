//go:build linux

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/relaymesh/fwdproxy/internal/netsock"
	"github.com/relaymesh/fwdproxy/internal/proxy"
	flag "github.com/spf13/pflag"
)

var (
	// Set by LDFLAGS
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

type config struct {
	Port        int
	Workers     int
	TimeoutSecs int
	MaxEvents   int
	Verbose     int
	ShowVersion bool
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg := parseFlags()

	if cfg.ShowVersion {
		fmt.Printf("fwdproxy version: %s, commit: %s, date: %s\n", version, commit, date)
		return nil
	}

	log := newLogger(cfg.Verbose)

	lfd, err := netsock.Listen(cfg.Port)
	if err != nil {
		return fmt.Errorf("failed to listen on port %d: %w", cfg.Port, err)
	}
	defer netsock.Close(lfd)
	log.Info("listening", "port", cfg.Port)

	p, err := proxy.New(&proxy.Config{
		Logger:      log.With("component", "proxy"),
		ListenFD:    lfd,
		Workers:     cfg.Workers,
		PollTimeout: time.Duration(cfg.TimeoutSecs) * time.Second,
		MaxEvents:   cfg.MaxEvents,
	})
	if err != nil {
		return fmt.Errorf("failed to create proxy: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	return p.Run(ctx)
}

func parseFlags() config {
	var cfg config
	flag.IntVarP(&cfg.Port, "port", "p", 1234, "TCP port to listen on")
	flag.IntVar(&cfg.Workers, "thread", 4, "how many working threads to handle connections")
	flag.IntVar(&cfg.TimeoutSecs, "timeout", -1, "reactor poll timeout in seconds, -1 waits indefinitely")
	flag.IntVar(&cfg.MaxEvents, "maxevents", 20, "maximum events returned per poll")
	flag.IntVarP(&cfg.Verbose, "verbose", "v", 2, "logging verbosity 0..3")
	flag.BoolVar(&cfg.ShowVersion, "version", false, "show version and exit")
	flag.Parse()
	return cfg
}

func newLogger(verbose int) *slog.Logger {
	var logLevel slog.Level
	switch {
	case verbose <= 0:
		logLevel = slog.LevelError
	case verbose == 1:
		logLevel = slog.LevelWarn
	case verbose == 2:
		logLevel = slog.LevelInfo
	default:
		logLevel = slog.LevelDebug
	}
	return slog.New(tint.NewHandler(os.Stdout, &tint.Options{
		Level: logLevel,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				t := a.Value.Time().UTC()
				a.Value = slog.StringValue(formatRFC3339Millis(t))
			}
			return a
		},
	}))
}

func formatRFC3339Millis(t time.Time) string {
	t = t.UTC()
	base := t.Format("2006-01-02T15:04:05")
	ms := t.Nanosecond() / 1_000_000
	return fmt.Sprintf("%s.%03dZ", base, ms)
}
