//go:build linux

// Package proxy implements the TCP forwarding proxy: an acceptor that
// reads the 6-byte destination header and dials the target, an
// edge-triggered epoll reactor, and a bounded worker pool that shuttles
// bytes between the two halves of each pair until either side closes.
package proxy

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"

	"github.com/alitto/pond/v2"
	"github.com/relaymesh/fwdproxy/internal/conntable"
	"github.com/relaymesh/fwdproxy/internal/netsock"
	"github.com/relaymesh/fwdproxy/internal/reactor"
	"golang.org/x/sys/unix"
)

// Proxy owns one connection table, one reactor and one worker pool.
// Exactly one Proxy runs per process in the shipped binary, but nothing
// here is process-global.
type Proxy struct {
	log    *slog.Logger
	cfg    *Config
	table  *conntable.Table
	react  *reactor.Reactor
	pool   pond.Pool
	dialer netsock.Dialer
}

func New(cfg *Config) (*Proxy, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate config: %w", err)
	}
	react, err := reactor.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create reactor: %w", err)
	}
	return &Proxy{
		log:    cfg.Logger,
		cfg:    cfg,
		table:  conntable.New(),
		react:  react,
		pool:   pond.NewPool(cfg.Workers),
		dialer: netsock.Dialer{Clock: cfg.Clock, Timeout: cfg.DialTimeout},
	}, nil
}

// ActivePairs reports the number of live proxied connections.
func (p *Proxy) ActivePairs() int {
	return p.table.Len() / 2
}

// Run accepts and forwards until ctx is cancelled. The acceptor runs on
// its own goroutine; Run itself drives the reactor loop, unregistering
// each ready fd before handing it to the pool so a handle is never
// dispatched twice concurrently. On cancellation the acceptor exits
// within one accept timeout, in-flight forwards drain, and whatever
// pairs remain are closed.
func (p *Proxy) Run(ctx context.Context) error {
	p.log.Info("starting proxy",
		"workers", p.cfg.Workers,
		"pollTimeout", p.cfg.PollTimeout,
		"maxEvents", p.cfg.MaxEvents,
	)

	// Derived so a fatal reactor error also stops the acceptor.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// eventfd in the watch set wakes an indefinite epoll_wait on
	// cancellation, so shutdown does not depend on traffic arriving.
	wakeFD, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		return fmt.Errorf("eventfd: %w", err)
	}
	defer unix.Close(wakeFD)
	if err := p.react.Register(wakeFD); err != nil {
		return fmt.Errorf("failed to register wake fd: %w", err)
	}
	go func() {
		<-ctx.Done()
		var one [8]byte
		binary.LittleEndian.PutUint64(one[:], 1)
		_, _ = unix.Write(wakeFD, one[:])
	}()

	var acceptor sync.WaitGroup
	acceptor.Add(1)
	go func() {
		defer acceptor.Done()
		p.acceptLoop(ctx)
	}()

	var loopErr error
poll:
	for ctx.Err() == nil {
		events, err := p.react.Wait(p.cfg.PollTimeout, p.cfg.MaxEvents)
		if err != nil {
			loopErr = err
			break
		}
		for _, ev := range events {
			if ev.FD == wakeFD {
				break poll
			}
			if !ev.Ready() {
				continue
			}
			fd := ev.FD
			if err := p.react.Unregister(fd); err != nil {
				p.log.Warn("failed to unregister ready fd", "fd", fd, "error", err)
			}
			p.pool.Submit(func() {
				p.forward(fd)
			})
		}
	}

	cancel()
	acceptor.Wait()
	p.pool.StopAndWait()

	for _, rec := range p.table.Clear() {
		_ = p.react.Unregister(rec.FD)
		_ = p.react.Unregister(rec.PeerFD)
		_ = netsock.Close(rec.FD)
		_ = netsock.Close(rec.PeerFD)
	}
	if err := p.react.Close(); err != nil {
		p.log.Warn("failed to close reactor", "error", err)
	}

	if loopErr != nil {
		return fmt.Errorf("reactor loop: %w", loopErr)
	}
	p.log.Info("proxy stopped")
	return nil
}
