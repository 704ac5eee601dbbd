//go:build linux

// Package reactor wraps an epoll instance in edge-triggered mode. Every
// watched fd is armed for read readiness, peer half-close and error
// conditions; consumers drain until EAGAIN and re-register.
package reactor

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

const (
	// readEvents fires on readable data and on peer half-close.
	readEvents = unix.EPOLLIN | unix.EPOLLRDHUP
	// errEvents fires on hang-up and socket error.
	errEvents = unix.EPOLLHUP | unix.EPOLLERR
	// watchMask is the single mode every fd is registered under.
	watchMask = readEvents | errEvents | unix.EPOLLET
)

// Event is one readiness notification: the fd and the raw epoll mask.
type Event struct {
	FD   int
	Mask uint32
}

// Ready reports whether the event calls for a forwarding dispatch,
// i.e. the mask intersects the read or error bits.
func (e Event) Ready() bool {
	return e.Mask&(readEvents|errEvents) != 0
}

// Reactor is an edge-triggered readiness multiplexer. Register and
// Unregister are safe for concurrent use on distinct fds; Wait is meant
// for a single polling goroutine.
type Reactor struct {
	epfd   int
	events []unix.EpollEvent
}

// New creates the epoll instance with close-on-exec.
func New() (*Reactor, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll_create1: %w", err)
	}
	return &Reactor{epfd: epfd}, nil
}

// Register arms fd under the edge-triggered read|error watch mode.
func (r *Reactor) Register(fd int) error {
	ev := unix.EpollEvent{Events: watchMask, Fd: int32(fd)}
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return fmt.Errorf("epoll_ctl add fd %d: %w", fd, err)
	}
	return nil
}

// Unregister removes fd from the watch set. An fd that is not (or no
// longer) registered is not an error: teardown from the paired side
// races dispatch, and the loser must be able to unregister blindly.
func (r *Reactor) Unregister(fd int) error {
	err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	if err == unix.ENOENT || err == unix.EBADF {
		return nil
	}
	if err != nil {
		return fmt.Errorf("epoll_ctl del fd %d: %w", fd, err)
	}
	return nil
}

// Wait blocks for up to timeout (negative means indefinitely) and
// returns at most maxEvents readiness events. A signal-interrupted wait
// returns an empty batch so the caller's loop can observe shutdown.
func (r *Reactor) Wait(timeout time.Duration, maxEvents int) ([]Event, error) {
	if cap(r.events) < maxEvents {
		r.events = make([]unix.EpollEvent, maxEvents)
	}
	msec := -1
	if timeout >= 0 {
		msec = int(timeout.Milliseconds())
	}
	n, err := unix.EpollWait(r.epfd, r.events[:maxEvents], msec)
	if err == unix.EINTR {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("epoll_wait: %w", err)
	}
	out := make([]Event, 0, n)
	for _, ev := range r.events[:n] {
		out = append(out, Event{FD: int(ev.Fd), Mask: ev.Events})
	}
	return out, nil
}

// Close releases the epoll instance.
func (r *Reactor) Close() error {
	return unix.Close(r.epfd)
}
