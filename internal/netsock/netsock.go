//go:build linux

// Package netsock provides the raw-fd socket primitives the proxy data
// plane is built on: listen/accept with a coarse poll timeout, outbound
// dial with a deadline, and full read/write loops over non-blocking fds.
package netsock

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sys/unix"
)

// ListenBacklog is the listen(2) backlog for the accept socket.
const ListenBacklog = 128

// ErrAcceptTimeout is returned by Accept when no connection arrived
// within the poll timeout. Callers loop on it to observe shutdown.
var ErrAcceptTimeout = errors.New("accept timed out")

// Listen creates an AF_INET stream socket bound to 0.0.0.0:port with
// SO_REUSEADDR and close-on-exec, listening with ListenBacklog.
// It returns the listening fd.
func Listen(port int) (int, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, fmt.Errorf("socket: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		_ = unix.Close(fd)
		return -1, fmt.Errorf("setsockopt SO_REUSEADDR: %w", err)
	}
	sa := &unix.SockaddrInet4{Port: port}
	if err := unix.Bind(fd, sa); err != nil {
		_ = unix.Close(fd)
		return -1, fmt.Errorf("bind 0.0.0.0:%d: %w", port, err)
	}
	if err := unix.Listen(fd, ListenBacklog); err != nil {
		_ = unix.Close(fd)
		return -1, fmt.Errorf("listen: %w", err)
	}
	return fd, nil
}

// LocalPort reports the port a listening fd is bound to. Useful when
// binding port 0 to get an ephemeral port.
func LocalPort(fd int) (int, error) {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return 0, fmt.Errorf("getsockname: %w", err)
	}
	in4, ok := sa.(*unix.SockaddrInet4)
	if !ok {
		return 0, fmt.Errorf("getsockname: not an IPv4 socket")
	}
	return in4.Port, nil
}

// Accept waits up to timeout for a connection on the listening fd and
// accepts it with close-on-exec. The accepted fd is left in blocking
// mode so the destination header can be read with blocking semantics.
// Returns ErrAcceptTimeout when the poll expires, or unix.EINTR when a
// signal interrupts the wait; both are loop-and-retry conditions.
func Accept(lfd int, timeout time.Duration) (int, error) {
	pfds := []unix.PollFd{{Fd: int32(lfd), Events: unix.POLLIN}}
	n, err := unix.Poll(pfds, int(timeout.Milliseconds()))
	if err != nil {
		return -1, fmt.Errorf("poll accept socket: %w", err)
	}
	if n == 0 {
		return -1, ErrAcceptTimeout
	}
	nfd, _, err := unix.Accept4(lfd, unix.SOCK_CLOEXEC)
	if err != nil {
		return -1, fmt.Errorf("accept: %w", err)
	}
	return nfd, nil
}

// SetNonblock switches fd to non-blocking mode.
func SetNonblock(fd int) error {
	if err := unix.SetNonblock(fd, true); err != nil {
		return fmt.Errorf("set nonblock: %w", err)
	}
	return nil
}

// Close closes fd.
func Close(fd int) error {
	return unix.Close(fd)
}

// Dialer performs outbound connects with a deadline. The connect is
// issued on a non-blocking socket and completion is awaited with
// poll(2), so a black-holed target cannot wedge the caller.
type Dialer struct {
	Clock   clockwork.Clock
	Timeout time.Duration
}

// Dial connects to ip:port and returns a connected fd in non-blocking
// mode with close-on-exec. The connect error, if any, is surfaced
// unchanged (ECONNREFUSED, EHOSTUNREACH, ...); a deadline miss is
// unix.ETIMEDOUT.
func (d *Dialer) Dial(ip [4]byte, port uint16) (int, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, fmt.Errorf("socket: %w", err)
	}
	sa := &unix.SockaddrInet4{Port: int(port)}
	copy(sa.Addr[:], ip[:])

	err = unix.Connect(fd, sa)
	if err == nil {
		return fd, nil
	}
	if err != unix.EINPROGRESS {
		_ = unix.Close(fd)
		return -1, fmt.Errorf("connect: %w", err)
	}

	deadline := d.Clock.Now().Add(d.Timeout)
	for {
		remaining := deadline.Sub(d.Clock.Now())
		if remaining <= 0 {
			_ = unix.Close(fd)
			return -1, fmt.Errorf("connect: %w", unix.ETIMEDOUT)
		}
		pfds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLOUT}}
		n, err := unix.Poll(pfds, int(remaining.Milliseconds())+1)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			_ = unix.Close(fd)
			return -1, fmt.Errorf("poll connect: %w", err)
		}
		if n == 0 {
			continue
		}
		soerr, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
		if err != nil {
			_ = unix.Close(fd)
			return -1, fmt.Errorf("getsockopt SO_ERROR: %w", err)
		}
		if soerr != 0 {
			_ = unix.Close(fd)
			return -1, fmt.Errorf("connect: %w", unix.Errno(soerr))
		}
		return fd, nil
	}
}

// ReadFull reads exactly len(buf) bytes from a blocking fd, retrying on
// EINTR. A clean EOF before the buffer is full is io.ErrUnexpectedEOF.
func ReadFull(fd int, buf []byte) error {
	for len(buf) > 0 {
		n, err := unix.Read(fd, buf)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrUnexpectedEOF
		}
		buf = buf[n:]
	}
	return nil
}

// WriteAll writes all of buf to a non-blocking fd, waiting for write
// readiness on EAGAIN. The wait is unbounded; a stalled receiver stalls
// the caller until the peer drains or the connection errors.
func WriteAll(fd int, buf []byte) error {
	for len(buf) > 0 {
		n, err := unix.Write(fd, buf)
		if n > 0 {
			buf = buf[n:]
		}
		switch err {
		case nil:
		case unix.EINTR:
		case unix.EAGAIN:
			if err := waitWritable(fd); err != nil {
				return err
			}
		default:
			return err
		}
	}
	return nil
}

func waitWritable(fd int) error {
	for {
		pfds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLOUT}}
		_, err := unix.Poll(pfds, -1)
		if err == unix.EINTR {
			continue
		}
		return err
	}
}
