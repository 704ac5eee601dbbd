//go:build linux

package proxy

import (
	"github.com/relaymesh/fwdproxy/internal/conntable"
	"github.com/relaymesh/fwdproxy/internal/netsock"
	"golang.org/x/sys/unix"
)

// forward drains one ready fd into its pair. It runs on a pool worker
// after the reactor loop unregistered the fd, so at most one forward is
// ever active per handle. It ends in exactly one of two ways: the fd
// hits EAGAIN and is re-armed, or the pair is torn down (EOF or fatal
// error on either the read or the paired write).
func (p *Proxy) forward(fd int) {
	rec, ok := p.table.Lookup(fd)
	if !ok {
		// Torn down from the other side while queued.
		return
	}

	buf := make([]byte, p.cfg.BufSize)
	for {
		n, err := unix.Read(fd, buf)
		switch {
		case err == unix.EINTR:
			continue
		case err == unix.EAGAIN:
			// Drained. Re-arm and yield the worker.
			if err := p.react.Register(fd); err != nil {
				p.teardown(rec, "re-arm failed", err)
			}
			return
		case err != nil:
			p.teardown(rec, "read failed", err)
			return
		case n == 0:
			p.teardown(rec, "peer closed", nil)
			return
		}
		if err := netsock.WriteAll(rec.PeerFD, buf[:n]); err != nil {
			p.teardown(rec, "write to pair failed", err)
			return
		}
	}
}

// teardown removes both keys of the pair, unregisters both fds and
// closes them, all inside the table's critical section. When both sides
// fail at once only the remover that finds the keys runs the cleanup;
// the other observes an empty lookup and stops.
func (p *Proxy) teardown(rec conntable.Record, reason string, cause error) {
	_, removed := p.table.Remove(rec.FD, func(r conntable.Record) {
		_ = p.react.Unregister(r.FD)
		_ = p.react.Unregister(r.PeerFD)
		_ = netsock.Close(r.FD)
		_ = netsock.Close(r.PeerFD)
	})
	if !removed {
		return
	}
	if cause != nil {
		p.log.Warn("pair torn down", "fd", rec.FD, "role", rec.Role.String(), "reason", reason, "error", cause, "pairs", p.ActivePairs())
		return
	}
	p.log.Debug("pair closed", "fd", rec.FD, "role", rec.Role.String(), "reason", reason, "pairs", p.ActivePairs())
}
