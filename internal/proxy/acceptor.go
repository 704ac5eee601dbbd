//go:build linux

package proxy

import (
	"context"
	"errors"

	"github.com/relaymesh/fwdproxy/internal/netsock"
	"golang.org/x/sys/unix"
)

// acceptLoop blocks in accept (bounded by the accept timeout so it can
// observe cancellation) and sets up one pair per inbound connection.
// Per-connection failures drop that client and never unwind anything
// else; only an unexpected accept error ends the loop.
func (p *Proxy) acceptLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		fd, err := netsock.Accept(p.cfg.ListenFD, p.cfg.AcceptTimeout)
		if errors.Is(err, netsock.ErrAcceptTimeout) || errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.log.Error("accept failed, stopping acceptor", "error", err)
			return
		}
		p.handleConn(fd)
	}
}

// handleConn reads the destination header from a freshly accepted
// client (still in blocking mode), dials the target, and installs the
// pair. Payload that arrived in the same segment as the header stays in
// the kernel buffer; registering under edge-triggered mode reports that
// existing readiness, so the first dispatch forwards it.
func (p *Proxy) handleConn(clientFD int) {
	var raw [headerSize]byte
	if err := netsock.ReadFull(clientFD, raw[:]); err != nil {
		p.log.Warn("failed to read destination header", "fd", clientFD, "error", err)
		_ = netsock.Close(clientFD)
		return
	}
	hdr := parseHeader(raw[:])

	serverFD, err := p.dialer.Dial(hdr.ip, hdr.port)
	if err != nil {
		p.log.Warn("failed to dial target", "target", hdr.addr(), "error", err)
		_ = netsock.Close(clientFD)
		return
	}

	if err := netsock.SetNonblock(clientFD); err != nil {
		p.log.Warn("failed to set client nonblocking", "fd", clientFD, "error", err)
		_ = netsock.Close(clientFD)
		_ = netsock.Close(serverFD)
		return
	}

	err = p.table.Install(clientFD, serverFD, func() error {
		if err := p.react.Register(clientFD); err != nil {
			return err
		}
		if err := p.react.Register(serverFD); err != nil {
			_ = p.react.Unregister(clientFD)
			return err
		}
		return nil
	})
	if err != nil {
		p.log.Warn("failed to register pair", "target", hdr.addr(), "error", err)
		_ = netsock.Close(clientFD)
		_ = netsock.Close(serverFD)
		return
	}

	p.log.Debug("pair established",
		"client", clientFD, "server", serverFD,
		"target", hdr.addr(), "pairs", p.ActivePairs(),
	)
}
