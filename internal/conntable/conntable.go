// Package conntable tracks the paired sockets of active proxied
// connections. Each pair is stored under two keys, one per handle, so a
// readiness event on either fd resolves its counterpart in one lookup.
package conntable

import "sync"

// Role identifies which end of a pair a table key represents.
type Role uint8

const (
	// RoleClient marks the handle facing the originating client.
	RoleClient Role = iota
	// RoleServer marks the handle facing the dialed target.
	RoleServer
)

func (r Role) String() string {
	switch r {
	case RoleClient:
		return "client"
	case RoleServer:
		return "server"
	default:
		return "unknown"
	}
}

// Record is one side of a pair: the keyed fd, its counterpart, and the
// role of the keyed fd. The forwarding path is symmetric; Role exists
// so a future directional policy has the information without a schema
// change.
type Record struct {
	FD     int
	PeerFD int
	Role   Role
}

// Table is the fd-keyed pair map. Both keys of a pair are inserted and
// removed under a single mutex hold, so no observer ever sees a
// half-installed pair.
type Table struct {
	mu    sync.Mutex
	conns map[int]Record
}

func New() *Table {
	return &Table{conns: make(map[int]Record)}
}

// Install inserts both keys of a new pair. If commit is non-nil it runs
// inside the critical section after the keys are in place; a commit
// error rolls the insertion back and is returned. The acceptor uses
// commit to register both fds with the reactor atomically with the
// table update.
func (t *Table) Install(clientFD, serverFD int, commit func() error) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.conns[clientFD] = Record{FD: clientFD, PeerFD: serverFD, Role: RoleClient}
	t.conns[serverFD] = Record{FD: serverFD, PeerFD: clientFD, Role: RoleServer}
	if commit != nil {
		if err := commit(); err != nil {
			delete(t.conns, clientFD)
			delete(t.conns, serverFD)
			return err
		}
	}
	return nil
}

// Lookup returns the record keyed on fd.
func (t *Table) Lookup(fd int) (Record, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.conns[fd]
	return rec, ok
}

// Remove deletes both keys of the pair containing fd. If cleanup is
// non-nil it runs inside the critical section with the removed record,
// which is how teardown unregisters and closes both fds without another
// goroutine observing a half-dead pair. Removing an absent key is a
// no-op returning false; concurrent teardowns of the same pair resolve
// to exactly one winner.
func (t *Table) Remove(fd int, cleanup func(Record)) (Record, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.conns[fd]
	if !ok {
		return Record{}, false
	}
	delete(t.conns, rec.FD)
	delete(t.conns, rec.PeerFD)
	if cleanup != nil {
		cleanup(rec)
	}
	return rec, true
}

// Len reports the number of keys (two per live pair).
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.conns)
}

// Clear empties the table and returns one record per pair, used at
// shutdown to close whatever is still live.
func (t *Table) Clear() []Record {
	t.mu.Lock()
	defer t.mu.Unlock()
	var recs []Record
	for _, rec := range t.conns {
		if rec.Role == RoleClient {
			recs = append(recs, rec)
		}
	}
	t.conns = make(map[int]Record)
	return recs
}
