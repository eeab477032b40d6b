package transport

import (
	"crypto/md5" //nolint:gosec // fingerprint key space is not adversarial, see spec §3.
	"fmt"

	"go.uber.org/atomic"
)

// HostId identifies a node in the cluster. In practice this is its
// connect address ("ip:port"), matching how Cassandra's STATUS_CHANGE and
// TOPOLOGY_CHANGE events identify peers.
type HostId string

// Fingerprint is a 128-bit stable identifier for a logical prepared
// statement, computed once over the encoded bytes of its PREPARE frame and
// reused as the lookup key in every host's prepared-statement cache.
type Fingerprint [md5.Size]byte

// FingerprintOf hashes the encoded PREPARE frame bytes. MD5 is used purely
// for its speed and 128-bit width; the key is never attacker-controlled.
func FingerprintOf(encodedPrepare []byte) Fingerprint {
	return Fingerprint(md5.Sum(encodedPrepare)) //nolint:gosec
}

func (f Fingerprint) String() string {
	return fmt.Sprintf("%x", [md5.Size]byte(f))
}

// PreparedStatement is the opaque id a server hands back in response to a
// PREPARE request. It is only valid on the host that issued it, until that
// host forgets it (host_down).
type PreparedStatement struct {
	ID               []byte
	ResultMetadataID []byte
}

// ConnState records whether a connection handle is currently usable.
type ConnState int

const (
	ConnOpen ConnState = iota
	ConnClosed
)

// Host is the per-node bookkeeping record owned exclusively by the Session
// actor: its connection set and prepared-statement cache. There is no
// locking here by design — the Session event loop is the only writer and
// the only reader, under a single-threaded actor discipline. Liveness uses
// an atomic flag anyway (mirroring nodeStatus in a conventional node
// record) because external callers such as metrics collectors are allowed
// to peek at it without routing through the event loop.
type Host struct {
	ID         HostId
	Datacenter string
	Rack       string

	alive    atomic.Bool
	conns    map[*Conn]ConnState
	prepared map[Fingerprint]PreparedStatement
}

// NewHost creates a host record. A host only exists in the registry once
// it was reported up at least once.
func NewHost(id HostId) *Host {
	h := &Host{
		ID:       id,
		conns:    make(map[*Conn]ConnState),
		prepared: make(map[Fingerprint]PreparedStatement),
	}
	h.alive.Store(true)
	return h
}

func (h *Host) IsDown() bool   { return !h.alive.Load() }
func (h *Host) SetAlive(v bool) { h.alive.Store(v) }

// ToggleConnection marks conn open or closed. Opening an untracked
// connection starts tracking it (this is how connections "appear"); closing
// one that isn't tracked is a no-op, since events can race (a stopped
// connection can still have a closed event in flight).
func (h *Host) ToggleConnection(c *Conn, state ConnState) {
	if state == ConnOpen {
		h.conns[c] = ConnOpen
		return
	}
	if _, ok := h.conns[c]; ok {
		h.conns[c] = ConnClosed
	}
}

// DeleteConnection removes conn from the host entirely. Safe to call with
// an untracked connection.
func (h *Host) DeleteConnection(c *Conn) {
	delete(h.conns, c)
}

// PruneClosed drops every connection entry flagged ConnClosed. A closed
// handle is never reused — reconnection always dials a fresh *Conn — so
// without this a host that cycles down and up repeatedly would accumulate
// a stale ConnClosed entry per cycle forever. Called before redialing.
func (h *Host) PruneClosed() {
	for c, s := range h.conns {
		if s == ConnClosed {
			delete(h.conns, c)
		}
	}
}

// OpenCount is the number of connections currently flagged open.
func (h *Host) OpenCount() int {
	n := 0
	for _, s := range h.conns {
		if s == ConnOpen {
			n++
		}
	}
	return n
}

// OpenConns returns the currently open connections, in map iteration order.
// Callers that need a stable order (e.g. a balancer) should sort or rotate
// themselves; the registry makes no ordering promise.
func (h *Host) OpenConns() []*Conn {
	out := make([]*Conn, 0, len(h.conns))
	for c, s := range h.conns {
		if s == ConnOpen {
			out = append(out, c)
		}
	}
	return out
}

// PutPrepared records that this host has acknowledged fingerprint fp.
func (h *Host) PutPrepared(fp Fingerprint, ps PreparedStatement) {
	h.prepared[fp] = ps
}

// ClearPrepared drops every prepared-statement entry. Called on host_down:
// Cassandra discards prepared state server-side when a node restarts.
func (h *Host) ClearPrepared() {
	h.prepared = make(map[Fingerprint]PreparedStatement)
}

// HasPrepared reports whether this host is known to hold fingerprint fp.
func (h *Host) HasPrepared(fp Fingerprint) bool {
	_, ok := h.prepared[fp]
	return ok
}

// Prepared returns the statement this host holds for fp, if any.
func (h *Host) Prepared(fp Fingerprint) (PreparedStatement, bool) {
	ps, ok := h.prepared[fp]
	return ps, ok
}
