package transport

import (
	"context"
	"sync"
	"time"
)

// OpenWithRetry dials addr, retrying with the delays policy's schedule
// produces until ctx is cancelled: it keeps trying to (re)establish a
// connection to a host that's down, on a backoff, until it succeeds or the
// Session gives up on it.
func OpenWithRetry(ctx context.Context, host HostId, addr string, cfg ConnConfig, policy ReconnectionPolicy, onStopped OnStopped) (*Conn, error) {
	sched := policy.NewSchedule()
	for {
		conn, err := Dial(ctx, host, addr, cfg, onStopped)
		if err == nil {
			return conn, nil
		}

		delay, ok := sched.Next()
		if !ok {
			return nil, err
		}

		if cfg.Logger != nil {
			cfg.Logger.Warn().Str("host", string(host)).Err(err).Dur("retry_in", delay).Msg("connection attempt failed")
		}

		t := time.NewTimer(delay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		}
	}
}

// OnOpened reports that a ConnPool finished dialing a new connection for
// its host (connection_opened).
type OnOpened func(c *Conn)

// OnClosed reports that a ConnPool explicitly closed one of its own
// connections — connection_closed, a graceful close whose whole point is
// that the handle may reopen later, as opposed to OnStopped's full delete
// of a connection that died on its own.
type OnClosed func(c *Conn)

// ConnPool owns the open/close lifecycle of one host's connections. Resize
// dials new ones with OpenWithRetry as its target grows and explicitly
// closes surplus ones as it shrinks, reporting each transition through
// Opened/Closed. A connection that dies on its own (a socket error surfaced
// during a read) is removed from the pool and reported through Stopped
// instead, exactly once, via the onStopped callback Dial already threads
// through to Conn.fail. Conn.Close() does not invoke onStopped itself, but
// closing the socket makes the connection's reader goroutine fail and
// report Stopped, so an explicit pool-driven close (Closed) is followed by
// a Stopped report for the same connection.
type ConnPool struct {
	host   HostId
	addr   string
	cfg    ConnConfig
	policy ReconnectionPolicy

	Opened  OnOpened
	Closed  OnClosed
	Stopped OnStopped

	mu    sync.Mutex
	conns map[*Conn]struct{}
}

// NewConnPool creates an empty pool for host at addr. Resize must be called
// to actually dial connections; the Opened/Closed/Stopped fields should be
// set before the first Resize so no transition is ever missed.
func NewConnPool(host HostId, addr string, cfg ConnConfig, policy ReconnectionPolicy) *ConnPool {
	return &ConnPool{
		host:   host,
		addr:   addr,
		cfg:    cfg,
		policy: policy,
		conns:  make(map[*Conn]struct{}),
	}
}

// Count reports how many connections the pool currently tracks as open.
func (p *ConnPool) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.conns)
}

// Resize drives the pool's open connection count toward target: growing
// dials (target - current) new connections in the background, since
// OpenWithRetry can block for a long time against a host that's down;
// shrinking closes (current - target) connections immediately, since Close
// never blocks on the network.
func (p *ConnPool) Resize(ctx context.Context, target int) {
	if target < 0 {
		target = 0
	}

	p.mu.Lock()
	current := len(p.conns)
	var surplus []*Conn
	if current > target {
		for c := range p.conns {
			if len(surplus) >= current-target {
				break
			}
			surplus = append(surplus, c)
		}
	}
	needed := target - current
	p.mu.Unlock()

	for _, c := range surplus {
		p.closeOne(c)
	}
	for i := 0; i < needed; i++ {
		go p.openOne(ctx)
	}
}

// CloseAll explicitly closes every connection the pool currently holds,
// reporting each through Closed. The Session does not call it: host_down
// shrinks the pool with Resize(ctx, 0), which closes every connection the
// same way.
func (p *ConnPool) CloseAll() {
	p.mu.Lock()
	all := make([]*Conn, 0, len(p.conns))
	for c := range p.conns {
		all = append(all, c)
	}
	p.mu.Unlock()

	for _, c := range all {
		p.closeOne(c)
	}
}

// Evict forcibly removes and closes a connection the pool no longer trusts
// (the defensive connection_process_down path), without reporting it
// through Closed: that event means "gracefully closed as part of a
// deliberate resize, expect it to reopen," which a failed liveness probe
// isn't. The connection's own reader goroutine will in turn observe the
// socket close and report a Stopped event behind this call, exactly as if
// the connection had died on its own; callers don't need to special-case
// that, since both the registry removal and a subsequent Resize are
// idempotent.
func (p *ConnPool) Evict(c *Conn) {
	p.mu.Lock()
	delete(p.conns, c)
	p.mu.Unlock()
	c.Close()
}

func (p *ConnPool) openOne(ctx context.Context) {
	conn, err := OpenWithRetry(ctx, p.host, p.addr, p.cfg, p.policy, p.onStopped)
	if err != nil {
		// Only returns non-nil when ctx was cancelled (the policy's
		// schedule never exhausts): the pool is shutting down.
		return
	}
	p.mu.Lock()
	p.conns[conn] = struct{}{}
	p.mu.Unlock()
	if p.Opened != nil {
		p.Opened(conn)
	}
}

func (p *ConnPool) closeOne(c *Conn) {
	p.mu.Lock()
	_, tracked := p.conns[c]
	delete(p.conns, c)
	p.mu.Unlock()
	if !tracked {
		return
	}
	c.Close()
	if p.Closed != nil {
		p.Closed(c)
	}
}

func (p *ConnPool) onStopped(c *Conn, err error) {
	p.mu.Lock()
	delete(p.conns, c)
	p.mu.Unlock()
	if p.Stopped != nil {
		p.Stopped(c, err)
	}
}
