package transport

import (
	"go.uber.org/atomic"
)

// Request is the minimal view of a dispatched request a LoadBalancer needs
// to make a routing decision. It intentionally carries no codec internals;
// balancers route on metadata, not on wire bytes.
type Request struct {
	// Idempotent marks whether retrying this request on a different host is
	// safe. Balancers that weigh retries (none of the ones below do, today)
	// can use it; it is threaded through so future policies have it.
	Idempotent bool
}

// LoadBalancer is a pure function of the current host set and a request: it
// returns the ordered list of connections a Worker should try, in order.
// The Session never inspects the chosen order itself — it treats every
// LoadBalancer as opaque, so long as it honors this contract.
type LoadBalancer interface {
	// TargetCount reports how many connections the Session should keep open
	// to host h.
	TargetCount(h *Host) int

	// Select returns the ordered candidate connections for one dispatch.
	Select(hosts []*Host, req Request) []*Conn
}

// FeedbackBalancer is an optional extension a LoadBalancer may implement to
// receive the outcome of a dispatch against one of the connections it
// returned from Select. Worker calls these after every attempt; balancers
// that don't need feedback (RoundRobin) simply don't implement it.
type FeedbackBalancer interface {
	LoadBalancer
	OnSuccess(h *Host, c *Conn)
	OnFailure(h *Host, c *Conn, err error)
}

// RoundRobin rotates the starting host on every Select call and flattens
// each host's open connections in ring order: the default and simplest
// strategy that honors the LoadBalancer contract.
type RoundRobin struct {
	target  int
	counter atomic.Uint64
}

// NewRoundRobin builds a round-robin balancer that asks for targetPerHost
// connections per host (at least 1).
func NewRoundRobin(targetPerHost int) *RoundRobin {
	if targetPerHost <= 0 {
		targetPerHost = 1
	}
	return &RoundRobin{target: targetPerHost}
}

func (b *RoundRobin) TargetCount(*Host) int { return b.target }

func (b *RoundRobin) Select(hosts []*Host, _ Request) []*Conn {
	if len(hosts) == 0 {
		return nil
	}
	offset := int(b.counter.Inc()-1) % len(hosts)
	out := make([]*Conn, 0, len(hosts))
	for i := 0; i < len(hosts); i++ {
		h := hosts[(offset+i)%len(hosts)]
		out = append(out, h.OpenConns()...)
	}
	return out
}
