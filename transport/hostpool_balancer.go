package transport

import (
	"sync"

	hostpool "github.com/hailocab/go-hostpool"
)

// HostPoolBalancer is an adaptive alternative to RoundRobin: it picks a
// primary host with github.com/hailocab/go-hostpool's epsilon-greedy
// least-bad-host strategy (one of its open connections), followed by the
// open connections of the remaining hosts in the order they were passed to
// Select, for retries — any strategy that honors the LoadBalancer
// select contract is an acceptable substitute for plain round robin.
type HostPoolBalancer struct {
	target int

	mu      sync.Mutex
	pool    hostpool.HostPool
	byName  map[string]*Host
	pending map[*Conn]hostpool.HostPoolResponse
}

// NewHostPoolBalancer builds an epsilon-greedy balancer targeting
// targetPerHost connections per host.
func NewHostPoolBalancer(targetPerHost int) *HostPoolBalancer {
	if targetPerHost <= 0 {
		targetPerHost = 1
	}
	return &HostPoolBalancer{
		target:  targetPerHost,
		pool:    hostpool.NewEpsilonGreedy(nil, 0, &hostpool.LinearEpsilonValueCalculator{}),
		byName:  make(map[string]*Host),
		pending: make(map[*Conn]hostpool.HostPoolResponse),
	}
}

func (b *HostPoolBalancer) TargetCount(*Host) int { return b.target }

func (b *HostPoolBalancer) refresh(hosts []*Host) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	names := make([]string, 0, len(hosts))
	for _, h := range hosts {
		name := string(h.ID)
		b.byName[name] = h
		names = append(names, name)
	}
	b.pool.SetHosts(names)
	return names
}

func (b *HostPoolBalancer) Select(hosts []*Host, _ Request) []*Conn {
	if len(hosts) == 0 {
		return nil
	}
	names := b.refresh(hosts)

	b.mu.Lock()
	resp := b.pool.Get()
	primary := b.byName[resp.Host()]
	b.mu.Unlock()

	var out []*Conn
	if primary != nil {
		if conns := primary.OpenConns(); len(conns) > 0 {
			out = append(out, conns[0])
			b.mu.Lock()
			b.pending[conns[0]] = resp
			b.mu.Unlock()
		}
	}
	for _, name := range names {
		h := b.byName[name]
		if h == nil || h == primary {
			continue
		}
		out = append(out, h.OpenConns()...)
	}
	return out
}

func (b *HostPoolBalancer) OnSuccess(_ *Host, c *Conn) { b.finish(c, nil) }
func (b *HostPoolBalancer) OnFailure(_ *Host, c *Conn, err error) { b.finish(c, err) }

func (b *HostPoolBalancer) finish(c *Conn, err error) {
	b.mu.Lock()
	resp, ok := b.pending[c]
	if ok {
		delete(b.pending, c)
	}
	b.mu.Unlock()
	if ok {
		resp.Mark(err)
	}
}
