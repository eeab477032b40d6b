package transport

// Registry is a pure, I/O-free data structure over the set of known hosts.
// Every operation here is total and safe to call with handles that are no
// longer (or not yet) tracked, since cluster and connection events can
// arrive out of order.
type Registry struct {
	hosts map[HostId]*Host
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{hosts: make(map[HostId]*Host)}
}

// Ensure returns the host record for id, creating it if this is the first
// time id has ever been reported up.
func (r *Registry) Ensure(id HostId) *Host {
	h, ok := r.hosts[id]
	if !ok {
		h = NewHost(id)
		r.hosts[id] = h
	}
	return h
}

// Get returns the host record for id, if the registry has one.
func (r *Registry) Get(id HostId) (*Host, bool) {
	h, ok := r.hosts[id]
	return h, ok
}

// Remove permanently forgets a host (not currently driven by any event —
// hosts persist across host_down — but kept for a future topology "node
// removed" event, which the out-of-scope discoverer may one day send).
func (r *Registry) Remove(id HostId) {
	delete(r.hosts, id)
}

// All returns every host currently tracked, in no particular order.
func (r *Registry) All() []*Host {
	out := make([]*Host, 0, len(r.hosts))
	for _, h := range r.hosts {
		out = append(out, h)
	}
	return out
}

// RemoveConnEverywhere scans every host and drops conn if present. Used for
// the defensive connection_process_down path, where the reporting host may
// not be known with certainty; connection_stopped deletes the connection
// from the reported host only.
func (r *Registry) RemoveConnEverywhere(c *Conn) {
	for _, h := range r.hosts {
		h.DeleteConnection(c)
	}
}

// HostOf returns the host that currently tracks conn, if any. Used to turn
// a LoadBalancer's flat []*Conn selection back into (host, conn) pairs for
// dispatch bookkeeping.
func (r *Registry) HostOf(c *Conn) (*Host, bool) {
	for _, h := range r.hosts {
		if _, ok := h.conns[c]; ok {
			return h, true
		}
	}
	return nil, false
}

// PreferredHosts returns the subset of hosts that hold fingerprint fp and
// have at least one open connection, per the "preferred host" definition in
// the GLOSSARY.
func (r *Registry) PreferredHosts(fp Fingerprint) []*Host {
	var out []*Host
	for _, h := range r.hosts {
		if h.HasPrepared(fp) && h.OpenCount() > 0 {
			out = append(out, h)
		}
	}
	return out
}
