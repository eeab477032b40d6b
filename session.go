// Package scylla implements the session core of a Cassandra/Scylla client
// driver: a single-threaded actor that multiplexes queries, prepares and
// executes across a load-balanced pool of connections, with a per-host
// prepared-statement cache and cold-start request queueing.
package scylla

import (
	"context"
	"errors"

	"github.com/datastax/go-cassandra-native-protocol/message"
	"github.com/datastax/go-cassandra-native-protocol/primitive"

	"github.com/scylla-go/session-core/transport"
)

// Reply is what every client-facing call eventually receives: either a
// decoded response message, or an error. Exactly one of the two is set.
type Reply struct {
	Msg message.Message
	Err error
}

type pendingRequest struct {
	msg   message.Message
	req   transport.Request
	reply chan Reply
}

// pendingPrepare tracks one in-flight PREPARE dispatch. waiters holds every
// caller that asked to prepare the same statement text before the first
// prepared(fingerprint) event arrived — duplicate prepare calls share one
// dispatch rather than racing two PREPAREs to the same host (§8 S5).
type pendingPrepare struct {
	text    string
	waiters []chan Reply
}

type executeWaiter struct {
	values []*primitive.Value
	params QueryParams
	reply  chan Reply
}

// pendingExecute tracks execute calls that had to trigger a first-time
// PREPARE; each waiter carries its own bound values, since two callers
// executing the same statement text concurrently may bind different
// parameters.
type pendingExecute struct {
	text    string
	waiters []executeWaiter
}

type connectEvent struct{}

type connectionOpenedEvent struct {
	host transport.HostId
	conn *transport.Conn
}

type connectionClosedEvent struct {
	host transport.HostId
	conn *transport.Conn
}

type connectionStoppedEvent struct {
	host transport.HostId
	conn *transport.Conn
}

type preparedEvent struct {
	host transport.HostId
	fp   transport.Fingerprint
	ps   transport.PreparedStatement
}

// prepareFailedEvent is the failure twin of preparedEvent. Without it a
// PREPARE that never gets a reply (every candidate connection fails) would
// leave its pending_prepares/pending_executes entry — and its caller —
// stuck forever, since every caller must eventually receive exactly one
// reply.
type prepareFailedEvent struct {
	fp  transport.Fingerprint
	err error
}

type hostUpEvent struct{ host transport.HostId }
type hostDownEvent struct{ host transport.HostId }

type connProcessDownEvent struct{ conn *transport.Conn }

type sendEvent struct {
	msg   message.Message
	req   transport.Request
	reply chan Reply
}

type prepareEvent struct {
	text  string
	reply chan Reply
}

type executeEvent struct {
	text   string
	values []*primitive.Value
	params QueryParams
	reply  chan Reply
}

// Session is a single goroutine event loop actor that owns the host
// registry and every pending-call map, serializing all mutation without
// locks. Client calls and connection/cluster notifications are both just
// events pushed onto the same inbox.
type Session struct {
	cfg      Config
	registry *transport.Registry
	cluster  transport.Cluster
	log      transport.Logger

	events chan any
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	// pools holds one ConnPool per host the registry has ever seen, created
	// lazily: it owns the actual dialing/closing of connections, reporting
	// connection_opened/connection_closed/connection_stopped back through
	// pushEvent so the registry update and everything downstream of it
	// stays on the event loop.
	pools map[transport.HostId]*transport.ConnPool

	pendingRequests []pendingRequest
	pendingPrepares map[transport.Fingerprint]pendingPrepare
	pendingExecutes map[transport.Fingerprint]pendingExecute
	// preparesInFlight marks a fingerprint that currently has a live PREPARE
	// dispatch running in the background, so a second prepare/execute call
	// arriving (or a second connection_opened) before it replies doesn't
	// send a redundant PREPARE to the same candidates.
	preparesInFlight map[transport.Fingerprint]bool
}

// NewSession starts a Session against the hosts in cfg and returns
// immediately; connections are opened in the background as the cluster
// reports hosts up.
func NewSession(ctx context.Context, cfg Config) (*Session, error) {
	cfg = cfg.Clone()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	hostIDs := make([]transport.HostId, len(cfg.Hosts))
	for i, h := range cfg.Hosts {
		hostIDs[i] = transport.HostId(h)
	}

	cluster := cfg.Cluster
	if cluster == nil {
		cluster = transport.NewStaticCluster(hostIDs)
	}

	sctx, cancel := context.WithCancel(ctx)
	s := &Session{
		cfg:             cfg,
		registry:        transport.NewRegistry(),
		cluster:         cluster,
		log:             cfg.Logger,
		events:          make(chan any, 1024),
		ctx:             sctx,
		cancel:          cancel,
		done:            make(chan struct{}),
		pools:            make(map[transport.HostId]*transport.ConnPool),
		pendingPrepares:  make(map[transport.Fingerprint]pendingPrepare),
		pendingExecutes:  make(map[transport.Fingerprint]pendingExecute),
		preparesInFlight: make(map[transport.Fingerprint]bool),
	}

	go s.loop()
	go s.watchCluster()
	s.pushEvent(connectEvent{})

	return s, nil
}

func (s *Session) watchCluster() {
	for ev := range s.cluster.Events(s.ctx) {
		switch ev.Kind {
		case transport.ClusterHostUp:
			s.pushEvent(hostUpEvent{host: ev.Host})
		case transport.ClusterHostDown:
			s.pushEvent(hostDownEvent{host: ev.Host})
		}
	}
}

func (s *Session) pushEvent(ev any) {
	select {
	case s.events <- ev:
	case <-s.ctx.Done():
	}
}

func (s *Session) loop() {
	defer close(s.done)
	for {
		select {
		case ev := <-s.events:
			s.handle(ev)
		case <-s.ctx.Done():
			s.failAllPending()
			return
		}
	}
}

func (s *Session) handle(ev any) {
	switch e := ev.(type) {
	case connectEvent:
		// Hosts are learned from the cluster's event stream; nothing to do
		// until the first host_up arrives.
	case connectionOpenedEvent:
		s.handleConnectionOpened(e)
	case connectionClosedEvent:
		s.registry.Ensure(e.host).ToggleConnection(e.conn, transport.ConnClosed)
	case connectionStoppedEvent:
		s.handleConnectionStopped(e)
	case preparedEvent:
		s.handlePrepared(e)
	case prepareFailedEvent:
		s.handlePrepareFailed(e)
	case hostUpEvent:
		s.handleHostUp(e.host)
	case hostDownEvent:
		s.handleHostDown(e.host)
	case connProcessDownEvent:
		s.handleConnProcessDown(e)
	case sendEvent:
		s.doSend(e.msg, e.req, e.reply)
	case prepareEvent:
		s.handlePrepareCall(e)
	case executeEvent:
		s.handleExecute(e)
	}
}

func (s *Session) failAllPending() {
	for _, r := range s.pendingRequests {
		r.reply <- Reply{Err: ErrClusterGone}
	}
	s.pendingRequests = nil
	for fp, pp := range s.pendingPrepares {
		for _, w := range pp.waiters {
			w <- Reply{Err: ErrClusterGone}
		}
		delete(s.pendingPrepares, fp)
	}
	for fp, pe := range s.pendingExecutes {
		for _, w := range pe.waiters {
			w.reply <- Reply{Err: ErrClusterGone}
		}
		delete(s.pendingExecutes, fp)
	}
}

func (s *Session) handleHostUp(host transport.HostId) {
	h := s.registry.Ensure(host)
	h.SetAlive(true)
	s.openMissingConnections(h)
}

// handleHostDown marks the host unreachable, drops its cached prepared
// statements (Cassandra/Scylla discard prepared state server-side when a
// node restarts), and explicitly closes every connection the pool still
// holds for it — the genuine connection_closed trigger, as opposed to
// connection_stopped's failure-driven report. handleHostUp's later resize
// back up to target is this connection's "reopen", via a fresh dial rather
// than the literal same handle.
func (s *Session) handleHostDown(host transport.HostId) {
	h, ok := s.registry.Get(host)
	if !ok {
		return
	}
	h.SetAlive(false)
	h.ClearPrepared()
	s.poolFor(host).Resize(s.ctx, 0)
}

// poolFor returns the ConnPool for host, creating and wiring it on first
// use. Callbacks push events rather than touching registry/pending state
// directly, keeping every mutation on the event loop.
func (s *Session) poolFor(host transport.HostId) *transport.ConnPool {
	if p, ok := s.pools[host]; ok {
		return p
	}
	p := transport.NewConnPool(host, string(host), s.cfg.ConnConfig, s.cfg.ReconnectionPolicy)
	p.Opened = func(c *transport.Conn) {
		s.pushEvent(connectionOpenedEvent{host: host, conn: c})
		go transport.MonitorProcess(s.ctx, c, s.cfg.HeartbeatInterval, func(c *transport.Conn) {
			s.pushEvent(connProcessDownEvent{conn: c})
		})
	}
	p.Closed = func(c *transport.Conn) {
		s.pushEvent(connectionClosedEvent{host: host, conn: c})
	}
	p.Stopped = s.onConnStopped
	s.pools[host] = p
	return p
}

func (s *Session) openMissingConnections(h *transport.Host) {
	h.PruneClosed()
	s.poolFor(h.ID).Resize(s.ctx, s.cfg.Balancer.TargetCount(h))
}

func (s *Session) onConnStopped(c *transport.Conn, err error) {
	s.log.Warn().Str("host", string(c.HostID())).Str("conn", c.ID().String()).Err(err).Msg("connection stopped")
	s.pushEvent(connectionStoppedEvent{host: c.HostID(), conn: c})
}

// handleConnProcessDown treats a failed heartbeat as a hard failure: the
// connection is pulled from whichever host the registry actually finds it
// under, with a RemoveConnEverywhere scan over every host (unlike
// connection_stopped, which trusts the reporting host), evicted from its
// pool, and — if its
// host is still up — replaced, exactly like a connection_stopped would be.
// Evicting closes the underlying socket, which makes the connection's own
// reader goroutine observe the failure and report a Stopped event right
// behind this one; that second event's DeleteConnection/openMissingConnections
// calls are both idempotent against work this method already did, so the
// two reports never leave the host over- or under-provisioned for long.
func (s *Session) handleConnProcessDown(ev connProcessDownEvent) {
	h, ok := s.registry.HostOf(ev.conn)
	s.registry.RemoveConnEverywhere(ev.conn)
	if !ok {
		ev.conn.Close()
		return
	}
	s.poolFor(h.ID).Evict(ev.conn)
	if !h.IsDown() {
		s.openMissingConnections(h)
	}
}

func (s *Session) handleConnectionOpened(ev connectionOpenedEvent) {
	h := s.registry.Ensure(ev.host)
	h.ToggleConnection(ev.conn, transport.ConnOpen)

	// Drain unconditionally while non-empty, clearing the queue before
	// dispatching so a second connection_opened
	// racing in behind this one never re-sends the same work.
	if len(s.pendingRequests) > 0 {
		reqs := s.pendingRequests
		s.pendingRequests = nil
		for _, r := range reqs {
			s.dispatchSend(r.msg, r.req, r.reply)
		}
	}

	// Any prepare/execute that found no open connection when it first
	// arrived gets the same retry: tryDispatchPrepare is a no-op for a
	// fingerprint that's already in flight or already satisfied.
	for fp, pp := range s.pendingPrepares {
		s.tryDispatchPrepare(fp, pp.text)
	}
	for fp, pe := range s.pendingExecutes {
		s.tryDispatchPrepare(fp, pe.text)
	}
}

func (s *Session) handleConnectionStopped(ev connectionStoppedEvent) {
	h := s.registry.Ensure(ev.host)
	h.DeleteConnection(ev.conn)
	if h.IsDown() {
		return
	}
	s.openMissingConnections(h)
}

// doSend implements the `send` public contract: dispatch immediately if any
// connection is open, otherwise queue.
func (s *Session) doSend(msg message.Message, req transport.Request, reply chan Reply) {
	if s.anyOpenConnection() {
		s.dispatchSend(msg, req, reply)
		return
	}
	s.pendingRequests = append(s.pendingRequests, pendingRequest{msg: msg, req: req, reply: reply})
}

func (s *Session) anyOpenConnection() bool {
	for _, h := range s.registry.All() {
		if h.OpenCount() > 0 {
			return true
		}
	}
	return false
}

func (s *Session) buildCandidates(hosts []*transport.Host, req transport.Request) []candidate {
	conns := s.cfg.Balancer.Select(hosts, req)
	out := make([]candidate, 0, len(conns))
	for _, c := range conns {
		if h, ok := s.registry.HostOf(c); ok {
			out = append(out, candidate{host: h, conn: c})
		}
	}
	return out
}

func (s *Session) buildExecCandidates(fp transport.Fingerprint, hosts []*transport.Host, req transport.Request) []execCandidate {
	conns := s.cfg.Balancer.Select(hosts, req)
	out := make([]execCandidate, 0, len(conns))
	for _, c := range conns {
		h, ok := s.registry.HostOf(c)
		if !ok {
			continue
		}
		ps, ok := h.Prepared(fp)
		if !ok {
			continue
		}
		out = append(out, execCandidate{candidate{host: h, conn: c}, ps})
	}
	return out
}

func (s *Session) dispatchSend(msg message.Message, req transport.Request, reply chan Reply) {
	candidates := s.buildCandidates(s.registry.All(), req)
	if len(candidates) == 0 {
		reply <- Reply{Err: ErrNoConnectionsAvailable}
		return
	}
	go func() {
		res := runDispatch(s.ctx, candidates, msg, s.cfg.RetryPredicate, req, s.cfg.Balancer)
		reply <- Reply{Msg: res.msg, Err: s.wrapDispatchErr(res)}
	}()
}

func (s *Session) dispatchExecute(fp transport.Fingerprint, hosts []*transport.Host, values []*primitive.Value, params QueryParams, reply chan Reply) {
	candidates := s.buildExecCandidates(fp, hosts, transport.Request{Idempotent: true})
	if len(candidates) == 0 {
		reply <- Reply{Err: ErrNoConnectionsAvailable}
		return
	}
	go func() {
		build := func(ps transport.PreparedStatement) message.Message {
			return &message.Execute{QueryId: ps.ID, ResultMetadataId: ps.ResultMetadataID, Options: params.toOptions(values)}
		}
		res := runPreparedDispatch(s.ctx, candidates, build, s.cfg.RetryPredicate, transport.Request{Idempotent: true}, s.cfg.Balancer)
		reply <- Reply{Msg: res.msg, Err: s.wrapDispatchErr(res)}
	}()
}

// tryDispatchPrepare sends a PREPARE for fp if one isn't already in flight
// and at least one candidate connection exists. If there is no connection
// open yet, it does nothing instead of failing — the pending entry stays
// queued and handleConnectionOpened retries every fingerprint still
// waiting, the same cold-start discipline doSend uses for plain requests.
func (s *Session) tryDispatchPrepare(fp transport.Fingerprint, text string) {
	if s.preparesInFlight[fp] {
		return
	}
	candidates := s.buildCandidates(s.registry.All(), transport.Request{})
	if len(candidates) == 0 {
		return
	}
	s.preparesInFlight[fp] = true
	go func() {
		msg := &message.Prepare{Query: text, Keyspace: s.cfg.Keyspace}
		res := runDispatch(s.ctx, candidates, msg, s.cfg.RetryPredicate, transport.Request{}, s.cfg.Balancer)
		if res.err != nil {
			s.pushEvent(prepareFailedEvent{fp: fp, err: s.wrapDispatchErr(res)})
			return
		}
		ps, err := preparedResultOf(res.msg)
		if err != nil {
			s.pushEvent(prepareFailedEvent{fp: fp, err: err})
			return
		}
		s.pushEvent(preparedEvent{host: res.host.ID, fp: fp, ps: ps})
	}()
}

func (s *Session) wrapDispatchErr(res dispatchResult) error {
	if res.err == nil {
		return nil
	}
	var cqlErr *transport.CqlError
	if errors.As(res.err, &cqlErr) {
		return cqlErr
	}
	host := "unknown"
	if res.host != nil {
		host = string(res.host.ID)
	}
	return &ConnectionFailure{Host: host, Err: res.err}
}

func (s *Session) handlePrepareCall(ev prepareEvent) {
	encoded, err := transport.EncodePrepare(s.cfg.Version, ev.text, s.cfg.Keyspace)
	if err != nil {
		ev.reply <- Reply{Err: &EncodeError{Err: err}}
		return
	}
	fp := transport.FingerprintOf(encoded)

	if len(s.registry.PreferredHosts(fp)) > 0 {
		ev.reply <- Reply{}
		return
	}

	if pp, exists := s.pendingPrepares[fp]; exists {
		pp.waiters = append(pp.waiters, ev.reply)
		s.pendingPrepares[fp] = pp
	} else {
		s.pendingPrepares[fp] = pendingPrepare{text: ev.text, waiters: []chan Reply{ev.reply}}
	}
	s.tryDispatchPrepare(fp, ev.text)
}

func (s *Session) handleExecute(ev executeEvent) {
	if len(ev.values) == 0 {
		msg := &message.Query{Query: ev.text, Options: ev.params.toOptions(nil)}
		s.doSend(msg, transport.Request{Idempotent: true}, ev.reply)
		return
	}

	encoded, err := transport.EncodePrepare(s.cfg.Version, ev.text, s.cfg.Keyspace)
	if err != nil {
		ev.reply <- Reply{Err: &EncodeError{Err: err}}
		return
	}
	fp := transport.FingerprintOf(encoded)

	if hosts := s.registry.PreferredHosts(fp); len(hosts) > 0 {
		s.dispatchExecute(fp, hosts, ev.values, ev.params, ev.reply)
		return
	}

	waiter := executeWaiter{values: ev.values, params: ev.params, reply: ev.reply}
	if pe, exists := s.pendingExecutes[fp]; exists {
		pe.waiters = append(pe.waiters, waiter)
		s.pendingExecutes[fp] = pe
	} else {
		s.pendingExecutes[fp] = pendingExecute{text: ev.text, waiters: []executeWaiter{waiter}}
	}
	s.tryDispatchPrepare(fp, ev.text)
}

func (s *Session) handlePrepared(ev preparedEvent) {
	h := s.registry.Ensure(ev.host)
	h.PutPrepared(ev.fp, ev.ps)
	delete(s.preparesInFlight, ev.fp)

	if pp, exists := s.pendingPrepares[ev.fp]; exists {
		delete(s.pendingPrepares, ev.fp)
		for _, w := range pp.waiters {
			w <- Reply{}
		}
	}

	if pe, exists := s.pendingExecutes[ev.fp]; exists {
		delete(s.pendingExecutes, ev.fp)
		hosts := s.registry.PreferredHosts(ev.fp)
		for _, w := range pe.waiters {
			s.dispatchExecute(ev.fp, hosts, w.values, w.params, w.reply)
		}
	}
}

func (s *Session) handlePrepareFailed(ev prepareFailedEvent) {
	delete(s.preparesInFlight, ev.fp)
	if pp, exists := s.pendingPrepares[ev.fp]; exists {
		delete(s.pendingPrepares, ev.fp)
		for _, w := range pp.waiters {
			w <- Reply{Err: ev.err}
		}
	}
	if pe, exists := s.pendingExecutes[ev.fp]; exists {
		delete(s.pendingExecutes, ev.fp)
		for _, w := range pe.waiters {
			w.reply <- Reply{Err: ev.err}
		}
	}
}

// Send dispatches an arbitrary CQL request and returns its reply,
// bypassing prepare/execute orchestration.
func (s *Session) Send(ctx context.Context, msg message.Message) (message.Message, error) {
	reply := make(chan Reply, 1)
	s.pushEvent(sendEvent{msg: msg, req: transport.Request{}, reply: reply})
	select {
	case r := <-reply:
		return r.Msg, r.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Prepare prepares statementText across the cluster and returns a stable
// handle later `Execute` calls use to trigger the prepared path — the
// statement text itself, chosen as the handle representation since it
// requires no additional bookkeeping to remain stable across reconnects.
func (s *Session) Prepare(ctx context.Context, statementText string) (string, error) {
	reply := make(chan Reply, 1)
	s.pushEvent(prepareEvent{text: statementText, reply: reply})
	select {
	case r := <-reply:
		if r.Err != nil {
			return "", r.Err
		}
		return statementText, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Execute runs statementText with the given bound values and parameters.
// An empty values slice takes the plain QUERY path; a non-empty one takes
// the prepare-then-execute path, transparently preparing on cold cache.
func (s *Session) Execute(ctx context.Context, statementText string, values []interface{}, params QueryParams) (message.Message, error) {
	encoded, err := encodeValues(values)
	if err != nil {
		return nil, &EncodeError{Err: err}
	}

	reply := make(chan Reply, 1)
	s.pushEvent(executeEvent{text: statementText, values: encoded, params: params, reply: reply})
	select {
	case r := <-reply:
		return r.Msg, r.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close shuts the Session down: every pending caller is failed with
// ErrClusterGone and the event loop exits. Safe to call once.
func (s *Session) Close() error {
	s.cancel()
	<-s.done
	return nil
}
