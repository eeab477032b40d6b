package scylla

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/datastax/go-cassandra-native-protocol/client"
	"github.com/datastax/go-cassandra-native-protocol/frame"
	"github.com/datastax/go-cassandra-native-protocol/message"
	"go.uber.org/goleak"
)

// TestMain asserts that closing a Session leaves no event-loop or
// connection goroutine running behind it.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeServer wraps the datastax client package's own CQL server stub
// (the same harness the protocol library tests itself with) so Session
// can be driven over a real loopback TCP connection without a live
// Cassandra cluster.
func fakeServer(t *testing.T, addr string, extra ...client.RequestHandler) *client.CqlServer {
	t.Helper()
	var keyspace string
	handlers := append([]client.RequestHandler{
		client.HandshakeHandler,
		client.HeartbeatHandler,
		client.NewSetKeyspaceHandler(func(ks string) { keyspace = ks }),
	}, extra...)

	server := client.NewCqlServer(addr, nil)
	server.RequestHandlers = handlers

	ctx, cancel := context.WithCancel(context.Background())
	if err := server.Start(ctx); err != nil {
		cancel()
		t.Fatalf("fake server Start: %v", err)
	}
	t.Cleanup(func() {
		cancel()
		_ = server.Close()
		_ = keyspace
	})
	return server
}

func newTestConfig(hosts ...string) Config {
	cfg := DefaultConfig("testks", hosts...)
	cfg.Timeout = 5 * time.Second
	return cfg
}

func TestSessionSendRoundTrip(t *testing.T) {
	t.Parallel()
	const addr = "127.0.0.1:19142"

	voidHandler := func(req *frame.Frame, _ *client.CqlServerConnection, _ client.RequestHandlerContext) *frame.Frame {
		q, ok := req.Body.Message.(*message.Query)
		if !ok || strings.HasPrefix(strings.ToUpper(strings.TrimSpace(q.Query)), "USE") {
			return nil
		}
		return frame.NewFrame(req.Header.Version, req.Header.StreamId, &message.VoidResult{})
	}
	fakeServer(t, addr, voidHandler)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s, err := NewSession(ctx, newTestConfig(addr))
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer s.Close()

	resp, err := s.Send(ctx, &message.Query{Query: "SELECT 1", Options: &message.QueryOptions{}})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if _, ok := resp.(*message.VoidResult); !ok {
		t.Fatalf("response = %T, want *message.VoidResult", resp)
	}
}

func TestSessionPrepareThenExecute(t *testing.T) {
	t.Parallel()
	const addr = "127.0.0.1:19143"

	queryID := []byte{0xAB, 0xCD}
	prepareHandler := func(req *frame.Frame, _ *client.CqlServerConnection, _ client.RequestHandlerContext) *frame.Frame {
		if _, ok := req.Body.Message.(*message.Prepare); !ok {
			return nil
		}
		return frame.NewFrame(req.Header.Version, req.Header.StreamId, &message.PreparedResult{
			PreparedQueryId: queryID,
		})
	}
	executeHandler := func(req *frame.Frame, _ *client.CqlServerConnection, _ client.RequestHandlerContext) *frame.Frame {
		ex, ok := req.Body.Message.(*message.Execute)
		if !ok {
			return nil
		}
		if string(ex.QueryId) != string(queryID) {
			return frame.NewFrame(req.Header.Version, req.Header.StreamId, &message.ServerError{ErrorMessage: "unknown prepared id"})
		}
		return frame.NewFrame(req.Header.Version, req.Header.StreamId, &message.RowsResult{})
	}
	fakeServer(t, addr, prepareHandler, executeHandler)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s, err := NewSession(ctx, newTestConfig(addr))
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer s.Close()

	handle, err := s.Prepare(ctx, "SELECT * FROM t WHERE k=?")
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if handle != "SELECT * FROM t WHERE k=?" {
		t.Fatalf("Prepare handle = %q, want the original statement text", handle)
	}

	resp, err := s.Execute(ctx, handle, []interface{}{"k1"}, DefaultQueryParams())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if _, ok := resp.(*message.RowsResult); !ok {
		t.Fatalf("response = %T, want *message.RowsResult", resp)
	}
}

// TestSessionConnProcessDownReroutesToOtherHost drives the
// connection_process_down path end to end: one host's connection never
// answers heartbeat probes, so the Session's own liveness monitoring (not
// a socket failure) must detect and evict it, after which every query
// lands on the other, healthy host.
func TestSessionConnProcessDownReroutesToOtherHost(t *testing.T) {
	t.Parallel()
	const deadAddr = "127.0.0.1:19150"
	const liveAddr = "127.0.0.1:19151"

	// deadAddr answers STARTUP exactly once, so the Session gets an
	// initial connection to detect process-down on, but never answers an
	// OPTIONS heartbeat probe and never completes STARTUP again after
	// that — once evicted, it stays down for the rest of the test, the
	// same as a node whose process actually died.
	var startupsSeen int32
	deadHandler := func(req *frame.Frame, conn *client.CqlServerConnection, ctx client.RequestHandlerContext) *frame.Frame {
		switch req.Body.Message.(type) {
		case *message.Options:
			return nil
		case *message.Startup:
			if atomic.AddInt32(&startupsSeen, 1) > 1 {
				return nil
			}
			return client.HandshakeHandler(req, conn, ctx)
		case *message.Query:
			return frame.NewFrame(req.Header.Version, req.Header.StreamId, &message.ServerError{ErrorMessage: "down"})
		}
		return nil
	}
	deadServer := client.NewCqlServer(deadAddr, nil)
	// The keyspace handler answers the session's USE so the first Dial
	// completes; every other query still gets deadHandler's error.
	deadServer.RequestHandlers = []client.RequestHandler{client.NewSetKeyspaceHandler(func(string) {}), deadHandler}
	deadCtx, deadCancel := context.WithCancel(context.Background())
	if err := deadServer.Start(deadCtx); err != nil {
		deadCancel()
		t.Fatalf("dead fake server Start: %v", err)
	}
	t.Cleanup(func() {
		deadCancel()
		_ = deadServer.Close()
	})

	liveHandler := func(req *frame.Frame, _ *client.CqlServerConnection, _ client.RequestHandlerContext) *frame.Frame {
		q, ok := req.Body.Message.(*message.Query)
		if !ok || strings.HasPrefix(strings.ToUpper(strings.TrimSpace(q.Query)), "USE") {
			return nil
		}
		return frame.NewFrame(req.Header.Version, req.Header.StreamId, &message.VoidResult{})
	}
	fakeServer(t, liveAddr, liveHandler)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	cfg := newTestConfig(deadAddr, liveAddr)
	cfg.HeartbeatInterval = 50 * time.Millisecond
	cfg.Timeout = 2 * time.Second

	s, err := NewSession(ctx, cfg)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer s.Close()

	query := func() (message.Message, error) {
		return s.Send(ctx, &message.Query{Query: "SELECT 1", Options: &message.QueryOptions{}})
	}

	deadline := time.Now().Add(10 * time.Second)
	var sawSuccess bool
	for time.Now().Before(deadline) {
		if resp, err := query(); err == nil {
			if _, ok := resp.(*message.VoidResult); ok {
				sawSuccess = true
				break
			}
		}
		time.Sleep(50 * time.Millisecond)
	}
	if !sawSuccess {
		t.Fatal("no query ever succeeded against the live host after the dead host's connection should have been evicted")
	}

	// The dead host's connection never reopens (its STARTUP is swallowed
	// after the first attempt), so routing has stabilized: every
	// subsequent query must land on the live host.
	for i := 0; i < 5; i++ {
		resp, err := query()
		if err != nil {
			t.Fatalf("Send after eviction: %v", err)
		}
		if _, ok := resp.(*message.VoidResult); !ok {
			t.Fatalf("response = %T, want *message.VoidResult (dead host's connection should stay evicted)", resp)
		}
	}
}

func TestSessionDuplicatePrepareSharesOneDispatch(t *testing.T) {
	t.Parallel()
	const addr = "127.0.0.1:19144"

	var prepareCount int32
	prepareHandler := func(req *frame.Frame, _ *client.CqlServerConnection, _ client.RequestHandlerContext) *frame.Frame {
		if _, ok := req.Body.Message.(*message.Prepare); !ok {
			return nil
		}
		atomic.AddInt32(&prepareCount, 1)
		return frame.NewFrame(req.Header.Version, req.Header.StreamId, &message.PreparedResult{PreparedQueryId: []byte{1}})
	}
	fakeServer(t, addr, prepareHandler)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s, err := NewSession(ctx, newTestConfig(addr))
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer s.Close()

	const text = "SELECT * FROM t WHERE k=?"
	type result struct {
		handle string
		err    error
	}
	results := make(chan result, 2)
	for i := 0; i < 2; i++ {
		go func() {
			h, err := s.Prepare(ctx, text)
			results <- result{h, err}
		}()
	}

	for i := 0; i < 2; i++ {
		select {
		case r := <-results:
			if r.err != nil {
				t.Fatalf("Prepare: %v", r.err)
			}
			if r.handle != text {
				t.Fatalf("handle = %q, want %q", r.handle, text)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for both prepare calls to be replied to")
		}
	}
	if n := atomic.LoadInt32(&prepareCount); n != 1 {
		t.Fatalf("server saw %d PREPARE requests, want 1 shared dispatch", n)
	}
}

