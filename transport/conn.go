package transport

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"runtime"
	"sync"
	"time"

	"github.com/datastax/go-cassandra-native-protocol/frame"
	"github.com/datastax/go-cassandra-native-protocol/message"
	"github.com/datastax/go-cassandra-native-protocol/primitive"
	"github.com/google/uuid"
)

// request is one outstanding frame write, queued to the writer goroutine.
// The writer and reader run as two independent goroutines so a slow reply
// never blocks the next frame going out.
type request struct {
	msg      message.Message
	streamID int16
	replyCh  chan reply
}

type reply struct {
	msg message.Message
	err error
}

// streamIDAllocator hands out the 32767 positive stream ids the v4 protocol
// allows, recycling them as replies come back. A buffered channel doubles
// as a free list, exactly as client/inflight.go's streamIds channel does.
type streamIDAllocator struct {
	ids chan int16
}

func newStreamIDAllocator(max int) *streamIDAllocator {
	a := &streamIDAllocator{ids: make(chan int16, max)}
	for i := 1; i <= max; i++ {
		a.ids <- int16(i)
	}
	return a
}

func (a *streamIDAllocator) alloc(ctx context.Context) (int16, error) {
	select {
	case id := <-a.ids:
		return id, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (a *streamIDAllocator) free(id int16) {
	a.ids <- id
}

const (
	requestChanSize  = 1024
	maxInFlight      = 32767
	defaultIOTimeout = 10 * time.Second
)

// ConnConfig configures one connection's handshake and I/O behavior.
type ConnConfig struct {
	Keyspace    string
	Timeout     time.Duration
	TCPNoDelay  bool
	Version     primitive.ProtocolVersion
	Compression BodyCompressor
	Logger      Logger
}

// DefaultConnConfig mirrors scylla.DefaultSessionConfig's connection
// defaults: protocol v4, no compression, a 10s I/O timeout.
func DefaultConnConfig(keyspace string) ConnConfig {
	return ConnConfig{
		Keyspace:   keyspace,
		Timeout:    defaultIOTimeout,
		TCPNoDelay: true,
		Version:    primitive.ProtocolVersion4,
		Logger:     DefaultLogger(),
	}
}

// OnStopped is called exactly once, from the reader goroutine, when a
// connection's socket dies for any reason. The Session uses it to raise a
// connection_stopped event without the connection having to know anything
// about the event loop.
type OnStopped func(c *Conn, err error)

// Conn is one CQL native-protocol connection, stream-multiplexed: many
// logical requests share the socket, each tagged with its own stream id, so
// a Worker walking candidate connections never queues behind an unrelated
// in-flight request. Writer/reader loops follow the common connWriter/
// connReader split, with stream-id bookkeeping modeled on
// client/inflight.go, expressed against the datastax frame.Codec instead
// of a hand-rolled frame encoder.
type Conn struct {
	// id uniquely identifies this connection instance for log correlation
	// across its lifetime, independent of the host/stream ids it reuses.
	id      uuid.UUID
	host    HostId
	conn    net.Conn
	codec   frame.Codec
	version primitive.ProtocolVersion

	writeCh chan request

	mu       sync.Mutex
	inFlight map[int16]chan reply
	ids      *streamIDAllocator

	closeOnce sync.Once
	closed    chan struct{}

	log Logger
}

// Dial opens a TCP connection to addr, performs the CQL STARTUP handshake
// (optionally negotiating compression and switching keyspace) and returns
// a ready-to-use Conn. onStopped is invoked from the background if the
// connection later dies.
func Dial(ctx context.Context, host HostId, addr string, cfg ConnConfig, onStopped OnStopped) (*Conn, error) {
	if cfg.Logger == nil {
		cfg.Logger = DefaultLogger()
	}
	if cfg.Version == 0 {
		cfg.Version = primitive.ProtocolVersion4
	}

	d := net.Dialer{Timeout: cfg.Timeout}
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	if tcp, ok := nc.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(cfg.TCPNoDelay)
	}

	codec := frame.NewCodecWithCompression(cfg.Compression)
	c := &Conn{
		id:       uuid.New(),
		host:     host,
		conn:     nc,
		codec:    codec,
		version:  cfg.Version,
		writeCh:  make(chan request, requestChanSize),
		inFlight: make(map[int16]chan reply),
		ids:      newStreamIDAllocator(maxInFlight),
		closed:   make(chan struct{}),
		log:      cfg.Logger,
	}

	go c.writeLoop()
	go c.readLoop(onStopped)

	if err := c.startup(ctx, cfg); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func (c *Conn) startup(ctx context.Context, cfg ConnConfig) error {
	compressor := cfg.Compression
	if compressor != nil {
		supported, err := c.querySupported(ctx)
		if err != nil {
			return fmt.Errorf("startup: options: %w", err)
		}
		if !supportsCompression(supported, compressor.Algorithm()) {
			// The server doesn't advertise this algorithm: negotiate down
			// to uncompressed rather than failing the handshake over it.
			c.log.Warn().Str("algorithm", compressor.Algorithm()).Msg("server does not support configured compression, continuing uncompressed")
			compressor = nil
		}
	}

	opts := map[string]string{"CQL_VERSION": "3.0.0"}
	if compressor != nil {
		opts["COMPRESSION"] = compressor.Algorithm()
	}
	resp, err := c.Send(ctx, &message.Startup{Options: opts})
	if err != nil {
		return fmt.Errorf("startup: %w", err)
	}
	switch m := resp.(type) {
	case *message.Ready:
	case *message.Authenticate:
		return fmt.Errorf("startup: server requires authentication (%s), which is out of scope", m.Authenticator)
	default:
		return fmt.Errorf("startup: unexpected response %T", resp)
	}

	if cfg.Keyspace != "" {
		q := &message.Query{
			Query:   "USE " + cfg.Keyspace,
			Options: &message.QueryOptions{Consistency: primitive.ConsistencyLevelOne},
		}
		if _, err := c.Send(ctx, q); err != nil {
			return fmt.Errorf("use keyspace %s: %w", cfg.Keyspace, err)
		}
	}
	return nil
}

// querySupported asks the server, via OPTIONS, which values it accepts for
// each STARTUP option, and returns the advertised COMPRESSION algorithms.
func (c *Conn) querySupported(ctx context.Context) ([]string, error) {
	resp, err := c.Send(ctx, &message.Options{})
	if err != nil {
		return nil, err
	}
	sup, ok := resp.(*message.Supported)
	if !ok {
		return nil, fmt.Errorf("unexpected response %T", resp)
	}
	return sup.Options["COMPRESSION"], nil
}

// supportsCompression reports whether the server-advertised algorithm list
// contains name. It resolves name through compressorByName first, so an
// algorithm we have no BodyCompressor for is never negotiated even if the
// server happens to list it.
func supportsCompression(supported []string, name string) bool {
	if _, ok := compressorByName(name); !ok {
		return false
	}
	for _, s := range supported {
		if s == name {
			return true
		}
	}
	return false
}

// HostID reports which host this connection belongs to.
func (c *Conn) HostID() HostId { return c.host }

// ID returns this connection instance's log-correlation identifier.
func (c *Conn) ID() uuid.UUID { return c.id }

// Send writes msg and blocks for its matching reply, multiplexed over this
// connection's shared socket by stream id.
func (c *Conn) Send(ctx context.Context, msg message.Message) (message.Message, error) {
	id, err := c.ids.alloc(ctx)
	if err != nil {
		return nil, fmt.Errorf("stream id alloc: %w", err)
	}

	replyCh := make(chan reply, 1)
	c.mu.Lock()
	c.inFlight[id] = replyCh
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.inFlight, id)
		c.mu.Unlock()
		c.ids.free(id)
	}()

	select {
	case c.writeCh <- request{msg: msg, streamID: id, replyCh: replyCh}:
	case <-c.closed:
		return nil, fmt.Errorf("send: %w", ErrConnClosed)
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case r := <-replyCh:
		return r.msg, r.err
	case <-c.closed:
		return nil, fmt.Errorf("send: %w", ErrConnClosed)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Conn) writeLoop() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	for {
		select {
		case r, ok := <-c.writeCh:
			if !ok {
				return
			}
			f := frame.NewFrame(c.version, r.streamID, r.msg)
			if err := c.codec.EncodeFrame(f, c.conn); err != nil {
				r.replyCh <- reply{err: fmt.Errorf("encode frame: %w", err)}
			}
		case <-c.closed:
			return
		}
	}
}

func (c *Conn) readLoop(onStopped OnStopped) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	br := bufio.NewReaderSize(c.conn, 8192)
	for {
		f, err := c.codec.DecodeFrame(br)
		if err != nil {
			c.fail(err, onStopped)
			return
		}

		c.mu.Lock()
		ch := c.inFlight[f.Header.StreamId]
		c.mu.Unlock()

		if ch == nil {
			c.log.Warn().Int16("stream", f.Header.StreamId).Msg("reply for unknown stream id")
			continue
		}

		if errMsg, ok := f.Body.Message.(message.Error); ok {
			ch <- reply{err: NewCqlError(errMsg)}
			continue
		}
		ch <- reply{msg: f.Body.Message}
	}
}

// fail tears the connection down after an unrecoverable I/O error and
// reports it exactly once via onStopped.
func (c *Conn) fail(err error, onStopped OnStopped) {
	c.Close()
	if onStopped != nil {
		onStopped(c, fmt.Errorf("connection lost: %w", err))
	}
}

// Close shuts the socket and unblocks every goroutine waiting on this
// connection. Safe to call more than once.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.conn.Close()
	})
	return err
}
