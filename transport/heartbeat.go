package transport

import (
	"context"
	"time"

	"github.com/datastax/go-cassandra-native-protocol/message"
)

// DefaultHeartbeatInterval is how often MonitorProcess probes a connection
// when no interval is configured.
const DefaultHeartbeatInterval = 30 * time.Second

// OnProcessDown reports that a connection's remote process stopped
// answering heartbeat probes, even though its socket never reported a
// failure on its own — the defensive counterpart to OnStopped.
type OnProcessDown func(c *Conn)

// MonitorProcess runs c's heartbeat loop until ctx is cancelled or the
// connection closes, probing it every interval with an OPTIONS request —
// the same request datastax/go-cassandra-native-protocol's own
// HeartbeatHandler answers in its test harness, and the one real drivers
// use to tell a connection that stopped hearing back from its node apart
// from one whose TCP socket simply died. A failed probe calls onDown
// exactly once and the monitor exits: a connection judged process-down is
// the Session's to replace, not the monitor's to keep probing.
func MonitorProcess(ctx context.Context, c *Conn, interval time.Duration, onDown OnProcessDown) {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.closed:
			return
		case <-t.C:
			pctx, cancel := context.WithTimeout(ctx, interval)
			_, err := c.Send(pctx, &message.Options{})
			cancel()
			if err != nil {
				if onDown != nil {
					onDown(c)
				}
				return
			}
		}
	}
}
