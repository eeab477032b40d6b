package gocql

import (
	"context"

	"github.com/datastax/go-cassandra-native-protocol/message"

	scylla "github.com/scylla-go/session-core"
	"github.com/scylla-go/session-core/transport"
)

// SingleHostQueryExecutor opens a single connection to one host and sends
// requests over it directly, bypassing the Session actor's pooling and
// load balancing — useful for diagnostic queries against a known node.
// Consistency level used is ONE, mirroring upstream gocql's executor.
type SingleHostQueryExecutor struct {
	conn *transport.Conn
}

// NewSingleHostQueryExecutor dials cfg.Hosts[0] directly. The caller owns
// the returned executor and must Close it after use.
func NewSingleHostQueryExecutor(cfg *ClusterConfig) (SingleHostQueryExecutor, error) {
	if len(cfg.Hosts) < 1 {
		return SingleHostQueryExecutor{}, scylla.ErrNoHosts
	}

	scfg := sessionConfigFromGocql(cfg)
	host := cfg.Hosts[0]
	conn, err := transport.Dial(context.Background(), transport.HostId(host), host, scfg.ConnConfig, nil)
	if err != nil {
		return SingleHostQueryExecutor{}, err
	}
	return SingleHostQueryExecutor{conn}, nil
}

// Exec executes stmt without returning any rows.
func (e SingleHostQueryExecutor) Exec(stmt string, values ...interface{}) error {
	_, err := e.conn.Send(context.Background(), &message.Query{
		Query:   stmt,
		Options: &message.QueryOptions{Consistency: One.toPrimitive()},
	})
	return err
}

func (e SingleHostQueryExecutor) Close() {
	if e.conn != nil {
		e.conn.Close()
	}
}
