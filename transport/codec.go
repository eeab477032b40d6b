package transport

import (
	"bytes"
	"fmt"

	"github.com/datastax/go-cassandra-native-protocol/frame"
	"github.com/datastax/go-cassandra-native-protocol/message"
	"github.com/datastax/go-cassandra-native-protocol/primitive"
)

// EncodePrepare encodes a PREPARE request body the same way a live
// connection would put it on the wire, without needing one: the Session
// computes a query's Fingerprint once, up front, from these bytes, and
// reuses it as the cache key across every host regardless of which
// connection eventually issues the real PREPARE.
func EncodePrepare(version primitive.ProtocolVersion, query, keyspace string) ([]byte, error) {
	f := frame.NewFrame(version, 0, &message.Prepare{Query: query, Keyspace: keyspace})
	var buf bytes.Buffer
	codec := frame.NewCodec()
	if err := codec.EncodeFrame(f, &buf); err != nil {
		return nil, fmt.Errorf("encode PREPARE: %w", err)
	}
	return buf.Bytes(), nil
}
