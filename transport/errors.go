package transport

import (
	"errors"
	"fmt"

	"github.com/datastax/go-cassandra-native-protocol/message"
	"github.com/datastax/go-cassandra-native-protocol/primitive"
)

// ErrConnClosed is returned by Conn.Send once the connection has been torn
// down, either locally or because of a read/write failure.
var ErrConnClosed = errors.New("connection closed")

// CqlError wraps a server-side ERROR response, preserving its error code so
// callers (and the default retry predicate) can distinguish transient
// failures such as Overloaded/Unavailable from permanent ones such as a
// syntax error.
type CqlError struct {
	Code    primitive.ErrorCode
	Message string
}

// NewCqlError builds a CqlError from a decoded message.Error response.
func NewCqlError(m message.Error) *CqlError {
	return &CqlError{Code: m.GetErrorCode(), Message: m.GetErrorMessage()}
}

func (e *CqlError) Error() string {
	return fmt.Sprintf("cql error %v: %s", e.Code, e.Message)
}

// Retryable reports whether this error code represents a transient,
// node-local condition worth retrying on a different host, as opposed to a
// request that is permanently invalid (bad CQL, auth failure, ...).
func (e *CqlError) Retryable() bool {
	switch e.Code {
	case primitive.ErrorCodeOverloaded,
		primitive.ErrorCodeIsBootstrapping,
		primitive.ErrorCodeServerError,
		primitive.ErrorCodeUnavailable,
		primitive.ErrorCodeWriteTimeout,
		primitive.ErrorCodeReadTimeout:
		return true
	default:
		return false
	}
}

// Unprepared reports whether the server rejected an EXECUTE because it no
// longer holds the prepared statement for this query id, which can happen
// mid-session on a single node (e.g. after a node restart outside of a clean
// host_down/host_up cycle). The Session does not act on it: such an error
// is not retryable, is surfaced to the caller, and the host's cached
// prepared statement is kept.
func (e *CqlError) Unprepared() bool {
	return e.Code == primitive.ErrorCodeUnprepared
}
