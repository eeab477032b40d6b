package scylla

import (
	"context"
	"errors"
	"fmt"

	"github.com/datastax/go-cassandra-native-protocol/message"

	"github.com/scylla-go/session-core/transport"
)

// RetryPredicate decides, in Worker context, whether a failed attempt
// should be retried against the next candidate connection. It must not
// touch Session state — it only sees the error and the request metadata
// the balancer also sees.
type RetryPredicate func(err error, req transport.Request) bool

// DefaultRetryPredicate retries transport-level failures and retryable CQL
// errors (overloaded, unavailable, timeouts, bootstrapping), but never
// retries EncodeError or a non-retryable CqlError such as a syntax error.
func DefaultRetryPredicate(err error, _ transport.Request) bool {
	var encErr *EncodeError
	if errors.As(err, &encErr) {
		return false
	}
	var cqlErr *transport.CqlError
	if errors.As(err, &cqlErr) {
		return cqlErr.Retryable()
	}
	return true
}

// candidate pairs a connection with the host it belongs to, since a
// dispatch result needs to report which host it ultimately landed on (for
// balancer feedback and for the prepared/host bookkeeping).
type candidate struct {
	host *transport.Host
	conn *transport.Conn
}

// dispatchResult is what a Worker run reports back, whether it is consumed
// by a caller-facing reply channel or folded into a session event.
type dispatchResult struct {
	host *transport.Host
	msg  message.Message
	err  error
}

// runDispatch walks candidates in order, writing msg to each and awaiting
// a reply, until one succeeds, the retry predicate refuses a retry, or the
// candidate list is exhausted. It is
// fire-and-forget from the Session's point of view — call it from its own
// goroutine and never from the event loop, so a slow or dead connection
// never blocks Session.handle.
func runDispatch(ctx context.Context, candidates []candidate, msg message.Message, retry RetryPredicate, req transport.Request, balancer transport.LoadBalancer) dispatchResult {
	if len(candidates) == 0 {
		return dispatchResult{err: ErrNoConnectionsAvailable}
	}

	var last dispatchResult
	for i, c := range candidates {
		resp, err := c.conn.Send(ctx, msg)
		last = dispatchResult{host: c.host, msg: resp, err: err}

		if fb, ok := balancer.(transport.FeedbackBalancer); ok {
			if err != nil {
				fb.OnFailure(c.host, c.conn, err)
			} else {
				fb.OnSuccess(c.host, c.conn)
			}
		}

		if err == nil {
			return last
		}
		if i == len(candidates)-1 || !retry(err, req) {
			return last
		}
	}
	return last
}

// runPreparedDispatch is the EXECUTE-specific variant of runDispatch: each
// candidate carries its own host-local PreparedStatement id, since the
// server hands out the query id per node even though the fingerprint that
// identifies "the same logical statement" is stable client-side.
type execCandidate struct {
	candidate
	ps transport.PreparedStatement
}

func runPreparedDispatch(ctx context.Context, candidates []execCandidate, buildExecute func(transport.PreparedStatement) message.Message, retry RetryPredicate, req transport.Request, balancer transport.LoadBalancer) dispatchResult {
	if len(candidates) == 0 {
		return dispatchResult{err: ErrNoConnectionsAvailable}
	}

	var last dispatchResult
	for i, c := range candidates {
		resp, err := c.conn.Send(ctx, buildExecute(c.ps))
		last = dispatchResult{host: c.host, msg: resp, err: err}

		if fb, ok := balancer.(transport.FeedbackBalancer); ok {
			if err != nil {
				fb.OnFailure(c.host, c.conn, err)
			} else {
				fb.OnSuccess(c.host, c.conn)
			}
		}

		if err == nil {
			return last
		}
		if i == len(candidates)-1 || !retry(err, req) {
			return last
		}
	}
	return last
}

// preparedResultOf extracts the PreparedStatement a PREPARE dispatch
// produced, or an error if the server replied with something unexpected.
func preparedResultOf(msg message.Message) (transport.PreparedStatement, error) {
	pr, ok := msg.(*message.PreparedResult)
	if !ok {
		return transport.PreparedStatement{}, fmt.Errorf("unexpected PREPARE response %T", msg)
	}
	return transport.PreparedStatement{ID: pr.PreparedQueryId, ResultMetadataID: pr.ResultMetadataId}, nil
}
