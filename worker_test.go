package scylla

import (
	"context"
	"errors"
	"testing"

	"github.com/datastax/go-cassandra-native-protocol/message"
	"github.com/datastax/go-cassandra-native-protocol/primitive"

	"github.com/scylla-go/session-core/transport"
)

func TestDefaultRetryPredicateRetryableCqlError(t *testing.T) {
	t.Parallel()
	err := &transport.CqlError{Code: primitive.ErrorCodeOverloaded}
	if !DefaultRetryPredicate(err, transport.Request{}) {
		t.Fatal("an overloaded CqlError must be retried")
	}
}

func TestDefaultRetryPredicateNonRetryableCqlError(t *testing.T) {
	t.Parallel()
	err := &transport.CqlError{Code: primitive.ErrorCodeSyntaxError}
	if DefaultRetryPredicate(err, transport.Request{}) {
		t.Fatal("a syntax error must not be retried")
	}
}

func TestDefaultRetryPredicateNonCqlErrorDefaultsToRetry(t *testing.T) {
	t.Parallel()
	if !DefaultRetryPredicate(errors.New("i/o timeout"), transport.Request{}) {
		t.Fatal("a plain transport-level error should default to retryable")
	}
}

func TestRunDispatchNoCandidates(t *testing.T) {
	t.Parallel()
	res := runDispatch(context.Background(), nil, &message.Options{}, DefaultRetryPredicate, transport.Request{}, transport.NewRoundRobin(1))
	if res.err != ErrNoConnectionsAvailable {
		t.Fatalf("err = %v, want ErrNoConnectionsAvailable", res.err)
	}
}

func TestRunPreparedDispatchNoCandidates(t *testing.T) {
	t.Parallel()
	build := func(transport.PreparedStatement) message.Message { return &message.Options{} }
	res := runPreparedDispatch(context.Background(), nil, build, DefaultRetryPredicate, transport.Request{}, transport.NewRoundRobin(1))
	if res.err != ErrNoConnectionsAvailable {
		t.Fatalf("err = %v, want ErrNoConnectionsAvailable", res.err)
	}
}

func TestPreparedResultOfWrongType(t *testing.T) {
	t.Parallel()
	if _, err := preparedResultOf(&message.Options{}); err == nil {
		t.Fatal("expected an error for a non-PreparedResult response")
	}
}

func TestPreparedResultOfExtractsIDs(t *testing.T) {
	t.Parallel()
	pr := &message.PreparedResult{PreparedQueryId: []byte{1, 2}, ResultMetadataId: []byte{3, 4}}
	ps, err := preparedResultOf(pr)
	if err != nil {
		t.Fatalf("preparedResultOf: %v", err)
	}
	if string(ps.ID) != string([]byte{1, 2}) || string(ps.ResultMetadataID) != string([]byte{3, 4}) {
		t.Fatalf("got %+v, want ID=[1 2] ResultMetadataID=[3 4]", ps)
	}
}
