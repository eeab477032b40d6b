package gocql

import (
	"context"
	"fmt"

	"github.com/datastax/go-cassandra-native-protocol/message"

	scylla "github.com/scylla-go/session-core"
)

// Query wraps a prepared-statement handle (the original statement text,
// per this session core's Open Question resolution — see DESIGN.md) the
// way upstream gocql's Query wraps a server-issued query id.
type Query struct {
	ctx     context.Context
	session *scylla.Session
	handle  string
	values  []interface{}
	params  scylla.QueryParams
	err     error
}

func (q *Query) Bind(values ...interface{}) *Query {
	q.values = values
	return q
}

func (q *Query) Exec() error {
	if q.err != nil {
		return q.err
	}
	_, err := q.session.Execute(q.context(), q.handle, q.values, q.params)
	return err
}

// Scan executes the query and checks the first returned row's column count
// against len(dest). It locates the row but cannot decode it: this session
// core does not implement typed column unmarshaling, so rows arrive as raw
// column bytes, nothing is copied into dest and Scan always returns an
// error.
func (q *Query) Scan(dest ...interface{}) error {
	if q.err != nil {
		return q.err
	}
	resp, err := q.session.Execute(q.context(), q.handle, q.values, q.params)
	if err != nil {
		return err
	}
	rows, ok := resp.(*message.RowsResult)
	if !ok {
		return fmt.Errorf("Scan: response %T carries no rows", resp)
	}
	if len(rows.Data) == 0 {
		return fmt.Errorf("Scan: no rows returned")
	}
	if len(rows.Data[0]) != len(dest) {
		return fmt.Errorf("column count mismatch expected %d, got %d", len(dest), len(rows.Data[0]))
	}
	return fmt.Errorf("Scan: typed column unmarshaling is not implemented by this session core")
}

func (q *Query) Iter() *Iter {
	return &Iter{session: q.session, handle: q.handle, values: q.values, params: q.params}
}

func (q *Query) PageSize(n int) *Query {
	q.params.PageSize = int32(n)
	return q
}

func (q *Query) PageState(state []byte) *Query {
	q.params.PagingState = state
	return q
}

func (q *Query) Consistency(c Consistency) *Query {
	q.params.Consistency = c.toPrimitive()
	return q
}

func (q *Query) WithContext(ctx context.Context) *Query {
	q.ctx = ctx
	return q
}

func (q *Query) context() context.Context {
	if q.ctx != nil {
		return q.ctx
	}
	return context.Background()
}
