package gocql

import (
	"context"
	"fmt"

	"github.com/datastax/go-cassandra-native-protocol/message"

	scylla "github.com/scylla-go/session-core"
)

// Iter walks the pages a query returns, driven by QueryParams.PagingState.
// Like Query.Scan, it can locate rows but not decode them into typed Go
// values — see DESIGN.md.
type Iter struct {
	session *scylla.Session
	handle  string
	values  []interface{}
	params  scylla.QueryParams

	page []message.Row
	pos  int
	done bool
	err  error
}

// Next advances to the next row, fetching the next page if needed, and
// reports whether a row is available.
func (it *Iter) Next() bool {
	if it.done {
		return false
	}
	if it.pos >= len(it.page) {
		if !it.fetchNextPage() {
			return false
		}
	}
	it.pos++
	return it.pos <= len(it.page)
}

func (it *Iter) fetchNextPage() bool {
	resp, err := it.session.Execute(context.Background(), it.handle, it.values, it.params)
	if err != nil {
		it.err = err
		it.done = true
		return false
	}
	rows, ok := resp.(*message.RowsResult)
	if !ok {
		it.err = fmt.Errorf("Iter: response %T carries no rows", resp)
		it.done = true
		return false
	}
	if len(rows.Data) == 0 || rows.Metadata == nil || rows.Metadata.PagingState == nil {
		it.done = true
	} else {
		it.params.PagingState = rows.Metadata.PagingState
	}
	it.page = rows.Data
	it.pos = 0
	return len(it.page) > 0
}

func (it *Iter) Close() error {
	it.done = true
	return it.err
}
