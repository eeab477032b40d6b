package gocql

import (
	"context"

	scylla "github.com/scylla-go/session-core"
)

// Session adapts this repository's scylla.Session to the familiar
// gocql.Session surface (Query(...).Bind(...).Exec()), so code written
// against upstream gocql keeps compiling against this session core.
type Session struct {
	session *scylla.Session
}

func NewSession(cfg ClusterConfig) (*Session, error) {
	session, err := scylla.NewSession(context.Background(), sessionConfigFromGocql(&cfg))
	if err != nil {
		return nil, err
	}
	return &Session{session}, nil
}

// Query prepares stmt against the underlying Session and returns a Query
// bound to the resulting handle. Unlike upstream gocql, preparation
// happens eagerly here rather than lazily on first Exec, since
// scylla.Session.Prepare already does the work of returning a stable
// handle cheaply for statements the registry has already cached.
func (s *Session) Query(stmt string, values ...interface{}) *Query {
	handle, err := s.session.Prepare(context.Background(), stmt)
	return &Query{
		session: s.session,
		handle:  handle,
		values:  values,
		params:  scylla.DefaultQueryParams(),
		err:     err,
	}
}

func (s *Session) Close() {
	s.session.Close()
}
