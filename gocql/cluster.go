package gocql

import (
	"time"

	scylla "github.com/scylla-go/session-core"
)

// ClusterConfig mirrors the slice of upstream gocql's ClusterConfig this
// session core can actually honor: contact points, keyspace and timeout.
// Consistency is stored but not applied: queries built by Session.Query
// use ONE (scylla.DefaultQueryParams) unless Query.Consistency sets another
// level. TLS, authentication, host filtering, observers
// and retry/convinction policies have no home here — see DESIGN.md.
type ClusterConfig struct {
	Hosts       []string
	Keyspace    string
	Consistency Consistency
	Timeout     time.Duration
}

func NewCluster(hosts ...string) *ClusterConfig {
	return &ClusterConfig{Hosts: hosts, Consistency: Quorum, Timeout: 10 * time.Second}
}

func (cfg *ClusterConfig) CreateSession() (*Session, error) {
	return NewSession(*cfg)
}

func sessionConfigFromGocql(cfg *ClusterConfig) scylla.Config {
	scfg := scylla.DefaultConfig(cfg.Keyspace, cfg.Hosts...)
	if cfg.Timeout > 0 {
		scfg.Timeout = cfg.Timeout
	}
	return scfg
}
