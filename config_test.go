package scylla

import "testing"

func TestDefaultConfigValidates(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig("ks", "127.0.0.1:9042")
	if err := cfg.Validate(); err != nil {
		t.Fatalf("DefaultConfig should validate cleanly: %v", err)
	}
}

func TestValidateRejectsNoHosts(t *testing.T) {
	t.Parallel()
	cfg := Config{}
	if err := cfg.Validate(); err != ErrNoHosts {
		t.Fatalf("Validate() = %v, want ErrNoHosts", err)
	}
}

func TestValidateFillsDefaults(t *testing.T) {
	t.Parallel()
	cfg := Config{Hosts: []string{"h1"}}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.Balancer == nil || cfg.RetryPredicate == nil || cfg.ReconnectionPolicy == nil || cfg.Logger == nil {
		t.Fatalf("Validate must fill every pluggable default, got %+v", cfg)
	}
	if cfg.Timeout <= 0 {
		t.Fatal("Validate must fill a positive default timeout")
	}
}

func TestCloneDoesNotAliasHosts(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig("ks", "h1", "h2")
	clone := cfg.Clone()
	clone.Hosts[0] = "mutated"
	if cfg.Hosts[0] == "mutated" {
		t.Fatal("Clone must deep-copy the Hosts slice")
	}
}
