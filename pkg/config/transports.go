package config

import (
	"strings"

	"github.com/krallin/hyper-02/pkg/transport"
)

// TransportConfig selects a transport and the address it binds or dials.
// Example YAML:
//
//	server:
//	  transport:
//	    kind: tcp
//	    host: 0.0.0.0
//	    port: 7420
//	    reuse_port: true
//	client:
//	  transport:
//	    kind: pipe
//	    host: /run/hypernet.sock
type TransportConfig struct {
	// Kind is one of tcp, mem, pipe (alias unix, winpipe) or quic.
	Kind string `mapstructure:"kind" validate:"transport_kind"`
	// Host is an IP or hostname, a mem name, or a socket path for pipe.
	Host string `mapstructure:"host"`
	// Port is ignored by pipe and must be 0 there.
	Port uint16 `mapstructure:"port"`
	// Network narrows tcp to tcp4 or tcp6.
	Network string `mapstructure:"network" validate:"omitempty,oneof=tcp tcp4 tcp6"`
	// Backlog of pending connections; 0 uses the system default.
	Backlog int `mapstructure:"backlog" validate:"gte=0"`
	// ReuseAddr sets SO_REUSEADDR on tcp reservations (Linux).
	ReuseAddr bool `mapstructure:"reuse_addr"`
	// ReusePort sets SO_REUSEPORT on tcp listeners (Linux).
	ReusePort bool `mapstructure:"reuse_port"`
}

// TransportKind returns the parsed Kind.
func (t TransportConfig) TransportKind() transport.Kind { return transport.ParseKind(t.Kind) }

func (t *TransportConfig) normalize() {
	t.Kind = strings.ToLower(strings.TrimSpace(t.Kind))
	t.Host = strings.TrimSpace(t.Host)
	t.Network = strings.ToLower(strings.TrimSpace(t.Network))
}
