// File: reactor/tls.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Client TLS engine layered on an established connection.

package reactor

import (
	"context"
	"crypto/tls"
	"net"
)

// TLSConfig returns the client config used for host. base may be nil.
func TLSConfig(base *tls.Config, host string) *tls.Config {
	var cfg *tls.Config
	if base != nil {
		cfg = base.Clone()
	} else {
		cfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	if cfg.ServerName == "" {
		cfg.ServerName = host
	}
	return cfg
}

// Handshake performs a client handshake over conn and returns the session.
// The caller keeps ownership of conn on failure.
func Handshake(ctx context.Context, conn net.Conn, cfg *tls.Config) (*tls.Conn, error) {
	tc := tls.Client(conn, cfg)
	if err := tc.HandshakeContext(ctx); err != nil {
		return nil, err
	}
	return tc, nil
}
