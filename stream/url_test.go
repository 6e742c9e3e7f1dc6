// File: stream/url_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-stream/api"
)

func TestParseURL(t *testing.T) {
	cases := []struct {
		raw  string
		kind api.Kind
		host string
		port int
		path string
		ssl  bool
	}{
		{"data://aGVsbG8=", api.KindData, "", 0, "", false},
		{"file:///tmp/a%20b.bin", api.KindFile, "", 0, "/tmp/a b.bin", false},
		{"/var/log/x.log", api.KindFile, "", 0, "/var/log/x.log", false},
		{"sock://127.0.0.1:7000?tcp=", api.KindSock, "127.0.0.1", 7000, "", false},
		{"socks://example.com:443?tcp=", api.KindSock, "example.com", 443, "", true},
		{"sock://example.com:53?udp=&ssl=1", api.KindSock, "example.com", 53, "", true},
		{"http://example.com", api.KindHTTP, "example.com", 80, "/", false},
		{"https://example.com:8443/a/b?x=1", api.KindHTTP, "example.com", 8443, "/a/b?x=1", true},
		{"http://bücher.example/", api.KindHTTP, "xn--bcher-kva.example", 80, "/", false},
		{"wss://example.com/feed", api.KindWS, "example.com", 443, "/feed", true},
	}
	for _, tc := range cases {
		t.Run(tc.raw, func(t *testing.T) {
			u, err := ParseURL(tc.raw)
			require.NoError(t, err)
			assert.Equal(t, tc.kind, u.Kind)
			assert.Equal(t, tc.host, u.Host)
			assert.Equal(t, tc.port, u.Port)
			assert.Equal(t, tc.path, u.Path)
			assert.Equal(t, tc.ssl, u.SSL)
		})
	}
}

func TestParseURLData(t *testing.T) {
	u, err := ParseURL("data://aGVsbG8=")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(u.Data))
	assert.Equal(t, "data://aGVsbG8=", u.String())
}

func TestParseURLErrors(t *testing.T) {
	for _, raw := range []string{"", "gopher://x", "sock://host", "http://:80/", "data://!!!", "http://h:99999/"} {
		_, err := ParseURL(raw)
		assert.ErrorIs(t, err, api.ErrInvalidURL, raw)
	}
}

func TestURLStringRoundTrip(t *testing.T) {
	for _, raw := range []string{"sock://10.0.0.1:80?udp=", "https://example.com:443/x", "ws://h:8080/p"} {
		u := MustParseURL(raw)
		again := MustParseURL(u.String())
		assert.Equal(t, u.Kind, again.Kind)
		assert.Equal(t, u.HostPort(), again.HostPort())
		assert.Equal(t, u.SSL, again.SSL)
		assert.Equal(t, u.UDP(), again.UDP())
	}
}
