// File: stream/url.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// URL descriptor shared by every backend.

package stream

import (
	"encoding/base64"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/net/idna"

	"github.com/momentics/hioload-stream/api"
)

// URL is a parsed stream locator.
//
//	data://<base64>
//	file:///path or a bare path
//	sock://host:port?tcp= | ?udp=   (socks:// or ssl=1 enables TLS)
//	http(s)://host[:port]/path?query
//	ws(s)://host[:port]/path?query
type URL struct {
	Kind api.Kind
	SSL  bool
	Host string
	Port int
	Path string
	Args url.Values
	Data []byte
}

// ParseURL parses raw into a URL.
func ParseURL(raw string) (*URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("empty url: %w", api.ErrInvalidURL)
	}
	scheme, rest, ok := strings.Cut(raw, "://")
	if !ok {
		// bare path
		return &URL{Kind: api.KindFile, Path: raw, Args: url.Values{}}, nil
	}
	switch strings.ToLower(scheme) {
	case "data":
		return parseData(rest)
	case "file":
		return parseFile(rest)
	case "sock", "socks":
		return parseNet(raw, api.KindSock, strings.EqualFold(scheme, "socks"), 0)
	case "http":
		return parseNet(raw, api.KindHTTP, false, 80)
	case "https":
		return parseNet(raw, api.KindHTTP, true, 443)
	case "ws":
		return parseNet(raw, api.KindWS, false, 80)
	case "wss":
		return parseNet(raw, api.KindWS, true, 443)
	}
	return nil, fmt.Errorf("unknown scheme %q: %w", scheme, api.ErrInvalidURL)
}

// MustParseURL panics on error. Intended for tests and constants.
func MustParseURL(raw string) *URL {
	u, err := ParseURL(raw)
	if err != nil {
		panic(err)
	}
	return u
}

func parseData(rest string) (*URL, error) {
	data, err := base64.StdEncoding.DecodeString(rest)
	if err != nil {
		if data, err = base64.RawStdEncoding.DecodeString(rest); err != nil {
			return nil, fmt.Errorf("data url: %w: %w", api.ErrInvalidURL, err)
		}
	}
	return &URL{Kind: api.KindData, Data: data, Args: url.Values{}}, nil
}

func parseFile(rest string) (*URL, error) {
	path, query, _ := strings.Cut(rest, "?")
	if path == "" {
		return nil, fmt.Errorf("file url without path: %w", api.ErrInvalidURL)
	}
	args, err := url.ParseQuery(query)
	if err != nil {
		return nil, fmt.Errorf("file url: %w: %w", api.ErrInvalidURL, err)
	}
	if p, err := url.PathUnescape(path); err == nil {
		path = p
	}
	return &URL{Kind: api.KindFile, Path: path, Args: args}, nil
}

func parseNet(raw string, kind api.Kind, ssl bool, defPort int) (*URL, error) {
	pu, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", api.ErrInvalidURL, err)
	}
	host, err := normalizeHost(pu.Hostname())
	if err != nil {
		return nil, err
	}
	port := defPort
	if ps := pu.Port(); ps != "" {
		if port, err = strconv.Atoi(ps); err != nil || port <= 0 || port > 65535 {
			return nil, fmt.Errorf("bad port %q: %w", ps, api.ErrInvalidURL)
		}
	}
	if port == 0 {
		return nil, fmt.Errorf("%s url without port: %w", kind, api.ErrInvalidURL)
	}
	u := &URL{Kind: kind, SSL: ssl, Host: host, Port: port, Args: pu.Query()}
	if kind == api.KindSock {
		u.SSL = u.SSL || u.Flag("ssl")
		return u, nil
	}
	u.Path = pu.EscapedPath()
	if u.Path == "" {
		u.Path = "/"
	}
	if pu.RawQuery != "" {
		u.Path += "?" + pu.RawQuery
	}
	return u, nil
}

func normalizeHost(host string) (string, error) {
	if host == "" {
		return "", fmt.Errorf("missing host: %w", api.ErrInvalidURL)
	}
	if net.ParseIP(host) != nil {
		return host, nil
	}
	h, err := idna.Lookup.ToASCII(host)
	if err != nil {
		return "", fmt.Errorf("host %q: %w: %w", host, api.ErrInvalidURL, err)
	}
	return h, nil
}

// HostPort joins host and port for dialing.
func (u *URL) HostPort() string {
	return net.JoinHostPort(u.Host, strconv.Itoa(u.Port))
}

// UDP reports whether a sock URL selects datagrams.
func (u *URL) UDP() bool {
	return u.Args.Has("udp")
}

// Flag reports whether a boolean query argument is set.
func (u *URL) Flag(name string) bool {
	switch u.Args.Get(name) {
	case "1", "true", "yes":
		return true
	}
	return false
}

// String renders the URL back into its canonical form.
func (u *URL) String() string {
	if u == nil {
		return ""
	}
	switch u.Kind {
	case api.KindData:
		return "data://" + base64.StdEncoding.EncodeToString(u.Data)
	case api.KindFile:
		s := "file://" + u.Path
		if len(u.Args) > 0 {
			s += "?" + u.Args.Encode()
		}
		return s
	case api.KindSock:
		scheme := "sock"
		if u.SSL {
			scheme = "socks"
		}
		typ := "tcp="
		if u.UDP() {
			typ = "udp="
		}
		return scheme + "://" + u.HostPort() + "?" + typ
	case api.KindHTTP, api.KindWS:
		scheme := "http"
		if u.Kind == api.KindWS {
			scheme = "ws"
		}
		if u.SSL {
			scheme += "s"
		}
		return scheme + "://" + u.HostPort() + u.Path
	}
	return ""
}

// Clone returns a deep copy.
func (u *URL) Clone() *URL {
	c := *u
	c.Args = url.Values{}
	for k, v := range u.Args {
		c.Args[k] = append([]string(nil), v...)
	}
	return &c
}
