// File: internal/httpc/httpc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package httpc is the request/response engine behind http streams. It
// issues one request per open or seek and reports the parsed status.

package httpc

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/momentics/hioload-stream/api"
)

// DefaultRedirects is the redirect cap used when none is configured.
const DefaultRedirects = 10

// Request describes one exchange.
type Request struct {
	URL    string
	Method string
	Header http.Header
	// From and To select a byte range; To < 0 leaves it open ended.
	From, To int64
	// Redirects caps followed redirects. Zero disables following.
	Redirects int
	// Version is 10 or 11. HTTP/1.0 closes the connection after the exchange.
	Version   int
	Jar       http.CookieJar
	Body      io.Reader
	BodySize  int64
	AutoUnzip bool
}

// Status is the parsed response head.
type Status struct {
	Code int
	// ContentLength is -1 when unknown.
	ContentLength int64
	Chunked       bool
	// Encoding is the content encoding token ("gzip", "deflate") or empty.
	Encoding  string
	Header    http.Header
	Location  string
	Redirects int
}

// Response is an open response whose body is read by the caller.
type Response struct {
	Status
	Body io.ReadCloser
}

// Client issues requests over a shared transport.
type Client struct {
	transport *http.Transport
}

// New returns a client. tlsCfg may be nil.
func New(tlsCfg *tls.Config) *Client {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.TLSClientConfig = tlsCfg
	// decoding is ours so sizes and auto-unzip stay explicit
	t.DisableCompression = true
	return &Client{transport: t}
}

// CloseIdle drops pooled connections.
func (c *Client) CloseIdle() { c.transport.CloseIdleConnections() }

// Do sends r and waits for the response head.
func (c *Client) Do(ctx context.Context, r *Request) (*Response, error) {
	method := r.Method
	if method == "" {
		method = http.MethodGet
		if r.Body != nil {
			method = http.MethodPost
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, r.URL, r.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", api.ErrInvalidURL, err)
	}
	for k, vs := range r.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if r.Body != nil && r.BodySize > 0 {
		req.ContentLength = r.BodySize
	}
	if r.From > 0 || r.To >= 0 {
		rng := "bytes=" + strconv.FormatInt(max(r.From, 0), 10) + "-"
		if r.To >= 0 {
			rng += strconv.FormatInt(r.To, 10)
		}
		req.Header.Set("Range", rng)
	}
	if r.AutoUnzip && req.Header.Get("Accept-Encoding") == "" {
		req.Header.Set("Accept-Encoding", "gzip, deflate")
	}
	if r.Version == 10 {
		req.Close = true
	}

	redirects := 0
	hc := &http.Client{
		Transport: c.transport,
		Jar:       r.Jar,
		CheckRedirect: func(_ *http.Request, via []*http.Request) error {
			if r.Redirects <= 0 {
				return http.ErrUseLastResponse
			}
			if len(via) > r.Redirects {
				return &api.StateError{State: api.StateHTTPRedirectFailed, Op: "redirect",
					Err: fmt.Errorf("stopped after %d redirects", r.Redirects)}
			}
			redirects = len(via)
			return nil
		},
	}
	resp, err := hc.Do(req)
	if err != nil {
		return nil, classify(err)
	}

	st := Status{
		Code:          resp.StatusCode,
		ContentLength: resp.ContentLength,
		Header:        resp.Header,
		Location:      resp.Request.URL.String(),
		Redirects:     redirects,
		Encoding:      strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))),
	}
	for _, te := range resp.TransferEncoding {
		if strings.EqualFold(te, "chunked") {
			st.Chunked = true
		}
	}
	switch {
	case resp.StatusCode >= 300 && resp.StatusCode < 400:
		resp.Body.Close()
		return nil, &api.StateError{State: api.StateHTTPRedirectFailed, Op: "response",
			Err: fmt.Errorf("status %d", resp.StatusCode)}
	case resp.StatusCode >= 400 || resp.StatusCode < 200:
		resp.Body.Close()
		return nil, &api.StateError{State: api.StateHTTPResponseFailed, Op: "response",
			Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	body := resp.Body
	if r.AutoUnzip && st.Encoding != "" && st.Encoding != "identity" {
		if body, err = unzip(body, st.Encoding); err != nil {
			resp.Body.Close()
			return nil, err
		}
	}
	return &Response{Status: st, Body: body}, nil
}

// Size returns the stream size implied by the status: -1 for chunked or
// encoded bodies.
func (s Status) Size() int64 {
	if s.Chunked || (s.Encoding != "" && s.Encoding != "identity") {
		return -1
	}
	return s.ContentLength
}

// classify keeps context errors intact and tags TLS failures.
func classify(err error) error {
	var se *api.StateError
	if errors.As(err, &se) {
		return se
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var (
		rhe  tls.RecordHeaderError
		cve  *tls.CertificateVerificationError
		uae  x509.UnknownAuthorityError
		hne  x509.HostnameError
		dnse *net.DNSError
	)
	switch {
	case errors.As(err, &rhe), errors.As(err, &cve), errors.As(err, &uae), errors.As(err, &hne):
		return &api.StateError{State: api.StateSSLFailed, Op: "request", Err: err}
	case errors.As(err, &dnse):
		return &api.StateError{State: api.StateDNSFailed, Op: "request", Err: err}
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return fmt.Errorf("%w: %w", context.DeadlineExceeded, err)
	}
	return err
}
