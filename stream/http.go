// File: stream/http.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package stream

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"sync"

	"go.uber.org/zap"

	"github.com/momentics/hioload-stream/api"
	"github.com/momentics/hioload-stream/internal/httpc"
	"github.com/momentics/hioload-stream/reactor"
)

var (
	clientsMu sync.Mutex
	clients   = map[*reactor.Port]*httpc.Client{}
)

// clientFor shares one transport per port. The entry goes away with the port.
func clientFor(p *reactor.Port) *httpc.Client {
	clientsMu.Lock()
	c, ok := clients[p]
	if ok {
		clientsMu.Unlock()
		return c
	}
	c = httpc.New(p.TLSConfig(""))
	clients[p] = c
	clientsMu.Unlock()

	p.OnStop(func() {
		clientsMu.Lock()
		delete(clients, p)
		clientsMu.Unlock()
		c.CloseIdle()
	})
	return c
}

// HTTP is a stream over one HTTP response body. Seek issues a ranged request.
type HTTP struct {
	Base

	client *httpc.Client
	req    httpc.Request

	rmu    sync.Mutex
	resp   *httpc.Response
	cancel context.CancelFunc
	unkill func()
	total  int64
}

func newHTTP(port *reactor.Port, u *URL, opts []Option) *HTTP {
	s := &HTTP{
		client: clientFor(port),
		req: httpc.Request{
			Header:    http.Header{},
			To:        -1,
			Redirects: httpc.DefaultRedirects,
			Version:   11,
			AutoUnzip: u.Flag("unzip"),
		},
	}
	s.init(port, api.KindHTTP, u, s, buildConfig(opts))
	return s
}

// NewHTTP returns a closed http stream for rawURL.
func NewHTTP(port *reactor.Port, rawURL string, opts ...Option) (*HTTP, error) {
	u, err := ParseURL(rawURL)
	if err != nil {
		return nil, err
	}
	if u.Kind != api.KindHTTP {
		return nil, api.ErrInvalidURL
	}
	return newHTTP(port, u, opts), nil
}

func (s *HTTP) target() string {
	scheme := "http://"
	if s.url.SSL {
		scheme = "https://"
	}
	return scheme + s.url.HostPort() + s.url.Path
}

func (s *HTTP) open(done func(api.State)) {
	s.request(s.req.From, done)
}

// request replaces the current response with one starting at from.
func (s *HTTP) request(from int64, done func(api.State)) {
	s.drop()
	req := s.req
	req.URL = s.target()
	req.From = from
	if req.Body != nil {
		if b, ok := req.Body.(*bytes.Reader); ok {
			_, _ = b.Seek(0, io.SeekStart)
		}
	}
	err := s.h.Submit(reactor.Op{Kind: reactor.OpRequest, Run: func(ctx context.Context) (int, error) {
		rctx, cancel := context.WithCancel(context.Background())
		// bound only the head exchange by ctx; the body outlives this op
		stop := context.AfterFunc(ctx, cancel)
		resp, err := s.client.Do(rctx, &req)
		if !stop() {
			if err == nil {
				resp.Body.Close()
			}
			cancel()
			return 0, ctx.Err()
		}
		if err != nil {
			cancel()
			return 0, err
		}
		if resp.Code == http.StatusOK && from > 0 {
			// range ignored by the server: skip to the offset
			if _, err := io.CopyN(io.Discard, resp.Body, from); err != nil {
				resp.Body.Close()
				cancel()
				return 0, err
			}
		}
		s.rmu.Lock()
		s.resp, s.cancel = resp, cancel
		s.total = -1
		if size := resp.Size(); size >= 0 {
			s.total = from + size
			if resp.Code == http.StatusOK && from > 0 {
				s.total = size
			}
		}
		s.rmu.Unlock()
		return 0, nil
	}}, func(c reactor.Completion) {
		if c.State != api.StateOk {
			s.log.Debug("http request failed", zap.String("url", req.URL), zap.Stringer("state", c.State), zap.Error(c.Err))
			done(c.State)
			return
		}
		s.rmu.Lock()
		cancel := s.cancel
		s.rmu.Unlock()
		unkill := s.h.OnKill(cancel)
		s.rmu.Lock()
		s.unkill = unkill
		s.rmu.Unlock()
		done(api.StateOk)
	})
	if err != nil {
		s.fail(err, done)
	}
}

// drop releases the current response.
func (s *HTTP) drop() {
	s.rmu.Lock()
	resp, cancel, unkill := s.resp, s.cancel, s.unkill
	s.resp, s.cancel, s.unkill = nil, nil, nil
	s.rmu.Unlock()
	if unkill != nil {
		unkill()
	}
	if cancel != nil {
		cancel()
	}
	if resp != nil {
		_ = resp.Body.Close()
	}
}

func (s *HTTP) abort() {
	s.rmu.Lock()
	cancel := s.cancel
	s.rmu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (s *HTTP) closeTry() bool {
	s.drop()
	return true
}

func (s *HTTP) close(done func(api.State)) {
	s.drop()
	done(api.StateOk)
}

func (s *HTTP) read(size int, done func(api.State, []byte)) error {
	s.rmu.Lock()
	resp, total, cancel := s.resp, s.total, s.cancel
	s.rmu.Unlock()
	if resp == nil {
		return api.ErrNotOpened
	}
	off := s.Offset()
	if total >= 0 {
		if off >= total {
			// the learned content length ends the stream
			return s.complete(func(st api.State) {
				if st == api.StateOk {
					st = api.StateClosed
				}
				done(st, nil)
			})
		}
		size = int(min(int64(size), total-off))
	}
	buf := s.rbuf(size)
	return s.h.Submit(reactor.Op{Kind: reactor.OpRecv, Run: func(ctx context.Context) (int, error) {
		stop := context.AfterFunc(ctx, cancel)
		n, err := resp.Body.Read(buf)
		if !stop() {
			return 0, ctx.Err()
		}
		if n > 0 {
			return n, nil
		}
		if err == nil {
			err = io.ErrNoProgress
		}
		return 0, err
	}}, func(c reactor.Completion) {
		if c.State != api.StateOk {
			done(c.State, nil)
			return
		}
		done(api.StateOk, buf[:c.N])
	})
}

func (s *HTTP) write([]byte, func(api.State, int)) error {
	return api.ErrNotSupported
}

func (s *HTTP) seek(offset int64, done func(api.State, int64)) error {
	s.request(offset, func(st api.State) { done(st, offset) })
	return nil
}

func (s *HTTP) sync(_ bool, done func(api.State)) error {
	return s.complete(done)
}

func (s *HTTP) size() int64 {
	s.rmu.Lock()
	defer s.rmu.Unlock()
	if s.resp == nil {
		return -1
	}
	return s.total
}

// Status returns the response status of the open stream.
func (s *HTTP) Status() (httpc.Status, bool) {
	s.rmu.Lock()
	defer s.rmu.Unlock()
	if s.resp == nil {
		return httpc.Status{}, false
	}
	return s.resp.Status, true
}

func (s *HTTP) ctrl(cmd api.Ctrl, args []any) error {
	switch cmd {
	case api.CtrlHTTPGetStatus:
		st, _ := s.Status()
		return setOut(args, st.Code)
	case api.CtrlHTTPGetHead:
		key, err := arg[string](args, 0)
		if err != nil {
			return err
		}
		st, _ := s.Status()
		return setOut(args[1:], st.Header.Get(key))
	}
	if err := s.closedOnly(); err != nil {
		return err
	}
	switch cmd {
	case api.CtrlHTTPSetMethod:
		m, err := arg[string](args, 0)
		if err != nil {
			return err
		}
		s.req.Method = m
	case api.CtrlHTTPSetHead:
		key, err := arg[string](args, 0)
		if err != nil {
			return err
		}
		val, err := arg[string](args, 1)
		if err != nil {
			return err
		}
		if val == "" {
			s.req.Header.Del(key)
		} else {
			s.req.Header.Set(key, val)
		}
	case api.CtrlHTTPSetRange:
		from, err := arg[int64](args, 0)
		if err != nil {
			return err
		}
		to, err := arg[int64](args, 1)
		if err != nil {
			return err
		}
		if from < 0 || (to >= 0 && to < from) {
			return api.ErrInvalidArgument
		}
		s.req.From, s.req.To = from, to
	case api.CtrlHTTPSetRedirect:
		n, err := arg[int](args, 0)
		if err != nil || n < 0 {
			return api.ErrInvalidArgument
		}
		s.req.Redirects = n
	case api.CtrlHTTPSetVersion:
		v, err := arg[int](args, 0)
		if err != nil || (v != 10 && v != 11) {
			return api.ErrInvalidArgument
		}
		s.req.Version = v
	case api.CtrlHTTPSetCookies:
		jar, err := arg[http.CookieJar](args, 0)
		if err != nil {
			return err
		}
		s.req.Jar = jar
	case api.CtrlHTTPSetPost:
		if len(args) == 0 {
			return api.ErrInvalidArgument
		}
		switch v := args[0].(type) {
		case []byte:
			s.req.Body, s.req.BodySize = bytes.NewReader(v), int64(len(v))
		case io.Reader:
			s.req.Body, s.req.BodySize = v, -1
			if n, err := arg[int64](args, 1); err == nil {
				s.req.BodySize = n
			}
		case nil:
			s.req.Body, s.req.BodySize = nil, 0
		default:
			return api.ErrInvalidArgument
		}
	case api.CtrlHTTPSetAutoUnzip:
		v, err := arg[bool](args, 0)
		if err != nil {
			return err
		}
		s.req.AutoUnzip = v
	default:
		return api.ErrNotSupported
	}
	return nil
}
