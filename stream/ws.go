// File: stream/ws.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package stream

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/momentics/hioload-stream/api"
	"github.com/momentics/hioload-stream/reactor"
)

// closeGrace bounds the close handshake write.
const closeGrace = time.Second

// WS is a websocket client stream. Reads deliver message payloads as one
// byte stream; writes send binary messages.
type WS struct {
	Base

	header http.Header

	cmu    sync.Mutex
	conn   *websocket.Conn
	cur    io.Reader
	unkill func()
}

func newWS(port *reactor.Port, u *URL, opts []Option) *WS {
	s := &WS{header: http.Header{}}
	s.init(port, api.KindWS, u, s, buildConfig(opts))
	return s
}

// NewWS returns a closed websocket stream for rawURL.
func NewWS(port *reactor.Port, rawURL string, opts ...Option) (*WS, error) {
	u, err := ParseURL(rawURL)
	if err != nil {
		return nil, err
	}
	if u.Kind != api.KindWS {
		return nil, api.ErrInvalidURL
	}
	return newWS(port, u, opts), nil
}

func (s *WS) target() string {
	scheme := "ws://"
	if s.url.SSL {
		scheme = "wss://"
	}
	return scheme + s.url.HostPort() + s.url.Path
}

func (s *WS) open(done func(api.State)) {
	target := s.target()
	header := s.header.Clone()
	dialer := &websocket.Dialer{
		Proxy:           http.ProxyFromEnvironment,
		TLSClientConfig: s.port.TLSConfig(s.url.Host),
	}
	err := s.h.Submit(reactor.Op{Kind: reactor.OpConnect, Run: func(ctx context.Context) (int, error) {
		conn, resp, err := dialer.DialContext(ctx, target, header)
		if err != nil {
			if resp != nil && errors.Is(err, websocket.ErrBadHandshake) {
				return 0, &api.StateError{State: api.StateHTTPResponseFailed, Op: "handshake", Err: err}
			}
			return 0, err
		}
		s.cmu.Lock()
		s.conn, s.cur = conn, nil
		s.cmu.Unlock()
		return 0, nil
	}}, func(c reactor.Completion) {
		if c.State != api.StateOk {
			s.log.Debug("ws dial failed", zap.String("url", target), zap.Error(c.Err))
			done(c.State)
			return
		}
		conn := s.current()
		unkill := s.h.OnKill(func() { _ = conn.UnderlyingConn().SetDeadline(time.Unix(1, 0)) })
		s.cmu.Lock()
		s.unkill = unkill
		s.cmu.Unlock()
		done(api.StateOk)
	})
	if err != nil {
		s.fail(err, done)
	}
}

func (s *WS) current() *websocket.Conn {
	s.cmu.Lock()
	defer s.cmu.Unlock()
	return s.conn
}

func (s *WS) abort() {
	if conn := s.current(); conn != nil {
		_ = conn.Close()
	}
}

func (s *WS) closeTry() bool {
	s.cmu.Lock()
	conn, unkill := s.conn, s.unkill
	s.conn, s.cur, s.unkill = nil, nil, nil
	s.cmu.Unlock()
	if unkill != nil {
		unkill()
	}
	if conn != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGrace))
		_ = conn.Close()
	}
	return true
}

func (s *WS) close(done func(api.State)) {
	s.closeTry()
	done(api.StateOk)
}

func (s *WS) read(size int, done func(api.State, []byte)) error {
	conn := s.current()
	buf := s.rbuf(size)
	return s.h.Submit(reactor.Op{Kind: reactor.OpRecv, Run: func(ctx context.Context) (int, error) {
		dl, _ := ctx.Deadline()
		if err := conn.SetReadDeadline(dl); err != nil {
			return 0, err
		}
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		for {
			if s.cur == nil {
				_, r, err := conn.NextReader()
				if err != nil {
					if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
						return 0, io.EOF
					}
					if cerr := ctx.Err(); cerr != nil {
						return 0, cerr
					}
					return 0, err
				}
				s.cur = r
			}
			n, err := s.cur.Read(buf)
			if errors.Is(err, io.EOF) {
				s.cur = nil
				err = nil
			}
			if n > 0 || err != nil {
				if err != nil {
					if cerr := ctx.Err(); cerr != nil {
						return 0, cerr
					}
				}
				return n, err
			}
		}
	}}, func(c reactor.Completion) {
		if c.State != api.StateOk {
			done(c.State, nil)
			return
		}
		done(api.StateOk, buf[:c.N])
	})
}

func (s *WS) write(data []byte, done func(api.State, int)) error {
	conn := s.current()
	return s.h.Submit(reactor.Op{Kind: reactor.OpSend, Run: func(ctx context.Context) (int, error) {
		dl, _ := ctx.Deadline()
		if err := conn.SetWriteDeadline(dl); err != nil {
			return 0, err
		}
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
			if cerr := ctx.Err(); cerr != nil {
				return 0, cerr
			}
			return 0, err
		}
		return len(data), nil
	}}, func(c reactor.Completion) { done(c.State, c.N) })
}

func (s *WS) seek(int64, func(api.State, int64)) error {
	return api.ErrNotSupported
}

func (s *WS) sync(_ bool, done func(api.State)) error {
	return s.complete(done)
}

func (s *WS) size() int64 { return -1 }

func (s *WS) ctrl(cmd api.Ctrl, args []any) error {
	switch cmd {
	case api.CtrlHTTPSetHead:
		if err := s.closedOnly(); err != nil {
			return err
		}
		key, err := arg[string](args, 0)
		if err != nil {
			return err
		}
		val, err := arg[string](args, 1)
		if err != nil {
			return err
		}
		s.header.Set(key, val)
		return nil
	case api.CtrlSockGetHandle:
		if conn := s.current(); conn != nil {
			return setOut(args, conn.UnderlyingConn())
		}
		return api.ErrNotOpened
	}
	return api.ErrNotSupported
}
