// File: stream/sock.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package stream

import (
	"context"
	"crypto/tls"
	"net"
	"net/url"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/momentics/hioload-stream/api"
	"github.com/momentics/hioload-stream/reactor"
)

// Socket types.
const (
	SockTCP = iota + 1
	SockUDP
)

// maxDatagram is the largest UDP payload sent in one write.
const maxDatagram = 65507

// Sock is a TCP or UDP client stream with optional TLS.
type Sock struct {
	Base

	typ       int
	keepAlive bool

	cmu    sync.Mutex
	addr   net.IP
	conn   net.Conn
	tconn  *tls.Conn
	unkill func()
	rsize  int
	wsize  int
}

// NewSock returns a closed socket stream for host:port.
func NewSock(port *reactor.Port, host string, portNum, typ int, opts ...Option) (*Sock, error) {
	args := url.Values{}
	if typ == SockUDP {
		args.Set("udp", "")
	} else {
		args.Set("tcp", "")
	}
	u, err := ParseURL("sock://" + net.JoinHostPort(host, strconv.Itoa(portNum)) + "?" + args.Encode())
	if err != nil {
		return nil, err
	}
	return newSock(port, u, opts), nil
}

func newSock(port *reactor.Port, u *URL, opts []Option) *Sock {
	s := &Sock{typ: SockTCP, keepAlive: u.Flag("keepalive")}
	if u.UDP() {
		s.typ = SockUDP
	}
	s.init(port, api.KindSock, u, s, buildConfig(opts))
	return s
}

func (s *Sock) network() string {
	if s.typ == SockUDP {
		return "udp"
	}
	return "tcp"
}

// stream returns the connection reads and writes go through.
func (s *Sock) stream() net.Conn {
	s.cmu.Lock()
	defer s.cmu.Unlock()
	if s.tconn != nil {
		return s.tconn
	}
	return s.conn
}

func (s *Sock) open(done func(api.State)) {
	s.cmu.Lock()
	reuse := s.conn != nil
	s.cmu.Unlock()
	if reuse {
		// keep-alive: connection survived the last close
		s.armKill()
		if err := s.complete(done); err != nil {
			s.fail(err, done)
		}
		return
	}
	s.resolve(done)
}

func (s *Sock) resolve(done func(api.State)) {
	s.cmu.Lock()
	known := s.addr != nil
	s.cmu.Unlock()
	if known {
		s.connect(done)
		return
	}
	host := s.url.Host
	err := s.h.Submit(reactor.Op{Kind: reactor.OpResolve, Run: func(ctx context.Context) (int, error) {
		ips, err := s.port.Resolver().Resolve(ctx, host)
		if err != nil {
			return 0, err
		}
		s.cmu.Lock()
		s.addr = ips[0]
		s.cmu.Unlock()
		return 0, nil
	}}, func(c reactor.Completion) {
		if c.State != api.StateOk {
			s.log.Debug("resolve failed", zap.String("host", host), zap.Error(c.Err))
			done(c.State)
			return
		}
		s.connect(done)
	})
	if err != nil {
		s.fail(err, done)
	}
}

func (s *Sock) connect(done func(api.State)) {
	s.cmu.Lock()
	addr := net.JoinHostPort(s.addr.String(), strconv.Itoa(s.url.Port))
	s.cmu.Unlock()
	network := s.network()
	err := s.h.Submit(reactor.Op{Kind: reactor.OpConnect, Run: func(ctx context.Context) (int, error) {
		var d net.Dialer
		conn, err := d.DialContext(ctx, network, addr)
		if err != nil {
			return 0, err
		}
		r, w := probeBuffers(conn)
		s.cmu.Lock()
		s.conn, s.rsize, s.wsize = conn, r, w
		s.cmu.Unlock()
		return 0, nil
	}}, func(c reactor.Completion) {
		if c.State != api.StateOk {
			s.log.Debug("connect failed", zap.String("addr", addr), zap.Error(c.Err))
			done(c.State)
			return
		}
		s.armKill()
		s.handshake(done)
	})
	if err != nil {
		s.fail(err, done)
	}
}

func (s *Sock) handshake(done func(api.State)) {
	if !s.url.SSL {
		done(api.StateOk)
		return
	}
	if s.typ == SockUDP {
		s.log.Warn("tls is not supported over udp, continuing without it", zap.Stringer("url", s.url))
		done(api.StateOk)
		return
	}
	cfg := s.port.TLSConfig(s.url.Host)
	err := s.h.Submit(reactor.Op{Kind: reactor.OpHandshake, Run: func(ctx context.Context) (int, error) {
		tc, err := reactor.Handshake(ctx, s.stream(), cfg)
		if err != nil {
			return 0, err
		}
		s.cmu.Lock()
		s.tconn = tc
		s.cmu.Unlock()
		return 0, nil
	}}, func(c reactor.Completion) { done(c.State) })
	if err != nil {
		s.fail(err, done)
	}
}

// armKill makes a kill expire every pending socket call.
func (s *Sock) armKill() {
	conn := s.stream()
	unkill := s.h.OnKill(func() { _ = conn.SetDeadline(time.Unix(1, 0)) })
	s.cmu.Lock()
	s.unkill = unkill
	s.cmu.Unlock()
}

// deadline applies the primitive timeout; it reports a kill that raced it.
func (s *Sock) deadline(ctx context.Context, set func(time.Time) error) error {
	dl, _ := ctx.Deadline()
	if err := set(dl); err != nil {
		return err
	}
	return ctx.Err()
}

func (s *Sock) abort() {
	s.cmu.Lock()
	keep := s.keepAlive
	s.cmu.Unlock()
	if keep {
		return
	}
	if conn := s.stream(); conn != nil {
		_ = conn.Close()
	}
}

func (s *Sock) closeTry() bool {
	s.cmu.Lock()
	defer s.cmu.Unlock()
	if s.unkill != nil {
		s.unkill()
		s.unkill = nil
	}
	if s.keepAlive && s.conn != nil {
		return true
	}
	if s.tconn != nil {
		_ = s.tconn.Close()
	} else if s.conn != nil {
		_ = s.conn.Close()
	}
	s.conn, s.tconn = nil, nil
	s.addr = nil
	return true
}

func (s *Sock) close(done func(api.State)) {
	s.closeTry()
	done(api.StateOk)
}

func (s *Sock) read(size int, done func(api.State, []byte)) error {
	conn := s.stream()
	buf := s.rbuf(size)
	return s.h.Submit(reactor.Op{Kind: reactor.OpRecv, Run: func(ctx context.Context) (int, error) {
		if err := s.deadline(ctx, conn.SetReadDeadline); err != nil {
			return 0, err
		}
		n, err := conn.Read(buf)
		if n > 0 {
			return n, nil
		}
		return 0, s.cause(ctx, err)
	}}, func(c reactor.Completion) {
		if c.State != api.StateOk {
			done(c.State, nil)
			return
		}
		done(api.StateOk, buf[:c.N])
	})
}

func (s *Sock) write(data []byte, done func(api.State, int)) error {
	conn := s.stream()
	if s.typ == SockUDP && len(data) > maxDatagram {
		data = data[:maxDatagram]
	}
	return s.h.Submit(reactor.Op{Kind: reactor.OpSend, Run: func(ctx context.Context) (int, error) {
		if err := s.deadline(ctx, conn.SetWriteDeadline); err != nil {
			return 0, err
		}
		n, err := conn.Write(data)
		if n > 0 {
			return n, nil
		}
		return 0, s.cause(ctx, err)
	}}, func(c reactor.Completion) { done(c.State, c.N) })
}

// cause prefers the context error over the deadline error it provoked.
func (s *Sock) cause(ctx context.Context, err error) error {
	if cerr := ctx.Err(); cerr != nil {
		return cerr
	}
	return err
}

func (s *Sock) seek(int64, func(api.State, int64)) error {
	return api.ErrNotSupported
}

func (s *Sock) sync(_ bool, done func(api.State)) error {
	return s.complete(done)
}

func (s *Sock) size() int64 { return -1 }

func (s *Sock) blockSize() int {
	s.cmu.Lock()
	defer s.cmu.Unlock()
	return s.rsize
}

func (s *Sock) ctrl(cmd api.Ctrl, args []any) error {
	switch cmd {
	case api.CtrlSockGetType:
		return setOut(args, s.typ)
	case api.CtrlSockSetType:
		if err := s.closedOnly(); err != nil {
			return err
		}
		typ, err := arg[int](args, 0)
		if err != nil || (typ != SockTCP && typ != SockUDP) {
			return api.ErrInvalidArgument
		}
		s.typ = typ
		return nil
	case api.CtrlSockGetHandle:
		return setOut(args, s.stream())
	case api.CtrlSockKeepAlive:
		v, err := arg[bool](args, 0)
		if err != nil {
			return err
		}
		s.cmu.Lock()
		s.keepAlive = v
		s.cmu.Unlock()
		return nil
	case api.CtrlSockGetAddr:
		s.cmu.Lock()
		defer s.cmu.Unlock()
		if s.addr == nil {
			return setOut(args, "")
		}
		return setOut(args, net.JoinHostPort(s.addr.String(), strconv.Itoa(s.url.Port)))
	}
	return api.ErrNotSupported
}
