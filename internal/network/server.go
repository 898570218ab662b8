// Package network exposes the storage engine over TCP: a server that
// multiplexes accepted connections against a shutdown signal, the request
// handler, and the matching client.
package network

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"krill/internal/engine"
	"krill/internal/protocol"
)

// readPollInterval is how long a connection read waits before checking the
// shutdown signal again. A quiet open connection can therefore delay
// shutdown by at most one interval.
const readPollInterval = 100 * time.Millisecond

// Server accepts client connections and serves requests against a single
// engine. Connections are served one at a time on the serve loop; an
// acceptor goroutine feeds them into the loop, which multiplexes them
// against the shutdown signal.
type Server struct {
	log      *zap.SugaredLogger
	listener net.Listener

	conns     chan net.Conn
	acceptErr chan error
	quit      chan struct{}
	stopOnce  sync.Once
}

// NewServer binds a TCP listener on addr. Pass nil to discard logs.
func NewServer(log *zap.SugaredLogger, addr string) (*Server, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("bind socket %s: %w", addr, err)
	}
	return &Server{
		log:       log,
		listener:  listener,
		conns:     make(chan net.Conn),
		acceptErr: make(chan error, 1),
		quit:      make(chan struct{}),
	}, nil
}

// Addr returns the listener's bound address. Useful when the port was 0.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Listen serves connections until Shutdown is signalled, then returns nil.
// Accept errors other than shutdown-induced closes are returned to the
// caller. The engine is owned by the loop for the duration of the call.
func (s *Server) Listen(eng engine.Engine) error {
	s.log.Infow("listening", "addr", s.listener.Addr().String())
	go s.acceptLoop()

	for {
		// A connection already handed over by the acceptor is taken before
		// a simultaneous shutdown signal. Once shutdown has been signalled,
		// serve closes such a connection without reading a request from it.
		select {
		case conn := <-s.conns:
			s.serve(conn, eng)
			continue
		default:
		}

		select {
		case conn := <-s.conns:
			s.serve(conn, eng)
		case err := <-s.acceptErr:
			return fmt.Errorf("accept connection: %w", err)
		case <-s.quit:
			s.log.Infow("shutting down")
			return nil
		}
	}
}

// Shutdown signals the serve loop to exit. Safe to call from any
// goroutine, any number of times. The loop finishes the request it is
// handling and returns.
func (s *Server) Shutdown() {
	s.stopOnce.Do(func() {
		close(s.quit)
		s.listener.Close()
	})
}

// Close releases the listener. Shutdown already does; Close covers the
// path where Listen was never entered.
func (s *Server) Close() error {
	s.Shutdown()
	return nil
}

func (s *Server) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.stopping() {
				return
			}
			select {
			case s.acceptErr <- err:
			case <-s.quit:
			}
			return
		}
		select {
		case s.conns <- conn:
		case <-s.quit:
			conn.Close()
			return
		}
	}
}

func (s *Server) stopping() bool {
	select {
	case <-s.quit:
		return true
	default:
		return false
	}
}

// serve handles one connection until the peer closes it or shutdown is
// signalled. One request is decoded, handled, and answered at a time; a
// request that fails to decode gets a failure response and the stream
// keeps going.
func (s *Server) serve(conn net.Conn, eng engine.Engine) {
	defer conn.Close()

	log := s.log.With(
		"peer", conn.RemoteAddr().String(),
		"conn_id", uuid.NewString())
	log.Infow("connected")

	r := bufio.NewReader(conn)
	for {
		if s.stopping() {
			log.Infow("closing connection for shutdown")
			return
		}

		// Wait for the first byte under a short deadline so the shutdown
		// check above runs even while the peer stays quiet.
		conn.SetReadDeadline(time.Now().Add(readPollInterval))
		if _, err := r.Peek(1); err != nil {
			if isTimeout(err) {
				continue
			}
			log.Debugw("received eof")
			return
		}
		conn.SetReadDeadline(time.Time{})

		req, ok, err := protocol.ReadRequest(r)
		if err != nil {
			if !errors.Is(err, protocol.ErrDecode) {
				log.Errorw("connection read failed", "error", err)
				return
			}
			log.Errorw("received invalid request", "error", err)
			if werr := protocol.WriteResponse(conn, protocol.Failure("invalid request")); werr != nil {
				log.Errorw("response write failed", "error", werr)
				return
			}
			continue
		}
		if !ok {
			log.Debugw("received eof")
			return
		}

		log.Infow("received request", "op", req.Op.String(), "key", req.Key)
		resp := Handle(log, eng, req)
		log.Infow("sending response", "response", resp.String())
		if err := protocol.WriteResponse(conn, resp); err != nil {
			log.Errorw("response write failed", "error", err)
			return
		}
	}
}

func isTimeout(err error) bool {
	var nerr net.Error
	return errors.As(err, &nerr) && nerr.Timeout() || os.IsTimeout(err)
}
