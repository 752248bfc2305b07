package proxy

import (
	"errors"
	"io"
	"net"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/dreamware/meshkv/internal/resp"
)

// keyedCommands maps each routable command to the index of its key
// argument within the full args slice (args[0] is the command name).
var keyedCommands = map[string]int{
	"SET": 1, "GET": 1, "DEL": 1, "EXISTS": 1, "EXPIRE": 1, "TTL": 1,
	"ZADD": 1, "ZREM": 1, "ZSCORE": 1, "ZRANK": 1, "ZREVRANK": 1,
	"ZRANGE": 1, "ZREVRANGE": 1, "ZCARD": 1,
}

// Server is the proxy's client-facing RESP listener: one accept loop, one
// goroutine per connection, the same shape as internal/node.Server,
// giving the proxy side of the wire the same per-connection ordering
// guarantee.
type Server struct {
	router *Router
	logger *zap.Logger

	mu     sync.Mutex
	ln     net.Listener
	conns  map[net.Conn]struct{}
	wg     sync.WaitGroup
	closed bool
}

// NewServer builds a proxy Server routing through router.
func NewServer(router *Router, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{router: router, logger: logger, conns: make(map[net.Conn]struct{})}
}

// Serve runs the accept loop until the listener closes or Shutdown runs.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}

		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

// Shutdown stops accepting connections and waits until every open
// connection has been closed by its client. It does not close open
// connections itself, so an idle client keeps it waiting.
func (s *Server) Shutdown() {
	s.mu.Lock()
	s.closed = true
	ln := s.ln
	s.mu.Unlock()

	if ln != nil {
		_ = ln.Close()
	}
	s.wg.Wait()
}

func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		_ = conn.Close()
	}()

	r := resp.NewReader(conn)
	w := resp.NewWriter(conn)

	for {
		args, err := r.ReadCommand()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				var perr *resp.ProtocolError
				if errors.As(err, &perr) {
					_ = w.Error("ERR protocol error")
					_ = w.Flush()
					continue
				}
				s.logger.Debug("connection read error", zap.Error(err))
			}
			return
		}
		if len(args) == 0 {
			continue
		}

		s.dispatch(w, args)
		if err := w.Flush(); err != nil {
			return
		}
	}
}

func (s *Server) dispatch(w *resp.Writer, args []string) {
	cmd := strings.ToUpper(args[0])

	if cmd == "PING" {
		_ = w.SimpleString("PONG")
		return
	}

	keyIdx, routable := keyedCommands[cmd]
	if !routable {
		_ = w.Error("ERR command not supported through the proxy: " + cmd)
		return
	}
	if len(args) <= keyIdx {
		_ = w.Error("ERR wrong number of arguments for '" + cmd + "' command")
		return
	}

	backend, err := s.router.Route(args[keyIdx])
	switch {
	case errors.Is(err, ErrNoAvailableNodes):
		_ = w.Error("ERR no available nodes")
		return
	case errors.Is(err, ErrNodeUnhealthy):
		_ = w.Error("ERR node unhealthy")
		return
	case err != nil:
		_ = w.Error("ERR backend: " + err.Error())
		return
	}

	reply, err := backend.Send(args)
	if err != nil {
		_ = w.Error("ERR backend communication failed: " + err.Error())
		return
	}
	if err := w.Raw(reply); err != nil {
		s.logger.Debug("failed writing relayed reply", zap.Error(err))
	}
}
