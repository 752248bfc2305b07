package node

import (
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dreamware/meshkv/internal/metrics"
	"github.com/dreamware/meshkv/internal/resp"
	"github.com/dreamware/meshkv/internal/store"
)

// Server is a single node's RESP2 listener over internal/store.Engine.
type Server struct {
	nodeID  string
	eng     *store.Engine
	logger  *zap.Logger
	metrics *metrics.Metrics

	mu     sync.Mutex
	ln     net.Listener
	conns  map[net.Conn]struct{}
	wg     sync.WaitGroup
	closed bool
}

// NewServer builds a Server ready to Serve on a listener.
func NewServer(nodeID string, eng *store.Engine, logger *zap.Logger, m *metrics.Metrics) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		nodeID:  nodeID,
		eng:     eng,
		logger:  logger,
		metrics: m,
		conns:   make(map[net.Conn]struct{}),
	}
}

// Serve runs the accept loop until the listener closes or Shutdown is
// called. It always returns a non-nil error; net.ErrClosed after a clean
// Shutdown is expected and not itself a failure the caller need act on.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	for {
		conn, err := ln.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				s.wg.Wait()
				return err
			}
			return err
		}

		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

// Shutdown stops accepting new connections, closes the listener, and waits
// until every open connection has been closed by its client. It does not
// close open connections itself, so an idle client keeps it waiting.
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
				s.logger.Debug("connection read error", zap.Error(err), zap.String("node", s.nodeID))
			}
			return
		}
		if len(args) == 0 {
			continue
		}

		start := time.Now()
		cmd := args[0]
		s.dispatch(w, args)
		if err := w.Flush(); err != nil {
			return
		}
		s.metrics.ObserveOp(normalizeCommand(cmd), time.Since(start).Seconds())
	}
}
