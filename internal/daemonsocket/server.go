// Package daemonsocket implements the fixed-path daemon request socket:
// newline-delimited JSON Requests in, newline-delimited JSON Responses out,
// one Request per line, dispatched to the process-wide Registry.
package daemonsocket

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"os"
	"strings"
	"sync"

	"github.com/xbase-dev/xbased/internal/registry"
	"github.com/xbase-dev/xbased/internal/simulator"
	"github.com/xbase-dev/xbased/internal/xbaseerr"
	"github.com/xbase-dev/xbased/internal/xbproto"
)

// DefaultAddress is the socket path used when XBASE_SOCKET is unset.
const DefaultAddress = "/tmp/xbase.socket"

// Address resolves the daemon request socket path: XBASE_SOCKET if set,
// otherwise DefaultAddress.
func Address() string {
	if v := os.Getenv("XBASE_SOCKET"); v != "" {
		return v
	}
	return DefaultAddress
}

// Server accepts connections on the daemon request socket and dispatches
// each line-delimited Request to a Registry.
type Server struct {
	address string
	reg     *registry.Registry
	sims    *simulator.Inventory

	ln net.Listener

	mu    sync.Mutex
	conns map[net.Conn]struct{}
}

// NewServer binds address (removing any stale socket file first).
func NewServer(address string, reg *registry.Registry, sims *simulator.Inventory) (*Server, error) {
	if _, err := os.Stat(address); err == nil {
		slog.Warn("stale daemon socket found, removing", "address", address)
		_ = os.Remove(address)
	}
	ln, err := net.Listen("unix", address)
	if err != nil {
		return nil, xbaseerr.Wrap(xbaseerr.Setup, err, "binding daemon socket %s", address)
	}
	return &Server{
		address: address,
		reg:     reg,
		sims:    sims,
		ln:      ln,
		conns:   make(map[net.Conn]struct{}),
	}, nil
}

// Address returns the bound socket path.
func (s *Server) Address() string { return s.address }

// Serve accepts connections until ctx is cancelled or Close is called.
func (s *Server) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.Close()
	}()

	for {
		conn, err := s.ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()
		go s.handle(ctx, conn)
	}
}

// Close unlinks the listener and every still-open connection.
func (s *Server) Close() {
	_ = s.ln.Close()
	s.mu.Lock()
	for conn := range s.conns {
		_ = conn.Close()
	}
	s.mu.Unlock()
	if err := os.Remove(s.address); err != nil && !os.IsNotExist(err) {
		slog.Debug("failed to remove daemon socket", "address", s.address, "err", err)
	}
}

// session tracks which ClientID this connection registered under each root,
// so a later Drop (which carries only roots, not an id) knows whose
// Disconnect to enqueue.
type session struct {
	registered map[xbproto.ProjectRoot]xbproto.ClientID
}

func (s *Server) handle(ctx context.Context, conn net.Conn) {
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	sess := &session{registered: make(map[xbproto.ProjectRoot]xbproto.ClientID)}
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	enc := json.NewEncoder(conn)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var req xbproto.Request
		if err := json.Unmarshal([]byte(line), &req); err != nil {
			slog.Warn("daemon socket: invalid request JSON, skipping", "err", err, "line", line)
			_ = enc.Encode(errorResponse(xbaseerr.New(xbaseerr.Unexpected, "invalid request JSON", err)))
			continue
		}
		if err := enc.Encode(s.dispatch(ctx, sess, req)); err != nil {
			if err != io.EOF {
				slog.Debug("daemon socket: write failed", "err", err)
			}
			return
		}
	}

	// The connection dropped without an explicit Drop; disconnect whatever
	// this session registered so its Runtimes don't wait on a client that
	// is never coming back.
	for root, id := range sess.registered {
		s.reg.Drop(id, []xbproto.ProjectRoot{root})
	}
}

func (s *Server) dispatch(ctx context.Context, sess *session, req xbproto.Request) xbproto.Response {
	switch req.Kind {
	case xbproto.RequestRegister:
		if req.Register == nil {
			return errorResponse(xbaseerr.New(xbaseerr.Unexpected, "register request missing payload", nil))
		}
		address, err := s.reg.Register(ctx, req.Register.ID, req.Register.Root)
		if err != nil {
			return errorResponse(err)
		}
		sess.registered[req.Register.Root.Clean()] = req.Register.ID
		return dataResponse(xbproto.RegisterResponse{BroadcastAddress: address})

	case xbproto.RequestBuild:
		if req.Build == nil {
			return errorResponse(xbaseerr.New(xbaseerr.Unexpected, "build request missing payload", nil))
		}
		if err := s.reg.Build(req.Build.Root, *req.Build); err != nil {
			return errorResponse(err)
		}
		return dataResponse(nil)

	case xbproto.RequestRun:
		if req.Run == nil {
			return errorResponse(xbaseerr.New(xbaseerr.Unexpected, "run request missing payload", nil))
		}
		if err := s.reg.Run(req.Run.Root, *req.Run); err != nil {
			return errorResponse(err)
		}
		return dataResponse(nil)

	case xbproto.RequestDrop:
		if req.Drop == nil {
			return errorResponse(xbaseerr.New(xbaseerr.Unexpected, "drop request missing payload", nil))
		}
		for _, root := range req.Drop.Roots {
			clean := root.Clean()
			id, ok := sess.registered[clean]
			if !ok {
				continue
			}
			s.reg.Drop(id, []xbproto.ProjectRoot{clean})
			delete(sess.registered, clean)
		}
		return dataResponse(nil)

	case xbproto.RequestGetRunners:
		if s.sims == nil {
			return dataResponse([]xbproto.Runner{})
		}
		return dataResponse(s.sims.Runners())

	case xbproto.RequestGetProjectInfo:
		if req.GetProjectInfo == nil {
			return errorResponse(xbaseerr.New(xbaseerr.Unexpected, "getProjectInfo request missing payload", nil))
		}
		info, err := s.reg.ProjectInfo(ctx, req.GetProjectInfo.Root)
		if err != nil {
			return errorResponse(err)
		}
		return dataResponse(info)

	default:
		return errorResponse(xbaseerr.New(xbaseerr.Unexpected, "unknown request kind "+string(req.Kind), nil))
	}
}

func dataResponse(data any) xbproto.Response { return xbproto.Response{Data: data} }

func errorResponse(err error) xbproto.Response {
	return xbproto.Response{Error: &xbproto.ResponseError{
		Kind:    string(xbaseerr.KindOf(err)),
		Message: err.Error(),
	}}
}
