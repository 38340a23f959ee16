package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/bryanchriswhite/witcher/internal/logger"
)

// Call is a request waiting for the daemon loop to answer it.
type Call struct {
	Request Request
	reply   chan Response
}

// NewCall creates a call for req.
func NewCall(req Request) *Call {
	return &Call{Request: req, reply: make(chan Response, 1)}
}

// Done delivers the reply.
func (c *Call) Done() <-chan Response {
	return c.reply
}

// Reply answers the call. Only the first reply is delivered.
func (c *Call) Reply(resp Response) {
	select {
	case c.reply <- resp:
	default:
	}
}

// DefaultReplyTimeout is the shortest time a command may wait for the loop.
const DefaultReplyTimeout = 2 * time.Second

// ReplyTimeout returns how long a command may wait for the daemon loop when
// each compositor request is bounded by backendTimeout. A command makes at
// most two requests (snapshot, then focus).
func ReplyTimeout(backendTimeout time.Duration) time.Duration {
	d := 2*backendTimeout + 500*time.Millisecond
	if d < DefaultReplyTimeout {
		return DefaultReplyTimeout
	}
	return d
}

// Server accepts control connections and hands every well-formed command to
// the daemon loop through Calls, in arrival order.
type Server struct {
	path         string
	listener     net.Listener
	calls        chan *Call
	replyTimeout time.Duration
	ioTimeout    time.Duration
	log          zerolog.Logger

	wg        sync.WaitGroup
	closeOnce sync.Once
}

// Listen binds the control socket at path. If a daemon already answers ping
// there it fails with ErrAlreadyRunning; a stale socket file is replaced.
func Listen(ctx context.Context, path string) (*Server, error) {
	log := *logger.WithComponent("ipc")

	if _, err := os.Stat(path); err == nil {
		pingCtx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
		resp, err := SendCommand(pingCtx, path, CommandPing)
		cancel()
		if err == nil && resp.Status == StatusOK {
			return nil, fmt.Errorf("%s: %w", path, ErrAlreadyRunning)
		}
		log.Info().Str("path", path).Msg("Removing stale control socket")
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to remove stale socket: %w", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create socket directory: %w", err)
	}

	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", path, err)
	}
	if err := os.Chmod(path, 0o600); err != nil {
		listener.Close()
		return nil, fmt.Errorf("failed to restrict socket permissions: %w", err)
	}

	log.Info().Str("path", path).Msg("Control socket listening")

	return &Server{
		path:         path,
		listener:     listener,
		calls:        make(chan *Call),
		replyTimeout: DefaultReplyTimeout,
		ioTimeout:    time.Second,
		log:          log,
	}, nil
}

// SetReplyTimeout bounds how long a command waits for the daemon loop.
// It must be called before Serve.
func (s *Server) SetReplyTimeout(d time.Duration) {
	if d > 0 {
		s.replyTimeout = d
	}
}

// Path returns the socket path
func (s *Server) Path() string {
	return s.path
}

// Calls delivers commands to the daemon loop, which must Reply to each.
func (s *Server) Calls() <-chan *Call {
	return s.calls
}

// Serve accepts connections until ctx is cancelled or Close is called.
func (s *Server) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { s.Close() })
	defer stop()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				s.wg.Wait()
				return ctx.Err()
			}
			s.log.Warn().Err(err).Msg("Failed to accept connection")
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.handleConnection(ctx, conn); err != nil {
				s.log.Warn().Err(err).Msg("Dropped control connection")
			}
		}()
	}
}

// Close stops accepting connections and removes the socket file.
func (s *Server) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.listener.Close()
		os.Remove(s.path)
	})
	return err
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn) error {
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(s.ioTimeout + s.replyTimeout))

	var req Request
	if err := json.NewDecoder(conn).Decode(&req); err != nil {
		return fmt.Errorf("decode request: %w: %w", ErrControlPlaneIO, err)
	}

	s.log.Debug().Str("command", req.Command).Msg("Received request")

	resp := s.dispatch(ctx, req)

	if err := json.NewEncoder(conn).Encode(resp); err != nil {
		return fmt.Errorf("encode response: %w: %w", ErrControlPlaneIO, err)
	}
	return nil
}

func (s *Server) dispatch(ctx context.Context, req Request) Response {
	if req.Command == CommandPing {
		return OK("pong")
	}
	if !Known(req.Command) {
		s.log.Warn().Str("command", req.Command).Msg("Unknown command received")
		return Fail(ErrTagUnknownCommand, fmt.Sprintf("unknown command: %q", req.Command))
	}

	call := NewCall(req)
	timer := time.NewTimer(s.replyTimeout)
	defer timer.Stop()

	select {
	case s.calls <- call:
	case <-timer.C:
		return Fail(ErrTagTimeout, "daemon busy")
	case <-ctx.Done():
		return Fail(ErrTagInternal, "daemon shutting down")
	}

	select {
	case resp := <-call.Done():
		return resp
	case <-timer.C:
		return Fail(ErrTagTimeout, "no reply from daemon")
	case <-ctx.Done():
		return Fail(ErrTagInternal, "daemon shutting down")
	}
}
