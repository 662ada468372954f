// Package server runs the citymap MCP server over stdio.
package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"
	"syscall"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/NERVsystems/citymap/pkg/tools"
	"github.com/NERVsystems/citymap/pkg/version"
)

const (
	// ServerName is the name of the MCP server
	ServerName = "citymap"

	// parentPollInterval is how often the parent process is checked
	parentPollInterval = 2 * time.Second
)

// ErrAlreadyRunning is returned when Serve is called on a running server.
var ErrAlreadyRunning = errors.New("server already running")

// Server encapsulates the MCP server with the map tools.
type Server struct {
	srv    *mcpserver.MCPServer
	logger *slog.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	doneCh  chan struct{}

	// WatchParent shuts the server down when the process that started it
	// exits, which stdio clients do not always signal by closing stdin.
	WatchParent bool
}

// NewServer creates an MCP server with every tool of registry registered.
func NewServer(logger *slog.Logger, registry *tools.Registry) (*Server, error) {
	if registry == nil {
		return nil, errors.New("nil tool registry")
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("initializing citymap MCP server",
		"name", ServerName,
		"version", version.BuildVersion)

	srv := mcpserver.NewMCPServer(
		ServerName,
		version.BuildVersion,
		mcpserver.WithToolCapabilities(false),
		mcpserver.WithRecovery(),
	)
	registry.RegisterTools(srv)

	return &Server{
		srv:    srv,
		logger: logger,
		doneCh: make(chan struct{}),
	}, nil
}

// Run serves on stdin and stdout until the input ends or Shutdown is called.
func (s *Server) Run() error {
	return s.RunWithContext(context.Background())
}

// RunWithContext serves on stdin and stdout until ctx is canceled, the input
// ends or Shutdown is called.
func (s *Server) RunWithContext(ctx context.Context) error {
	return s.Serve(ctx, os.Stdin, os.Stdout)
}

// Serve reads JSON-RPC messages from in and writes responses to out. A server
// serves once.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.running = true
	ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		close(s.doneCh)
	}()

	if s.WatchParent {
		go s.monitorParent(ctx, os.Getppid(), parentPollInterval)
	}

	s.logger.Info("serving MCP over stdio")
	err := mcpserver.NewStdioServer(s.srv).Listen(ctx, in, out)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, context.Canceled) {
		s.logger.Error("server error", "error", err)
		return err
	}
	s.logger.Info("server stopped")
	return nil
}

// Shutdown stops a running server. It does not block.
func (s *Server) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running && s.cancel != nil {
		s.cancel()
	}
}

// WaitForShutdown blocks until Serve has returned.
func (s *Server) WaitForShutdown() {
	<-s.doneCh
}

// GetMCPServer returns the underlying MCP server instance
func (s *Server) GetMCPServer() *mcpserver.MCPServer {
	return s.srv
}

func (s *Server) monitorParent(ctx context.Context, ppid int, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if os.Getppid() != ppid || !isProcessRunning(ppid) {
				s.logger.Info("parent process exited, shutting down", "ppid", ppid)
				s.Shutdown()
				return
			}
		}
	}
}

// isProcessRunning reports whether a process with pid exists.
func isProcessRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = p.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}
