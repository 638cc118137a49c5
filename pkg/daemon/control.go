package daemon

import (
	"context"
	"log/slog"
	"sync"

	"github.com/modoterra/a12rta/internal/buildinfo"
	"github.com/modoterra/a12rta/pkg/core"
	"github.com/modoterra/a12rta/pkg/transport/uds"
)

// Control exposes a running Supervisor on the control socket. It is also a
// sink.Sink and a status listener, so consumed lines and status transitions
// are pushed to connected clients as events.
type Control struct {
	server     *uds.Server
	logger     *slog.Logger
	mu         sync.RWMutex
	supervisor *Supervisor
}

// NewControl creates the control endpoint on socketPath.
func NewControl(socketPath string, logger *slog.Logger) *Control {
	c := &Control{
		server: uds.NewServer(socketPath, logger),
		logger: logger,
	}
	c.registerHandlers()
	return c
}

// SetSupervisor attaches the supervisor the handlers operate on.
func (c *Control) SetSupervisor(s *Supervisor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.supervisor = s
}

// Server returns the underlying UDS server.
func (c *Control) Server() *uds.Server { return c.server }

// Run serves until ctx is cancelled.
func (c *Control) Run(ctx context.Context) error {
	return c.server.Start(ctx)
}

// Shutdown closes the socket and every client.
func (c *Control) Shutdown() {
	c.server.Shutdown()
}

// Write broadcasts a consumed line as a logs.line event.
func (c *Control) Write(line core.LogLine) error {
	if c.server.Clients() == 0 {
		return nil
	}
	evt, err := uds.NewEvent(uds.EventLogsLine, line)
	if err != nil {
		return err
	}
	c.server.Broadcast(evt)
	return nil
}

// SourceChanged broadcasts a sources.changed event.
func (c *Control) SourceChanged(info core.SourceInfo) {
	if c.server.Clients() == 0 {
		return
	}
	evt, err := uds.NewEvent(uds.EventSourcesChange, info)
	if err != nil {
		c.logger.Error("encode source event", "id", info.ID, "err", err)
		return
	}
	c.server.Broadcast(evt)
}

func (c *Control) registerHandlers() {
	c.server.Handle(uds.MethodPing, c.handlePing)
	c.server.Handle(uds.MethodListSources, c.handleListSources)
	c.server.Handle(uds.MethodShutdown, c.handleShutdown)
}

func (c *Control) current() *Supervisor {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.supervisor
}

func (c *Control) handlePing(_ context.Context, _ uds.Message) (any, error) {
	resp := uds.PingResponse{Pong: true, Version: buildinfo.Version}
	if s := c.current(); s != nil {
		resp.RunID = s.RunID()
	}
	return resp, nil
}

func (c *Control) handleListSources(_ context.Context, _ uds.Message) (any, error) {
	s := c.current()
	if s == nil {
		return uds.ListSourcesResponse{Sources: []core.SourceInfo{}}, nil
	}
	return uds.ListSourcesResponse{
		RunID:    s.RunID(),
		Consumed: s.Consumed(),
		Sources:  s.Sources(),
	}, nil
}

func (c *Control) handleShutdown(_ context.Context, _ uds.Message) (any, error) {
	s := c.current()
	if s == nil {
		return uds.ShutdownResponse{OK: false}, nil
	}
	c.logger.Info("shutdown requested over control socket")
	s.Shutdown()
	return uds.ShutdownResponse{OK: true}, nil
}
