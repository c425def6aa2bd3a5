package oscipc

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hypebeast/go-osc/osc"
	"github.com/pkg/errors"
)

// socketProbeTimeout bounds the dial used to tell a live unix socket from a stale file.
const socketProbeTimeout = time.Second

// runner is implemented by connections that drive their own transport.
type runner interface {
	Run(ctx context.Context) error
}

// Server accepts local client connections and owns the registry of live ones.
// It holds the shared backend and hands it to every connection it creates;
// both the Server and the backend outlive those connections.
type Server struct {
	network  string
	address  string
	listener net.Listener
	backend  Backend
	logger   Logger
	opts     options

	registry *registry
	wg       sync.WaitGroup // goroutines serving registered connections

	closing      atomic.Bool
	shutdownOnce sync.Once

	newConnection func(id ConnID, raw net.Conn) Connection
}

// New binds network/address ("unix" with a socket path, or "tcp" with a
// loopback host:port) and returns a Server ready to Serve. A failure to bind
// is returned as *BindError.
//
// Unless ConcurrentBackendOption is given, calls into backend are serialized.
func New(network, address string, backend Backend, opt ...Option) (*Server, error) {
	if backend == nil {
		return nil, ErrInvalidBackend
	}

	var opts options
	for _, o := range opt {
		o(&opts)
	}
	checkOptions(&opts)

	if network == "unix" {
		if err := prepareSocketPath(address); err != nil {
			return nil, &BindError{Network: network, Address: address, Err: err}
		}
	}

	listener, err := net.Listen(network, address)
	if err != nil {
		return nil, &BindError{Network: network, Address: address, Err: err}
	}

	if network == "unix" && opts.socketPermissions != 0 {
		if err := os.Chmod(address, opts.socketPermissions); err != nil {
			_ = listener.Close()
			return nil, &BindError{Network: network, Address: address, Err: errors.Wrap(err, "set socket permissions")}
		}
	}

	if !opts.concurrentBackend {
		backend = Serialize(backend)
	}

	s := &Server{
		network:  network,
		address:  address,
		listener: listener,
		backend:  backend,
		logger:   opts.logger,
		opts:     opts,
		registry: newRegistry(opts.maxConnections),
	}
	s.newConnection = func(id ConnID, raw net.Conn) Connection {
		return newConn(id, raw, s.backend, s, s.opts)
	}

	return s, nil
}

// prepareSocketPath makes sure a unix socket can be bound at path. A stale
// socket file nobody answers on is removed; a live one is reported in use.
func prepareSocketPath(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, "create socket directory")
	}

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "stat socket path")
	}
	if info.Mode()&os.ModeSocket == 0 {
		return errors.Errorf("%s exists and is not a socket", path)
	}

	probe, err := net.DialTimeout("unix", path, socketProbeTimeout)
	if err == nil {
		_ = probe.Close()
		return errors.New("address already in use")
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "remove stale socket")
	}
	return nil
}

// Serve accepts connections until ctx is canceled or Shutdown is called.
// Canceling ctx shuts the server down and Serve returns ctx.Err();
// after an explicit Shutdown it returns ErrServerClosed.
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("server started", "network", s.network, "addr", s.listener.Addr())

	stop := context.AfterFunc(ctx, s.Shutdown)
	defer stop()

	for {
		raw, err := s.listener.Accept()
		if err != nil {
			if s.closing.Load() {
				s.Shutdown()
				s.logger.Info("server stopped", "addr", s.listener.Addr())
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return ErrServerClosed
			}

			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			s.logger.Error("accept error", "error", err)
			return err
		}

		s.onAccept(ctx, raw)
	}
}

// onAccept registers a Connection for raw, establishes it and starts serving it.
// When the server is closing or full, raw is closed unregistered.
func (s *Server) onAccept(ctx context.Context, raw net.Conn) {
	c, err := s.registry.insert(func(id ConnID) Connection {
		s.wg.Add(1)
		return s.newConnection(id, raw)
	})
	if err != nil {
		s.logger.Warn("rejected connection", "remote_addr", raw.RemoteAddr(), "error", err)
		_ = raw.Close()
		return
	}

	s.logger.Debug("accepted connection", "conn_id", c.ID(), "total", s.registry.len())
	c.Established()

	r, ok := c.(runner)
	if !ok {
		s.wg.Done()
		return
	}
	go func() {
		defer s.wg.Done()
		_ = r.Run(ctx)
	}()
}

// connectionLost removes id from the registry. Unknown IDs are ignored, so a
// repeated notification is harmless.
func (s *Server) connectionLost(id ConnID) {
	if s.registry.remove(id) {
		s.logger.Debug("connection unregistered", "conn_id", id, "total", s.registry.len())
	}
}

// Shutdown closes every registered connection, stops listening and waits for
// all connection goroutines to finish. No connection is left afterwards and
// no new one can be registered. Close errors are ignored. Safe to call more
// than once; later calls wait for the first to complete.
func (s *Server) Shutdown() {
	s.shutdownOnce.Do(func() {
		s.closing.Store(true)

		conns := s.registry.drain()
		for _, c := range conns {
			_ = c.Close()
		}

		_ = s.listener.Close()
		s.wg.Wait()

		if s.network == "unix" {
			if err := os.Remove(s.address); err != nil && !os.IsNotExist(err) {
				s.logger.Warn("remove socket file", "path", s.address, "error", err)
			}
		}

		s.logger.Info("server shut down", "closed_connections", len(conns))
	})
}

// Close shuts the server down. It always returns nil.
func (s *Server) Close() error {
	s.Shutdown()
	return nil
}

// Addr returns the listener's network address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Len returns the number of registered connections.
func (s *Server) Len() int {
	return s.registry.len()
}

// IDs returns the registered connection IDs in ascending order.
func (s *Server) IDs() []ConnID {
	return s.registry.ids()
}

// Lookup returns the live connection registered under id.
func (s *Server) Lookup(id ConnID) (Connection, bool) {
	return s.registry.lookup(id)
}

// Send queues packet on the connection registered under id, waiting for
// queue space until ctx is done.
func (s *Server) Send(ctx context.Context, id ConnID, packet osc.Packet) error {
	c, ok := s.registry.lookup(id)
	if !ok {
		return errors.Wrapf(ErrUnknownConnection, "conn %d", id)
	}
	if bw, ok := c.(interface {
		WriteBlocking(context.Context, osc.Packet) error
	}); ok {
		return bw.WriteBlocking(ctx, packet)
	}
	return c.Write(packet)
}

// Broadcast queues packet on every registered connection without blocking
// and returns how many accepted it.
func (s *Server) Broadcast(packet osc.Packet) int {
	sent := 0
	for _, c := range s.registry.snapshot() {
		if err := c.Write(packet); err != nil {
			s.logger.Debug("broadcast skipped connection", "conn_id", c.ID(), "error", err)
			continue
		}
		sent++
	}
	return sent
}
