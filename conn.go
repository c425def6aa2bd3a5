// Package oscipc is a local interprocess gateway for OSC command messages.
// It accepts any number of client processes over a unix socket or loopback
// TCP port, decodes the OSC packets each one sends, and forwards them to a
// single shared Backend. Responses go back to the connection that asked.
package oscipc

import (
	"bufio"
	"context"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hypebeast/go-osc/osc"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// ConnID identifies a connection for the lifetime of its Server.
type ConnID uint64

// State is the lifecycle state of a connection.
type State int32

const (
	// StateCreated is the state between construction and the transport becoming usable.
	StateCreated State = iota
	// StateEstablished accepts and processes messages.
	StateEstablished
	// StateLost is terminal.
	StateLost
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateEstablished:
		return "established"
	case StateLost:
		return "lost"
	default:
		return "unknown"
	}
}

// Connection is one client's channel as seen by the Server.
// The Server depends only on this interface, so transports other than
// net.Conn can be plugged in without touching dispatch.
type Connection interface {
	// ID returns the identifier assigned by the Server.
	ID() ConnID
	// Established marks the transport usable. Only the first call has an effect.
	Established()
	// MessageReceived processes one inbound block.
	MessageReceived(block []byte)
	// Lost reports the loss to the Server exactly once and releases the transport.
	Lost()
	// Write queues a packet for delivery to the client.
	Write(packet osc.Packet) error
	// Close forces the connection into the Lost state.
	Close() error
}

// lossReporter is the Server side of a connection's back-reference.
// The Server outlives every connection it hands this to.
type lossReporter interface {
	connectionLost(id ConnID)
}

type connIDKey struct{}

// ConnIDFromContext returns the ID of the connection whose packet is being
// handled. Backends receive such a context in Handle.
func ConnIDFromContext(ctx context.Context) (ConnID, bool) {
	id, ok := ctx.Value(connIDKey{}).(ConnID)
	return id, ok
}

// Conn is a Connection over a net.Conn. It owns the net.Conn exclusively.
//
// The read loop delivers frames one at a time, so MessageReceived never runs
// concurrently for the same Conn and responses are queued in request order.
type Conn struct {
	id      ConnID
	rawConn net.Conn
	backend Backend
	owner   lossReporter
	logger  Logger

	opts options

	state    atomic.Int32
	mu       sync.Mutex     // orders state transitions against inflight.Add
	inflight sync.WaitGroup // MessageReceived calls that passed the state check
	lostOnce sync.Once

	ctx     context.Context
	cancel  context.CancelFunc
	sendMsg chan []byte
}

// newConn builds a Conn in StateCreated. backend and owner are not owned.
func newConn(id ConnID, raw net.Conn, backend Backend, owner lossReporter, opts options) *Conn {
	ctx, cancel := context.WithCancel(context.WithValue(context.Background(), connIDKey{}, id))
	return &Conn{
		id:      id,
		rawConn: raw,
		backend: backend,
		owner:   owner,
		logger:  withAttrs(opts.logger, "conn_id", id),
		opts:    opts,
		ctx:     ctx,
		cancel:  cancel,
		sendMsg: make(chan []byte, opts.bufferSize),
	}
}

// ID returns the connection identifier.
func (c *Conn) ID() ConnID {
	return c.id
}

// State returns the current lifecycle state.
func (c *Conn) State() State {
	return State(c.state.Load())
}

// Addr returns the remote address of the connection.
func (c *Conn) Addr() net.Addr {
	return c.rawConn.RemoteAddr()
}

// Established moves the connection from Created to Established.
func (c *Conn) Established() {
	c.mu.Lock()
	ok := c.state.CompareAndSwap(int32(StateCreated), int32(StateEstablished))
	c.mu.Unlock()
	if !ok {
		return
	}

	c.logger.Info("connection established", "addr", c.Addr())
	if c.opts.onConnect != nil {
		c.opts.onConnect(c.id)
	}
}

// MessageReceived decodes block, hands it to the backend and queues any
// response. Malformed blocks and backend failures are logged and dropped;
// neither affects the connection. Nothing is processed before Established
// or once Lost has begun.
func (c *Conn) MessageReceived(block []byte) {
	c.mu.Lock()
	if c.State() != StateEstablished {
		c.mu.Unlock()
		c.logger.Debug("message dropped", "state", c.State(), "size", len(block))
		return
	}
	c.inflight.Add(1)
	c.mu.Unlock()
	defer c.inflight.Done()

	packet, err := c.opts.codec.Decode(block)
	if err != nil {
		if IsDecodeError(err) {
			c.logger.Debug("discarding malformed message", "size", len(block), "error", err)
		} else {
			c.logger.Warn("codec failed", "size", len(block), "error", err)
		}
		return
	}

	resp, err := safeHandle(c.ctx, c.backend, packet)
	if err != nil {
		c.logger.Warn("backend failed", "error", err)
		return
	}
	if resp == nil {
		return
	}

	data, err := c.opts.codec.Encode(resp)
	if err != nil {
		c.logger.Warn("encode response failed", "error", err)
		return
	}

	select {
	case c.sendMsg <- data:
	case <-c.ctx.Done():
		c.logger.Debug("response dropped, connection lost")
	}
}

// Lost runs the loss path once: no further message may start, in-flight
// processing is waited for, the Server is told, and the transport is closed.
// Later calls block until the first has finished and then return.
func (c *Conn) Lost() {
	c.lostOnce.Do(func() {
		c.mu.Lock()
		c.state.Store(int32(StateLost))
		c.mu.Unlock()

		c.cancel()
		c.inflight.Wait()

		if c.owner != nil {
			c.owner.connectionLost(c.id)
		}

		if err := c.rawConn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			c.logger.Debug("close transport", "error", err)
		}

		c.logger.Info("connection lost")
		if c.opts.onDisconnect != nil {
			c.opts.onDisconnect(c.id)
		}
	})
}

// Close forces the connection closed. It is safe to call multiple times.
// It must not be called from a Backend while it handles a packet of this
// same connection, since Lost waits for that call to return.
func (c *Conn) Close() error {
	c.Lost()
	return nil
}

// Run marks the connection established and serves it until the transport
// fails, the client disconnects, or ctx is canceled. The connection is Lost
// when Run returns. A clean disconnect returns nil.
func (c *Conn) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, c.Lost)
	defer stop()

	c.Established()
	if c.State() != StateEstablished {
		c.Lost()
		return ErrConnectionClosed
	}

	group, child := errgroup.WithContext(c.ctx)

	// Unblock a reader stuck in Read without releasing the transport.
	unblock := context.AfterFunc(child, func() {
		_ = c.rawConn.SetReadDeadline(time.Now())
	})
	defer unblock()

	group.Go(func() error {
		return c.readLoop(child)
	})

	group.Go(func() error {
		return c.writeLoop(child)
	})

	err := group.Wait()
	c.Lost()

	if err == nil || errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
		return nil
	}
	c.logger.Info("connection closed with error", "error", err)
	return err
}

// Write queues packet without blocking.
//
// Returns:
//   - nil: packet was queued (not yet sent)
//   - ErrBufferFull: send queue is full, packet was NOT queued
//   - ErrConnectionClosed: connection is lost
//   - encoding error: if the codec fails
func (c *Conn) Write(packet osc.Packet) error {
	if c.State() == StateLost {
		return ErrConnectionClosed
	}

	data, err := c.opts.codec.Encode(packet)
	if err != nil {
		return err
	}

	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	select {
	case c.sendMsg <- data:
		return nil
	default:
		return ErrBufferFull
	}
}

// WriteBlocking queues packet, waiting for room in the send queue until ctx
// is done or the connection is lost.
func (c *Conn) WriteBlocking(ctx context.Context, packet osc.Packet) error {
	if c.State() == StateLost {
		return ErrConnectionClosed
	}

	data, err := c.opts.codec.Encode(packet)
	if err != nil {
		return err
	}

	select {
	case c.sendMsg <- data:
		return nil
	case <-c.ctx.Done():
		return ErrConnectionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// readLoop reads frames and processes them in arrival order.
// Any framing or transport error ends the loop.
func (c *Conn) readLoop(ctx context.Context) error {
	reader := bufio.NewReader(c.rawConn)
	for {
		block, err := c.opts.framer.ReadFrame(reader)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if !errors.Is(err, io.EOF) {
				c.logger.Debug("read error", "error", err)
			}
			return err
		}

		if len(block) == 0 {
			continue
		}
		c.MessageReceived(block)
	}
}

// writeLoop sends queued blocks in order.
func (c *Conn) writeLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data := <-c.sendMsg:
			if err := c.opts.framer.WriteFrame(c.rawConn, data); err != nil {
				c.logger.Debug("write error", "error", err)
				return err
			}
		}
	}
}
