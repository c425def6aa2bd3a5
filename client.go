package oscipc

import (
	"bufio"
	"context"
	"net"
	"sync"
	"time"

	"github.com/hypebeast/go-osc/osc"
	"github.com/pkg/errors"
)

// Client is a gateway client. It frames and encodes packets the same way
// the server expects them. Sends may be called concurrently; receives must
// come from one goroutine at a time.
type Client struct {
	conn   net.Conn
	reader *bufio.Reader
	codec  Codec
	framer Framer

	writeMu sync.Mutex
}

// Dial connects to a gateway listening on network/address.
// Only the codec, framer and max message size options apply.
func Dial(ctx context.Context, network, address string, opt ...Option) (*Client, error) {
	var opts options
	for _, o := range opt {
		o(&opts)
	}
	checkOptions(&opts)

	var d net.Dialer
	conn, err := d.DialContext(ctx, network, address)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s %s", network, address)
	}

	return &Client{
		conn:   conn,
		reader: bufio.NewReader(conn),
		codec:  opts.codec,
		framer: opts.framer,
	}, nil
}

// Send encodes and writes packet.
func (c *Client) Send(packet osc.Packet) error {
	block, err := c.codec.Encode(packet)
	if err != nil {
		return err
	}
	return c.SendRaw(block)
}

// SendRaw writes block as one frame without encoding it.
func (c *Client) SendRaw(block []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.framer.WriteFrame(c.conn, block)
}

// Receive reads and decodes the next packet from the server.
func (c *Client) Receive() (osc.Packet, error) {
	for {
		block, err := c.framer.ReadFrame(c.reader)
		if err != nil {
			return nil, err
		}
		if len(block) == 0 {
			continue
		}
		return c.codec.Decode(block)
	}
}

// ReceiveTimeout is Receive with a read deadline.
func (c *Client) ReceiveTimeout(timeout time.Duration) (osc.Packet, error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, err
	}
	defer c.conn.SetReadDeadline(time.Time{})
	return c.Receive()
}

// Request sends packet and waits for the next packet from the server,
// until ctx is done.
func (c *Client) Request(ctx context.Context, packet osc.Packet) (osc.Packet, error) {
	if err := c.Send(packet); err != nil {
		return nil, err
	}

	if deadline, ok := ctx.Deadline(); ok {
		if err := c.conn.SetReadDeadline(deadline); err != nil {
			return nil, err
		}
		defer c.conn.SetReadDeadline(time.Time{})
	}

	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	resp, err := c.Receive()
	if err != nil {
		// Every deadline set here comes from ctx.
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return nil, err
	}
	return resp, nil
}

// LocalAddr returns the client side address.
func (c *Client) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
