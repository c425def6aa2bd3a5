package oscipc

import (
	"context"
	"io"

	"github.com/hypebeast/go-osc/osc"
)

// Codec converts transport blocks to and from OSC packets.
// The default implementation is OSCCodec.
type Codec interface {
	// Decode parses one complete block into a packet.
	// Failures must be reported as *DecodeError.
	Decode(block []byte) (osc.Packet, error)
	// Encode serializes a packet into one block.
	Encode(packet osc.Packet) ([]byte, error)
}

// Framer splits a byte stream into blocks and writes blocks back out.
//
// ReadFrame reads exactly one block from the reader; it may return an empty
// block, which the connection ignores. Any error is fatal to the connection
// because the stream can no longer be resynchronised.
type Framer interface {
	ReadFrame(r io.Reader) ([]byte, error)
	WriteFrame(w io.Writer, block []byte) error
}

// Backend is the shared command processor behind every connection.
//
// Handle is called at most once per decoded packet. A nil packet means no
// response. A returned error is logged and produces no response; it never
// closes the connection.
type Backend interface {
	Handle(ctx context.Context, packet osc.Packet) (osc.Packet, error)
}

// BackendFunc adapts an ordinary function to the Backend interface.
type BackendFunc func(ctx context.Context, packet osc.Packet) (osc.Packet, error)

// Handle calls f(ctx, packet).
func (f BackendFunc) Handle(ctx context.Context, packet osc.Packet) (osc.Packet, error) {
	return f(ctx, packet)
}
