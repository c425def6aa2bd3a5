package oscipc

import (
	"fmt"

	"github.com/hypebeast/go-osc/osc"
	"github.com/pkg/errors"
)

// OSCCodec encodes and decodes OSC 1.0 messages and bundles.
type OSCCodec struct{}

// Decode parses block as an OSC message or bundle.
func (OSCCodec) Decode(block []byte) (packet osc.Packet, err error) {
	if len(block) == 0 {
		return nil, &DecodeError{Err: errors.New("empty block")}
	}

	// go-osc indexes into the buffer without bounds checks on some
	// truncated inputs.
	defer func() {
		if r := recover(); r != nil {
			packet = nil
			err = &DecodeError{Err: fmt.Errorf("malformed packet: %v", r)}
		}
	}()

	packet, err = osc.ParsePacket(string(block))
	if err != nil {
		return nil, &DecodeError{Err: err}
	}
	if packet == nil {
		return nil, &DecodeError{Err: errors.New("no packet")}
	}
	return packet, nil
}

// Encode serializes packet into its OSC binary form.
func (OSCCodec) Encode(packet osc.Packet) ([]byte, error) {
	if packet == nil {
		return nil, errors.New("encode nil packet")
	}
	data, err := packet.MarshalBinary()
	if err != nil {
		return nil, errors.Wrap(err, "encode packet")
	}
	return data, nil
}
