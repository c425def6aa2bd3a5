package oscipc

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

const (
	// DefaultMagic is the frame header magic used by the original IPC clients.
	DefaultMagic uint32 = 0xf2b49e2c
	// frameHeaderSize is magic (4 bytes) followed by payload length (4 bytes).
	frameHeaderSize = 8
)

// HeaderFramer frames blocks with an 8-byte header: a magic number and the
// payload length, both little endian.
type HeaderFramer struct {
	Magic   uint32
	MaxSize int
}

// NewHeaderFramer returns a HeaderFramer using DefaultMagic.
func NewHeaderFramer(maxSize int) *HeaderFramer {
	return &HeaderFramer{Magic: DefaultMagic, MaxSize: maxSize}
}

// ReadFrame reads one header and its payload.
// A clean close before any header byte is reported as io.EOF.
func (f *HeaderFramer) ReadFrame(r io.Reader) ([]byte, error) {
	var header [frameHeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, errors.Wrap(err, "read frame header")
	}

	if magic := binary.LittleEndian.Uint32(header[0:4]); magic != f.Magic {
		return nil, errors.Wrapf(ErrBadMagic, "got 0x%08x", magic)
	}

	size := binary.LittleEndian.Uint32(header[4:8])
	if f.MaxSize > 0 && int64(size) > int64(f.MaxSize) {
		return nil, errors.Wrapf(ErrMessageTooLarge, "%d bytes", size)
	}
	if size == 0 {
		return []byte{}, nil
	}

	block := make([]byte, size)
	if _, err := io.ReadFull(r, block); err != nil {
		return nil, errors.Wrap(err, "read frame payload")
	}
	return block, nil
}

// WriteFrame writes header and payload in a single Write call.
func (f *HeaderFramer) WriteFrame(w io.Writer, block []byte) error {
	if f.MaxSize > 0 && len(block) > f.MaxSize {
		return errors.Wrapf(ErrMessageTooLarge, "%d bytes", len(block))
	}

	buf := make([]byte, frameHeaderSize+len(block))
	binary.LittleEndian.PutUint32(buf[0:4], f.Magic)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(block)))
	copy(buf[frameHeaderSize:], block)

	if _, err := w.Write(buf); err != nil {
		return errors.Wrap(err, "write frame")
	}
	return nil
}
