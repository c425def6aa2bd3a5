package oscipc

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/hypebeast/go-osc/osc"
)

// serialBackend admits one Handle call at a time. It is installed around
// every backend that has not been declared safe for concurrent use.
type serialBackend struct {
	mu      sync.Mutex
	backend Backend
}

// Serialize wraps b so that calls into it never overlap.
func Serialize(b Backend) Backend {
	if sb, ok := b.(*serialBackend); ok {
		return sb
	}
	return &serialBackend{backend: b}
}

func (s *serialBackend) Handle(ctx context.Context, packet osc.Packet) (osc.Packet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backend.Handle(ctx, packet)
}

// BackendPanicError is returned when a backend panics while handling a packet.
type BackendPanicError struct {
	Value any
	Stack []byte
}

func (e *BackendPanicError) Error() string {
	return fmt.Sprintf("backend panic: %v", e.Value)
}

// safeHandle calls the backend and turns a panic into an error so that one
// bad message cannot take down the connection or the process.
func safeHandle(ctx context.Context, b Backend, packet osc.Packet) (resp osc.Packet, err error) {
	defer func() {
		if r := recover(); r != nil {
			resp = nil
			err = &BackendPanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return b.Handle(ctx, packet)
}
