package main

import (
	"context"

	"github.com/hypebeast/go-osc/osc"
	"github.com/pkg/errors"

	"github.com/Zereker/oscipc"
)

// gateway is the part of the server the demo handlers talk to.
type gateway struct {
	srv interface {
		Len() int
		Broadcast(packet osc.Packet) int
	}
}

// newRouter registers the daemon's built-in command vocabulary.
func newRouter(gw *gateway) (*oscipc.Router, error) {
	r := oscipc.NewRouter()

	handlers := map[string]oscipc.HandlerFunc{
		"/ping": func(context.Context, *osc.Message) (osc.Packet, error) {
			return osc.NewMessage("/pong"), nil
		},
		"/echo": func(_ context.Context, msg *osc.Message) (osc.Packet, error) {
			return osc.NewMessage(msg.Address, msg.Arguments...), nil
		},
		"/whoami": func(ctx context.Context, _ *osc.Message) (osc.Packet, error) {
			id, ok := oscipc.ConnIDFromContext(ctx)
			if !ok {
				return nil, errors.New("no connection in context")
			}
			return osc.NewMessage("/whoami", int64(id)), nil
		},
		"/gateway/connections": func(context.Context, *osc.Message) (osc.Packet, error) {
			return osc.NewMessage("/gateway/connections", int32(gw.srv.Len())), nil
		},
		"/gateway/broadcast": func(_ context.Context, msg *osc.Message) (osc.Packet, error) {
			if len(msg.Arguments) == 0 {
				return nil, errors.New("broadcast needs a target address")
			}
			target, ok := msg.Arguments[0].(string)
			if !ok {
				return nil, errors.Errorf("broadcast target must be a string, got %T", msg.Arguments[0])
			}
			n := gw.srv.Broadcast(osc.NewMessage(target, msg.Arguments[1:]...))
			return osc.NewMessage("/gateway/broadcast", int32(n)), nil
		},
	}

	for addr, h := range handlers {
		if err := r.HandleFunc(addr, h); err != nil {
			return nil, err
		}
	}

	r.NotFound(func(_ context.Context, msg *osc.Message) (osc.Packet, error) {
		return osc.NewMessage("/error", "unknown address", msg.Address), nil
	})
	return r, nil
}
