package oscipc

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/hypebeast/go-osc/osc"
	"github.com/pkg/errors"
)

// HandlerFunc handles one OSC message routed by address.
// A nil packet means no response.
type HandlerFunc func(ctx context.Context, msg *osc.Message) (osc.Packet, error)

type route struct {
	address string
	handler HandlerFunc
}

// Router is a Backend that dispatches messages to handlers by OSC address.
//
// Incoming address patterns are matched against registered addresses with
// OSC pattern rules (`*`, `?`, `[]`, `[!]`, `{}`), so one message may reach
// several handlers. Bundles are unpacked recursively in order. When more than one
// response is produced they are returned together in a bundle.
type Router struct {
	mu       sync.RWMutex
	routes   []route
	notFound HandlerFunc
}

// NewRouter returns an empty Router.
func NewRouter() *Router {
	return &Router{}
}

// HandleFunc registers handler for address. Registering the same address twice is an error.
func (r *Router) HandleFunc(address string, handler HandlerFunc) error {
	if address == "" || address[0] != '/' {
		return errors.Errorf("invalid OSC address %q", address)
	}
	if handler == nil {
		return errors.New("nil handler")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, rt := range r.routes {
		if rt.address == address {
			return errors.Errorf("address %s already registered", address)
		}
	}
	r.routes = append(r.routes, route{address: address, handler: handler})
	return nil
}

// NotFound sets the handler for messages that match no registered address.
func (r *Router) NotFound(handler HandlerFunc) {
	r.mu.Lock()
	r.notFound = handler
	r.mu.Unlock()
}

// Handle implements Backend. It stops at the first handler error.
func (r *Router) Handle(ctx context.Context, packet osc.Packet) (osc.Packet, error) {
	var responses []osc.Packet
	if err := r.dispatch(ctx, packet, &responses); err != nil {
		return nil, err
	}

	switch len(responses) {
	case 0:
		return nil, nil
	case 1:
		return responses[0], nil
	}

	bundle := osc.NewBundle(time.Now())
	for _, resp := range responses {
		if err := bundle.Append(resp); err != nil {
			return nil, errors.Wrap(err, "build response bundle")
		}
	}
	return bundle, nil
}

func (r *Router) dispatch(ctx context.Context, packet osc.Packet, out *[]osc.Packet) error {
	switch p := packet.(type) {
	case *osc.Message:
		return r.dispatchMessage(ctx, p, out)
	case *osc.Bundle:
		for _, msg := range p.Messages {
			if err := r.dispatchMessage(ctx, msg, out); err != nil {
				return err
			}
		}
		for _, b := range p.Bundles {
			if err := r.dispatch(ctx, b, out); err != nil {
				return err
			}
		}
		return nil
	default:
		return errors.Errorf("unsupported packet type %T", packet)
	}
}

func (r *Router) dispatchMessage(ctx context.Context, msg *osc.Message, out *[]osc.Packet) error {
	r.mu.RLock()
	var handlers []HandlerFunc
	for _, rt := range r.routes {
		if matchAddress(msg.Address, rt.address) {
			handlers = append(handlers, rt.handler)
		}
	}
	if len(handlers) == 0 && r.notFound != nil {
		handlers = append(handlers, r.notFound)
	}
	r.mu.RUnlock()

	for _, h := range handlers {
		resp, err := h(ctx, msg)
		if err != nil {
			return errors.Wrapf(err, "handle %s", msg.Address)
		}
		if resp != nil {
			*out = append(*out, resp)
		}
	}
	return nil
}

// maxPatternLength bounds the address patterns the router will evaluate.
// Longer patterns match nothing.
const maxPatternLength = 1024

// matchAddress reports whether the OSC address pattern matches address.
// Wildcards never cross a '/'. A malformed pattern matches nothing.
func matchAddress(pattern, address string) bool {
	if !strings.ContainsAny(pattern, "*?[{") {
		return pattern == address
	}
	if len(pattern) > maxPatternLength {
		return false
	}

	parts := strings.Split(pattern, "/")
	segments := strings.Split(address, "/")
	if len(parts) != len(segments) {
		return false
	}
	for i := range parts {
		if !matchSegment(parts[i], segments[i]) {
			return false
		}
	}
	return true
}

// matchSegment matches one address part. Results are memoised per
// (pattern offset, name offset), so brace groups cost polynomial time.
func matchSegment(pattern, name string) bool {
	memo := make(map[[2]int]bool)

	var match func(pi, ni int) bool
	match = func(pi, ni int) bool {
		if pi == len(pattern) {
			return ni == len(name)
		}
		key := [2]int{pi, ni}
		if ok, seen := memo[key]; seen {
			return ok
		}

		ok := false
		switch pattern[pi] {
		case '*':
			for k := ni; k <= len(name); k++ {
				if match(pi+1, k) {
					ok = true
					break
				}
			}
		case '?':
			ok = ni < len(name) && match(pi+1, ni+1)
		case '[':
			end := strings.IndexByte(pattern[pi:], ']')
			if end < 0 {
				break
			}
			end += pi
			ok = ni < len(name) && matchClass(pattern[pi+1:end], name[ni]) && match(end+1, ni+1)
		case '{':
			end := strings.IndexByte(pattern[pi:], '}')
			if end < 0 {
				break
			}
			end += pi
			for _, alt := range strings.Split(pattern[pi+1:end], ",") {
				if strings.HasPrefix(name[ni:], alt) && match(end+1, ni+len(alt)) {
					ok = true
					break
				}
			}
		default:
			ok = ni < len(name) && name[ni] == pattern[pi] && match(pi+1, ni+1)
		}

		memo[key] = ok
		return ok
	}
	return match(0, 0)
}

// matchClass reports whether c is in the bracket expression class,
// e.g. "a-z" or "!0-9".
func matchClass(class string, c byte) bool {
	negate := false
	if len(class) > 0 && class[0] == '!' {
		negate = true
		class = class[1:]
	}
	if class == "" {
		return false
	}

	in := false
	for i := 0; i < len(class); i++ {
		if i+2 < len(class) && class[i+1] == '-' {
			if class[i] <= c && c <= class[i+2] {
				in = true
			}
			i += 2
			continue
		}
		if class[i] == c {
			in = true
		}
	}
	return in != negate
}
