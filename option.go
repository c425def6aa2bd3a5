package oscipc

import (
	"os"
)

// Default configuration values.
const (
	// defaultBufferSize is the default size of each connection's send queue.
	defaultBufferSize = 16
	// defaultMaxPackageLength is the default maximum size of a single frame (1MB).
	defaultMaxPackageLength = 1024 * 1024
)

// options holds the configuration shared by a server and its connections.
type options struct {
	codec  Codec
	framer Framer
	logger Logger

	onConnect    func(id ConnID)
	onDisconnect func(id ConnID)

	bufferSize        int         // size of each connection's send queue
	maxReadLength     int         // maximum size of a single frame
	maxConnections    int         // 0 means unlimited
	socketPermissions os.FileMode // applied to unix socket files when non-zero
	concurrentBackend bool        // backend is safe for concurrent Handle calls
}

// Option is a function that configures server and connection options.
type Option func(*options)

// checkOptions fills in defaults for unset options.
func checkOptions(opts *options) {
	if opts.bufferSize <= 0 {
		opts.bufferSize = defaultBufferSize
	}

	if opts.maxReadLength <= 0 {
		opts.maxReadLength = defaultMaxPackageLength
	}

	if opts.codec == nil {
		opts.codec = OSCCodec{}
	}

	if opts.framer == nil {
		opts.framer = NewHeaderFramer(opts.maxReadLength)
	}

	if opts.logger == nil {
		opts.logger = defaultLogger()
	}
}

// CodecOption returns an Option that sets the message codec.
// If not set, OSCCodec will be used.
func CodecOption(codec Codec) Option {
	return func(o *options) {
		o.codec = codec
	}
}

// FramerOption returns an Option that sets the stream framer.
// If not set, a HeaderFramer with DefaultMagic and the maximum message size will be used.
func FramerOption(framer Framer) Option {
	return func(o *options) {
		o.framer = framer
	}
}

// BufferSizeOption returns an Option that sets the size of each connection's send queue.
// A larger buffer allows more responses to be queued before a handler blocks.
func BufferSizeOption(size int) Option {
	return func(o *options) {
		o.bufferSize = size
	}
}

// MaxMessageSizeOption returns an Option that sets the maximum frame size accepted from a client.
// A larger frame is a transport error and drops the connection.
func MaxMessageSizeOption(size int) Option {
	return func(o *options) {
		o.maxReadLength = size
	}
}

// MaxConnectionsOption returns an Option that sets the maximum number of
// registered connections. Extra clients are closed right after accept.
// Zero means no limit.
func MaxConnectionsOption(n int) Option {
	return func(o *options) {
		o.maxConnections = n
	}
}

// SocketPermissionsOption returns an Option that sets the file mode of a unix socket.
// It is applied right after binding.
func SocketPermissionsOption(mode os.FileMode) Option {
	return func(o *options) {
		o.socketPermissions = mode
	}
}

// ConcurrentBackendOption returns an Option that sets the backend as safe for
// concurrent use. Calls into it are then not serialized.
func ConcurrentBackendOption() Option {
	return func(o *options) {
		o.concurrentBackend = true
	}
}

// OnConnectOption returns an Option that sets the connect callback.
// The callback is invoked after a connection becomes established.
// It runs on the accept loop and must not block.
func OnConnectOption(cb func(id ConnID)) Option {
	return func(o *options) {
		o.onConnect = cb
	}
}

// OnDisconnectOption returns an Option that sets the disconnect callback.
// The callback is invoked after a lost connection has been removed from the
// registry and its transport released.
func OnDisconnectOption(cb func(id ConnID)) Option {
	return func(o *options) {
		o.onDisconnect = cb
	}
}

// LoggerOption returns an Option that sets the logger.
// If not set, the default slog logger will be used.
func LoggerOption(logger Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}
