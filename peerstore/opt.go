package peerstore

import (
	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

var (
	// DefaultPath is the file that the directory is persisted to.
	DefaultPath = "peers.json"
)

// Options to configure the behaviour of the Store.
type Options struct {
	Logger *zap.Logger
	Clock  clock.Clock
	// Path of the persisted snapshot. An empty path keeps the Store in memory
	// only.
	Path string
}

// DefaultOptions returns new Options with sane defaults.
func DefaultOptions() Options {
	return Options{
		Logger: zap.NewNop(),
		Clock:  clock.New(),
		Path:   DefaultPath,
	}
}

// WithLogger returns new Options with the given logger.
func (opts Options) WithLogger(logger *zap.Logger) Options {
	opts.Logger = logger
	return opts
}

// WithClock returns new Options with the given clock. It is used to decide
// which records are live.
func (opts Options) WithClock(clock clock.Clock) Options {
	opts.Clock = clock
	return opts
}

// WithPath returns new Options with the given snapshot path.
func (opts Options) WithPath(path string) Options {
	opts.Path = path
	return opts
}
