package handler

import (
	"github.com/benbjohnson/clock"
	"github.com/renproject/rendezvous/metrics"
	"go.uber.org/zap"
)

var (
	// DefaultTTL is used when a registration does not specify a ttl.
	DefaultTTL = 7200
	// DefaultMinTTL and DefaultMaxTTL bound the ttl of a registration. Values
	// outside of the bounds are clamped rather than rejected.
	DefaultMinTTL = 1
	DefaultMaxTTL = 86400
	// DefaultMaxNamespaceLen and DefaultMaxNameLen bound the number of
	// characters in a namespace and a name.
	DefaultMaxNamespaceLen = 64
	DefaultMaxNameLen      = 64
)

// Options to configure the behaviour of the Handler.
type Options struct {
	Logger  *zap.Logger
	Clock   clock.Clock
	Metrics *metrics.Metrics

	DefaultTTL      int
	MinTTL          int
	MaxTTL          int
	MaxNamespaceLen int
	MaxNameLen      int
}

// DefaultOptions returns new Options with sane defaults. The Metrics are not
// registered anywhere.
func DefaultOptions() Options {
	return Options{
		Logger:  zap.NewNop(),
		Clock:   clock.New(),
		Metrics: metrics.New(nil),

		DefaultTTL:      DefaultTTL,
		MinTTL:          DefaultMinTTL,
		MaxTTL:          DefaultMaxTTL,
		MaxNamespaceLen: DefaultMaxNamespaceLen,
		MaxNameLen:      DefaultMaxNameLen,
	}
}

// WithLogger returns new Options with the given logger.
func (opts Options) WithLogger(logger *zap.Logger) Options {
	opts.Logger = logger
	return opts
}

// WithClock returns new Options with the given clock. It is used to
// timestamp registrations and to compute the remaining ttl of discovered
// peers.
func (opts Options) WithClock(clock clock.Clock) Options {
	opts.Clock = clock
	return opts
}

// WithMetrics returns new Options with the given metrics.
func (opts Options) WithMetrics(metrics *metrics.Metrics) Options {
	opts.Metrics = metrics
	return opts
}

// WithTTL returns new Options with the given default and bounds for the ttl
// of a registration.
func (opts Options) WithTTL(def, min, max int) Options {
	opts.DefaultTTL = def
	opts.MinTTL = min
	opts.MaxTTL = max
	return opts
}
