package policy

import (
	"errors"
	"net"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// ErrBlocked is returned when a connection is dropped because its IP-address
// is serving a block for having exceeded the sliding window.
var ErrBlocked = errors.New("blocked")

var (
	// DefaultMaxAttempts is the number of connection attempts an IP-address can
	// make within the window before it is blocked.
	DefaultMaxAttempts = 50
	// DefaultWindow is the span of the sliding window.
	DefaultWindow = 60 * time.Second
	// DefaultBlockTime is how long an IP-address stays blocked.
	DefaultBlockTime = 60 * time.Second
	// DefaultCapacity is the number of IP-addresses that are tracked.
	DefaultCapacity = 65535
)

// WindowOptions configure SlidingWindow.
type WindowOptions struct {
	MaxAttempts int
	Window      time.Duration
	BlockTime   time.Duration
	Capacity    int
	Clock       clock.Clock
}

// DefaultWindowOptions returns new WindowOptions with sane defaults.
func DefaultWindowOptions() WindowOptions {
	return WindowOptions{
		MaxAttempts: DefaultMaxAttempts,
		Window:      DefaultWindow,
		BlockTime:   DefaultBlockTime,
		Capacity:    DefaultCapacity,
		Clock:       clock.New(),
	}
}

// WithMaxAttempts returns new WindowOptions with the given maximum number of
// attempts per window.
func (opts WindowOptions) WithMaxAttempts(maxAttempts int) WindowOptions {
	opts.MaxAttempts = maxAttempts
	return opts
}

// WithWindow returns new WindowOptions with the given window span.
func (opts WindowOptions) WithWindow(window time.Duration) WindowOptions {
	opts.Window = window
	return opts
}

// WithBlockTime returns new WindowOptions with the given block duration.
func (opts WindowOptions) WithBlockTime(blockTime time.Duration) WindowOptions {
	opts.BlockTime = blockTime
	return opts
}

// WithClock returns new WindowOptions with the given clock.
func (opts WindowOptions) WithClock(clock clock.Clock) WindowOptions {
	opts.Clock = clock
	return opts
}

type window struct {
	attempts  []time.Time
	blockedAt time.Time
}

// SlidingWindow returns an Allow function that counts the connection attempts
// of every IP-address over a sliding window. An IP-address that already has
// the maximum number of attempts in the window is refused and blocked; all
// of its attempts are refused until the block time has passed, after which
// it starts again with an empty window. Refused attempts are not counted.
//
// This is coarse protection: clients sharing a public IP-address share a
// window.
func SlidingWindow(opts WindowOptions) Allow {
	mu := new(sync.Mutex)
	windows, err := simplelru.NewLRU[string, *window](opts.Capacity, nil)
	if err != nil {
		panic("policy: sliding window capacity must be positive")
	}

	return func(conn net.Conn) (error, Cleanup) {
		remoteAddr := RemoteIP(conn)
		now := opts.Clock.Now()

		mu.Lock()
		defer mu.Unlock()

		w, ok := windows.Get(remoteAddr)
		if !ok {
			w = &window{attempts: make([]time.Time, 0, opts.MaxAttempts)}
			windows.Add(remoteAddr, w)
		}

		if !w.blockedAt.IsZero() {
			if now.Sub(w.blockedAt) < opts.BlockTime {
				return ErrBlocked, nil
			}
			w.blockedAt = time.Time{}
			w.attempts = w.attempts[:0]
		}

		// Attempts are appended in order, so the expired ones are at the
		// front.
		cutoff := now.Add(-opts.Window)
		i := 0
		for i < len(w.attempts) && w.attempts[i].Before(cutoff) {
			i++
		}
		w.attempts = append(w.attempts[:0], w.attempts[i:]...)

		if len(w.attempts) >= opts.MaxAttempts {
			w.blockedAt = now
			return ErrRateLimited, nil
		}
		w.attempts = append(w.attempts, now)
		return nil, nil
	}
}
