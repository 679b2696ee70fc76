package policy

import (
	"errors"
	"net"
	"sync"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"golang.org/x/time/rate"
)

// ErrRateLimited is returned when a connection is dropped because it has
// exceeded its rate limit for connection attempts.
var ErrRateLimited = errors.New("rate limited")

// Allow is a function that filters connections. If an error is returned, the
// connection is filtered and closed. Otherwise, it is maintained. A clean-up
// function is also returned. This function is called after the connection is
// closed, regardless of whether the closure was caused by filtering or normal
// control-flow.
type Allow func(net.Conn) (error, Cleanup)

// Cleanup resource allocation, or reverse per-connection state mutations, done
// by an Allow function.
type Cleanup func()

// All returns an Allow function that only passes a connection if all Allow
// functions in a set pass for that connection. Execution is lazy; when one of
// the Allow functions returns an error, no more Allow functions will be called.
// Nil Allow functions are skipped.
func All(fs ...Allow) Allow {
	return func(conn net.Conn) (error, Cleanup) {
		cleanup := func() {}
		for _, f := range fs {
			if f == nil {
				continue
			}
			err, cleanupF := f(conn)
			if cleanupF != nil {
				cleanupCopy := cleanup
				cleanup = func() {
					cleanupF()
					cleanupCopy()
				}
			}
			if err != nil {
				return err, cleanup
			}
		}
		return nil, cleanup
	}
}

// RateLimit returns an Allow function that rejects an IP-address if it attempts
// too many connections too quickly. At most cap IP-addresses are tracked; the
// least recently seen address is forgotten first.
func RateLimit(r rate.Limit, b, cap int) Allow {
	mu := new(sync.Mutex)
	limiters, err := simplelru.NewLRU[string, *rate.Limiter](cap, nil)
	if err != nil {
		panic("policy: rate limit capacity must be positive")
	}

	return func(conn net.Conn) (error, Cleanup) {
		remoteAddr := RemoteIP(conn)

		mu.Lock()
		limiter, ok := limiters.Get(remoteAddr)
		if !ok {
			limiter = rate.NewLimiter(r, b)
			limiters.Add(remoteAddr, limiter)
		}
		mu.Unlock()

		if limiter.Allow() {
			return nil, nil
		}
		return ErrRateLimited, nil
	}
}

// RemoteIP returns the IP-address of the remote end of a connection, without
// the port. If the remote address is not a TCP address, its string form is
// returned instead.
func RemoteIP(conn net.Conn) string {
	switch addr := conn.RemoteAddr().(type) {
	case *net.TCPAddr:
		return addr.IP.String()
	case nil:
		return ""
	default:
		if host, _, err := net.SplitHostPort(addr.String()); err == nil {
			return host
		}
		return addr.String()
	}
}
