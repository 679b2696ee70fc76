// Package tcp serves the rendezvous protocol over TCP. Every connection
// carries exactly one request line and one response line, after which the
// server closes it.
package tcp

import (
	"context"
	"fmt"
	"net"

	"github.com/renproject/rendezvous/policy"
	"go.uber.org/multierr"
)

// ListenerWithAssignedPort listens on an operating system assigned port of
// the given IP-address, and returns the listener along with that port.
func ListenerWithAssignedPort(ctx context.Context, ip net.IP, backlog int) (net.Listener, int, error) {
	listener, err := listen(ctx, net.JoinHostPort(ip.String(), "0"), backlog)
	if err != nil {
		return nil, 0, err
	}
	port := listener.Addr().(*net.TCPAddr).Port
	return listener, port, nil
}

// Dial a remote server until a connection is successfully established, or
// until the context is done. Multiple dial attempts can be made, and the
// timeout function is used to define an upper bound on dial attempts. This
// function blocks until the connection is handled (and the handle function
// returns), and then closes the connection.
func Dial(ctx context.Context, address string, handle func(net.Conn) error, handleErr func(error), timeout policy.Timeout) error {
	dialer := new(net.Dialer)

	if handle == nil {
		return fmt.Errorf("nil handle function")
	}

	if handleErr == nil {
		handleErr = func(error) {}
	}

	if timeout == nil {
		timeout = policy.ConstantTimeout(DefaultServerIdleTimeout)
	}

	for attempt := 1; ; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		dialCtx, dialCancel := context.WithTimeout(ctx, timeout(attempt))
		conn, err := dialer.DialContext(dialCtx, "tcp", address)
		if err != nil {
			handleErr(fmt.Errorf("dialing %v: %w", address, err))
			<-dialCtx.Done()
			dialCancel()
			continue
		}
		dialCancel()

		return multierr.Append(handle(conn), conn.Close())
	}
}
