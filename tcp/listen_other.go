//go:build !linux

package tcp

import (
	"context"
	"net"
)

// listen opens a TCP listener. The backlog is left to the system default.
func listen(ctx context.Context, address string, _ int) (net.Listener, error) {
	return new(net.ListenConfig).Listen(ctx, "tcp", address)
}
