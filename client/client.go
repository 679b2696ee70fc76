// Package client implements the client side of the rendezvous protocol.
// Every call dials a new connection, writes one request line and reads one
// response line, after which the server closes the connection.
package client

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"time"

	"github.com/renproject/rendezvous/peerstore"
	"github.com/renproject/rendezvous/policy"
	"github.com/renproject/rendezvous/tcp"
	"github.com/renproject/rendezvous/wire"
	"go.uber.org/zap"
)

// ErrNoResponse is returned when the server closes the connection without
// writing a response. This is how admission control refuses a client.
var ErrNoResponse = errors.New("connection closed without a response")

var (
	DefaultDialTimeout = policy.MaxTimeout(10*time.Second, policy.ExponentialBackoff(2.0, policy.ConstantTimeout(500*time.Millisecond)))
	DefaultTimeout     = 10 * time.Second
)

type Options struct {
	Logger *zap.Logger
	// DialTimeout bounds each dial attempt. Dialing is retried until the
	// context is done.
	DialTimeout policy.Timeout
	// Timeout bounds writing the request and reading the response.
	Timeout time.Duration
}

func DefaultOptions() Options {
	return Options{
		Logger:      zap.NewNop(),
		DialTimeout: DefaultDialTimeout,
		Timeout:     DefaultTimeout,
	}
}

func (opts Options) WithLogger(logger *zap.Logger) Options {
	opts.Logger = logger
	return opts
}

func (opts Options) WithDialTimeout(timeout policy.Timeout) Options {
	opts.DialTimeout = timeout
	return opts
}

func (opts Options) WithTimeout(timeout time.Duration) Options {
	opts.Timeout = timeout
	return opts
}

// A Client talks to one rendezvous server.
type Client struct {
	opts    Options
	address string
}

// New returns a Client for the server at the given host:port address.
func New(opts Options, address string) *Client {
	return &Client{opts: opts, address: address}
}

// Register the caller under the namespace and name, reachable on the given
// port of whatever IP-address the server observes. A ttl of zero leaves the
// choice to the server. The registration, as accepted by the server, is
// returned.
func (client *Client) Register(ctx context.Context, namespace, name string, port, ttl int) (wire.RegisterResponse, error) {
	req := map[string]interface{}{
		"type":      "register",
		"namespace": namespace,
		"name":      name,
		"port":      port,
	}
	if ttl != 0 {
		req["ttl"] = ttl
	}
	resp, err := client.do(ctx, req)
	if err != nil {
		return wire.RegisterResponse{}, err
	}
	return wire.RegisterResponse{TTL: resp.TTL, IP: resp.IP, Port: resp.Port}, nil
}

// Discover the live peers in a namespace. An empty namespace discovers the
// peers in every namespace.
func (client *Client) Discover(ctx context.Context, namespace string) ([]wire.PeerInfo, error) {
	req := map[string]interface{}{
		"type": "discover",
	}
	if namespace != "" {
		req["namespace"] = namespace
	}
	resp, err := client.do(ctx, req)
	if err != nil {
		return nil, err
	}
	return resp.Peers, nil
}

// Unregister the records of the caller in a namespace that match the filter.
func (client *Client) Unregister(ctx context.Context, namespace string, filter peerstore.Filter) error {
	req := map[string]interface{}{
		"type":      "unregister",
		"namespace": namespace,
	}
	if filter.Name != nil {
		req["name"] = *filter.Name
	}
	if filter.Port != nil {
		req["port"] = *filter.Port
	}
	_, err := client.do(ctx, req)
	return err
}

// do one exchange. An ERROR response is returned as a *wire.Error.
func (client *Client) do(ctx context.Context, req map[string]interface{}) (wire.Response, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return wire.Response{}, fmt.Errorf("encoding request: %w", err)
	}
	data = append(data, '\n')

	var resp wire.Response
	handleErr := func(err error) {
		client.opts.Logger.Debug("dialing", zap.String("addr", client.address), zap.Error(err))
	}
	err = tcp.Dial(ctx, client.address, func(conn net.Conn) error {
		deadline := time.Now().Add(client.opts.Timeout)
		if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
			deadline = ctxDeadline
		}
		if err := conn.SetDeadline(deadline); err != nil {
			return fmt.Errorf("setting deadline: %w", err)
		}

		if _, err := conn.Write(data); err != nil {
			if closedByServer(err) {
				return ErrNoResponse
			}
			return fmt.Errorf("writing request: %w", err)
		}
		line, err := bufio.NewReader(conn).ReadBytes('\n')
		if err != nil {
			if len(line) == 0 && closedByServer(err) {
				return ErrNoResponse
			}
			return fmt.Errorf("reading response: %w", err)
		}
		if resp, err = wire.DecodeResponse(line); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
		return nil
	}, handleErr, client.opts.DialTimeout)
	if err != nil {
		return wire.Response{}, err
	}
	return resp, resp.Err()
}

// closedByServer reports whether err means the server closed the
// connection. A server that closes with our request unread resets the
// connection instead of shutting it down.
func closedByServer(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE)
}
