package tcp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/renproject/rendezvous/metrics"
	"github.com/renproject/rendezvous/policy"
	"github.com/renproject/rendezvous/wire"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var (
	DefaultServerHost        = "0.0.0.0"
	DefaultServerPort        = uint16(8080)
	DefaultServerWorkers     = 64
	DefaultServerBacklog     = 128
	DefaultServerIdleTimeout = 5 * time.Second
	DefaultServerMaxLineSize = 32 * 1024

	DefaultKeepAliveIdle     = 60 * time.Second
	DefaultKeepAliveInterval = 10 * time.Second
	DefaultKeepAliveCount    = 5

	// The token bucket is disabled by default; the sliding window is the
	// primary admission policy.
	DefaultConnRateLimit      = rate.Inf
	DefaultConnRateLimitBurst = 10
)

// A Handler handles one decoded request received from the given observed
// IP-address.
type Handler interface {
	Handle(req wire.Request, ip string) wire.Result
}

type ServerOptions struct {
	Logger  *zap.Logger
	Metrics *metrics.Metrics

	Host string
	Port uint16
	// Workers is the maximum number of connections handled at once. While
	// every worker is busy, no connections are accepted and new connections
	// wait in the listen backlog.
	Workers int
	// Backlog is the length of the listen queue. It is only honoured on
	// Linux; other platforms use the system default.
	Backlog     int
	IdleTimeout time.Duration
	MaxLineSize int
	KeepAlive   net.KeepAliveConfig

	Admission      policy.WindowOptions
	RateLimit      rate.Limit
	RateLimitBurst int
}

func DefaultServerOptions() ServerOptions {
	logger, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	return ServerOptions{
		Logger:      logger,
		Metrics:     metrics.New(nil),
		Host:        DefaultServerHost,
		Port:        DefaultServerPort,
		Workers:     DefaultServerWorkers,
		Backlog:     DefaultServerBacklog,
		IdleTimeout: DefaultServerIdleTimeout,
		MaxLineSize: DefaultServerMaxLineSize,
		KeepAlive: net.KeepAliveConfig{
			Enable:   true,
			Idle:     DefaultKeepAliveIdle,
			Interval: DefaultKeepAliveInterval,
			Count:    DefaultKeepAliveCount,
		},
		Admission:      policy.DefaultWindowOptions(),
		RateLimit:      DefaultConnRateLimit,
		RateLimitBurst: DefaultConnRateLimitBurst,
	}
}

// WithLogger sets the logger that will be used by the server.
func (opts ServerOptions) WithLogger(logger *zap.Logger) ServerOptions {
	opts.Logger = logger
	return opts
}

// WithMetrics sets the metrics that will be updated by the server.
func (opts ServerOptions) WithMetrics(metrics *metrics.Metrics) ServerOptions {
	opts.Metrics = metrics
	return opts
}

// WithHost sets the host address that will be used for listening.
func (opts ServerOptions) WithHost(host string) ServerOptions {
	opts.Host = host
	return opts
}

// WithPort sets the port that will be used for listening.
func (opts ServerOptions) WithPort(port uint16) ServerOptions {
	opts.Port = port
	return opts
}

// WithWorkers sets the maximum number of connections handled at once.
func (opts ServerOptions) WithWorkers(workers int) ServerOptions {
	opts.Workers = workers
	return opts
}

// WithBacklog sets the length of the listen queue.
func (opts ServerOptions) WithBacklog(backlog int) ServerOptions {
	opts.Backlog = backlog
	return opts
}

// WithIdleTimeout sets how long the server waits for the next chunk of a
// request, and for a response to be written.
func (opts ServerOptions) WithIdleTimeout(timeout time.Duration) ServerOptions {
	opts.IdleTimeout = timeout
	return opts
}

// WithMaxLineSize sets the maximum length of a request line in bytes.
func (opts ServerOptions) WithMaxLineSize(size int) ServerOptions {
	opts.MaxLineSize = size
	return opts
}

// WithKeepAlive sets the TCP keep-alive configuration of accepted
// connections.
func (opts ServerOptions) WithKeepAlive(config net.KeepAliveConfig) ServerOptions {
	opts.KeepAlive = config
	return opts
}

// WithAdmission sets the sliding window used to refuse connections from
// IP-addresses that connect too often.
func (opts ServerOptions) WithAdmission(admission policy.WindowOptions) ServerOptions {
	opts.Admission = admission
	return opts
}

// WithRateLimit sets an additional per IP-address token bucket. A limit of
// rate.Inf disables it.
func (opts ServerOptions) WithRateLimit(limit rate.Limit, burst int) ServerOptions {
	opts.RateLimit = limit
	opts.RateLimitBurst = burst
	return opts
}

// A Server accepts connections, and handles exactly one request line on each
// of them before closing it.
type Server struct {
	opts    ServerOptions
	handler Handler
	allow   policy.Allow
	pool    *WorkerPool

	addrMu *sync.RWMutex
	addr   net.Addr
}

func NewServer(opts ServerOptions, handler Handler) *Server {
	allow := policy.SlidingWindow(opts.Admission)
	if opts.RateLimit != rate.Inf {
		allow = policy.All(allow, policy.RateLimit(opts.RateLimit, opts.RateLimitBurst, opts.Admission.Capacity))
	}
	return &Server{
		opts:    opts,
		handler: handler,
		allow:   allow,
		pool:    NewWorkerPool(opts.Workers),

		addrMu: new(sync.RWMutex),
	}
}

// Options returns the Options used to configure the Server. Changing the
// Options returned by the method will have no affect on the behaviour of the
// Server.
func (server *Server) Options() ServerOptions {
	return server.opts
}

// Addr returns the address that the Server is listening on, or nil if it is
// not listening yet.
func (server *Server) Addr() net.Addr {
	server.addrMu.RLock()
	defer server.addrMu.RUnlock()
	return server.addr
}

// Listen for incoming connections on the configured host and port until the
// context is done.
func (server *Server) Listen(ctx context.Context) error {
	address := net.JoinHostPort(server.opts.Host, fmt.Sprintf("%v", server.opts.Port))
	listener, err := listen(ctx, address, server.opts.Backlog)
	if err != nil {
		return fmt.Errorf("listening on %v: %w", address, err)
	}
	return server.Serve(ctx, listener)
}

// Serve connections accepted from the listener until the context is done. The
// listener is closed when the context is done, after which Serve waits for
// the connections that are still being handled, and returns nil. Serve does
// not accept more connections than there are workers.
func (server *Server) Serve(ctx context.Context, listener net.Listener) error {
	server.addrMu.Lock()
	server.addr = listener.Addr()
	server.addrMu.Unlock()

	server.opts.Logger.Info("listening", zap.Stringer("addr", listener.Addr()), zap.Int("workers", server.opts.Workers))

	go func() {
		// When the context is done, explicitly close the listener so that it
		// does not block on waiting to accept a new connection.
		<-ctx.Done()
		if err := listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			server.opts.Logger.Error("closing listener", zap.Error(err))
		}
	}()

	handling := new(sync.WaitGroup)
	defer handling.Wait()

	for {
		// Wait until a worker becomes available before attempting to accept
		// a new connection.
		server.pool.Wait()

		conn, err := listener.Accept()
		if err != nil {
			server.pool.Signal()
			select {
			case <-ctx.Done():
				// Do not log errors because returning from this canceling a
				// context is the expected way to terminate the run loop.
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			server.opts.Logger.Error("accepting connection", zap.Error(err))
			continue
		}

		// Reject connections from IP-addresses that have attempted to connect
		// too often, without writing anything to them.
		err, cleanup := server.allow(conn)
		if err != nil {
			remoteAddr := policy.RemoteIP(conn)
			server.opts.Logger.Info("limiting", zap.String("remote", remoteAddr), zap.Error(err))
			server.opts.Metrics.ObserveRefused(refusedReason(err))
			if cleanup != nil {
				cleanup()
			}
			if err := conn.Close(); err != nil {
				server.opts.Logger.Debug("closing connection", zap.String("remote", remoteAddr), zap.Error(err))
			}
			server.pool.Signal()
			continue
		}
		server.opts.Metrics.ConnsAccepted.Inc()

		// Spawn a worker to handle this connection so that it does not block
		// other connections.
		handling.Add(1)
		go func() {
			defer handling.Done()
			defer server.pool.Signal()
			if cleanup != nil {
				defer cleanup()
			}
			server.HandleConn(conn)
		}()
	}
}

// A WorkerPool bounds the number of connections that are handled at once.
type WorkerPool struct {
	cond *sync.Cond
	busy int
	max  int
}

// NewWorkerPool returns a WorkerPool with the given number of workers. At
// least one worker is always available.
func NewWorkerPool(workers int) *WorkerPool {
	if workers < 1 {
		workers = 1
	}
	return &WorkerPool{
		cond: sync.NewCond(new(sync.Mutex)),
		max:  workers,
	}
}

// Wait until a worker is available, and reserve it. If every worker is busy,
// this method blocks until one of them is released by Signal.
func (pool *WorkerPool) Wait() {
	pool.cond.L.Lock()
	for pool.busy >= pool.max {
		pool.cond.Wait()
	}
	pool.busy++
	pool.cond.L.Unlock()
}

// Signal that a reserved worker is available again.
func (pool *WorkerPool) Signal() {
	pool.cond.L.Lock()
	pool.busy--
	pool.cond.L.Unlock()
	pool.cond.Signal()
}

// Busy returns the number of reserved workers.
func (pool *WorkerPool) Busy() int {
	pool.cond.L.Lock()
	defer pool.cond.L.Unlock()
	return pool.busy
}

// refusedReason returns the metric label for an admission error.
func refusedReason(err error) string {
	switch {
	case errors.Is(err, policy.ErrBlocked):
		return "blocked"
	case errors.Is(err, policy.ErrRateLimited):
		return "rate_limited"
	default:
		return "other"
	}
}
