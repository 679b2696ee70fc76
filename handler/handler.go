// Package handler implements the rendezvous commands. A Handler validates
// the arguments of a decoded request, applies it to the peer directory and
// returns a wire.Result. It never panics and never returns an error: every
// failure, including an unexpected one, becomes an ERROR result.
package handler

import (
	"fmt"
	"math"
	"unicode/utf8"

	"github.com/renproject/rendezvous/peerstore"
	"github.com/renproject/rendezvous/wire"
	"go.uber.org/zap"
)

// Store is the subset of the peer directory used by the Handler.
type Store interface {
	Upsert(peerstore.Record) error
	Remove(ip, namespace string, filter peerstore.Filter) (int, error)
	List(namespace string) []peerstore.Record
	Len() int
}

// A Handler dispatches requests to the peer directory.
type Handler struct {
	opts  Options
	store Store
}

// New returns a Handler that applies requests to the given Store.
func New(opts Options, store Store) *Handler {
	return &Handler{opts: opts, store: store}
}

// Handle one request received from the given observed IP. The IP is always
// taken from the transport and is the only address ever registered.
func (handler *Handler) Handle(req wire.Request, ip string) (result wire.Result) {
	start := handler.opts.Clock.Now()
	defer func() {
		if r := recover(); r != nil {
			handler.opts.Logger.Error("handling request", zap.String("type", req.Kind.String()), zap.String("remote", ip), zap.Any("panic", r))
			result = wire.Err(wire.NewErrorMessage(fmt.Sprintf("internal error: %v", r)))
		}
		handler.opts.Metrics.ObserveRequest(req.Kind.String(), result.Status(), handler.opts.Clock.Since(start))
	}()

	switch req.Kind {
	case wire.Register:
		return handler.register(req, ip)
	case wire.Discover:
		return handler.discover(req)
	case wire.Unregister:
		return handler.unregister(req, ip)
	case wire.Invalid:
		reason := req.Err
		if reason == nil {
			reason = wire.NewError(wire.CodeInvalidJSON)
		}
		handler.opts.Logger.Debug("bad request", zap.String("remote", ip), zap.Error(reason))
		return wire.Err(reason)
	default:
		handler.opts.Logger.Debug("unknown command", zap.String("remote", ip), zap.String("type", req.Type))
		return wire.Err(wire.ErrUnknownCommand())
	}
}

func (handler *Handler) register(req wire.Request, ip string) wire.Result {
	namespace, err := req.String("namespace")
	if err != nil || !validLen(namespace, handler.opts.MaxNamespaceLen) {
		return wire.Err(wire.NewError(wire.CodeBadNamespace))
	}
	name, err := req.String("name")
	if err != nil || !validLen(name, handler.opts.MaxNameLen) {
		return wire.Err(wire.NewError(wire.CodeBadName))
	}
	port, err := req.Int("port")
	if err != nil || !validPort(port) {
		return wire.Err(wire.NewError(wire.CodeBadPort))
	}
	ttl := handler.opts.DefaultTTL
	if req.Has("ttl") {
		if ttl, err = req.Int("ttl"); err != nil {
			return wire.Err(wire.NewError(wire.CodeBadTTL))
		}
	}
	ttl = clamp(ttl, handler.opts.MinTTL, handler.opts.MaxTTL)

	record := peerstore.Record{
		IP:        ip,
		Port:      port,
		Name:      name,
		Namespace: namespace,
		TTL:       ttl,
		Timestamp: handler.opts.Clock.Now().UTC(),
	}
	if err := handler.store.Upsert(record); err != nil {
		return handler.persistErr(err)
	}
	handler.opts.Metrics.Peers.Set(float64(handler.store.Len()))
	handler.opts.Logger.Debug("registered",
		zap.String("remote", ip),
		zap.String("namespace", namespace),
		zap.String("name", name),
		zap.Int("port", port),
		zap.Int("ttl", ttl))

	return wire.Ok(wire.RegisterResponse{TTL: ttl, IP: ip, Port: port})
}

func (handler *Handler) discover(req wire.Request) wire.Result {
	namespace := ""
	if req.Has("namespace") {
		var err error
		if namespace, err = req.String("namespace"); err != nil {
			return wire.Err(wire.NewError(wire.CodeBadNamespace))
		}
	}

	records := handler.store.List(namespace)
	// Listing sweeps expired records, so the gauge may have gone stale.
	handler.opts.Metrics.Peers.Set(float64(handler.store.Len()))
	now := handler.opts.Clock.Now()
	peers := make([]wire.PeerInfo, 0, len(records))
	for _, record := range records {
		peers = append(peers, wire.PeerInfo{
			IP:        record.IP,
			Port:      record.Port,
			Name:      record.Name,
			Namespace: record.Namespace,
			TTL:       record.TTL,
			ExpiresIn: record.ExpiresIn(now),
		})
	}
	return wire.Ok(wire.DiscoverResponse{Peers: peers})
}

func (handler *Handler) unregister(req wire.Request, ip string) wire.Result {
	namespace, err := req.String("namespace")
	if err != nil || !validLen(namespace, handler.opts.MaxNamespaceLen) {
		return wire.Err(wire.NewError(wire.CodeBadNamespace))
	}

	filter := peerstore.Filter{}
	if req.Has("name") {
		name, err := req.String("name")
		if err != nil || !validLen(name, handler.opts.MaxNameLen) {
			return wire.Err(wire.NewError(wire.CodeBadName))
		}
		filter = filter.WithName(name)
	}
	if req.Has("port") {
		port, err := req.Int("port")
		if err != nil {
			return wire.Err(wire.NewError(wire.CodeBadPort))
		}
		filter = filter.WithPort(port)
	}

	n, err := handler.store.Remove(ip, namespace, filter)
	if err != nil {
		return handler.persistErr(err)
	}
	handler.opts.Metrics.Peers.Set(float64(handler.store.Len()))
	handler.opts.Logger.Debug("unregistered", zap.String("remote", ip), zap.String("namespace", namespace), zap.Int("removed", n))

	return wire.Ok(nil)
}

func (handler *Handler) persistErr(err error) wire.Result {
	handler.opts.Metrics.PersistErrors.Inc()
	handler.opts.Logger.Error("updating peers", zap.Error(err))
	return wire.Err(wire.NewErrorMessage(err.Error()))
}

func validLen(s string, max int) bool {
	n := utf8.RuneCountInString(s)
	return n >= 1 && n <= max
}

func validPort(port int) bool {
	return port >= 1 && port <= math.MaxUint16
}

func clamp(n, min, max int) int {
	if n < min {
		return min
	}
	if n > max {
		return max
	}
	return n
}
