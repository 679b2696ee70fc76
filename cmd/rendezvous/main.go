// Command rendezvous runs a rendezvous server: peers register under a
// namespace with the address the server observes for them, and discover each
// other by namespace. It also has client subcommands for talking to a running
// server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/renproject/rendezvous/handler"
	"github.com/renproject/rendezvous/metrics"
	"github.com/renproject/rendezvous/peerstore"
	"github.com/renproject/rendezvous/tcp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := rootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "rendezvous",
		Short:        "Rendezvous server for peer discovery",
		SilenceUsage: true,
		RunE:         runServer,
	}
	cmd.Flags().AddFlagSet(serverFlags())
	cmd.AddCommand(registerCommand(), discoverCommand(), unregisterCommand())
	return cmd
}

func runServer(cmd *cobra.Command, _ []string) error {
	v, err := newConfig(cmd.Flags())
	if err != nil {
		return err
	}
	logger, err := newLogger(v.GetString(cfgLogMode), v.GetString(cfgLogFile), v.GetString(cfgLogLevel))
	if err != nil {
		return err
	}
	defer logger.Sync()

	opts, err := serverOptions(v)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	store := peerstore.New(peerstore.DefaultOptions().
		WithLogger(logger.Named("peerstore")).
		WithPath(v.GetString(cfgDB)))
	m.Peers.Set(float64(store.Len()))

	h := handler.New(handler.DefaultOptions().
		WithLogger(logger.Named("handler")).
		WithMetrics(m), store)
	server := tcp.NewServer(opts.WithLogger(logger.Named("tcp")).WithMetrics(m), h)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Listen(ctx)
	})
	if addr := v.GetString(cfgMetricsAddr); addr != "" {
		serveMetrics(ctx, g, logger, reg, addr)
	}

	if err := g.Wait(); err != nil {
		logger.Error("stopped", zap.Error(err))
		return err
	}
	logger.Info("stopped")
	return nil
}

// serveMetrics serves the registry on /metrics until the context is done.
func serveMetrics(ctx context.Context, g *errgroup.Group, logger *zap.Logger, reg *prometheus.Registry, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g.Go(func() error {
		logger.Info("serving metrics", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serving metrics: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}
