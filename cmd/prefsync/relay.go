package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/vango-dev/prefsync/internal/logging"
	"github.com/vango-dev/prefsync/pkg/relay"
)

func relayCmd(flags *globalFlags) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Run the change relay server",
		Long: `Run a WebSocket hub that rebroadcasts every change a client publishes
to all other connected clients.

Processes opt in by setting relay.url (or PREFSYNC_RELAY_URL) to
ws://HOST:PORT/ws.

Routes:
  GET /ws        relay connection
  GET /healthz   liveness
  GET /metrics   Prometheus metrics

Examples:
  prefsync relay
  prefsync relay --listen :9000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			if listen == "" {
				listen = cfg.Relay.Listen
			}
			logger := logging.New(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})

			ln, err := net.Listen("tcp", listen)
			if err != nil {
				return err
			}

			printBanner()
			info("relay")
			success("Listening on %s", ln.Addr())
			info("Connect with PREFSYNC_RELAY_URL=ws://%s/ws", displayAddr(ln.Addr()))

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			hub := relay.NewHub(relay.WithHubLogger(logger))
			return serveRelay(ctx, ln, hub, relayMetrics(hub))
		},
	}

	cmd.Flags().StringVarP(&listen, "listen", "l", "", "Address to listen on (default from config, :7070)")
	return cmd
}

// relayMetrics returns a registry exposing runtime metrics and the
// number of connected relay clients.
func relayMetrics(hub *relay.Hub) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "prefsync",
			Name:      "relay_clients",
			Help:      "Number of connected relay clients",
		}, func() float64 { return float64(hub.ClientCount()) }),
	)
	return reg
}

// serveRelay serves the hub on ln until ctx is done, then shuts down.
func serveRelay(ctx context.Context, ln net.Listener, hub *relay.Hub, reg *prometheus.Registry) error {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	r.Mount("/", hub.Handler())

	srv := &http.Server{
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		// Hijacked websocket connections are not tracked by Shutdown.
		hub.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func displayAddr(addr net.Addr) string {
	if tcp, ok := addr.(*net.TCPAddr); ok && tcp.IP.IsUnspecified() {
		return net.JoinHostPort("localhost", strconv.Itoa(tcp.Port))
	}
	return addr.String()
}
