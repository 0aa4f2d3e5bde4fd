// Command qcomponentd serves the movies component provider over the
// transports enabled in its configuration: HTTP and websockets, NATS, and
// stdio. Prometheus metrics are served on their own listener.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/CrimsonAS/qcomponent/config"
	"github.com/CrimsonAS/qcomponent/examples/movies"
	"github.com/CrimsonAS/qcomponent/logging"
	"github.com/CrimsonAS/qcomponent/server"
	"github.com/CrimsonAS/qcomponent/transport/httptransport"
	"github.com/CrimsonAS/qcomponent/transport/natstransport"
	"github.com/CrimsonAS/qcomponent/transport/stream"
	"github.com/CrimsonAS/qcomponent/transport/wstransport"
)

func main() {
	configPath := flag.String("config", "", "path to a TOML or YAML configuration file")
	stdio := flag.Bool("stdio", false, "serve requests on stdin and stdout")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "qcomponentd: %v\n", err)
			os.Exit(1)
		}
	}
	if *stdio {
		cfg.Server.Stdio = true
	}
	logging.ApplyEnv(&cfg.Log)
	cfg.Log.Output = os.Stderr
	logger := logging.Install(cfg.Log).With().Str("component", "qcomponentd").Logger()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if err := run(ctx, cfg, logger); err != nil {
		cancel()
		fmt.Fprintf(os.Stderr, "qcomponentd: %v\n", err)
		os.Exit(1)
	}
}

// newServer builds the movies server, registering its metrics on registry.
func newServer(cfg config.ServerConfig, registry prometheus.Registerer) (*server.Server, error) {
	provider, err := movies.NewProvider(movies.NewStore(movies.Sample()...))
	if err != nil {
		return nil, err
	}
	opts := []server.Option{
		server.WithLogger(logging.For("server")),
		server.WithMetrics(registry),
	}
	if cfg.Version > 0 {
		opts = append(opts, server.WithVersion(cfg.Version))
	}
	return server.New(provider, opts...)
}

// queryHandler serves queries on the HTTP path and, when configured, on the
// websocket path.
func queryHandler(cfg config.ServerConfig, srv *server.Server) http.Handler {
	mux := http.NewServeMux()
	mux.Handle(cfg.HTTPPath, httptransport.HandlerWithLogger(srv, logging.For("http")))
	if cfg.WSPath != "" {
		mux.Handle(cfg.WSPath, wstransport.NewHandler(srv))
	}
	return mux
}

func metricsHandler(registry *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{EnableOpenMetrics: true}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	return mux
}

// run serves until ctx is done, a listener fails, or the stdio peer
// closes its end.
func run(ctx context.Context, cfg config.Config, logger zerolog.Logger) error {
	registry := prometheus.NewRegistry()
	srv, err := newServer(cfg.Server, registry)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	if cfg.Server.HTTPListen != "" {
		serveHTTP(ctx, g, logger, "http", cfg.Server.HTTPListen, queryHandler(cfg.Server, srv), cfg.Server.ShutdownTimeout)
	}
	if cfg.Server.MetricsListen != "" {
		serveHTTP(ctx, g, logger, "metrics", cfg.Server.MetricsListen, metricsHandler(registry), cfg.Server.ShutdownTimeout)
	}

	if cfg.Server.NATSURL != "" {
		nc, err := nats.Connect(cfg.Server.NATSURL, nats.Name(cfg.Server.Name))
		if err != nil {
			cancel()
			_ = g.Wait()
			return fmt.Errorf("nats: %w", err)
		}
		sub, err := natstransport.Serve(ctx, nc, cfg.Server.NATSSubject, srv)
		if err != nil {
			nc.Close()
			cancel()
			_ = g.Wait()
			return err
		}
		logger.Info().Str("subject", cfg.Server.NATSSubject).Msg("serving on nats")
		g.Go(func() error {
			<-ctx.Done()
			err := sub.Close()
			nc.Close()
			return err
		})
	}

	if cfg.Server.Stdio {
		// stray writes to stdout would corrupt the stream
		in, out := os.Stdin, os.Stdout
		os.Stdin, os.Stdout = nil, os.Stderr
		conn := stream.NewConnSplit(in, out)
		conn.SetLogger(logging.For("stdio"))
		g.Go(func() error {
			err := stream.Serve(ctx, conn, srv)
			// the peer closing stdin ends the process
			cancel()
			return err
		})
	}

	logger.Info().Str("server", cfg.Server.Name).Msg("started")
	return g.Wait()
}

func serveHTTP(ctx context.Context, g *errgroup.Group, logger zerolog.Logger, name, addr string, h http.Handler, timeout time.Duration) {
	hs := &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 10 * time.Second}
	g.Go(func() error {
		logger.Info().Str("listener", name).Str("addr", addr).Msg("listening")
		if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("%s: %w", name, err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return hs.Shutdown(shutdownCtx)
	})
}
