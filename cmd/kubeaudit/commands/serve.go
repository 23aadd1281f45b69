package commands

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/moolen/kubeaudit/internal/audit"
	"github.com/moolen/kubeaudit/internal/config"
	"github.com/moolen/kubeaudit/internal/lifecycle"
	"github.com/moolen/kubeaudit/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/trace"
)

const shutdownTimeout = 15 * time.Second

var (
	listenAddr    string
	serveInterval time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Audit periodically and export the results",
	Long: `Serve audits the cluster (or a snapshot file) on a fixed interval and
exposes Prometheus metrics on /metrics, the last report on /report and a
liveness probe on /healthz. Changes to the --config file are applied
without a restart.`,
	Example: `  kubeaudit serve --kubeconfig ~/.kube/config --listen :9090 --interval 5m`,
	RunE: func(cmd *cobra.Command, args []string) error {
		var overrides serveOverrides
		if cmd.Flags().Changed("listen") {
			overrides.listenAddr = listenAddr
		}
		if cmd.Flags().Changed("interval") {
			overrides.interval = serveInterval
		}
		return runServe(cmd.Context(), currentConfig(), sourceFromFlags(), overrides)
	},
}

func init() {
	addSourceFlags(serveCmd)
	serveCmd.Flags().StringVar(&listenAddr, "listen", ":9090", "HTTP listen address")
	serveCmd.Flags().DurationVar(&serveInterval, "interval", 5*time.Minute, "Time between audit runs")
}

// serveOverrides holds flag values that take precedence over the config
// file, including across reloads. Zero values are unset.
type serveOverrides struct {
	listenAddr string
	interval   time.Duration
}

func (o serveOverrides) apply(cfg *config.Config) {
	if o.listenAddr != "" {
		cfg.Serve.ListenAddr = o.listenAddr
	}
	if o.interval > 0 {
		cfg.Serve.Interval = o.interval
	}
}

// auditServer runs audits on a ticker and serves the last report
type auditServer struct {
	mu      sync.RWMutex
	cfg     *config.Config
	auditor *audit.Auditor
	last    *audit.Report

	source   snapshotSource
	metrics  *audit.Metrics
	tracer   trace.Tracer
	interval chan time.Duration
	logger   *logging.Logger
}

func newAuditServer(cfg *config.Config, source snapshotSource, metrics *audit.Metrics, tracer trace.Tracer) (*auditServer, error) {
	s := &auditServer{
		source:   source,
		metrics:  metrics,
		tracer:   tracer,
		interval: make(chan time.Duration, 1),
		logger:   logging.GetLogger("commands.serve"),
	}
	if err := s.applyConfig(cfg); err != nil {
		return nil, err
	}
	return s, nil
}

// applyConfig swaps in an auditor built from cfg. The ticker picks up a
// changed interval on its next select.
func (s *auditServer) applyConfig(cfg *config.Config) error {
	opts, err := audit.OptionsFromConfig(cfg)
	if err != nil {
		return err
	}
	if cfg.Serve.Interval <= 0 {
		return config.NewConfigError("serve.interval must be positive")
	}
	auditor := audit.New(opts, audit.WithMetrics(s.metrics), audit.WithTracer(s.tracer))

	s.mu.Lock()
	previous := s.cfg
	s.cfg = cfg
	s.auditor = auditor
	s.mu.Unlock()

	if previous != nil && previous.Serve.Interval != cfg.Serve.Interval {
		// Drop a pending value; only the newest interval matters.
		select {
		case <-s.interval:
		default:
		}
		s.interval <- cfg.Serve.Interval
	}
	return nil
}

func (s *auditServer) current() (*config.Config, *audit.Auditor) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg, s.auditor
}

// Report returns the last successful report, or nil before the first run
func (s *auditServer) Report() *audit.Report {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}

// runOnce loads a snapshot and audits it
func (s *auditServer) runOnce(ctx context.Context) error {
	cfg, auditor := s.current()
	snap, err := s.source.load(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to load snapshot: %w", err)
	}
	report, err := auditor.Run(ctx, snap)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.last = report
	s.mu.Unlock()
	return nil
}

// loopComponent runs loop in the background until stopped
func (s *auditServer) loopComponent(parent context.Context) lifecycle.Component {
	var (
		cancel context.CancelFunc
		done   chan struct{}
	)
	return &lifecycle.Func{
		ComponentName: "audit-loop",
		StartFunc: func(context.Context) error {
			var ctx context.Context
			ctx, cancel = context.WithCancel(parent)
			done = make(chan struct{})
			go func() {
				defer close(done)
				s.loop(ctx)
			}()
			return nil
		},
		StopFunc: func(ctx context.Context) error {
			cancel()
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	}
}

// loop audits immediately and then on every tick until ctx is done
func (s *auditServer) loop(ctx context.Context) {
	cfg, _ := s.current()
	ticker := time.NewTicker(cfg.Serve.Interval)
	defer ticker.Stop()

	for {
		if err := s.runOnce(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("Audit run failed: %v", err)
		}

		select {
		case <-ctx.Done():
			return
		case d := <-s.interval:
			s.logger.Info("Audit interval changed to %s", d)
			ticker.Reset(d)
		case <-ticker.C:
		}
	}
}

func (s *auditServer) handler(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	mux.HandleFunc("/report", func(w http.ResponseWriter, r *http.Request) {
		report := s.Report()
		if report == nil {
			http.Error(w, "no audit has completed yet", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := writeJSON(w, report); err != nil {
			s.logger.Warn("Failed to write report response: %v", err)
		}
	})
	return mux
}

func runServe(parent context.Context, cfg *config.Config, source snapshotSource, overrides serveOverrides) error {
	logger := logging.GetLogger("commands.serve")
	overrides.apply(cfg)

	provider, err := newTracingProvider(cfg)
	if err != nil {
		return err
	}
	defer shutdownTracing(provider)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := audit.NewMetrics(reg)

	srv, err := newAuditServer(cfg, source, metrics, provider.Tracer("audit"))
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	manager := lifecycle.NewManager()
	manager.SetShutdownTimeout(shutdownTimeout)

	if configPath != "" {
		watcher, err := config.NewWatcher(config.WatcherOptions{FilePath: configPath}, func(next *config.Config) error {
			overrides.apply(next)
			// The listener is bound once.
			next.Serve.ListenAddr = cfg.Serve.ListenAddr
			return srv.applyConfig(next)
		})
		if err != nil {
			return err
		}
		if err := manager.Register(&lifecycle.Func{
			ComponentName: "config-watcher",
			StartFunc:     watcher.Start,
			StopFunc:      func(context.Context) error { return watcher.Stop() },
		}); err != nil {
			return err
		}
	}

	serveErr := make(chan error, 1)
	httpServer := &http.Server{
		Addr:              cfg.Serve.ListenAddr,
		Handler:           srv.handler(reg),
		ReadHeaderTimeout: 10 * time.Second,
	}
	if err := manager.Register(
		srv.loopComponent(ctx),
		&lifecycle.Func{
			ComponentName: "http-server",
			StartFunc: func(context.Context) error {
				ln, err := net.Listen("tcp", cfg.Serve.ListenAddr)
				if err != nil {
					return err
				}
				logger.Info("Listening on %s", ln.Addr())
				go func() {
					if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
						serveErr <- err
					}
				}()
				return nil
			},
			StopFunc: httpServer.Shutdown,
		},
	); err != nil {
		return err
	}

	if err := manager.Start(ctx); err != nil {
		return err
	}

	// Set up signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	var runErr error
	select {
	case <-sigChan:
		logger.Info("Shutdown signal received, gracefully shutting down...")
	case <-parent.Done():
	case err := <-serveErr:
		runErr = fmt.Errorf("http server failed: %w", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := manager.Stop(shutdownCtx); err != nil {
		logger.Error("Error during shutdown: %v", err)
	}

	logger.Info("Shutdown complete")
	return runErr
}
