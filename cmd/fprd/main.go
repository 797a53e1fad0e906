// FPR daemon -- Fast Peer Router node (discovery, handshake, messaging, mesh).
package main

import (
	"context"
	"crypto/rand"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/trace"
	"strings"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/dantte-lp/fpr/internal/config"
	"github.com/dantte-lp/fpr/internal/ctl"
	"github.com/dantte-lp/fpr/internal/fpr"
	fprmetrics "github.com/dantte-lp/fpr/internal/metrics"
	"github.com/dantte-lp/fpr/internal/transport"
	appversion "github.com/dantte-lp/fpr/internal/version"
)

// shutdownTimeout is the maximum time to wait for HTTP servers to drain
// active connections during graceful shutdown.
const shutdownTimeout = 10 * time.Second

// flightRecorderMinAge is the minimum window age for the flight recorder.
// Captures the last 500ms of execution traces for debugging datapath stalls.
const flightRecorderMinAge = 500 * time.Millisecond

// flightRecorderMaxBytes is the upper bound on flight recorder window size.
const flightRecorderMaxBytes = 2 * 1024 * 1024 // 2 MiB

// errUnknownTransport indicates node.transport named no known driver.
var errUnknownTransport = errors.New("unknown transport")

func main() {
	os.Exit(run())
}

func run() int {
	// 1. Parse flags.
	configPath := flag.String("config", "", "path to configuration file (YAML)")
	flag.Parse()

	// 2. Load config.
	cfg, err := loadConfig(*configPath)
	if err != nil {
		// Logger is not set up yet; use a temporary stderr logger.
		slog.New(slog.NewTextHandler(os.Stderr, nil)).Error("failed to load configuration",
			slog.String("error", err.Error()),
		)
		return 1
	}

	// 3. Set up logger with dynamic level support for SIGHUP reload.
	logLevel := new(slog.LevelVar)
	logLevel.Set(config.ParseLogLevel(cfg.Log.Level))
	logger := newLoggerWithLevel(cfg.Log, logLevel)

	logger.Info("fprd starting",
		slog.String("version", appversion.Version),
		slog.String("node", cfg.Node.Name),
		slog.String("mode", cfg.Node.Mode),
		slog.String("control_addr", cfg.Control.Addr),
		slog.String("metrics_addr", cfg.Metrics.Addr),
	)

	// 4. Start flight recorder for post-mortem debugging.
	fr := startFlightRecorder(logger)

	// 5. Create Prometheus metrics collector.
	reg := prometheus.NewRegistry()
	collector := fprmetrics.NewCollector(reg)

	// 6. Bring up the FPR network on the configured link-layer driver.
	network, driverClose, err := buildNetwork(cfg, logger)
	if err != nil {
		logger.Error("failed to bring up network",
			slog.String("error", err.Error()),
		)
		return 1
	}
	defer driverClose()

	// 7. Run servers.
	if err := runServers(cfg, network, collector, reg, *configPath, logLevel, fr, logger); err != nil {
		logger.Error("fprd exited with error",
			slog.String("error", err.Error()),
		)
		return 1
	}

	logger.Info("fprd stopped")
	return 0
}

// buildNetwork constructs the link-layer driver, initializes an fpr.Network
// on it, applies the configured role, and starts the background tasks.
// The returned closer releases the driver's resources after shutdown.
func buildNetwork(cfg *config.Config, logger *slog.Logger) (*fpr.Network, func(), error) {
	mac, err := nodeMAC(cfg.Node.MAC)
	if err != nil {
		return nil, nil, err
	}

	driver, driverClose, err := buildDriver(cfg.Node, mac)
	if err != nil {
		return nil, nil, err
	}

	network := fpr.New(driver, nil, logger)

	if err := network.SetConfig(fpr.Config{
		QueueCapacity:     cfg.Protocol.QueueCapacity,
		DefaultMaxHops:    cfg.Protocol.DefaultMaxHops,
		BroadcastInterval: cfg.Protocol.BroadcastInterval,
		KeepaliveInterval: cfg.Protocol.KeepaliveInterval,
		ReconnectTimeout:  cfg.Protocol.ReconnectTimeout,
		LowPowerScale:     cfg.Protocol.LowPowerScale,
		MaxPeers:          cfg.Protocol.MaxPeers,
	}); err != nil {
		driverClose()
		return nil, nil, fmt.Errorf("apply protocol config: %w", err)
	}

	power := fpr.PowerNormal
	if cfg.Node.LowPower {
		power = fpr.PowerLow
	}

	if err := network.Init(mac, cfg.Node.Name, fpr.InitOptions{
		Channel:   cfg.Node.Channel,
		PowerMode: power,
	}); err != nil {
		driverClose()
		return nil, nil, fmt.Errorf("init network: %w", err)
	}

	if err := applyMode(network, cfg); err != nil {
		driverClose()
		return nil, nil, err
	}

	if err := network.Start(); err != nil {
		driverClose()
		return nil, nil, fmt.Errorf("start network: %w", err)
	}

	return network, driverClose, nil
}

// applyMode switches the network into the configured starting role and
// installs the matching role config.
func applyMode(network *fpr.Network, cfg *config.Config) error {
	switch cfg.Node.Mode {
	case "host":
		if err := network.SetMode(fpr.ModeHost); err != nil {
			return fmt.Errorf("set host mode: %w", err)
		}

		if err := network.SetHostConfig(fpr.HostConfig{
			MaxPeers: cfg.Protocol.MaxPeers,
			Mode:     fpr.ConnAuto,
		}); err != nil {
			return fmt.Errorf("set host config: %w", err)
		}
	case "extender":
		if err := network.SetMode(fpr.ModeExtender); err != nil {
			return fmt.Errorf("set extender mode: %w", err)
		}
	default:
		// fpr.New starts in client mode; install the automatic policy.
		if err := network.SetClientConfig(fpr.ClientConfig{Mode: fpr.ConnAuto}); err != nil {
			return fmt.Errorf("set client config: %w", err)
		}
	}

	return nil
}

// nodeMAC parses the configured MAC, or mints a random locally-administered
// one when the config leaves it empty.
func nodeMAC(s string) (fpr.MAC, error) {
	if s != "" {
		mac, err := fpr.ParseMAC(s)
		if err != nil {
			return fpr.MAC{}, fmt.Errorf("parse node.mac: %w", err)
		}

		return mac, nil
	}

	var mac fpr.MAC
	if _, err := rand.Read(mac[:]); err != nil {
		return fpr.MAC{}, fmt.Errorf("generate node mac: %w", err)
	}

	// Locally administered, unicast.
	mac[0] = (mac[0] | 0x02) &^ 0x01

	return mac, nil
}

// buildDriver constructs the configured link-layer driver.
func buildDriver(node config.NodeConfig, mac fpr.MAC) (fpr.Driver, func(), error) {
	switch node.Transport {
	case "loopback":
		bus := transport.NewBus()
		return transport.NewLoopback(bus, mac), func() {}, nil
	case "udp":
		drv, err := transport.NewUDPDriver(mac, listenAddrFor(node.BusAddr), node.BusAddr)
		if err != nil {
			return nil, nil, fmt.Errorf("create udp driver: %w", err)
		}

		return drv, func() { _ = drv.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("%w: %q", errUnknownTransport, node.Transport)
	}
}

// listenAddrFor derives the local listen address from the broadcast
// address: same port, wildcard host.
func listenAddrFor(bcastAddr string) string {
	if i := strings.LastIndex(bcastAddr, ":"); i >= 0 {
		return bcastAddr[i:]
	}

	return bcastAddr
}

// runServers runs the control API and metrics HTTP servers using an
// errgroup with signal-aware context for graceful shutdown.
func runServers(
	cfg *config.Config,
	network *fpr.Network,
	collector *fprmetrics.Collector,
	reg *prometheus.Registry,
	configPath string,
	logLevel *slog.LevelVar,
	fr *trace.FlightRecorder,
	logger *slog.Logger,
) error {
	metricsSrv := newMetricsServer(cfg.Metrics, network, collector, reg)
	ctlSrv := newControlServer(cfg, network, logger)

	// errgroup with signal-aware context.
	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer stop()

	g, gCtx := errgroup.WithContext(ctx)

	lc := net.ListenConfig{}

	g.Go(func() error {
		logger.Info("control server listening", slog.String("addr", cfg.Control.Addr))
		return listenAndServe(gCtx, &lc, ctlSrv, cfg.Control.Addr)
	})

	g.Go(func() error {
		logger.Info("metrics server listening",
			slog.String("addr", cfg.Metrics.Addr),
			slog.String("path", cfg.Metrics.Path),
		)
		return listenAndServe(gCtx, &lc, metricsSrv, cfg.Metrics.Addr)
	})

	g.Go(func() error {
		return runWatchdog(gCtx, logger)
	})

	sigHUP := make(chan os.Signal, 1)
	signal.Notify(sigHUP, syscall.SIGHUP)
	g.Go(func() error {
		defer signal.Stop(sigHUP)
		handleSIGHUP(gCtx, sigHUP, configPath, logLevel, logger)
		return nil
	})

	notifyReady(logger)

	// Shutdown goroutine: waits for context cancellation.
	g.Go(func() error {
		<-gCtx.Done()
		return gracefulShutdown(gCtx, network, logger, fr, ctlSrv, metricsSrv)
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("run servers: %w", err)
	}
	return nil
}

// -------------------------------------------------------------------------
// Systemd Integration — sd_notify + watchdog
// -------------------------------------------------------------------------

// notifyReady sends READY=1 to systemd, indicating the daemon has
// completed initialization and is ready to serve.
func notifyReady(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	if err != nil {
		logger.Warn("failed to notify systemd readiness",
			slog.String("error", err.Error()),
		)
		return
	}
	if sent {
		logger.Info("notified systemd: READY")
	}
}

// notifyStopping sends STOPPING=1 to systemd, indicating the daemon
// is beginning graceful shutdown.
func notifyStopping(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyStopping)
	if err != nil {
		logger.Warn("failed to notify systemd stopping",
			slog.String("error", err.Error()),
		)
		return
	}
	if sent {
		logger.Info("notified systemd: STOPPING")
	}
}

// runWatchdog sends periodic watchdog keepalives to systemd.
// The interval is WatchdogSec/2 as recommended by the systemd documentation.
// If watchdog is not configured, the goroutine exits immediately.
func runWatchdog(ctx context.Context, logger *slog.Logger) error {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		logger.Warn("failed to check systemd watchdog",
			slog.String("error", err.Error()),
		)
		return nil
	}
	if interval == 0 {
		logger.Debug("systemd watchdog not configured, skipping keepalive")
		return nil
	}

	// Send keepalive at half the watchdog interval.
	tickInterval := interval / 2
	logger.Info("systemd watchdog enabled",
		slog.Duration("watchdog_sec", interval),
		slog.Duration("keepalive_interval", tickInterval),
	)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, wdErr := daemon.SdNotify(false, daemon.SdNotifyWatchdog); wdErr != nil {
				logger.Warn("failed to send watchdog keepalive",
					slog.String("error", wdErr.Error()),
				)
			}
		}
	}
}

// -------------------------------------------------------------------------
// SIGHUP Reload — log level
// -------------------------------------------------------------------------

// handleSIGHUP listens for SIGHUP signals and reloads configuration. On
// reload, the log level is updated dynamically via the shared LevelVar;
// identity and transport changes require a restart and are ignored.
// Blocks until the context is cancelled (graceful shutdown).
func handleSIGHUP(
	ctx context.Context,
	sigHUP <-chan os.Signal,
	configPath string,
	logLevel *slog.LevelVar,
	logger *slog.Logger,
) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sigHUP:
			logger.Info("received SIGHUP, reloading configuration")
			reloadConfig(configPath, logLevel, logger)
		}
	}
}

// reloadConfig loads a fresh configuration from the given path and updates
// the dynamic log level. Errors during reload are logged but do not stop
// the daemon -- the previous configuration remains in effect.
func reloadConfig(configPath string, logLevel *slog.LevelVar, logger *slog.Logger) {
	newCfg, err := loadConfig(configPath)
	if err != nil {
		logger.Error("failed to reload configuration, keeping current settings",
			slog.String("error", err.Error()),
		)
		return
	}

	oldLevel := logLevel.Level()
	newLevel := config.ParseLogLevel(newCfg.Log.Level)
	logLevel.Set(newLevel)

	logger.Info("configuration reloaded",
		slog.String("old_log_level", oldLevel.String()),
		slog.String("new_log_level", newLevel.String()),
	)
}

// -------------------------------------------------------------------------
// Graceful Shutdown — stop network + servers
// -------------------------------------------------------------------------

// gracefulShutdown performs an orderly shutdown: signals systemd, stops
// the network's background tasks, wipes session state, stops the flight
// recorder, then shuts down the HTTP servers.
//
// The parent context is already cancelled when this function is called.
// A fresh timeout context is created internally for server drain.
func gracefulShutdown(
	ctx context.Context,
	network *fpr.Network,
	logger *slog.Logger,
	fr *trace.FlightRecorder,
	servers ...*http.Server,
) error {
	logger.Info("initiating graceful shutdown")
	notifyStopping(logger)

	if err := network.Stop(); err != nil {
		logger.Warn("network stop failed", slog.String("error", err.Error()))
	} else if err := network.Deinit(); err != nil {
		logger.Warn("network deinit failed", slog.String("error", err.Error()))
	}

	// Stop flight recorder.
	if fr != nil {
		fr.Stop()
		logger.Debug("flight recorder stopped")
	}

	// Derive a fresh shutdown context from the parent (which is cancelled).
	// context.WithoutCancel detaches from the parent's cancellation so we
	// can enforce our own drain timeout.
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	var shutdownErr error
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			shutdownErr = errors.Join(shutdownErr, fmt.Errorf("shutdown server: %w", err))
		}
	}
	return shutdownErr
}

// -------------------------------------------------------------------------
// Flight Recorder — Go 1.26 runtime/trace
// -------------------------------------------------------------------------

// startFlightRecorder initializes and starts the Go 1.26 FlightRecorder
// for post-mortem debugging of datapath stalls. The recorder maintains a
// rolling window of execution trace data that can be dumped on demand.
func startFlightRecorder(logger *slog.Logger) *trace.FlightRecorder {
	fr := trace.NewFlightRecorder(trace.FlightRecorderConfig{
		MinAge:   flightRecorderMinAge,
		MaxBytes: flightRecorderMaxBytes,
	})

	if err := fr.Start(); err != nil {
		logger.Warn("failed to start flight recorder",
			slog.String("error", err.Error()),
		)
		return nil
	}

	logger.Info("flight recorder started",
		slog.Duration("min_age", flightRecorderMinAge),
		slog.Uint64("max_bytes", flightRecorderMaxBytes),
	)

	return fr
}

// -------------------------------------------------------------------------
// Server Setup
// -------------------------------------------------------------------------

// listenAndServe creates a TCP listener using the ListenConfig (for noctx
// compliance) and serves HTTP requests until the server is shut down.
func listenAndServe(ctx context.Context, lc *net.ListenConfig, srv *http.Server, addr string) error {
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve on %s: %w", addr, err)
	}
	return nil
}

// newMetricsServer creates an HTTP server for the Prometheus metrics
// endpoint. fpr.Stats is a pull source, so each scrape refreshes the
// collector from the network's snapshot before serving.
func newMetricsServer(
	cfg config.MetricsConfig,
	network *fpr.Network,
	collector *fprmetrics.Collector,
	reg *prometheus.Registry,
) *http.Server {
	syncer := fprmetrics.NewSyncer(collector)
	promHandler := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})

	mux := http.NewServeMux()
	mux.Handle(cfg.Path, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		syncer.Sync(network.Stats())
		collector.SetRole(strings.ToLower(network.Mode().String()))

		counts := make(map[[2]string]float64)
		for _, snap := range network.ListAllPeers() {
			counts[[2]string{snap.MAC.String(), strings.ToLower(snap.State.String())}]++
		}
		collector.SyncPeers(counts)

		promHandler.ServeHTTP(w, r)
	}))

	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// newControlServer creates an HTTP server for the fprctl control API.
func newControlServer(cfg *config.Config, network *fpr.Network, logger *slog.Logger) *http.Server {
	srv := ctl.NewServer(network, cfg.Node.Name, logger)

	return &http.Server{
		Addr:              cfg.Control.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// loadConfig loads configuration from a file path or returns defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		cfg, err := config.Load(path)
		if err != nil {
			return nil, fmt.Errorf("load config from %s: %w", path, err)
		}
		return cfg, nil
	}
	return config.DefaultConfig(), nil
}

// newLoggerWithLevel creates a structured logger using a shared LevelVar
// for dynamic log level changes via SIGHUP reload.
func newLoggerWithLevel(cfg config.LogConfig, level *slog.LevelVar) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
