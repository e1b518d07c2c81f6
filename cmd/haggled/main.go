// Haggled daemon -- the Haggle content-centric data sharing core
// (spec.md §1): an event-driven kernel multiplexing a data store,
// connectivity and protocol managers plus the application control
// endpoint onto a single dispatch goroutine.
package main

import (
	"context"
	"crypto/sha1" //nolint:gosec // node identity hash, not a security boundary (spec.md §3).
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/haggle-net/haggle/internal/config"
	"github.com/haggle-net/haggle/internal/connectivity"
	"github.com/haggle-net/haggle/internal/datastore"
	"github.com/haggle-net/haggle/internal/ipc"
	"github.com/haggle-net/haggle/internal/kernel"
	hagglemetrics "github.com/haggle-net/haggle/internal/metrics"
	"github.com/haggle-net/haggle/internal/protocol"
	"github.com/haggle-net/haggle/internal/types"
	appversion "github.com/haggle-net/haggle/internal/version"
)

// shutdownTimeout bounds how long the metrics HTTP server is given to
// drain active connections during graceful shutdown.
const shutdownTimeout = 10 * time.Second

// daemonizeEnv marks a re-exec'd child as already detached, so -d only
// forks once (spec.md §6: "-d (daemonize for haggle_daemon_spawn)").
const daemonizeEnv = "HAGGLED_DAEMONIZED"

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to configuration file (YAML)")
	daemonize := flag.Bool("d", false, "daemonize: fork into the background and detach from the controlling terminal")
	flag.Parse()

	if *daemonize && os.Getenv(daemonizeEnv) == "" {
		return spawnDaemonized()
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.New(slog.NewTextHandler(os.Stderr, nil)).Error("failed to load configuration",
			slog.String("error", err.Error()))
		return 1
	}

	logLevel := new(slog.LevelVar)
	logLevel.Set(config.ParseLogLevel(cfg.Log.Level))
	logger := newLoggerWithLevel(cfg.Log, logLevel)

	logger.Info("haggled starting",
		slog.String("version", appversion.Version),
		slog.String("ipc_transport", cfg.IPC.Transport),
		slog.String("metrics_addr", cfg.Metrics.Addr),
		slog.String("storage_dir", cfg.Storage.Dir),
	)

	reg := prometheus.NewRegistry()
	collector := hagglemetrics.NewCollector(reg)

	if err := runDaemon(cfg, collector, reg, logger, *configPath, logLevel); err != nil {
		logger.Error("haggled exited with error", slog.String("error", err.Error()))
		return 1
	}

	logger.Info("haggled stopped")
	return 0
}

// spawnDaemonized re-execs the current binary detached from the
// controlling terminal (setsid, stdio redirected to /dev/null), then the
// parent returns immediately so the caller's shell regains its prompt
// (spec.md §6's documented -d flag for haggle_daemon_spawn).
func spawnDaemonized() int {
	devNull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		fmt.Fprintln(os.Stderr, "haggled: open /dev/null:", err)
		return 1
	}
	defer devNull.Close()

	self, err := os.Executable()
	if err != nil {
		fmt.Fprintln(os.Stderr, "haggled: resolve executable:", err)
		return 1
	}

	cmd := exec.Command(self, os.Args[1:]...)
	cmd.Env = append(os.Environ(), daemonizeEnv+"=1")
	cmd.Stdin = devNull
	cmd.Stdout = devNull
	cmd.Stderr = devNull
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		fmt.Fprintln(os.Stderr, "haggled: daemonize:", err)
		return 1
	}
	return 0
}

// runDaemon constructs the kernel and its managers, starts the metrics
// HTTP server, runs until a termination signal arrives, and drives
// graceful shutdown (spec.md §4.1, §5).
func runDaemon(
	cfg *config.Config,
	collector *hagglemetrics.Collector,
	reg *prometheus.Registry,
	logger *slog.Logger,
	configPath string,
	logLevel *slog.LevelVar,
) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	k := kernel.New(logger)

	selfID, err := deriveThisNodeID()
	if err != nil {
		return fmt.Errorf("derive this-node identity: %w", err)
	}
	self := types.NewNode(selfID, types.NodeThisNode, hostnameOrDefault())

	ds := datastore.NewManager(k)
	ds.SetMetrics(collector)
	k.RegisterManager(ds)

	conn := connectivity.NewManager(k, logger, cfg.Connectivity, collector)
	conn.BindDataStore(ds)
	k.RegisterManager(conn)

	spoolDir := cfg.Storage.Dir
	proto := protocol.NewManager(k, logger, cfg.Protocol, collector, spoolDir)
	proto.Bind(ds, conn.Interfaces(), self)
	k.RegisterManager(proto)

	ipcMgr := ipc.NewManager(k, logger, cfg.IPC)
	ipcMgr.Bind(ds, conn.Interfaces())
	proto.SetLocalDeliverer(ipcMgr)
	k.RegisterManager(ipcMgr)

	if err := k.Start(ctx); err != nil {
		return fmt.Errorf("start kernel: %w", err)
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := k.Run(gCtx)
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("kernel run: %w", err)
		}
		return nil
	})

	metricsSrv := newMetricsServer(cfg.Metrics, reg)
	g.Go(func() error {
		logger.Info("metrics server listening", slog.String("addr", cfg.Metrics.Addr), slog.String("path", cfg.Metrics.Path))
		return listenAndServe(gCtx, metricsSrv, cfg.Metrics.Addr)
	})

	g.Go(func() error {
		runAgingSweeps(gCtx, cfg.Datastore, ds, collector)
		return nil
	})

	sigHUP := make(chan os.Signal, 1)
	signal.Notify(sigHUP, syscall.SIGHUP)
	g.Go(func() error {
		defer signal.Stop(sigHUP)
		handleSIGHUP(gCtx, sigHUP, configPath, logLevel, logger)
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		return gracefulShutdown(k, metricsSrv, logger)
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("run daemon: %w", err)
	}
	return nil
}

// runAgingSweeps periodically drives the data store's age_dataobjects
// sweep and refreshes the data-object-count gauge (spec.md §4.3).
func runAgingSweeps(ctx context.Context, cfg config.DatastoreConfig, ds *datastore.Manager, collector *hagglemetrics.Collector) {
	interval := cfg.AgeInterval
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ds.AgeDataObjects(cfg.AgeMinAge)
			ds.Stats(func(n int) { collector.SetDataObjects(float64(n)) })
		}
	}
}

// handleSIGHUP reloads the configuration's log level on SIGHUP. Session
// reconciliation has no haggle analogue (there is no declarative session
// list); only the dynamic log level is live-reloadable.
func handleSIGHUP(ctx context.Context, sigHUP <-chan os.Signal, configPath string, logLevel *slog.LevelVar, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sigHUP:
			logger.Info("received SIGHUP, reloading configuration")
			newCfg, err := loadConfig(configPath)
			if err != nil {
				logger.Error("failed to reload configuration, keeping current settings", slog.String("error", err.Error()))
				continue
			}
			oldLevel := logLevel.Level()
			newLevel := config.ParseLogLevel(newCfg.Log.Level)
			logLevel.Set(newLevel)
			logger.Info("configuration reloaded", slog.String("old_log_level", oldLevel.String()), slog.String("new_log_level", newLevel.String()))
		}
	}
}

// gracefulShutdown tells the kernel to shut down (the dispatch loop stops
// waiting on pending queue timeouts and delivers EvShutdown at once;
// delayed events still queued are not dispatched) and drains the metrics
// HTTP server.
func gracefulShutdown(k *kernel.Kernel, metricsSrv *http.Server, logger *slog.Logger) error {
	logger.Info("initiating graceful shutdown")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var shutdownErr error
	if err := k.Shutdown(shutdownCtx); err != nil {
		shutdownErr = errors.Join(shutdownErr, fmt.Errorf("shutdown kernel: %w", err))
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		shutdownErr = errors.Join(shutdownErr, fmt.Errorf("shutdown metrics server: %w", err))
	}
	return shutdownErr
}

// listenAndServe serves HTTP requests on addr until ctx is cancelled.
func listenAndServe(ctx context.Context, srv *http.Server, addr string) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve on %s: %w", addr, err)
	}
	return nil
}

// newMetricsServer creates an HTTP server for the Prometheus metrics endpoint.
func newMetricsServer(cfg config.MetricsConfig, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
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

// deriveThisNodeID computes this host's node identity as the SHA-1 hash
// of its sorted local MAC addresses (spec.md §3: "Id... derived from the
// set of local MAC addresses (for this_node)").
func deriveThisNodeID() ([20]byte, error) {
	var id [20]byte
	nics, err := net.Interfaces()
	if err != nil {
		return id, fmt.Errorf("enumerate local interfaces: %w", err)
	}

	macs := make([]string, 0, len(nics))
	for _, nic := range nics {
		if nic.Flags&net.FlagLoopback != 0 || len(nic.HardwareAddr) != 6 {
			continue
		}
		macs = append(macs, string(nic.HardwareAddr))
	}
	if len(macs) == 0 {
		// No usable NIC (e.g. a container with only loopback): fall back
		// to the hostname so the node still has a stable identity.
		host, _ := os.Hostname()
		macs = append(macs, host)
	}
	sort.Strings(macs)

	h := sha1.New() //nolint:gosec // node identity hash, not a security boundary.
	for _, m := range macs {
		h.Write([]byte(m))
	}
	copy(id[:], h.Sum(nil))
	return id, nil
}

func hostnameOrDefault() string {
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	return "haggle-node"
}
