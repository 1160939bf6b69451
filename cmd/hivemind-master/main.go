// Command hivemind-master runs the HiveMind broker: it loads a JSON
// configuration file, wires the client store, agent bus, binary-data
// handler and listener core together, and serves the WebSocket transport
// until a termination signal arrives.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/jarbas-hive/hivemind-go/agentbus"
	"github.com/jarbas-hive/hivemind-go/config"
	"github.com/jarbas-hive/hivemind-go/hivelog"
	"github.com/jarbas-hive/hivemind-go/identity"
	"github.com/jarbas-hive/hivemind-go/listener"
	"github.com/jarbas-hive/hivemind-go/observability"
	"github.com/jarbas-hive/hivemind-go/observability/prom"
	"github.com/jarbas-hive/hivemind-go/registry"
	"github.com/jarbas-hive/hivemind-go/transport/ws"

	_ "github.com/jarbas-hive/hivemind-go/store/jsonstore"
	_ "github.com/jarbas-hive/hivemind-go/store/memstore"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func envString(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envIntWithErr(key string, fallback int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}

func run(args []string, stdout, stderr io.Writer) int {
	configPath := envString("HIVEMIND_CONFIG", "")
	host := envString("HIVEMIND_HOST", "")
	dbPath := envString("HIVEMIND_STORE_PATH", "")
	logLevel := envString("HIVEMIND_LOG_LEVEL", "")
	metricsListen := envString("HIVEMIND_METRICS_LISTEN", "")

	port, err := envIntWithErr("HIVEMIND_PORT", 0)
	if err != nil {
		fmt.Fprintf(stderr, "invalid HIVEMIND_PORT: %v\n", err)
		return 2
	}

	fs := flag.NewFlagSet("hivemind-master", flag.ContinueOnError)
	fs.SetOutput(stderr)
	showVersion := false
	fs.BoolVar(&showVersion, "version", false, "print version and exit")
	fs.StringVar(&configPath, "config", configPath, "path to the broker's JSON config file (env: HIVEMIND_CONFIG)")
	fs.StringVar(&host, "host", host, "override config.host (env: HIVEMIND_HOST)")
	fs.IntVar(&port, "port", port, "override config.port (env: HIVEMIND_PORT)")
	fs.StringVar(&dbPath, "store-path", dbPath, "override the jsonstore backing file path (env: HIVEMIND_STORE_PATH)")
	fs.StringVar(&logLevel, "log-level", logLevel, "log level recorded as config.log_level: debug|info|warn; the logger does not filter by it (env: HIVEMIND_LOG_LEVEL)")
	fs.StringVar(&metricsListen, "metrics-listen", metricsListen, "listen address for the /metrics endpoint (empty disables) (env: HIVEMIND_METRICS_LISTEN)")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if showVersion {
		fmt.Fprintf(stdout, "hivemind-master %s (%s)\n", version, commit)
		return 0
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "config: %v\n", err)
		return 2
	}
	if host != "" {
		cfg.Host = host
	}
	if port != 0 {
		cfg.Port = port
	}
	if dbPath != "" {
		if cfg.Database.Config == nil {
			cfg.Database.Config = map[string]string{}
		}
		cfg.Database.Config["path"] = dbPath
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if metricsListen != "" {
		cfg.MetricsListen = metricsListen
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "config: %v\n", err)
		return 2
	}

	log := hivelog.New(stderr, "")

	node, err := identity.New(cfg.NodeID, cfg.SiteID)
	if err != nil {
		fmt.Fprintf(stderr, "identity: %v\n", err)
		return 1
	}

	st, err := registry.NewStore(cfg.Database.Module, cfg.DatabasePath("clients.json"))
	if err != nil {
		fmt.Fprintf(stderr, "store: %v\n", err)
		return 1
	}

	binH, err := registry.NewBinaryHandler("noop", nil)
	if err != nil {
		fmt.Fprintf(stderr, "binarydata: %v\n", err)
		return 1
	}

	bus := agentbus.New()

	var obs observability.ListenerObserver = observability.Noop
	var metricsSrv *http.Server
	if cfg.MetricsListen != "" {
		reg := prom.NewRegistry()
		promObs := prom.NewObserver(reg)
		obs = promObs
		mux := http.NewServeMux()
		mux.Handle("/metrics", prom.Handler(reg))
		metricsSrv = &http.Server{Addr: cfg.MetricsListen, Handler: mux}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Errorf("metrics server: %v", err)
			}
		}()
	}

	lc := listener.Config{
		Binarize:         cfg.Binarize,
		AllowedEncodings: cfg.AllowedEncodings,
		AllowedCiphers:   cfg.AllowedCiphers,
		HandshakeEnabled: cfg.HandshakeEnabled,
		RequireCrypto:    cfg.RequireCrypto,
		MaxQueueDepth:    cfg.MaxQueueDepth,
	}
	l := listener.New(node, st, bus, binH, lc, obs, log)
	l.OnIllegalFanOut = func(peerID string, _ any) {
		log.WithPeer(peerID).Warnf("rejected illegal fan-out attempt")
	}

	srv := &ws.Server{
		Listener:       l,
		AllowedOrigins: cfg.AllowedOrigins,
		AllowNoOrigin:  cfg.AllowNoOrigin,
		MaxFrameBytes:  cfg.MaxFrameBytes,
		Log:            log,
	}
	mux := http.NewServeMux()
	mux.Handle("/", srv)

	addr := cfg.Host + ":" + strconv.Itoa(cfg.Port)
	httpSrv := &http.Server{Addr: addr, Handler: mux}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Infof("hivemind-master listening on %s (node=%s ssl=%v cipher_pref=%v encoding_pref=%v)",
			addr, node.NodeID, cfg.SSL, cfg.AllowedCiphers, cfg.AllowedEncodings)
		var err error
		if cfg.SSL {
			err = httpSrv.ListenAndServeTLS(
				filepath.Join(cfg.CertDir, cfg.CertName+".crt"),
				filepath.Join(cfg.CertDir, cfg.CertName+".key"))
		} else {
			err = httpSrv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		log.Infof("shutting down")
	case err := <-errCh:
		if err != nil {
			fmt.Fprintf(stderr, "listen: %v\n", err)
			return 1
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	l.Close()
	return 0
}
