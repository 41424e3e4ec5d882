// Command tricorder runs the life-support warning engine and mission manager.
//
// It reads suit telemetry and mission commands from the bus, publishes warning
// and mission state back onto it, persists the mission table, and offers an
// operator console over TCP (and optionally stdin).
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"tricorder/backend"
	"tricorder/bus"
	"tricorder/commands"
	"tricorder/config"
	"tricorder/console"
	"tricorder/persist"
	"tricorder/stats"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"golang.org/x/term"
)

// Version is reported at startup and by --version.
const Version = "0.3.0"

const (
	envConfigPath     = "TRICORDER_CONFIG"
	defaultConfigPath = "data/config.yaml"
)

// resolveConfigPath picks the config file: explicit flag, then environment,
// then the default location. The second value names where it came from.
func resolveConfigPath(flagValue string) (string, string) {
	if p := strings.TrimSpace(flagValue); p != "" {
		return p, "--config"
	}
	if p := strings.TrimSpace(os.Getenv(envConfigPath)); p != "" {
		return p, envConfigPath
	}
	return defaultConfigPath, "default"
}

// isStdinTTY reports whether an operator can type at the local console.
func isStdinTTY() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

func main() {
	flags := pflag.NewFlagSet("tricorder", pflag.ExitOnError)
	configFlag := flags.StringP("config", "c", "", "path to config.yaml (overrides "+envConfigPath+")")
	stdinFlag := flags.Bool("stdin-console", false, "serve the operator console on stdin as well")
	versionFlag := flags.BoolP("version", "v", false, "print the version and exit")
	_ = flags.Parse(os.Args[1:])

	if *versionFlag {
		fmt.Printf("tricorder %s\n", Version)
		return
	}

	path, source := resolveConfigPath(*configFlag)
	cfg, err := config.LoadOrDefault(path)
	if err != nil {
		log.Fatalf("Error loading config %s (%s): %v", path, source, err)
	}
	if *stdinFlag {
		cfg.Console.Stdin = true
	}

	fanout, logErr := setupLogging(cfg.Logging, os.Stdout)
	log.SetFlags(0)
	log.SetOutput(fanout)
	defer fanout.Close()
	if logErr != nil {
		log.Printf("Logging: file sink disabled: %v", logErr)
	}

	log.Printf("Tricorder v%s starting...", Version)
	if cfg.LoadedFrom != "" {
		log.Printf("Loaded configuration from %s (%s)", cfg.LoadedFrom, source)
	} else {
		log.Printf("No config at %s; using built-in defaults", path)
	}
	cfg.Print()

	tracker := stats.NewTracker()

	gateway, err := persist.Open(cfg.Persistence)
	if err != nil {
		log.Printf("Persist: %v; missions will not survive a restart", err)
		gateway = nil
	}

	transport := openBus(cfg)

	core, err := backend.New(backend.Options{
		Topics:         cfg.Topics,
		Thresholds:     cfg.Thresholds,
		AlertSoundPath: cfg.Alerts.SoundPath,
		Bus:            transport,
		Gateway:        gateway,
		Stats:          tracker,
	})
	if err != nil {
		log.Fatalf("Unable to start core: %v", err)
	}
	processor := commands.NewProcessor(core)

	var consoleServer *console.Server
	if cfg.Console.Enabled {
		consoleServer = console.NewServer(console.ServerOptions{
			Port:           cfg.Console.Port,
			MaxConnections: cfg.Console.MaxConnections,
			Transport:      cfg.Console.Transport,
			Name:           cfg.Server.Name,
		}, processor)
		if err := consoleServer.Start(); err != nil {
			log.Printf("Console: %v", err)
			consoleServer = nil
		}
	}

	stdinDone := make(chan struct{})
	stdinActive := false
	if cfg.Console.Stdin {
		if isStdinTTY() {
			stdinActive = true
			// keep the prompt on stdout readable
			fanout.SetConsole(os.Stderr, true)
			go func() {
				defer close(stdinDone)
				greeting := fmt.Sprintf("%s local console. Type HELP for commands, BYE to shut down.", cfg.Server.Name)
				reason := console.ServeStream(os.Stdin, os.Stdout, processor, greeting)
				log.Printf("Console: stdin session ended (%s)", reason)
			}()
		} else {
			log.Printf("Console: stdin is not a terminal; local console disabled")
		}
	}

	metricsServer := startMetrics(cfg.Metrics.Listen, tracker, core)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go displayStats(ctx, time.Duration(cfg.Stats.DisplayIntervalSeconds)*time.Second, core, fanout, stdinActive)

	core.Activate()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	log.Println("Tricorder is running. Press Ctrl+C to stop.")
	if consoleServer != nil {
		log.Printf("Operator console: telnet localhost %d", cfg.Console.Port)
	}
	log.Printf("Listening for telemetry on %s and commands on %s", cfg.Topics.Telemetry, cfg.Topics.Commands)

	select {
	case sig := <-sigChan:
		log.Printf("Received signal: %v", sig)
	case <-stdinDone:
	}
	log.Println("Shutting down gracefully...")

	cancel()
	if consoleServer != nil {
		consoleServer.Stop()
	}
	core.Shutdown()
	transport.Close()
	if gateway != nil {
		if err := gateway.Close(); err != nil {
			log.Printf("Persist: close: %v", err)
		}
	}
	if metricsServer != nil {
		shutdownCtx, done := context.WithTimeout(context.Background(), 2*time.Second)
		_ = metricsServer.Shutdown(shutdownCtx)
		done()
	}
	log.Println("Shutdown complete")
}

// openBus connects to the configured broker, or falls back to an in-process
// loopback so the console and persistence still work without one.
func openBus(cfg *config.Config) bus.Bus {
	if !cfg.MQTT.Enabled {
		log.Println("MQTT disabled; using in-process loopback bus")
		return bus.NewLoopback()
	}
	client := bus.NewMQTT(cfg.MQTT)
	if err := client.Connect(); err != nil {
		log.Printf("MQTT: %v (will keep retrying)", err)
	}
	return client
}

// newMetricsHandler serves the tracker and runtime collectors on /metrics.
func newMetricsHandler(tracker *stats.Tracker, core *backend.Backend) http.Handler {
	reg := prometheus.NewRegistry()
	var levels func() stats.Levels
	if core != nil {
		levels = core.Levels
	}
	reg.MustRegister(
		stats.NewCollector(tracker, levels),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return mux
}

func startMetrics(addr string, tracker *stats.Tracker, core *backend.Backend) *http.Server {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           newMetricsHandler(tracker, core),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Printf("Metrics listening on %s/metrics", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("Metrics server error: %v", err)
		}
	}()
	return srv
}

// displayStats prints the counters every interval. While the stdin console
// is active the lines go to the log file only.
func displayStats(ctx context.Context, interval time.Duration, core *backend.Backend, fanout *logFanout, fileOnly bool) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, line := range core.StatsLines() {
				if fileOnly {
					fanout.WriteFileOnly("Stats: " + line)
					continue
				}
				log.Printf("Stats: %s", line)
			}
		}
	}
}
