// Command traderd es el proceso único que ejecuta el kernel completo:
// state manager, arbiter, risk governor, execution manager, audit writer,
// canal de administración y endpoint de métricas. Grounded en
// cmd/scanner/main.go (teacher): flags + config.Load + setupLogger +
// signal.NotifyContext, generalizado de arrancar un único scanner.Scanner
// a arrancar un kernel.Kernel con cinco subsistemas concurrentes.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alejandrodnm/traderd/internal/adapters/venue/sim"
	"github.com/alejandrodnm/traderd/internal/adapters/venue/ws"
	"github.com/alejandrodnm/traderd/internal/config"
	"github.com/alejandrodnm/traderd/internal/kernel"
	"github.com/alejandrodnm/traderd/internal/ports"
)

var (
	gitSHA = "dev" // inyectado con -ldflags -X main.gitSHA=... en el build de release
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	verbose := flag.Bool("verbose", false, "set log level to debug")
	logFormat := flag.String("format", "", "log format: text|json (overrides config)")
	simMode := flag.Bool("sim", false, "use the in-memory simulated venue instead of a real connection")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		os.Exit(1)
	}

	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	setupLogger(cfg.Log)

	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}

	var venue ports.VenueAdapter
	if *simMode {
		slog.Warn("traderd starting in sim mode: no real orders will reach any venue")
		venue = sim.New(nil)
	} else {
		wsAdapter := ws.New(ws.Config{
			RESTBaseURL: cfg.Venue.RESTURL,
			WSMarketURL: cfg.Venue.WSURL + "/market",
			WSUserURL:   cfg.Venue.WSURL + "/user",
			APIKey:      cfg.Venue.APIKey,
		})
		venue = wsAdapter
	}

	k, err := kernel.New(cfg, venue, gitSHA, host)
	if err != nil {
		slog.Error("failed to construct kernel", "err", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if runner, ok := venue.(*ws.Adapter); ok {
		go runner.Run(ctx)
	}

	slog.Info("traderd starting",
		"config", *configPath,
		"sim", *simMode,
		"admin_socket", cfg.AdminIPC.SocketPath,
		"metrics_addr", cfg.Metrics.Addr,
	)

	if err := k.Run(ctx); err != nil {
		slog.Error("kernel exited with error", "err", err)
		os.Exit(1)
	}

	slog.Info("traderd stopped cleanly")
}

func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
