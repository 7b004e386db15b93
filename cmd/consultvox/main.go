// Command consultvox is the voice client for the consultation assistant. It
// records consultations, answers spoken questions hands-free and serves a
// status feed for a UI.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/consultvox/internal/app"
	"github.com/MrWong99/consultvox/internal/config"
	"github.com/MrWong99/consultvox/internal/console"
	"github.com/MrWong99/consultvox/internal/eventlog"
	"github.com/MrWong99/consultvox/internal/observe"
)

var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "consultvox.yaml", "path to the YAML configuration file")
	envFile := flag.String("env", ".env", "dotenv file loaded before the config is read")
	noConsole := flag.Bool("no-console", false, "do not read commands from stdin")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "consultvox: load %s: %v\n", *envFile, err)
		return 1
	}

	// The watcher only runs after application is assigned.
	var application *app.App
	cfg, watch, err := loadConfig(*configPath, func(old, new *config.Config) {
		application.Reload(old, new)
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "consultvox: %v\n", err)
		return 1
	}

	levels := new(slog.LevelVar)
	levels.Set(app.SlogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: levels})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tel, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	application, err = app.New(ctx, cfg, app.WithLevelVar(levels))
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	printStartupSummary(cfg, *configPath, watch != nil)

	mux := application.Handler()
	mux.Handle("GET /metrics", tel.MetricsHandler)
	srv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           observe.Middleware(observe.DefaultMetrics())(mux),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return application.Run(gctx) })
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	if watch != nil {
		g.Go(func() error { return watch.Run(gctx) })
	}
	if !*noConsole {
		con := console.New(os.Stdin, os.Stdout, application)
		application.OnLog(func(e eventlog.Entry) { con.Printf("%s", e) })
		g.Go(func() error { return con.Run(gctx) })
	}

	slog.Info("consultvox ready", "listen_addr", cfg.Server.ListenAddr)
	err = g.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if serr := application.Shutdown(shutdownCtx); serr != nil {
		slog.Error("shutdown error", "err", serr)
		return 1
	}
	if err != nil && !errors.Is(err, console.ErrQuit) && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// loadConfig reads path and prepares a watcher for it. A missing file
// selects the defaults and disables hot reload.
func loadConfig(path string, onChange func(old, new *config.Config)) (*config.Config, *config.Watcher, error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		cfg := &config.Config{}
		config.ApplyDefaults(cfg)
		return cfg, nil, config.Validate(cfg)
	}

	w, err := config.NewWatcher(path, onChange)
	if err != nil {
		return nil, nil, err
	}
	return w.Current(), w, nil
}

func printStartupSummary(cfg *config.Config, path string, watching bool) {
	source := path
	if !watching {
		source = "(defaults)"
	}
	history := "in-memory"
	if cfg.History.PostgresDSN != "" {
		history = "postgres"
	}
	fmt.Println("consultvox " + version)
	fmt.Printf("  config    : %s\n", source)
	fmt.Printf("  backend   : %s\n", cfg.Backend.BaseURL)
	fmt.Printf("  capture   : %s (%d Hz, %d ch)\n", cfg.Audio.Backend, cfg.Audio.SampleRate, cfg.Audio.Channels)
	fmt.Printf("  playback  : %s\n", cfg.Audio.Player)
	fmt.Printf("  vad       : threshold %.2f, silence %s\n", *cfg.VAD.SpeechThreshold, cfg.VAD.SilenceDuration)
	fmt.Printf("  history   : %s\n", history)
	fmt.Printf("  listen    : %s\n", cfg.Server.ListenAddr)
}
