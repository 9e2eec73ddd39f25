package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gaspardpetit/chatrelay/internal/config"
	"github.com/gaspardpetit/chatrelay/internal/logx"
	"github.com/gaspardpetit/chatrelay/internal/metrics"
	"github.com/gaspardpetit/chatrelay/internal/ollama"
	"github.com/gaspardpetit/chatrelay/internal/relay"
	"github.com/gaspardpetit/chatrelay/internal/secret"
	"github.com/gaspardpetit/chatrelay/internal/server"
	"github.com/gaspardpetit/chatrelay/internal/serverstate"
)

var (
	version   = "dev"
	buildSHA  = "unknown"
	buildDate = "unknown"
)

// configPathFromArgs finds an explicit -config flag before the full flag set
// is bound, so the file can be loaded underneath env and flag overrides.
func configPathFromArgs(args []string, def string) string {
	for i, a := range args {
		name, val, hasVal := strings.Cut(strings.TrimLeft(a, "-"), "=")
		if !strings.HasPrefix(a, "-") || name != "config" {
			continue
		}
		if hasVal {
			return val
		}
		if i+1 < len(args) {
			return args[i+1]
		}
	}
	return def
}

func loadConfig() config.ServerConfig {
	var cfg config.ServerConfig
	cfg.SetDefaults()
	if err := config.LoadDotEnv(); err != nil {
		logx.Log.Fatal().Err(err).Msg("load .env")
	}
	path := configPathFromArgs(os.Args[1:], config.GetEnv("CONFIG_FILE", cfg.ConfigFile))
	if err := cfg.LoadFile(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		logx.Log.Fatal().Err(err).Str("path", path).Msg("load config")
	}
	cfg.ConfigFile = path
	cfg.ApplyEnv()
	cfg.BindFlagsFromCurrent(flag.CommandLine)
	return cfg
}

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	cfg := loadConfig()
	flag.Usage = func() {
		_, _ = fmt.Fprintf(flag.CommandLine.Output(), "chatrelay version=%s sha=%s date=%s\n\n", version, buildSHA, buildDate)
		flag.PrintDefaults()
	}
	flag.Parse()
	if *showVersion {
		fmt.Printf("chatrelay version=%s sha=%s date=%s\n", version, buildSHA, buildDate)
		return
	}
	logx.Configure(cfg.LogLevel)
	if err := cfg.Validate(); err != nil {
		logx.Log.Fatal().Err(err).Msg("invalid config")
	}

	if cfg.RedisAddr != "" {
		rs, err := serverstate.NewRedisStore(cfg.RedisAddr)
		if err != nil {
			logx.Log.Fatal().Err(err).Str("addr", secret.MaskURL(cfg.RedisAddr)).Msg("connect redis")
		}
		defer func() { _ = rs.Close() }()
		serverstate.UseStore(rs)
		logx.Log.Info().Str("addr", secret.MaskURL(cfg.RedisAddr)).Msg("using redis state store")
	}

	client := ollama.New(cfg.BackendURL)
	opts := relay.OptionsFromConfig(cfg)
	handler := server.New(cfg, server.Deps{
		Gateway:  relay.NewGateway(client, opts),
		Streamer: relay.NewStreamer(client, opts),
		Backend:  client,
		Version:  version,
		Started:  time.Now(),
	})
	metrics.SetServerBuildInfo(version, buildSHA, buildDate)

	srv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Port), Handler: handler, ReadHeaderTimeout: 10 * time.Second}
	var metricsSrv *http.Server
	if cfg.MetricsAddr != fmt.Sprintf(":%d", cfg.Port) {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsSrv = &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		for range sigCh {
			if serverstate.IsDraining() || cfg.DrainTimeout == 0 {
				logx.Log.Warn().Msg("termination requested")
				cancel()
				return
			}
			serverstate.StartDrain()
			logx.Log.Info().Dur("timeout", cfg.DrainTimeout).Int64("in_flight", metrics.InFlight()).Msg("draining; send SIGTERM again to terminate immediately")
			go waitDrained(ctx, cfg.DrainTimeout, cancel)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logx.Log.Error().Err(err).Msg("server shutdown")
		}
		if metricsSrv != nil {
			if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
				logx.Log.Error().Err(err).Msg("metrics server shutdown")
			}
		}
	}()

	logx.Log.Info().Int("port", cfg.Port).Str("backend", secret.MaskURL(cfg.BackendURL)).Str("model", cfg.ModelName).
		Str("version", version).Msg("server starting")
	if metricsSrv != nil {
		go func() {
			logx.Log.Info().Str("addr", cfg.MetricsAddr).Msg("metrics server starting")
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logx.Log.Error().Err(err).Msg("metrics server error")
			}
		}()
	}
	serverstate.SetState("ready")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logx.Log.Fatal().Err(err).Msg("server error")
	}
	<-ctx.Done()
	logx.Log.Info().Msg("server stopped")
}

// waitDrained cancels once no request is in flight or the drain timeout
// expires. A negative timeout waits indefinitely.
func waitDrained(ctx context.Context, timeout time.Duration, cancel context.CancelFunc) {
	var deadline <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		deadline = t.C
	}
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-deadline:
			logx.Log.Warn().Int64("in_flight", metrics.InFlight()).Msg("drain timeout exceeded; terminating")
			cancel()
			return
		case <-tick.C:
			if metrics.InFlight() == 0 {
				logx.Log.Info().Msg("drained")
				cancel()
				return
			}
		}
	}
}
