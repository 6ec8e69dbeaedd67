package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"
	"google.golang.org/grpc"

	"github.com/skyway/adminboard/server/internal/alerts"
	"github.com/skyway/adminboard/server/internal/api"
	"github.com/skyway/adminboard/server/internal/auth"
	"github.com/skyway/adminboard/server/internal/cache"
	"github.com/skyway/adminboard/server/internal/config"
	"github.com/skyway/adminboard/server/internal/dashboard"
	"github.com/skyway/adminboard/server/internal/health"
	"github.com/skyway/adminboard/server/internal/metrics"
	"github.com/skyway/adminboard/server/internal/realtime"
	"github.com/skyway/adminboard/server/internal/receiver"
	"github.com/skyway/adminboard/server/internal/supabase"
	"github.com/skyway/adminboard/server/internal/telemetry"
	"github.com/skyway/adminboard/server/internal/web"
	"github.com/skyway/adminboard/server/internal/ws"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	uiDir := flag.String("ui-dir", "", "serve the pre-built dashboard UI from this directory (e.g. ui/dist); empty serves the built-in page")
	flag.Parse()

	level := new(slog.LevelVar)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	slog.Info("adminboard starting", "config", *configPath, "version", version)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	level.Set(cfg.Log.SlogLevel())
	if *uiDir != "" {
		cfg.Server.UIDir = *uiDir
	}

	slog.Info("config loaded",
		"http_port", cfg.Server.HTTPPort,
		"grpc_port", cfg.Server.GRPCPort,
		"backend", cfg.Backend.URL,
		"cache", cfg.Cache.Backend,
		"realtime", cfg.Realtime.Enabled,
		"webhook", cfg.Realtime.Webhook.Enabled,
		"bindings", len(cfg.Realtime.Bindings),
	)

	if err := run(cfg, *configPath, level); err != nil {
		slog.Error("adminboard stopped", "err", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, configPath string, level *slog.LevelVar) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.Telemetry, version)
	if err != nil {
		return err
	}

	sb, err := supabase.New(cfg.Backend.URL, cfg.Backend.AnonKey(), cfg.Backend.Timeout)
	if err != nil {
		return err
	}

	cs, err := openCache(ctx, cfg.Cache)
	if err != nil {
		return err
	}
	client := cache.NewClient(cs.store)

	svc := dashboard.New(sb, client, settingsFrom(cfg))
	engine := alerts.New(cfg.Alerts)

	// Realtime transport. Its context outlives ctx so subscriptions can
	// leave their channels during shutdown.
	connCtx, cancelConn := context.WithCancel(context.Background())
	defer cancelConn()

	reconnect := realtime.Reconnect{
		Enabled:    cfg.Realtime.Reconnect.Enabled,
		Initial:    cfg.Realtime.Reconnect.Initial,
		Max:        cfg.Realtime.Reconnect.Max,
		Multiplier: cfg.Realtime.Reconnect.Multiplier,
	}
	var conn *realtime.Conn
	if cfg.Realtime.Enabled {
		conn = realtime.NewConn(realtime.ConnOptions{
			URL:       sb.RealtimeURL(),
			Token:     joinToken(cfg.Realtime, sb.AnonKey()),
			Heartbeat: cfg.Realtime.Heartbeat,
			Reconnect: reconnect,
		})
		go conn.Run(connCtx)
	}
	connected := func() bool { return conn != nil && conn.Connected() }
	reconnects := func() int64 {
		if conn == nil {
			return 0
		}
		return conn.Reconnects()
	}

	hub := ws.New(connected, 5*time.Second)
	go hub.Run(ctx)
	client.OnInvalidate(hub.Notify)

	reg := metrics.New(metrics.Sources{
		Cache:        client.Stats,
		CacheEntries: cs.count,
		Connected:    connected,
		Reconnects:   reconnects,
		AlertsFired:  engine.Fired,
		WSClients:    hub.Count,
		WSBroadcasts: hub.Broadcasts,
	})

	opts := []realtime.Option{
		realtime.WithListener(engine.Handle),
		realtime.WithListener(reg.ObserveChange),
		realtime.WithResync(cfg.Realtime.ResyncOnReconnect),
		realtime.WithChannelName(cfg.Realtime.Channel),
	}

	var subs []*subscription
	if conn != nil {
		subs = append(subs, newSubscription(ctx, "realtime", realtime.New(conn, client, opts...), reconnect))
	}
	var hooks *receiver.Receiver
	if cfg.Realtime.Webhook.Enabled {
		hooks = receiver.New(cfg.Realtime.Webhook.EffectiveHeader(), cfg.Realtime.Webhook.Secret())
		subs = append(subs, newSubscription(ctx, "webhook", realtime.New(hooks, client, opts...), reconnect))
	}
	for _, s := range subs {
		s.apply(cfg.Realtime.Bindings)
	}

	authn := auth.NewAuthenticator(cfg.Backend.JWTSecret(), auth.SupabaseRemote{Client: sb})
	go authn.Run(ctx)
	cookies := auth.Cookies{Name: cfg.Session.CookieName, Secure: cfg.Session.Secure}

	apiHandler := api.New(api.Deps{
		Dashboard: svc,
		Alerts:    engine,
		Auth:      authn,
		Login:     sb,
		Cookies:   cookies,
		Status: func() api.SystemStatus {
			return api.SystemStatus{
				RealtimeEnabled: cfg.Realtime.Enabled,
				Connected:       connected(),
				Reconnects:      reconnects(),
				Cache:           client.Stats(),
				CacheEntries:    cs.count(),
				PushClients:     hub.Count(),
				AlertsFired:     engine.Fired(),
			}
		},
	})

	spa, err := web.New(cfg.Server.UIDir)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/api/", apiHandler)
	mux.Handle("/healthz", apiHandler)
	mux.Handle("/metrics", reg)
	mux.Handle("/ws/stream", hub)
	if hooks != nil {
		mux.Handle("/hooks/db", hooks)
	}
	mux.Handle("/", spa)

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:           auth.RequireAdmin(authn, cookies, mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("HTTP server listening", "port", cfg.Server.HTTPPort)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server stopped", "err", err)
			cancel()
		}
	}()

	var grpcSrv *grpc.Server
	if cfg.Server.GRPCPort > 0 {
		checker := health.NewChecker(connected)
		go checker.Run(ctx, 5*time.Second)
		grpcSrv = health.NewServer(cfg.Server.Auth, checker)

		lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.GRPCPort))
		if err != nil {
			return fmt.Errorf("listen on gRPC port %d: %w", cfg.Server.GRPCPort, err)
		}
		go func() {
			slog.Info("gRPC health listening", "port", cfg.Server.GRPCPort)
			if err := grpcSrv.Serve(lis); err != nil {
				slog.Error("gRPC server stopped", "err", err)
			}
		}()
	}

	go func() {
		err := config.Watch(ctx, configPath, func(next *config.Config) {
			level.Set(next.Log.SlogLevel())
			svc.SetSettings(settingsFrom(next))
			for _, s := range subs {
				s.apply(next.Realtime.Bindings)
			}
		})
		if err != nil {
			slog.Warn("config watch disabled", "err", err)
		}
	}()

	<-ctx.Done()
	slog.Info("adminboard shutting down")

	for _, s := range subs {
		s.close()
	}
	if grpcSrv != nil {
		grpcSrv.GracefulStop()
	}
	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("HTTP shutdown", "err", err)
	}
	cancelConn()
	engine.Wait()
	if err := shutdownTracing(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown", "err", err)
	}
	return cs.close()
}

// joinToken returns the token the realtime transport joins with: the
// configured access token, or the anon key.
func joinToken(rc config.RealtimeConfig, anonKey string) func() string {
	return func() string {
		if tok := rc.AccessToken(); tok != "" {
			return tok
		}
		return anonKey
	}
}
