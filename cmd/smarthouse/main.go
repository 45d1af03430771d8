// Package main is the entry point for the smart-house control plane.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/Personaz1/SMARTHOUSE/internal/analyzer"
	"github.com/Personaz1/SMARTHOUSE/internal/audit"
	"github.com/Personaz1/SMARTHOUSE/internal/broker"
	"github.com/Personaz1/SMARTHOUSE/internal/buildinfo"
	"github.com/Personaz1/SMARTHOUSE/internal/camera"
	"github.com/Personaz1/SMARTHOUSE/internal/config"
	"github.com/Personaz1/SMARTHOUSE/internal/dispatch"
	"github.com/Personaz1/SMARTHOUSE/internal/events"
	"github.com/Personaz1/SMARTHOUSE/internal/history"
	"github.com/Personaz1/SMARTHOUSE/internal/homecontext"
	"github.com/Personaz1/SMARTHOUSE/internal/httpapi"
	"github.com/Personaz1/SMARTHOUSE/internal/rbac"
	"github.com/Personaz1/SMARTHOUSE/internal/registry"
	"github.com/Personaz1/SMARTHOUSE/internal/rules"
	"github.com/Personaz1/SMARTHOUSE/internal/supervisor"
	"github.com/Personaz1/SMARTHOUSE/internal/tools"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	if flag.NArg() > 0 {
		switch flag.Arg(0) {
		case "serve":
			runServe(logger, *configPath)
			return
		case "version":
			fmt.Println(buildinfo.String())
			for k, v := range buildinfo.BuildInfo() {
				fmt.Printf("  %-12s %s\n", k+":", v)
			}
			return
		default:
			fmt.Fprintf(os.Stderr, "unknown command: %s\n", flag.Arg(0))
			os.Exit(1)
		}
	}

	fmt.Println("smarthouse - MQTT-based home automation control plane")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve    Start the broker sessions, rule engine, and HTTP API")
	fmt.Println("  version  Show version")
	fmt.Println()
	fmt.Println("Flags:")
	flag.PrintDefaults()
}

func runServe(logger *slog.Logger, configPath string) {
	logger.Info("starting smarthouse", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "branch", buildinfo.GitBranch, "built", buildinfo.BuildTime)

	cfgPath, err := config.FindConfig(configPath)
	if err != nil {
		logger.Warn("no config file found, using defaults", "error", err)
	}

	var cfg *config.Config
	if cfgPath != "" {
		cfg, err = config.Load(cfgPath)
		if err != nil {
			logger.Error("failed to load config", "path", cfgPath, "error", err)
			os.Exit(1)
		}
	} else {
		cfg = config.Default()
	}

	if cfg.LogLevel != "" {
		level, err := config.ParseLogLevel(cfg.LogLevel)
		if err != nil {
			logger.Error("invalid log_level in config", "error", err)
			os.Exit(1)
		}
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level:       level,
			ReplaceAttr: config.ReplaceLogLevelNames,
		}))
	}

	logger.Info("config loaded", "path", cfgPath, "broker_url", cfg.Broker.URL, "listen_port", cfg.Listen.Port)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		logger.Error("failed to create data directory", "path", cfg.DataDir, "error", err)
		os.Exit(1)
	}

	reg, err := registry.Load(cfg.DevicesFile)
	if err != nil {
		logger.Error("failed to load device registry", "path", cfg.DevicesFile, "error", err)
		os.Exit(1)
	}
	logger.Info("device registry loaded", "path", cfg.DevicesFile, "devices", len(reg.All()))

	auditLog, err := audit.Open(cfg.DataDir)
	if err != nil {
		logger.Error("failed to open audit log", "error", err)
		os.Exit(1)
	}
	defer auditLog.Close()

	bus := events.New()
	hist := history.NewStore(0)
	policy := rbac.New(cfg.RBACPolicy)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Two independent broker sessions, per the spec's concurrency model:
	// Tools needs request/response correlation on specific topics, while
	// the Context Manager holds a standing wildcard subscription. Sharing
	// one session would let the wildcard subscription intercept replies
	// meant for a pending publish_and_wait call.
	toolsTransport := broker.NewMQTTTransport(broker.MQTTConfig{
		BrokerURL: cfg.Broker.URL,
		Username:  cfg.Broker.Username,
		Password:  cfg.Broker.Password,
		ClientID:  "smarthouse-tools",
		KeepAlive: uint16(cfg.Broker.KeepAliveSec),
	}, logger)
	contextTransport := broker.NewMQTTTransport(broker.MQTTConfig{
		BrokerURL: cfg.Broker.URL,
		Username:  cfg.Broker.Username,
		Password:  cfg.Broker.Password,
		ClientID:  "smarthouse-context",
		KeepAlive: uint16(cfg.Broker.KeepAliveSec),
	}, logger)

	go func() {
		if err := toolsTransport.Start(ctx); err != nil && ctx.Err() == nil {
			logger.Error("tools broker session failed", "error", err)
		}
	}()
	go func() {
		if err := contextTransport.Start(ctx); err != nil && ctx.Err() == nil {
			logger.Error("context broker session failed", "error", err)
		}
	}()

	awaitConnected(ctx, logger, "tools", toolsTransport)
	awaitConnected(ctx, logger, "context", contextTransport)

	var limiter *rate.Limiter
	if cfg.Broker.InboundRateLimitPerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.Broker.InboundRateLimitPerSec), cfg.Broker.InboundRateLimitPerSec)
	}
	adapter := broker.New(toolsTransport, logger, limiter)

	ctxManager := homecontext.New(reg, logger)
	if err := ctxManager.Start(ctx, contextTransport); err != nil {
		logger.Error("failed to start context manager", "error", err)
		os.Exit(1)
	}

	toolset := tools.New(adapter, reg)
	dispatcher := dispatch.New(toolset)
	if len(cfg.CameraEndpoints) > 0 {
		dispatcher.WithSnapshotStore(camera.NewHTTPSnapshotStore(reg, cfg.CameraEndpoints))
	}

	ruleEngine := rules.New(ctxManager, dispatcher, bus, logger)
	if loaded, err := loadRules(cfg.RulesFile); err != nil {
		logger.Warn("no rules loaded at startup", "path", cfg.RulesFile, "error", err)
	} else {
		ruleEngine.SetRules(loaded)
		logger.Info("rules loaded", "path", cfg.RulesFile, "count", len(loaded))
	}
	go ruleEngine.Run(ctx)

	super := supervisor.New(dispatcher, bus, logger)
	analyzerLoop := analyzer.New(ctxManager, bus)
	go analyzerLoop.Run(ctx)

	go hist.Follow(ctx, bus)

	srv := httpapi.New(
		cfg.Listen.Address,
		cfg.Listen.Port,
		reg,
		ctxManager,
		ruleEngine,
		dispatcher,
		super,
		policy,
		auditLog,
		bus,
		hist,
		logger,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		logger.Info("shutdown signal received")
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.Start(); err != nil && err != http.ErrServerClosed {
		if ctx.Err() == nil {
			logger.Error("http api server failed", "error", err)
			os.Exit(1)
		}
	}

	logger.Info("smarthouse stopped")
}

// connectionAwaiter is the subset of mqttTransport needed to wait for an
// established broker connection before issuing the first subscribe.
type connectionAwaiter interface {
	AwaitConnection(ctx context.Context) error
}

// awaitConnected polls AwaitConnection until the session is up or ctx is
// cancelled. The transport's cm field is nil for a brief window right
// after Start launches, before autopaho.NewConnection returns, so a
// single call can spuriously report "not started"; retry rather than
// treat that as fatal.
func awaitConnected(ctx context.Context, logger *slog.Logger, label string, t connectionAwaiter) {
	deadline := time.Now().Add(30 * time.Second)
	for time.Now().Before(deadline) {
		waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := t.AwaitConnection(waitCtx)
		cancel()
		if err == nil {
			logger.Info("broker session connected", "session", label)
			return
		}
		if ctx.Err() != nil {
			return
		}
		time.Sleep(200 * time.Millisecond)
	}
	logger.Warn("broker session not confirmed connected within startup window, continuing anyway", "session", label)
}

// loadRules reads a rules.json file into the engine's Rule slice. A
// missing file is not fatal — the engine simply starts with no rules.
func loadRules(path string) ([]rules.Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var loaded []rules.Rule
	if err := json.Unmarshal(data, &loaded); err != nil {
		return nil, fmt.Errorf("parse rules file %s: %w", path, err)
	}
	return loaded, nil
}
