// Package di wires the application together with google/wire.
package di

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"flowsync/application/ports"
	"flowsync/application/sync"
	"flowsync/domain/core/aggregates"
	"flowsync/infrastructure/channel"
	"flowsync/infrastructure/config"
	"flowsync/interfaces/http/rest"
	"flowsync/pkg/auth"
	"flowsync/pkg/clock"
)

// ProvideLogger creates the application logger.
func ProvideLogger(cfg *config.Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
	}

	var zapCfg zap.Config
	if cfg.IsProduction() {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)
	return zapCfg.Build()
}

// ProvideClock returns the wall clock. Tests substitute a fake.
func ProvideClock() clock.Clock {
	return clock.NewReal()
}

// ProvideGraph creates the empty local graph store. It is populated by the
// first workflow:data snapshot.
func ProvideGraph() *aggregates.Graph {
	return aggregates.NewGraph()
}

// ProvideSession builds the identity context from configuration.
func ProvideSession(cfg *config.Config) ports.SessionContext {
	return ports.SessionContext{
		UserID:  cfg.UserID,
		GraphID: cfg.GraphID,
	}
}

// ProvideChannel dials the remote authority. Without an endpoint the
// application runs against an in-process channel, which keeps local
// development and tests off the network.
func ProvideChannel(cfg *config.Config, logger *zap.Logger) (ports.MessageChannel, error) {
	if cfg.ChannelEndpoint == "" {
		logger.Warn("no channel endpoint configured, using in-process channel")
		return channel.NewMemory(), nil
	}

	var token string
	if cfg.JWTSecret != "" {
		issuer, err := auth.NewTokenIssuer(auth.TokenConfig{
			SecretKey: cfg.JWTSecret,
			Issuer:    cfg.JWTIssuer,
			TTL:       cfg.SessionTTL,
		})
		if err != nil {
			return nil, err
		}
		token, err = issuer.Issue(cfg.UserID, cfg.GraphID)
		if err != nil {
			return nil, err
		}
	}

	return channel.Dial(channel.Options{
		Endpoint:         cfg.ChannelEndpoint,
		Token:            token,
		MaxReconnectWait: cfg.MaxReconnectWait,
		Logger:           logger,
	})
}

// ProvideHistory creates the undo/redo history.
func ProvideHistory(cfg *config.Config, logger *zap.Logger) *sync.History {
	return sync.NewHistory(cfg.Domain.MaxHistoryDepth, logger)
}

// ProvideSuppressor creates the echo suppressor.
func ProvideSuppressor(cfg *config.Config, clk clock.Clock, logger *zap.Logger) *sync.EchoSuppressor {
	return sync.NewEchoSuppressor(cfg.Domain.EchoSuppressionTTL, clk, logger)
}

// ProvideGuard creates the bulk-delete dedup guard.
func ProvideGuard(cfg *config.Config, clk clock.Clock, logger *zap.Logger) *sync.DedupGuard {
	return sync.NewDedupGuard(cfg.Domain.DedupGuardTTL, clk, logger)
}

// ProvideClipboard creates the paste coordinator.
func ProvideClipboard(cfg *config.Config, logger *zap.Logger) *sync.Clipboard {
	return sync.NewClipboard(cfg.Domain.PasteMatchTolerance, logger)
}

// ProvideHub creates the notification hub.
func ProvideHub(logger *zap.Logger) *sync.NotificationHub {
	return sync.NewNotificationHub(logger)
}

// ProvideEngine assembles the sync engine and binds the reconnect resync.
func ProvideEngine(
	graph *aggregates.Graph,
	ch ports.MessageChannel,
	history *sync.History,
	suppressor *sync.EchoSuppressor,
	guard *sync.DedupGuard,
	clipboard *sync.Clipboard,
	hub *sync.NotificationHub,
	cfg *config.Config,
	clk clock.Clock,
	session ports.SessionContext,
	logger *zap.Logger,
) *sync.Engine {
	engine := sync.NewEngine(graph, ch, history, suppressor, guard, clipboard, hub,
		cfg.Domain, clk, session, logger)

	if ws, ok := ch.(*channel.WebSocket); ok {
		ws.SetOnReconnect(func() {
			if err := engine.Resync(); err != nil {
				logger.Error("resync after reconnect failed", zap.Error(err))
			}
		})
	}
	return engine
}

// ProvideDebugServer creates the debug HTTP surface.
func ProvideDebugServer(engine *sync.Engine, cfg *config.Config, logger *zap.Logger) *rest.DebugServer {
	return rest.NewDebugServer(engine, cfg.EnableCORS, logger)
}

// ProvideTuningWatcher creates the tuning-file watcher when a path is
// configured, bound to push reloads into the engine. Returns nil otherwise.
func ProvideTuningWatcher(engine *sync.Engine, cfg *config.Config, logger *zap.Logger) (*config.TuningWatcher, error) {
	if cfg.TuningPath == "" {
		return nil, nil
	}
	watcher, err := config.NewTuningWatcher(cfg.TuningPath, cfg.Domain, logger)
	if err != nil {
		return nil, err
	}
	watcher.OnChange(engine.ApplyTuning)
	engine.ApplyTuning(watcher.Current())
	return watcher, nil
}
