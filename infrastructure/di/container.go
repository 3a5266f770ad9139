package di

import (
	"go.uber.org/zap"

	"flowsync/application/ports"
	"flowsync/application/sync"
	"flowsync/domain/core/aggregates"
	"flowsync/infrastructure/config"
	"flowsync/interfaces/http/rest"
	"flowsync/pkg/clock"
)

// Container holds all application dependencies.
type Container struct {
	Config        *config.Config
	Logger        *zap.Logger
	Clock         clock.Clock
	Graph         *aggregates.Graph
	Channel       ports.MessageChannel
	Engine        *sync.Engine
	DebugServer   *rest.DebugServer
	TuningWatcher *config.TuningWatcher
}

// Close releases everything the container owns, engine first.
func (c *Container) Close() error {
	if c.TuningWatcher != nil {
		c.TuningWatcher.Stop()
	}
	err := c.Engine.Close()
	c.Logger.Sync()
	return err
}
