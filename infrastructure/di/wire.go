//go:build wireinject
// +build wireinject

package di

import (
	"github.com/google/wire"

	"flowsync/infrastructure/config"
)

// SuperSet is the main provider set containing all providers.
var SuperSet = wire.NewSet(
	ProvideLogger,
	ProvideClock,
	ProvideGraph,
	ProvideSession,
	ProvideChannel,
	ProvideHistory,
	ProvideSuppressor,
	ProvideGuard,
	ProvideClipboard,
	ProvideHub,
	ProvideEngine,
	ProvideDebugServer,
	ProvideTuningWatcher,
	wire.Struct(new(Container), "*"),
)

// InitializeContainer creates a fully wired container.
func InitializeContainer(cfg *config.Config) (*Container, error) {
	wire.Build(SuperSet)
	return nil, nil // Wire will replace this
}
