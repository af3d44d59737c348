//go:build wireinject
// +build wireinject

package di

import (
	"github.com/google/wire"

	"GoldCast/pkg/config"
	"GoldCast/pkg/server"
)

// InitializeApp wires up all dependencies and returns the application.
// The returned cleanup releases clients in reverse construction order.
func InitializeApp(cfg *config.Config) (*server.App, func(), error) {
	wire.Build(
		// Infrastructure clients
		ProvideKafkaProducer,
		ProvideLogger,
		ProvideMetrics,
		ProvidePostgresClient,
		ProvideClickHouseClient,
		ProvideCache,
		ProvideBreakerManager,

		// Repositories
		ProvidePostgresStore,
		ProvidePriceStore,
		ProvideForecastStore,
		ProvideEventPublisher,

		// Remote services
		ProvideProphetClient,
		ProvideEnhancedClient,
		ProvideStreamProvider,
		ProvideSpotProvider,

		// Use cases
		ProvidePriceService,
		ProvideForecastService,
		ProvideIngestConsumer,
		ProvideSpotRecorder,

		// Application server
		ProvideForecastHandler,
		ProvideHTTPServer,
		ProvideApp,
	)
	return nil, nil, nil
}
