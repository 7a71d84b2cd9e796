//go:build wireinject
// +build wireinject

package di

import (
	"KlineHub/pkg/config"
	"KlineHub/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, func(), error) {
	wire.Build(
		// Ambient
		ProvideLogger,
		ProvideMetrics,

		// Infrastructure clients
		ProvideClickHouseClient,
		ProvideKafkaProducer,
		ProvideRedisCache,

		// Repositories
		ProvideBarStorage,
		ProvideBarPublisher,
		ProvideBarMirror,
		ProvideMarketStream,

		// Use cases
		ProvideBarArchiver,
		ProvideTradeBus,
		ProvideBarBus,
		ProvideKlineStore,
		ProvideTradeProcessor,
		ProvidePipeline,
		ProvideTradeCollector,
		ProvideKafkaTradesHandler,
		ProvideKafkaConsumer,
		ProvideKlineService,

		// Transport
		ProvideHTTPHandler,
		ProvideHTTPServer,

		// Application server
		ProvideApp,
	)
	return nil, nil, nil
}
