package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/KonstantinMB/tradelikebot/config"
	"github.com/KonstantinMB/tradelikebot/internal/api"
	"github.com/KonstantinMB/tradelikebot/internal/binance"
	"github.com/KonstantinMB/tradelikebot/internal/bot"
	"github.com/KonstantinMB/tradelikebot/internal/events"
	"github.com/KonstantinMB/tradelikebot/internal/orders"
	"github.com/KonstantinMB/tradelikebot/internal/strategy"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		errLogger := zerolog.New(os.Stderr)
		errLogger.Fatal().Err(err).Msg("failed to load configuration")
	}

	logger := newLogger(cfg.LoggingConfig)
	logger.Info().
		Bool("testnet", cfg.BinanceConfig.TestNet).
		Int("symbols", len(cfg.TradingConfig.Symbols)).
		Msg("starting trading agent")

	eventBus := events.NewEventBus()

	client := binance.NewClient(cfg.BinanceConfig.APIKey, cfg.BinanceConfig.SecretKey, cfg.BinanceConfig.BaseURL)
	stream := binance.NewUserDataStream(client, cfg.BinanceConfig.StreamURL, logger)

	engine := strategy.NewEngine(strategy.DefaultParams())
	table := orders.NewStateTable()
	controller := orders.NewController(client, table, eventBus, logger)

	symbols := make([]bot.SymbolConfig, 0, len(cfg.TradingConfig.Symbols))
	for _, sc := range cfg.TradingConfig.Symbols {
		symbols = append(symbols, bot.SymbolConfig{
			Symbol:   sc.Symbol,
			Interval: sc.Interval,
			Trade: orders.TradeConfig{
				Quantity:  sc.Quantity,
				OrderType: sc.OrderType,
				FeeRate:   cfg.TradingConfig.FeeRate,
			},
		})
	}

	tradingBot := bot.NewTradingBot(client, stream, engine, controller, eventBus, logger, symbols)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := tradingBot.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to start trading bot")
	}

	var server *api.Server
	if cfg.ServerConfig.Enabled {
		server = api.NewServer(api.ServerConfig{
			Port:           cfg.ServerConfig.Port,
			AllowedOrigins: cfg.ServerConfig.AllowedOrigins,
		}, tradingBot, logger)

		go func() {
			if err := server.Start(); err != nil {
				logger.Fatal().Err(err).Msg("failed to start status server")
			}
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info().Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if server != nil {
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("error shutting down status server")
		}
	}

	tradingBot.Stop()
	cancel()

	logger.Info().Msg("shutdown complete")
}

func newLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if cfg.JSONFormat {
		logger = zerolog.New(os.Stdout)
	} else {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}

	return logger.Level(level).With().Timestamp().Logger()
}
