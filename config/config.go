package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	BinanceConfig BinanceConfig `json:"binance"`
	TradingConfig TradingConfig `json:"trading"`
	ServerConfig  ServerConfig  `json:"server"`
	LoggingConfig LoggingConfig `json:"logging"`
}

// BinanceConfig holds exchange connection settings
type BinanceConfig struct {
	APIKey    string `json:"api_key"`
	SecretKey string `json:"secret_key"`
	BaseURL   string `json:"base_url"`
	StreamURL string `json:"stream_url"`
	TestNet   bool   `json:"testnet"`
}

// SymbolConfig describes one traded symbol
type SymbolConfig struct {
	Symbol    string  `json:"symbol"`
	Quantity  float64 `json:"quantity"` // base asset units per entry
	Interval  string  `json:"interval"`
	OrderType string  `json:"order_type"` // LIMIT or MARKET
}

// TradingConfig holds trading behavior settings
type TradingConfig struct {
	Symbols []SymbolConfig `json:"symbols"`
	FeeRate float64        `json:"fee_rate"`
}

// ServerConfig holds the status HTTP server settings
type ServerConfig struct {
	Enabled        bool     `json:"enabled"`
	Port           string   `json:"port"`
	AllowedOrigins []string `json:"allowed_origins"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level      string `json:"level"`
	JSONFormat bool   `json:"json_format"`
}

// Load reads configuration from the environment, with a .env file providing
// defaults when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}

	cfg.BinanceConfig.APIKey = getEnvOrDefault("BINANCE_API_KEY", "")
	cfg.BinanceConfig.SecretKey = getEnvOrDefault("BINANCE_SECRET_KEY", "")
	cfg.BinanceConfig.TestNet = getEnvOrDefault("BINANCE_TESTNET", "false") == "true"

	baseURL := "https://api.binance.com"
	streamURL := "wss://stream.binance.com:9443"
	if cfg.BinanceConfig.TestNet {
		baseURL = "https://testnet.binance.vision"
		streamURL = "wss://stream.testnet.binance.vision"
	}
	cfg.BinanceConfig.BaseURL = getEnvOrDefault("BINANCE_BASE_URL", baseURL)
	cfg.BinanceConfig.StreamURL = getEnvOrDefault("BINANCE_STREAM_URL", streamURL)

	symbols, err := parseSymbols(getEnvOrDefault("TRADING_SYMBOLS", ""))
	if err != nil {
		return nil, err
	}
	cfg.TradingConfig.Symbols = symbols
	cfg.TradingConfig.FeeRate = getEnvFloatOrDefault("TRADING_FEE_RATE", 0.001)

	cfg.ServerConfig.Enabled = getEnvOrDefault("SERVER_ENABLED", "true") == "true"
	cfg.ServerConfig.Port = getEnvOrDefault("SERVER_PORT", "8080")
	cfg.ServerConfig.AllowedOrigins = strings.Split(getEnvOrDefault("SERVER_ALLOWED_ORIGINS", "*"), ",")

	cfg.LoggingConfig.Level = getEnvOrDefault("LOG_LEVEL", "info")
	cfg.LoggingConfig.JSONFormat = getEnvOrDefault("LOG_JSON", "false") == "true"

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the configuration can actually run. Failures here are
// fatal at startup.
func (c *Config) Validate() error {
	if c.BinanceConfig.APIKey == "" || c.BinanceConfig.SecretKey == "" {
		return fmt.Errorf("BINANCE_API_KEY and BINANCE_SECRET_KEY are required")
	}
	if len(c.TradingConfig.Symbols) == 0 {
		return fmt.Errorf("TRADING_SYMBOLS must list at least one symbol")
	}
	if c.TradingConfig.FeeRate < 0 || c.TradingConfig.FeeRate >= 1 {
		return fmt.Errorf("TRADING_FEE_RATE must be a fraction in [0, 1)")
	}

	seen := make(map[string]bool)
	for _, sc := range c.TradingConfig.Symbols {
		if seen[sc.Symbol] {
			return fmt.Errorf("symbol %s listed twice", sc.Symbol)
		}
		seen[sc.Symbol] = true

		if sc.Quantity <= 0 {
			return fmt.Errorf("symbol %s: quantity must be positive", sc.Symbol)
		}
		if sc.OrderType != "LIMIT" && sc.OrderType != "MARKET" {
			return fmt.Errorf("symbol %s: order type must be LIMIT or MARKET, got %q", sc.Symbol, sc.OrderType)
		}
	}
	return nil
}

// parseSymbols decodes the TRADING_SYMBOLS format:
// "BTCUSDT:0.001:4h:LIMIT,ETHUSDT:0.05:1h" (order type defaults to LIMIT).
func parseSymbols(raw string) ([]SymbolConfig, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}

	var symbols []SymbolConfig
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		parts := strings.Split(entry, ":")
		if len(parts) < 3 || len(parts) > 4 {
			return nil, fmt.Errorf("bad TRADING_SYMBOLS entry %q, want SYMBOL:QUANTITY:INTERVAL[:ORDER_TYPE]", entry)
		}

		qty, err := strconv.ParseFloat(parts[1], 64)
		if err != nil {
			return nil, fmt.Errorf("bad quantity in TRADING_SYMBOLS entry %q: %w", entry, err)
		}

		orderType := "LIMIT"
		if len(parts) == 4 {
			orderType = strings.ToUpper(parts[3])
		}

		symbols = append(symbols, SymbolConfig{
			Symbol:    strings.ToUpper(parts[0]),
			Quantity:  qty,
			Interval:  parts[2],
			OrderType: orderType,
		})
	}
	return symbols, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}
