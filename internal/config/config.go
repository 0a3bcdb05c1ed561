package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config содержит всю конфигурацию приложения
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Exchange ExchangeConfig
	Trading  TradingConfig
	Risk     RiskConfig
	Trailing TrailingConfig
	Logging  LoggingConfig
}

// ServerConfig - настройки HTTP сервера
type ServerConfig struct {
	Port     int
	Host     string
	UseHTTPS bool
	CertFile string
	KeyFile  string
}

// DatabaseConfig - настройки подключения к архивной БД.
// Архив опционален: при Enabled == false закрытые сделки живут
// только в JSON журнале.
type DatabaseConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string
}

// ExchangeConfig - настройки клиента биржи OKX
type ExchangeConfig struct {
	// Учётные данные API. Обязательны: бот без них не стартует.
	APIKey     string
	SecretKey  string
	Passphrase string

	// Endpoints - упорядоченный список базовых URL для failover
	Endpoints []string

	// ProxyURL - опциональный HTTPS прокси для обхода региональных
	// блокировок (формат http://host:port)
	ProxyURL string

	Timeout           time.Duration
	MaxRetries        int
	RateLimitCooldown time.Duration

	// RateLimit / RateBurst - параметры token bucket
	RateLimit float64
	RateBurst float64
}

// TradingConfig - настройки торгового цикла и путей персистентности
type TradingConfig struct {
	Symbol       string
	Currency     string
	LoopInterval time.Duration
	DefaultFee   float64

	// Пути JSON файлов состояния
	JournalPath  string
	AlertsPath   string
	StrategyPath string
}

// RiskConfig - переопределения лимитов риск-менеджера
type RiskConfig struct {
	MaxPositionRatio  float64
	MinNotional       float64
	MaxLeverage       int
	RiskPerTrade      float64
	MaxDailyTrades    int
	MaxDailyLossRatio float64
	MaxOpenPositions  int
}

// TrailingConfig - настройки трейлинг-стопа
type TrailingConfig struct {
	ActivationRatio float64
	TrailRatio      float64
	PollInterval    time.Duration
	AutoExecute     bool
}

// LoggingConfig - настройки логирования
type LoggingConfig struct {
	Level  string
	Format string
	Output string
}

// Load загружает конфигурацию из переменных окружения
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:     getEnvAsInt("SERVER_PORT", 8080),
			Host:     getEnv("SERVER_HOST", "0.0.0.0"),
			UseHTTPS: getEnvAsBool("USE_HTTPS", false),
			CertFile: getEnv("CERT_FILE", ""),
			KeyFile:  getEnv("KEY_FILE", ""),
		},
		Database: DatabaseConfig{
			Enabled:  getEnvAsBool("DB_ENABLED", false),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			Name:     getEnv("DB_NAME", "autotrader"),
			User:     getEnv("DB_USER", "user"),
			Password: getEnv("DB_PASSWORD", "password"),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
		},
		Exchange: ExchangeConfig{
			APIKey:     getEnv("OKX_API_KEY", ""),
			SecretKey:  getEnv("OKX_SECRET_KEY", ""),
			Passphrase: getEnv("OKX_PASSPHRASE", ""),
			Endpoints: getEnvAsList("OKX_ENDPOINTS", []string{
				"https://www.okx.com",
				"https://okx.com",
			}),
			ProxyURL:          getEnv("HTTPS_PROXY", ""),
			Timeout:           getEnvAsDuration("OKX_TIMEOUT", 45*time.Second),
			MaxRetries:        getEnvAsInt("OKX_MAX_RETRIES", 5),
			RateLimitCooldown: getEnvAsDuration("OKX_RATE_LIMIT_COOLDOWN", 60*time.Second),
			RateLimit:         getEnvAsFloat("OKX_RATE_LIMIT", 20),
			RateBurst:         getEnvAsFloat("OKX_RATE_BURST", 40),
		},
		Trading: TradingConfig{
			Symbol:       getEnv("TRADE_SYMBOL", "BTC-USDT"),
			Currency:     getEnv("TRADE_CURRENCY", "USDT"),
			LoopInterval: getEnvAsDuration("TRADE_LOOP_INTERVAL", 5*time.Minute),
			DefaultFee:   getEnvAsFloat("TRADE_DEFAULT_FEE", 0.1),
			JournalPath:  getEnv("JOURNAL_PATH", "data/trades.json"),
			AlertsPath:   getEnv("ALERTS_PATH", "data/alerts.json"),
			StrategyPath: getEnv("STRATEGY_PATH", "data/strategy.json"),
		},
		Risk: RiskConfig{
			MaxPositionRatio:  getEnvAsFloat("RISK_MAX_POSITION_RATIO", 0.2),
			MinNotional:       getEnvAsFloat("RISK_MIN_NOTIONAL", 5),
			MaxLeverage:       getEnvAsInt("RISK_MAX_LEVERAGE", 5),
			RiskPerTrade:      getEnvAsFloat("RISK_PER_TRADE", 0.02),
			MaxDailyTrades:    getEnvAsInt("RISK_MAX_DAILY_TRADES", 10),
			MaxDailyLossRatio: getEnvAsFloat("RISK_MAX_DAILY_LOSS_RATIO", 0.1),
			MaxOpenPositions:  getEnvAsInt("RISK_MAX_OPEN_POSITIONS", 3),
		},
		Trailing: TrailingConfig{
			ActivationRatio: getEnvAsFloat("TRAIL_ACTIVATION_RATIO", 0.02),
			TrailRatio:      getEnvAsFloat("TRAIL_RATIO", 0.01),
			PollInterval:    getEnvAsDuration("TRAIL_POLL_INTERVAL", 10*time.Second),
			AutoExecute:     getEnvAsBool("TRAIL_AUTO_EXECUTE", false),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
			Output: getEnv("LOG_OUTPUT", "stdout"),
		},
	}

	if err := cfg.validateCredentials(); err != nil {
		return nil, err
	}
	if err := cfg.validateRanges(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateCredentials проверяет учётные данные биржи.
// Все три переменные обязательны, перечисляем недостающие разом.
func (c *Config) validateCredentials() error {
	var missing []string
	if c.Exchange.APIKey == "" {
		missing = append(missing, "OKX_API_KEY")
	}
	if c.Exchange.SecretKey == "" {
		missing = append(missing, "OKX_SECRET_KEY")
	}
	if c.Exchange.Passphrase == "" {
		missing = append(missing, "OKX_PASSPHRASE")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}
	return nil
}

// validateRanges проверяет числовые диапазоны параметров
func (c *Config) validateRanges() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("SERVER_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Database.Enabled && (c.Database.Port < 1 || c.Database.Port > 65535) {
		return fmt.Errorf("DB_PORT must be between 1 and 65535, got %d", c.Database.Port)
	}

	if c.Exchange.MaxRetries < 1 {
		return fmt.Errorf("OKX_MAX_RETRIES must be at least 1, got %d", c.Exchange.MaxRetries)
	}
	if c.Exchange.MaxRetries > 10 {
		return fmt.Errorf("OKX_MAX_RETRIES should not exceed 10, got %d", c.Exchange.MaxRetries)
	}
	if c.Exchange.Timeout <= 0 {
		return fmt.Errorf("OKX_TIMEOUT must be positive, got %v", c.Exchange.Timeout)
	}
	if len(c.Exchange.Endpoints) == 0 {
		return fmt.Errorf("OKX_ENDPOINTS cannot be empty")
	}

	if c.Trading.LoopInterval <= 0 {
		return fmt.Errorf("TRADE_LOOP_INTERVAL must be positive, got %v", c.Trading.LoopInterval)
	}

	if c.Risk.MaxPositionRatio <= 0 || c.Risk.MaxPositionRatio > 1 {
		return fmt.Errorf("RISK_MAX_POSITION_RATIO must be in (0, 1], got %v", c.Risk.MaxPositionRatio)
	}
	if c.Risk.MaxDailyLossRatio <= 0 || c.Risk.MaxDailyLossRatio > 1 {
		return fmt.Errorf("RISK_MAX_DAILY_LOSS_RATIO must be in (0, 1], got %v", c.Risk.MaxDailyLossRatio)
	}
	if c.Risk.MaxDailyTrades < 1 {
		return fmt.Errorf("RISK_MAX_DAILY_TRADES must be at least 1, got %d", c.Risk.MaxDailyTrades)
	}
	if c.Risk.MaxOpenPositions < 1 {
		return fmt.Errorf("RISK_MAX_OPEN_POSITIONS must be at least 1, got %d", c.Risk.MaxOpenPositions)
	}

	if c.Trailing.ActivationRatio <= 0 {
		return fmt.Errorf("TRAIL_ACTIVATION_RATIO must be positive, got %v", c.Trailing.ActivationRatio)
	}
	if c.Trailing.TrailRatio <= 0 {
		return fmt.Errorf("TRAIL_RATIO must be positive, got %v", c.Trailing.TrailRatio)
	}
	if c.Trailing.PollInterval <= 0 {
		return fmt.Errorf("TRAIL_POLL_INTERVAL must be positive, got %v", c.Trailing.PollInterval)
	}

	return nil
}

// Addr возвращает адрес HTTP сервера
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DSN возвращает строку подключения к базе данных
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

// DSNWithoutPassword возвращает строку подключения без пароля (для логирования)
func (d DatabaseConfig) DSNWithoutPassword() string {
	return fmt.Sprintf("host=%s port=%d user=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Name, d.SSLMode)
}

// Вспомогательные функции для чтения переменных окружения

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(valueStr, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
