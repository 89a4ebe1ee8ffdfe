package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"spottrader/pkg/crypto"
)

// Config содержит всю конфигурацию приложения
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Security SecurityConfig
	Logging  LoggingConfig
	Trading  TradingConfig
	Gate     GateConfig
	Deferred DeferredConfig
	Profit   ProfitConfig
	Notify   NotifyConfig

	// StrategyFile - необязательный YAML с профилями режимов и порогами прибыли
	StrategyFile string
}

// ServerConfig - настройки HTTP сервера
type ServerConfig struct {
	Port           int
	Host           string
	UseHTTPS       bool
	CertFile       string
	KeyFile        string
	AllowedOrigins []string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
}

// DatabaseConfig - настройки подключения к БД
type DatabaseConfig struct {
	Driver   string
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string
}

// SecurityConfig - настройки безопасности
type SecurityConfig struct {
	APIToken      string // токен UI API (заголовок Authorization: Bearer)
	EncryptionKey string // AES-256 ключ для API ключей бирж
	WebhookSecret string // общий секрет webhook, если у владельца нет своего
}

// LoggingConfig - настройки логирования
type LoggingConfig struct {
	Level      string
	Format     string
	Output     string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// TradingConfig - параметры исполнения ордеров и маршрутизации намерений
type TradingConfig struct {
	OrderTimeout       time.Duration // общий таймаут HTTP запроса к бирже
	SettleDelay        time.Duration // пауза перед повторным чтением балансов
	DebounceWindow     time.Duration // минимальный интервал BUY -> SELL по одному ключу
	PriceCacheTTL      time.Duration
	PaperFallbackPrice float64 // цена paper сделки, если рынок недоступен
	PaperBalance       float64 // баланс котируемой валюты для paper "весь баланс"
	DefaultExchange    string
}

// ModeProfile - пороги сигнального фильтра для одного режима
type ModeProfile struct {
	RSIFloor    float64       `yaml:"rsi_floor"`
	MinMomentum float64       `yaml:"min_momentum"` // %
	MaxHold     time.Duration `yaml:"max_hold"`     // удержание отложенной продажи
}

// GateConfig - настройки сигнального фильтра
type GateConfig struct {
	Exchange       string
	Symbol         string
	CandleInterval string
	CandleLimit    int
	Interval       time.Duration
	Mode           string
	Modes          map[string]ModeProfile
}

// DeferredConfig - настройки планировщика отложенных продаж
type DeferredConfig struct {
	Interval time.Duration
}

// ProfitConfig - настройки менеджера целевой прибыли
type ProfitConfig struct {
	Interval  time.Duration
	TargetPct float64       // выход при net% >= TargetPct
	StopPct   float64       // выход при net% <= StopPct (0 = выключено)
	MaxHold   time.Duration // выход по возрасту старейшего лота (0 = выключено)
	MinHold   time.Duration // не трогать группу, если последний BUY моложе
	FeeRate   float64       // предполагаемая комиссия продажи (0.001 = 0.1%)
}

// NotifyConfig - настройки доставки уведомлений
type NotifyConfig struct {
	QueueSize          int
	FCMEnabled         bool
	FCMCredentialsFile string
	FCMTopicPrefix     string
}

// DefaultModeProfiles возвращает пороги режимов по умолчанию
func DefaultModeProfiles() map[string]ModeProfile {
	return map[string]ModeProfile{
		"conservative": {RSIFloor: 55, MinMomentum: 1.0, MaxHold: time.Hour},
		"normal":       {RSIFloor: 50, MinMomentum: 0.6, MaxHold: 4 * time.Hour},
		"aggressive":   {RSIFloor: 45, MinMomentum: 0.3, MaxHold: 2 * time.Hour},
	}
}

// Load загружает конфигурацию из переменных окружения (и .env, если он есть)
func Load() (*Config, error) {
	if envPath := os.Getenv("ENV_FILE"); envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:           getEnvAsInt("SERVER_PORT", 8080),
			Host:           getEnv("SERVER_HOST", "0.0.0.0"),
			UseHTTPS:       getEnvAsBool("USE_HTTPS", false),
			CertFile:       getEnv("CERT_FILE", ""),
			KeyFile:        getEnv("KEY_FILE", ""),
			AllowedOrigins: getEnvAsList("ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
			ReadTimeout:    getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:   getEnvAsDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			Driver:   getEnv("DB_DRIVER", "postgres"),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			Name:     getEnv("DB_NAME", "spottrader"),
			User:     getEnv("DB_USER", "user"),
			Password: getEnv("DB_PASSWORD", "password"),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
		},
		Security: SecurityConfig{
			APIToken:      getEnv("API_TOKEN", ""),
			EncryptionKey: getEnv("ENCRYPTION_KEY", ""),
			WebhookSecret: getEnv("WEBHOOK_SECRET", ""),
		},
		Logging: LoggingConfig{
			Level:      getEnv("LOG_LEVEL", "info"),
			Format:     getEnv("LOG_FORMAT", "json"),
			Output:     getEnv("LOG_OUTPUT", "stdout"),
			MaxSizeMB:  getEnvAsInt("LOG_MAX_SIZE_MB", 100),
			MaxBackups: getEnvAsInt("LOG_MAX_BACKUPS", 5),
			MaxAgeDays: getEnvAsInt("LOG_MAX_AGE_DAYS", 30),
		},
		Trading: TradingConfig{
			OrderTimeout:       getEnvAsDuration("ORDER_TIMEOUT", 15*time.Second),
			SettleDelay:        getEnvAsDuration("SETTLE_DELAY", 1500*time.Millisecond),
			DebounceWindow:     getEnvAsDuration("DEBOUNCE_WINDOW", 3*time.Second),
			PriceCacheTTL:      getEnvAsDuration("PRICE_CACHE_TTL", 5*time.Second),
			PaperFallbackPrice: getEnvAsFloat("PAPER_FALLBACK_PRICE", 100),
			PaperBalance:       getEnvAsFloat("PAPER_BALANCE", 1000),
			DefaultExchange:    strings.ToLower(getEnv("DEFAULT_EXCHANGE", "binance")),
		},
		Gate: GateConfig{
			Exchange:       strings.ToLower(getEnv("GATE_EXCHANGE", "binance")),
			Symbol:         getEnv("GATE_SYMBOL", "BTC/USDT"),
			CandleInterval: getEnv("GATE_CANDLE_INTERVAL", "1h"),
			CandleLimit:    getEnvAsInt("GATE_CANDLE_LIMIT", 250),
			Interval:       getEnvAsDuration("GATE_INTERVAL", time.Minute),
			Mode:           strings.ToLower(getEnv("GATE_MODE", "normal")),
			Modes:          DefaultModeProfiles(),
		},
		Deferred: DeferredConfig{
			Interval: getEnvAsDuration("DEFERRED_INTERVAL", 30*time.Second),
		},
		Profit: ProfitConfig{
			Interval:  getEnvAsDuration("PROFIT_INTERVAL", 30*time.Second),
			TargetPct: getEnvAsFloat("PROFIT_TARGET_PCT", 1.5),
			StopPct:   getEnvAsFloat("PROFIT_STOP_PCT", 0),
			MaxHold:   getEnvAsDuration("PROFIT_MAX_HOLD", 0),
			MinHold:   getEnvAsDuration("PROFIT_MIN_HOLD", 2*time.Minute),
			FeeRate:   getEnvAsFloat("PROFIT_FEE_RATE", 0.001),
		},
		Notify: NotifyConfig{
			QueueSize:          getEnvAsInt("NOTIFY_QUEUE_SIZE", 256),
			FCMEnabled:         getEnvAsBool("FCM_ENABLED", false),
			FCMCredentialsFile: getEnv("FCM_CREDENTIALS_FILE", ""),
			FCMTopicPrefix:     getEnv("FCM_TOPIC_PREFIX", "owner_"),
		},
		StrategyFile: getEnv("STRATEGY_FILE", ""),
	}

	if cfg.StrategyFile != "" {
		if err := cfg.ApplyStrategyFile(cfg.StrategyFile); err != nil {
			return nil, err
		}
	}

	if err := cfg.validateSecurity(); err != nil {
		return nil, err
	}

	if err := cfg.validateRanges(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateSecurity проверяет параметры безопасности
func (c *Config) validateSecurity() error {
	if c.Security.EncryptionKey == "" {
		return fmt.Errorf("ENCRYPTION_KEY is required for encrypting API keys")
	}

	if err := crypto.ValidateKey([]byte(c.Security.EncryptionKey)); err != nil {
		return fmt.Errorf("ENCRYPTION_KEY: %w", err)
	}

	// Пустой токен допустим для локального запуска
	if c.Security.APIToken != "" && len(c.Security.APIToken) < 32 {
		return fmt.Errorf("API_TOKEN must be at least 32 characters")
	}

	return nil
}

// validateRanges проверяет числовые диапазоны параметров
func (c *Config) validateRanges() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("SERVER_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Database.Port < 1 || c.Database.Port > 65535 {
		return fmt.Errorf("DB_PORT must be between 1 and 65535, got %d", c.Database.Port)
	}

	// Таймаут запроса ограничивает блокировку вызывающего Intent Router
	if c.Trading.OrderTimeout < time.Second || c.Trading.OrderTimeout > time.Minute {
		return fmt.Errorf("ORDER_TIMEOUT must be between 1s and 1m, got %v", c.Trading.OrderTimeout)
	}

	if c.Trading.SettleDelay < 0 {
		return fmt.Errorf("SETTLE_DELAY cannot be negative, got %v", c.Trading.SettleDelay)
	}

	if c.Trading.DebounceWindow < 0 {
		return fmt.Errorf("DEBOUNCE_WINDOW cannot be negative, got %v", c.Trading.DebounceWindow)
	}

	if c.Trading.PaperFallbackPrice <= 0 {
		return fmt.Errorf("PAPER_FALLBACK_PRICE must be positive, got %v", c.Trading.PaperFallbackPrice)
	}

	// EMA200 плюс предыдущее значение требуют минимум 210 свечей
	if c.Gate.CandleLimit < 210 || c.Gate.CandleLimit > 1000 {
		return fmt.Errorf("GATE_CANDLE_LIMIT must be between 210 and 1000, got %d", c.Gate.CandleLimit)
	}

	if _, ok := c.Gate.Modes[c.Gate.Mode]; !ok {
		return fmt.Errorf("GATE_MODE %q is not one of conservative, normal, aggressive", c.Gate.Mode)
	}

	for name, interval := range map[string]time.Duration{
		"GATE_INTERVAL":     c.Gate.Interval,
		"DEFERRED_INTERVAL": c.Deferred.Interval,
		"PROFIT_INTERVAL":   c.Profit.Interval,
	} {
		if interval <= 0 {
			return fmt.Errorf("%s must be positive, got %v", name, interval)
		}
	}

	if c.Profit.TargetPct <= 0 {
		return fmt.Errorf("PROFIT_TARGET_PCT must be positive, got %v", c.Profit.TargetPct)
	}

	if c.Profit.StopPct > 0 {
		return fmt.Errorf("PROFIT_STOP_PCT must be negative or 0 (disabled), got %v", c.Profit.StopPct)
	}

	if c.Profit.FeeRate < 0 || c.Profit.FeeRate >= 0.1 {
		return fmt.Errorf("PROFIT_FEE_RATE must be in [0, 0.1), got %v", c.Profit.FeeRate)
	}

	if c.Notify.QueueSize <= 0 {
		return fmt.Errorf("NOTIFY_QUEUE_SIZE must be positive, got %d", c.Notify.QueueSize)
	}

	if c.Notify.FCMEnabled && c.Notify.FCMCredentialsFile == "" {
		return fmt.Errorf("FCM_CREDENTIALS_FILE is required when FCM_ENABLED=true")
	}

	return nil
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
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
