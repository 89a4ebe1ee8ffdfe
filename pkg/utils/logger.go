package utils

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// logger.go - структурированное логирование на базе zap
//
// Назначение:
// Единая точка настройки логирования для всех компонентов торгового ядра:
// шлюза ордеров, планировщиков, HTTP слоя.
//
// Функции:
// - InitLogger: создать logger по LogConfig (json/text, уровень, вывод)
// - InitGlobalLogger / GetGlobalLogger / SetGlobalLogger: глобальный экземпляр
// - With* хелперы: дочерние логгеры с контекстом (биржа, инструмент, владелец)
// - Debug/Info/Warn/Error (+f): глобальные функции
//
// Вывод в файл идёт через lumberjack (ротация по размеру и возрасту).

// LogConfig - параметры логирования
type LogConfig struct {
	Level       string // debug, info, warn, error, fatal
	Format      string // json, text
	Output      string // stdout, stderr или путь к файлу
	Development bool

	// Ротация (только для файлового вывода)
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Logger - обёртка над zap.Logger с sugared-версией под рукой
type Logger struct {
	*zap.Logger
	sugar *zap.SugaredLogger
}

var (
	globalLogger *Logger
	globalMu     sync.RWMutex
)

// InitLogger создаёт новый logger.
// Никогда не возвращает nil: при проблемах с файлом пишет в stderr.
func InitLogger(cfg LogConfig) *Logger {
	level := parseLevel(cfg.Level)

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderCfg.EncodeDuration = zapcore.StringDurationEncoder

	var encoder zapcore.Encoder
	if strings.ToLower(cfg.Format) == "text" {
		encoderCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encoderCfg)
	} else {
		encoder = zapcore.NewJSONEncoder(encoderCfg)
	}

	core := zapcore.NewCore(encoder, buildWriter(cfg), level)

	opts := []zap.Option{zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)}
	if cfg.Development {
		opts = append(opts, zap.Development())
	}

	zl := zap.New(core, opts...)
	return &Logger{Logger: zl, sugar: zl.Sugar()}
}

// buildWriter выбирает sink для логов
func buildWriter(cfg LogConfig) zapcore.WriteSyncer {
	switch strings.ToLower(cfg.Output) {
	case "", "stdout":
		return zapcore.Lock(os.Stdout)
	case "stderr":
		return zapcore.Lock(os.Stderr)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Output), 0o755); err != nil {
		return zapcore.Lock(os.Stderr)
	}

	// Без параметров ротации пишем напрямую (например /dev/null в бенчмарках)
	if cfg.MaxSizeMB <= 0 {
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return zapcore.Lock(os.Stderr)
		}
		return zapcore.Lock(f)
	}

	return zapcore.AddSync(&lumberjack.Logger{
		Filename:   cfg.Output,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   true,
	})
}

func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "fatal":
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

// InitGlobalLogger создаёт logger и делает его глобальным
func InitGlobalLogger(cfg LogConfig) *Logger {
	logger := InitLogger(cfg)
	SetGlobalLogger(logger)
	return logger
}

// SetGlobalLogger заменяет глобальный logger
func SetGlobalLogger(logger *Logger) {
	globalMu.Lock()
	globalLogger = logger
	globalMu.Unlock()
}

// GetGlobalLogger возвращает глобальный logger, создавая дефолтный при первом обращении
func GetGlobalLogger() *Logger {
	globalMu.RLock()
	l := globalLogger
	globalMu.RUnlock()
	if l != nil {
		return l
	}

	globalMu.Lock()
	defer globalMu.Unlock()
	if globalLogger == nil {
		globalLogger = InitLogger(LogConfig{Level: "info", Format: "json"})
	}
	return globalLogger
}

// L - короткий алиас GetGlobalLogger
func L() *Logger {
	return GetGlobalLogger()
}

// With возвращает дочерний logger с дополнительными полями
func (l *Logger) With(fields ...zap.Field) *Logger {
	child := l.Logger.With(fields...)
	return &Logger{Logger: child, sugar: child.Sugar()}
}

func (l *Logger) WithComponent(name string) *Logger { return l.With(Component(name)) }
func (l *Logger) WithExchange(name string) *Logger { return l.With(Exchange(name)) }
func (l *Logger) WithSymbol(symbol string) *Logger { return l.With(Symbol(symbol)) }
func (l *Logger) WithOwner(owner string) *Logger { return l.With(Owner(owner)) }

// Sugar возвращает sugared logger для printf-стиля
func (l *Logger) Sugar() *zap.SugaredLogger {
	return l.sugar
}

// ============ Глобальные функции ============

func Debug(msg string, fields ...zap.Field) { GetGlobalLogger().Debug(msg, fields...) }
func Info(msg string, fields ...zap.Field) { GetGlobalLogger().Info(msg, fields...) }
func Warn(msg string, fields ...zap.Field) { GetGlobalLogger().Warn(msg, fields...) }
func Error(msg string, fields ...zap.Field) { GetGlobalLogger().Error(msg, fields...) }

func Debugf(template string, args ...interface{}) { GetGlobalLogger().sugar.Debugf(template, args...) }
func Infof(template string, args ...interface{}) { GetGlobalLogger().sugar.Infof(template, args...) }
func Warnf(template string, args ...interface{}) { GetGlobalLogger().sugar.Warnf(template, args...) }
func Errorf(template string, args ...interface{}) { GetGlobalLogger().sugar.Errorf(template, args...) }

// ============ Доменные поля ============

func Exchange(name string) zap.Field { return zap.String("exchange", name) }
func Symbol(symbol string) zap.Field { return zap.String("symbol", symbol) }
func Owner(owner string) zap.Field { return zap.String("owner", owner) }
func OrderID(id string) zap.Field { return zap.String("order_id", id) }
func Action(action string) zap.Field { return zap.String("action", action) }
func Price(price float64) zap.Field { return zap.Float64("price", price) }
func Quantity(qty float64) zap.Field { return zap.Float64("quantity", qty) }
func PNL(pnl float64) zap.Field { return zap.Float64("pnl", pnl) }
func Mode(mode string) zap.Field { return zap.String("mode", mode) }
func Latency(ms float64) zap.Field { return zap.Float64("latency_ms", ms) }
func RequestID(id string) zap.Field { return zap.String("request_id", id) }
func Component(name string) zap.Field { return zap.String("component", name) }
func Reason(reason string) zap.Field { return zap.String("reason", reason) }

// Field - поле структурированного лога
type Field = zap.Field

// Переэкспорт базовых конструкторов zap, чтобы не импортировать zap везде
var (
	String  = zap.String
	Int     = zap.Int
	Int64   = zap.Int64
	Float64 = zap.Float64
	Bool    = zap.Bool
	Err     = zap.Error
	Any     = zap.Any
	Dur     = zap.Duration
	Stack   = zap.Stack
)
