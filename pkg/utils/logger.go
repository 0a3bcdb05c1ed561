package utils

// logger.go - структурированное логирование на базе zap
//
// Назначение:
// Единая точка настройки логирования для всех компонентов бота.
//
// Функции:
// - InitLogger: создать и настроить logger
//   * Выбор формата (JSON, text)
//   * Уровни: DEBUG, INFO, WARN, ERROR
//   * Вывод в файл или stderr
// - Глобальный логгер для пакетов без явного внедрения зависимости
// - Доменные конструкторы полей (Symbol, Price, PNL, Strategy...)

import (
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogConfig конфигурация логирования
type LogConfig struct {
	Level       string `json:"level"`       // debug, info, warn, error, fatal
	Format      string `json:"format"`      // json, text
	Output      string `json:"output"`      // путь к файлу, пусто = stderr
	Development bool   `json:"development"` // режим разработки (stacktrace на warn)
}

// Logger обёртка над zap.Logger с sugar-вариантом для printf-style логов
type Logger struct {
	*zap.Logger
	sugar *zap.SugaredLogger
}

// parseLevel разбирает текстовый уровень логирования.
// Неизвестные значения дают info.
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

// InitLogger создаёт и настраивает логгер
func InitLogger(config LogConfig) *Logger {
	level := parseLevel(config.Level)

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "message",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	var encoder zapcore.Encoder
	if strings.ToLower(config.Format) == "text" {
		encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	} else {
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	}

	var sink zapcore.WriteSyncer = zapcore.AddSync(os.Stderr)
	if config.Output != "" {
		file, err := os.OpenFile(config.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err == nil {
			sink = zapcore.AddSync(file)
		}
		// При ошибке открытия файла остаёмся на stderr, не паникуем
	}

	core := zapcore.NewCore(encoder, sink, level)

	opts := []zap.Option{zap.AddCaller()}
	if config.Development {
		opts = append(opts, zap.Development())
	}

	zapLogger := zap.New(core, opts...)
	return &Logger{
		Logger: zapLogger,
		sugar:  zapLogger.Sugar(),
	}
}

// ============================================================
// Глобальный логгер
// ============================================================

var (
	globalLogger *Logger
	globalMu     sync.Mutex
)

// InitGlobalLogger инициализирует глобальный логгер с заданной конфигурацией
func InitGlobalLogger(config LogConfig) *Logger {
	logger := InitLogger(config)
	SetGlobalLogger(logger)
	return logger
}

// SetGlobalLogger устанавливает глобальный логгер
func SetGlobalLogger(logger *Logger) {
	globalMu.Lock()
	globalLogger = logger
	globalMu.Unlock()
}

// GetGlobalLogger возвращает глобальный логгер, лениво создавая дефолтный
func GetGlobalLogger() *Logger {
	globalMu.Lock()
	defer globalMu.Unlock()
	if globalLogger == nil {
		globalLogger = InitLogger(LogConfig{})
	}
	return globalLogger
}

// L - короткий алиас для GetGlobalLogger
func L() *Logger {
	return GetGlobalLogger()
}

// ============================================================
// Методы Logger
// ============================================================

// With возвращает логгер с дополнительными полями
func (l *Logger) With(fields ...zap.Field) *Logger {
	child := l.Logger.With(fields...)
	return &Logger{Logger: child, sugar: child.Sugar()}
}

// WithComponent возвращает логгер с полем компонента
func (l *Logger) WithComponent(component string) *Logger {
	return l.With(Component(component))
}

// WithSymbol возвращает логгер с полем торговой пары
func (l *Logger) WithSymbol(symbol string) *Logger {
	return l.With(Symbol(symbol))
}

// WithStrategy возвращает логгер с полем стратегии
func (l *Logger) WithStrategy(strategy string) *Logger {
	return l.With(Strategy(strategy))
}

// WithExchange возвращает логгер с полем биржи
func (l *Logger) WithExchange(exchange string) *Logger {
	return l.With(Exchange(exchange))
}

// Sugar возвращает sugar-вариант для printf-style логирования
func (l *Logger) Sugar() *zap.SugaredLogger {
	return l.sugar
}

// ============================================================
// Глобальные функции логирования
// ============================================================

func Debug(msg string, fields ...zap.Field) { L().Logger.Debug(msg, fields...) }
func Info(msg string, fields ...zap.Field)  { L().Logger.Info(msg, fields...) }
func Warn(msg string, fields ...zap.Field)  { L().Logger.Warn(msg, fields...) }
func Error(msg string, fields ...zap.Field) { L().Logger.Error(msg, fields...) }
func Fatal(msg string, fields ...zap.Field) { L().Logger.Fatal(msg, fields...) }

func Debugf(template string, args ...interface{}) { L().sugar.Debugf(template, args...) }
func Infof(template string, args ...interface{})  { L().sugar.Infof(template, args...) }
func Warnf(template string, args ...interface{})  { L().sugar.Warnf(template, args...) }
func Errorf(template string, args ...interface{}) { L().sugar.Errorf(template, args...) }
func Fatalf(template string, args ...interface{}) { L().sugar.Fatalf(template, args...) }

// fieldsToInterface конвертирует zap.Field в плоский срез ключ-значение
// для SugaredLogger
func fieldsToInterface(fields []zap.Field) []interface{} {
	result := make([]interface{}, 0, len(fields)*2)
	for _, f := range fields {
		result = append(result, f.Key, f.Interface)
	}
	return result
}

// ============================================================
// Доменные конструкторы полей
// ============================================================

// Exchange - имя биржи
func Exchange(name string) zap.Field { return zap.String("exchange", name) }

// Symbol - торговая пара (BTC-USDT)
func Symbol(symbol string) zap.Field { return zap.String("symbol", symbol) }

// Strategy - торговая стратегия (support_buy, dca, grid...)
func Strategy(name string) zap.Field { return zap.String("strategy", name) }

// OrderID - идентификатор ордера на бирже
func OrderID(id string) zap.Field { return zap.String("order_id", id) }

// Price - цена
func Price(price float64) zap.Field { return zap.Float64("price", price) }

// Size - размер позиции в базовой валюте
func Size(size float64) zap.Field { return zap.Float64("size", size) }

// Balance - баланс счёта в котируемой валюте
func Balance(balance float64) zap.Field { return zap.Float64("balance", balance) }

// PNL - прибыль/убыток
func PNL(pnl float64) zap.Field { return zap.Float64("pnl", pnl) }

// Side - направление сделки (buy/sell, long/short)
func Side(side string) zap.Field { return zap.String("side", side) }

// State - состояние (для state machine трейлинг-стопа)
func State(state string) zap.Field { return zap.String("state", state) }

// Latency - задержка в миллисекундах
func Latency(ms float64) zap.Field { return zap.Float64("latency_ms", ms) }

// RequestID - идентификатор запроса (для HTTP middleware)
func RequestID(id string) zap.Field { return zap.String("request_id", id) }

// Component - имя компонента (gateway, journal, trailing...)
func Component(name string) zap.Field { return zap.String("component", name) }

// Переэкспорт базовых конструкторов, чтобы вызывающим не импортировать zap
var (
	String  = zap.String
	Int     = zap.Int
	Int64   = zap.Int64
	Float64 = zap.Float64
	Bool    = zap.Bool
	Err     = zap.Error
	Any     = zap.Any
)
