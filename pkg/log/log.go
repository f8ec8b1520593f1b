package log

import (
	"os"
	"time"

	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Logger interface {
	Debug(args ...interface{})
	Debugf(template string, args ...interface{})
	Info(args ...interface{})
	Infof(template string, args ...interface{})
	Warn(args ...interface{})
	Warnf(template string, args ...interface{})
	Error(args ...interface{})
	Errorf(template string, args ...interface{})
	Fatal(args ...interface{})
	Fatalf(template string, args ...interface{})

	// With returns a child logger with structured context fields
	With(args ...interface{}) Logger

	Sync() error
}

type Config struct {
	// Level - default info
	Level string `json:"LOG_LEVEL" default:"info"`
	// Development switches to the console encoder
	Development bool `json:"LOG_DEVELOPMENT"`
	// SentryDSN - errors are reported to sentry when set
	SentryDSN string `json:"LOG_SENTRY_DSN" secret:"true"`
	// SentryEnvironment is usually the stand name
	SentryEnvironment string `json:"LOG_SENTRY_ENVIRONMENT"`
}

type logger struct {
	*zap.SugaredLogger
}

func (l *logger) With(args ...interface{}) Logger {
	return &logger{l.SugaredLogger.With(args...)}
}

// New creates production logger with info level
func New() Logger {
	l, _ := NewWithConfig(Config{Level: "info"})
	return l
}

// NewWithConfig builds zap logger from config.
//
// If sentry dsn is set, every entry with error level or above is sent to sentry.
func NewWithConfig(cfg Config) (Logger, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		lvl, err := zapcore.ParseLevel(cfg.Level)
		if err != nil {
			return nil, err
		}
		level = lvl
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	encoder := zapcore.NewJSONEncoder(encoderCfg)
	if cfg.Development {
		encoderCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encoderCfg)
	}

	core := zapcore.NewCore(encoder, zapcore.Lock(os.Stdout), zap.NewAtomicLevelAt(level))

	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         cfg.SentryDSN,
			Environment: cfg.SentryEnvironment,
		}); err != nil {
			return nil, err
		}
		core = zapcore.RegisterHooks(core, sentryHook)
	}

	return &logger{zap.New(core, zap.AddCaller()).Sugar()}, nil
}

// NewNop returns logger which writes nothing, useful for tests
func NewNop() Logger {
	return &logger{zap.NewNop().Sugar()}
}

func sentryHook(entry zapcore.Entry) error {
	if entry.Level < zapcore.ErrorLevel {
		return nil
	}

	event := sentry.NewEvent()
	event.Message = entry.Message
	event.Level = sentryLevel(entry.Level)
	event.Timestamp = entry.Time
	if entry.Caller.Defined {
		event.Extra = map[string]interface{}{"caller": entry.Caller.TrimmedPath()}
	}
	sentry.CaptureEvent(event)

	if entry.Level >= zapcore.FatalLevel {
		sentry.Flush(2 * time.Second)
	}

	return nil
}

func sentryLevel(l zapcore.Level) sentry.Level {
	switch l {
	case zapcore.ErrorLevel:
		return sentry.LevelError
	case zapcore.DPanicLevel, zapcore.PanicLevel, zapcore.FatalLevel:
		return sentry.LevelFatal
	default:
		return sentry.LevelWarning
	}
}
