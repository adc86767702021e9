package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"wabridge/platform/config"
)

// Logger wraps zerolog with the field helpers used across wabridge.
type Logger struct {
	logger zerolog.Logger
	config config.LogConfig
}

// New creates a logger from the given log configuration.
func New(cfg config.LogConfig) *Logger {
	cfg = validateLogConfig(cfg)

	zerolog.SetGlobalLevel(parseLogLevel(cfg.Level))
	zerolog.TimeFieldFormat = time.RFC3339

	var writer io.Writer = os.Stdout
	if cfg.Output == "stderr" {
		writer = os.Stderr
	}

	if cfg.Format == "console" {
		writer = zerolog.ConsoleWriter{
			Out:        writer,
			TimeFormat: "15:04:05",
		}
	}

	ctx := zerolog.New(writer).With().Timestamp()
	if cfg.Caller {
		ctx = ctx.CallerWithSkipFrameCount(3)
	}

	return &Logger{
		logger: ctx.Logger(),
		config: cfg,
	}
}

// NewFromAppConfig creates a logger from the application configuration.
func NewFromAppConfig(appConfig *config.Config) *Logger {
	return New(appConfig.Log)
}

// WithModule returns a logger annotated with a component name.
func (l *Logger) WithModule(module string) *Logger {
	return &Logger{
		logger: l.logger.With().Str("component", module).Logger(),
		config: l.config,
	}
}

// WithSession returns a logger annotated with the account key.
func (l *Logger) WithSession(key string) *Logger {
	return &Logger{
		logger: l.logger.With().Str("instance_key", key).Logger(),
		config: l.config,
	}
}

// WithError adds an error to the logger context.
func (l *Logger) WithError(err error) *Logger {
	return &Logger{
		logger: l.logger.With().Err(err).Logger(),
		config: l.config,
	}
}

func (l *Logger) Debug(msg string) {
	l.logger.Debug().Msg(msg)
}

func (l *Logger) Debugf(format string, args ...interface{}) {
	l.logger.Debug().Msgf(format, args...)
}

func (l *Logger) DebugWithFields(msg string, fields map[string]interface{}) {
	event := l.logger.Debug()
	for k, v := range fields {
		event = event.Interface(k, v)
	}
	event.Msg(msg)
}

func (l *Logger) Info(msg string) {
	l.logger.Info().Msg(msg)
}

func (l *Logger) Infof(format string, args ...interface{}) {
	l.logger.Info().Msgf(format, args...)
}

func (l *Logger) InfoWithFields(msg string, fields map[string]interface{}) {
	event := l.logger.Info()
	for k, v := range fields {
		event = event.Interface(k, v)
	}
	event.Msg(msg)
}

func (l *Logger) Warn(msg string) {
	l.logger.Warn().Msg(msg)
}

func (l *Logger) Warnf(format string, args ...interface{}) {
	l.logger.Warn().Msgf(format, args...)
}

func (l *Logger) WarnWithFields(msg string, fields map[string]interface{}) {
	event := l.logger.Warn()
	for k, v := range fields {
		event = event.Interface(k, v)
	}
	event.Msg(msg)
}

func (l *Logger) Error(msg string) {
	l.logger.Error().Msg(msg)
}

func (l *Logger) Errorf(format string, args ...interface{}) {
	l.logger.Error().Msgf(format, args...)
}

func (l *Logger) ErrorWithFields(msg string, fields map[string]interface{}) {
	event := l.logger.Error()
	for k, v := range fields {
		event = event.Interface(k, v)
	}
	event.Msg(msg)
}

func (l *Logger) Fatal(msg string) {
	l.logger.Fatal().Msg(msg)
}

func (l *Logger) Fatalf(format string, args ...interface{}) {
	l.logger.Fatal().Msgf(format, args...)
}

// GetZerologLogger exposes the underlying zerolog logger.
func (l *Logger) GetZerologLogger() zerolog.Logger {
	return l.logger
}

func parseLogLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info", "":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	case "disabled":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

func validateLogConfig(cfg config.LogConfig) config.LogConfig {
	validLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "disabled": true,
	}
	if !validLevels[strings.ToLower(cfg.Level)] {
		cfg.Level = "info"
	}

	if cfg.Format != "console" && cfg.Format != "json" {
		cfg.Format = "json"
	}

	if cfg.Output != "stdout" && cfg.Output != "stderr" {
		cfg.Output = "stdout"
	}

	return cfg
}

// TestConfig returns a quiet configuration for use in tests.
func TestConfig() config.LogConfig {
	return config.LogConfig{
		Level:  "disabled",
		Format: "json",
		Output: "stdout",
	}
}
