package utils

import (
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"

	"github.com/cppla/checkin/config"
)

var (
	// Logger is the global structured logger
	Logger = zap.NewNop()
	// Sugar is a sugared logger for convenience
	Sugar = Logger.Sugar()
)

// InitLogger initializes a zap logger with console + rolling file outputs based on configuration.
func InitLogger(cfg config.AppConfig) error {
	level := parseLevel(cfg.LogLevel)
	enc := zapcore.NewJSONEncoder(encoderConfig())

	cores := []zapcore.Core{
		zapcore.NewCore(enc, zapcore.AddSync(os.Stdout), level),
	}
	if cfg.LogPath != "" {
		ws, err := rollingWriter(cfg.LogPath, cfg.LogMaxSizeMB, cfg.LogMaxBackups, cfg.LogMaxAgeDays, cfg.LogCompress)
		if err != nil {
			return err
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig()), ws, level))
	}

	opts := []zap.Option{zap.AddCaller()}
	if cfg.LogLevel == "debug" {
		opts = append(opts, zap.Development())
	}
	Logger = zap.New(zapcore.NewTee(cores...), opts...)
	Sugar = Logger.Sugar()
	return nil
}

// NewRollingFileLogger returns a file-only logger, used for the gin access log.
func NewRollingFileLogger(path, level string, maxSizeMB, maxBackups, maxAgeDays int, compress bool) (*zap.Logger, error) {
	ws, err := rollingWriter(path, maxSizeMB, maxBackups, maxAgeDays, compress)
	if err != nil {
		return nil, err
	}
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig()), ws, parseLevel(level))
	return zap.New(core), nil
}

func rollingWriter(path string, maxSizeMB, maxBackups, maxAgeDays int, compress bool) (zapcore.WriteSyncer, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	return zapcore.AddSync(&lumberjack.Logger{
		Filename:   path,
		MaxSize:    nz(maxSizeMB, 100), // megabytes
		MaxBackups: nz(maxBackups, 3),
		MaxAge:     nz(maxAgeDays, 7), // days
		Compress:   compress,
	}), nil
}

func encoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     timeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
}

func timeEncoder(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(t.Format("2006-01-02 15:04:05.000"))
}

func parseLevel(s string) zapcore.Level {
	lvl, err := zapcore.ParseLevel(s)
	if err != nil {
		return zapcore.InfoLevel
	}
	return lvl
}

func nz(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}
