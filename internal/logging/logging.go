// Package logging builds the process-wide zap.Logger every Runinator
// service starts with, grounded on
// Crabzie-Optimized-RabbitMQ-Scheduler/config/logger.Build: a JSON-or-console
// encoder, a low-priority core split from a high-priority (error+) core, and
// an AtomicLevel that can be changed at runtime.
package logging

import (
	"fmt"
	"os"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config mirrors the flags/env this package reads through internal/config.
type Config struct {
	Level    string // debug, info, warn, error
	Encoding string // "json" or "console"
}

var level zap.AtomicLevel

// Build constructs the shared logger. It is safe to call once per process;
// later calls to SetLevel adjust the level of every logger Build returned.
func Build(cfg Config) (*zap.Logger, error) {
	parsed, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("logging: parse level %q: %w", cfg.Level, err)
	}
	level = parsed

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeCaller = zapcore.ShortCallerEncoder

	var encoder zapcore.Encoder
	if cfg.Encoding == "console" {
		encoder = zapcore.NewConsoleEncoder(encCfg)
	} else {
		encoder = zapcore.NewJSONEncoder(encCfg)
	}

	highPriority := zap.LevelEnablerFunc(func(lvl zapcore.Level) bool {
		return lvl >= zapcore.ErrorLevel
	})
	lowPriority := zap.LevelEnablerFunc(func(lvl zapcore.Level) bool {
		return level.Enabled(lvl) && lvl < zapcore.ErrorLevel
	})

	infoCore := zapcore.NewCore(encoder, zapcore.AddSync(os.Stdout), lowPriority)
	errorCore := zapcore.NewCore(encoder, zapcore.AddSync(os.Stderr), highPriority)

	return zap.New(zapcore.NewTee(infoCore, errorCore), zap.AddCaller()), nil
}

// SetLevel changes the shared AtomicLevel, taking effect on every logger
// returned by Build without reconstructing them.
func SetLevel(log *zap.Logger, value string) {
	l, err := zapcore.ParseLevel(value)
	if err != nil {
		log.Error("logging: could not parse level", zap.String("value", value), zap.Error(err))
		return
	}
	log.Info("logging: level updated", zap.String("value", value))
	level.SetLevel(l)
}

// WatchConfigFile live-reloads the log level from a config file's
// "log.level" key via viper + fsnotify, the way Crabzie's logger.Build
// wires viper.OnConfigChange into SetLevel. configFile may be empty, in
// which case this is a no-op (CLI/env-only configuration has nothing to
// watch).
func WatchConfigFile(log *zap.Logger, configFile string) error {
	if configFile == "" {
		return nil
	}
	viper.SetConfigFile(configFile)
	if err := viper.ReadInConfig(); err != nil {
		return fmt.Errorf("logging: read config file: %w", err)
	}
	viper.OnConfigChange(func(in fsnotify.Event) {
		if in.Op&fsnotify.Write != 0 {
			SetLevel(log, viper.GetString("log.level"))
		}
	})
	viper.WatchConfig()
	return nil
}
