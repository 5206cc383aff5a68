package log

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidLogCfg is wrapped by every LogCfg validation error.
var ErrInvalidLogCfg = errors.New("invalid log config")

// LogCfg configures a logger and its appenders.
type LogCfg struct {
	// LogPath is the file written by the file appender.
	LogPath string `mapstructure:"path"`

	// LogLevel is the minimum level written.
	LogLevel Level `mapstructure:"level"`

	// FileSplitMB rotates the log file once it grows past this size.
	FileSplitMB int `mapstructure:"splitMB"`

	// MaxBackups is the number of rotated files kept. 0 keeps all of them.
	MaxBackups int `mapstructure:"maxBackups"`

	// IsAsync makes the file appender write from a background goroutine.
	IsAsync bool `mapstructure:"isAsync"`

	// AsyncCacheSize bounds the events queued for the background writer.
	AsyncCacheSize int `mapstructure:"asyncCacheSize"`

	// AsyncWriteInterval is how often queued events are written.
	AsyncWriteInterval time.Duration `mapstructure:"asyncWriteInterval"`

	// CallerSkip is the number of extra stack frames skipped when resolving the caller.
	CallerSkip int `mapstructure:"callerSkip"`

	FileAppender    bool `mapstructure:"fileAppender"`
	ConsoleAppender bool `mapstructure:"consoleAppender"`

	// LevelChange overrides the level of individual source locations.
	LevelChange []LevelChangeEntry `mapstructure:"levelChange"`

	EnabledCallerInfo bool `mapstructure:"enabledCallerInfo"`
}

// GetName returns the config name.
func (cfg *LogCfg) GetName() string {
	return "log"
}

// Validate checks the config for out of range values.
func (cfg *LogCfg) Validate() error {
	if cfg.LogLevel < TraceLevel || cfg.LogLevel > FatalLevel {
		return fmt.Errorf("%w: level %d out of range", ErrInvalidLogCfg, cfg.LogLevel)
	}
	if !cfg.FileAppender && !cfg.ConsoleAppender {
		return fmt.Errorf("%w: at least one appender (file or console) must be enabled", ErrInvalidLogCfg)
	}
	if cfg.FileAppender {
		if cfg.LogPath == "" {
			return fmt.Errorf("%w: path is required with the file appender", ErrInvalidLogCfg)
		}
		if cfg.FileSplitMB < 1 || cfg.FileSplitMB > 1024 {
			return fmt.Errorf("%w: splitMB must be between 1 and 1024, got %d", ErrInvalidLogCfg, cfg.FileSplitMB)
		}
		if cfg.MaxBackups < 0 {
			return fmt.Errorf("%w: maxBackups must be non-negative, got %d", ErrInvalidLogCfg, cfg.MaxBackups)
		}
	}
	if cfg.IsAsync {
		if cfg.AsyncCacheSize < 1 {
			return fmt.Errorf("%w: asyncCacheSize must be at least 1, got %d", ErrInvalidLogCfg, cfg.AsyncCacheSize)
		}
		if cfg.AsyncWriteInterval < 10*time.Millisecond {
			return fmt.Errorf("%w: asyncWriteInterval must be at least 10ms, got %v", ErrInvalidLogCfg, cfg.AsyncWriteInterval)
		}
	}
	if cfg.CallerSkip < 0 {
		return fmt.Errorf("%w: callerSkip must be non-negative, got %d", ErrInvalidLogCfg, cfg.CallerSkip)
	}
	return nil
}

// DefaultLogCfg logs Info and above to the console.
func DefaultLogCfg() *LogCfg {
	return &LogCfg{
		LogPath:            "./oncelink.log",
		LogLevel:           InfoLevel,
		FileSplitMB:        50,
		MaxBackups:         10,
		AsyncCacheSize:     1024,
		AsyncWriteInterval: 200 * time.Millisecond,
		CallerSkip:         1,
		ConsoleAppender:    true,
	}
}
