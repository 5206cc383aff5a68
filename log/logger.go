package log

import "sync/atomic"

// Logger creates events and receives them back once they end.
type Logger interface {
	Debug() *LogEvent
	Info() *LogEvent
	Warn() *LogEvent
	Error() *LogEvent
	Fatal() *LogEvent
	AddAppender(appender LogAppender)
	OnEventEnd(e *LogEvent)
}

var _defaultLogger atomic.Pointer[EventLogger]

func init() {
	_defaultLogger.Store(NewLogger(DefaultLogCfg()))
}

// Initialize validates cfg and replaces the default logger. A nil cfg
// restores the console only default.
func Initialize(cfg *LogCfg) error {
	if cfg == nil {
		cfg = DefaultLogCfg()
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	old := _defaultLogger.Swap(NewLogger(cfg))
	if old != nil {
		old.Close()
	}
	return nil
}

// SetDefaultLogger replaces the default logger and returns the previous one.
func SetDefaultLogger(logger *EventLogger) *EventLogger {
	return _defaultLogger.Swap(logger)
}

// DefaultLogger returns the logger behind the package level functions.
func DefaultLogger() *EventLogger {
	return _defaultLogger.Load()
}

// AddAppender adds an appender to the default logger.
func AddAppender(appender LogAppender) {
	_defaultLogger.Load().AddAppender(appender)
}

// Refresh flushes the appenders of the default logger.
func Refresh() {
	_defaultLogger.Load().Refresh()
}

// Close flushes and closes the appenders of the default logger.
func Close() {
	_defaultLogger.Load().Close()
}

func Debug() *LogEvent {
	return _defaultLogger.Load().Debug()
}

func Info() *LogEvent {
	return _defaultLogger.Load().Info()
}

func Warn() *LogEvent {
	return _defaultLogger.Load().Warn()
}

func Error() *LogEvent {
	return _defaultLogger.Load().Error()
}

// Fatal events panic once written.
func Fatal() *LogEvent {
	return _defaultLogger.Load().Fatal()
}
