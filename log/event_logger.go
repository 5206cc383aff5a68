package log

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// EventLogger writes JSON lines to its appenders. Level checks are lock free,
// events come from a pool, and caller lookups are cached per program counter.
//
//	logger := NewLogger(&LogCfg{LogLevel: InfoLevel, ConsoleAppender: true})
//	logger.Info().Str("session", id).Int64("seq", 7).Msg("delivered")
type EventLogger struct {
	appendersMu       sync.RWMutex
	appenders         []LogAppender
	minLevel          atomic.Int32
	callerSkip        int
	eventPool         sync.Pool
	levelChange       *levelChange
	callerCache       sync.Map
	enabledCallerInfo bool
}

// NewLogger builds a logger from cfg. A nil cfg uses DefaultLogCfg.
func NewLogger(cfg *LogCfg) *EventLogger {
	if cfg == nil {
		cfg = DefaultLogCfg()
	}

	x := &EventLogger{
		callerSkip:        cfg.CallerSkip,
		levelChange:       newLevelChange(cfg.LevelChange),
		enabledCallerInfo: cfg.EnabledCallerInfo,
	}
	x.minLevel.Store(int32(cfg.LogLevel))
	x.eventPool.New = func() any {
		return newEvent(x)
	}

	if cfg.FileAppender {
		x.AddAppender(NewFileAppender(cfg))
	}
	if cfg.ConsoleAppender {
		x.AddAppender(NewConsoleAppender())
	}
	return x
}

// SetLevel changes the minimum level at runtime.
func (x *EventLogger) SetLevel(l Level) {
	x.minLevel.Store(int32(l))
}

// Level returns the minimum level.
func (x *EventLogger) Level() Level {
	return Level(x.minLevel.Load())
}

func (x *EventLogger) checkLevel(level Level) bool {
	return Level(x.minLevel.Load()) <= level
}

func (x *EventLogger) AddAppender(appender LogAppender) {
	x.appendersMu.Lock()
	defer x.appendersMu.Unlock()
	x.appenders = append(x.appenders, appender)
}

// Appenders returns a copy of the appender list.
func (x *EventLogger) Appenders() []LogAppender {
	x.appendersMu.RLock()
	defer x.appendersMu.RUnlock()
	return append([]LogAppender(nil), x.appenders...)
}

func (x *EventLogger) Refresh() {
	for _, a := range x.Appenders() {
		_ = a.Refresh()
	}
}

func (x *EventLogger) Close() {
	for _, a := range x.Appenders() {
		_ = a.Close()
	}
}

// OnEventEnd writes e to every appender and returns it to the pool.
// A fatal event panics after it is written.
func (x *EventLogger) OnEventEnd(e *LogEvent) {
	x.appendersMu.RLock()
	for _, a := range x.appenders {
		_, _ = a.Write(e.buf.Bytes())
	}
	x.appendersMu.RUnlock()

	if e.level == FatalLevel {
		msg := e.buf.String()
		x.Refresh()
		panic(msg)
	}
	x.eventPool.Put(e)
}

func (x *EventLogger) Debug() *LogEvent { return x.log(DebugLevel) }
func (x *EventLogger) Info() *LogEvent  { return x.log(InfoLevel) }
func (x *EventLogger) Warn() *LogEvent  { return x.log(WarnLevel) }
func (x *EventLogger) Error() *LogEvent { return x.log(ErrorLevel) }
func (x *EventLogger) Fatal() *LogEvent { return x.log(FatalLevel) }

// getCallerInfo resolves the code that called Debug, Info and so on.
func (x *EventLogger) getCallerInfo() *callerInfo {
	pc, file, line, ok := runtime.Caller(3 + x.callerSkip)
	if !ok {
		return _unknownCallerInfo
	}
	if cached, found := x.callerCache.Load(pc); found {
		return cached.(*callerInfo)
	}
	c := shortCaller(pc, file, line)
	x.callerCache.Store(pc, c)
	return c
}

// log returns nil when level is filtered out, unless a level change entry
// for the calling line raises it.
func (x *EventLogger) log(level Level) *LogEvent {
	var info *callerInfo
	if !x.checkLevel(level) {
		if x.levelChange.Empty() {
			return nil
		}
		info = x.getCallerInfo()
		level = x.levelChange.GetLevel(info.file, info.line, level)
		if !x.checkLevel(level) {
			return nil
		}
	}

	e := x.eventPool.Get().(*LogEvent)
	e.Reset()
	e.level = level
	e.Time("time", time.Now())
	e.Str("level", level.String())

	if x.enabledCallerInfo {
		if info == nil {
			info = x.getCallerInfo()
		}
		e.Str("caller", info.String())
	}
	return e
}
