package log

import (
	"bytes"
	"fmt"
	"time"
)

// LogEvent is one structured log line under construction. A nil event is
// valid and ignores every call, so disabled levels cost nothing.
type LogEvent struct {
	buf    *bytes.Buffer
	logger Logger
	level  Level
}

func newEvent(l Logger) *LogEvent {
	e := &LogEvent{
		logger: l,
		buf:    &bytes.Buffer{},
	}
	e.buf.Grow(512)
	return e
}

// Reset clears the event for reuse.
func (e *LogEvent) Reset() {
	if e.buf.Cap() > 16<<10 {
		e.buf = &bytes.Buffer{}
		e.buf.Grow(512)
	}
	e.buf.Reset()
	e.level = DebugLevel
	AppendBeginMarker(e.buf)
}

// Time appends t as "YYYY-MM-DD HH:MM:SS.mmm".
func (e *LogEvent) Time(k string, t time.Time) *LogEvent {
	if e == nil {
		return nil
	}
	AppendKey(e.buf, k)
	AppendTime(e.buf, t)
	return e
}

func (e *LogEvent) Int(k string, v int) *LogEvent {
	if e == nil {
		return nil
	}
	AppendKey(e.buf, k)
	AppendInt(e.buf, v)
	return e
}

func (e *LogEvent) Int64(k string, v int64) *LogEvent {
	if e == nil {
		return nil
	}
	AppendKey(e.buf, k)
	AppendInt64(e.buf, v)
	return e
}

func (e *LogEvent) Int64s(k string, v []int64) *LogEvent {
	if e == nil {
		return nil
	}
	AppendKey(e.buf, k)
	AppendInt64s(e.buf, v)
	return e
}

func (e *LogEvent) Uint64(k string, v uint64) *LogEvent {
	if e == nil {
		return nil
	}
	AppendKey(e.buf, k)
	AppendUint64(e.buf, v)
	return e
}

func (e *LogEvent) Float64(k string, v float64) *LogEvent {
	if e == nil {
		return nil
	}
	AppendKey(e.buf, k)
	AppendFloat64(e.buf, v)
	return e
}

func (e *LogEvent) Bool(k string, v bool) *LogEvent {
	if e == nil {
		return nil
	}
	AppendKey(e.buf, k)
	AppendBool(e.buf, v)
	return e
}

// Dur appends a duration in its String form.
func (e *LogEvent) Dur(k string, d time.Duration) *LogEvent {
	if e == nil {
		return nil
	}
	AppendKey(e.buf, k)
	AppendString(e.buf, d.String())
	return e
}

func (e *LogEvent) Str(k string, s string) *LogEvent {
	if e == nil {
		return nil
	}
	AppendKey(e.buf, k)
	AppendString(e.buf, s)
	return e
}

func (e *LogEvent) Strs(k string, v []string) *LogEvent {
	if e == nil {
		return nil
	}
	AppendKey(e.buf, k)
	AppendStrings(e.buf, v)
	return e
}

// Stringer appends v.String(), or null for a nil v.
func (e *LogEvent) Stringer(k string, v fmt.Stringer) *LogEvent {
	if e == nil {
		return nil
	}
	AppendKey(e.buf, k)
	if v == nil {
		AppendNil(e.buf)
	} else {
		AppendString(e.buf, v.String())
	}
	return e
}

// Hex appends b hex encoded.
func (e *LogEvent) Hex(k string, b []byte) *LogEvent {
	if e == nil {
		return nil
	}
	AppendKey(e.buf, k)
	AppendHex(e.buf, b)
	return e
}

// Err appends the error under "error"; a nil error is written as null.
func (e *LogEvent) Err(v error) *LogEvent {
	if e == nil {
		return nil
	}
	AppendKey(e.buf, "error")
	if v != nil {
		AppendString(e.buf, v.Error())
	} else {
		AppendNil(e.buf)
	}
	return e
}

// LogObjectMarshaler is implemented by values that write their own fields.
type LogObjectMarshaler interface {
	MarshalLogObj(e *LogEvent)
}

// Obj appends v as a nested object.
func (e *LogEvent) Obj(k string, v LogObjectMarshaler) *LogEvent {
	if e == nil {
		return nil
	}
	AppendKey(e.buf, k)
	if v == nil {
		AppendNil(e.buf)
		return e
	}
	AppendBeginMarker(e.buf)
	v.MarshalLogObj(e)
	AppendEndMarker(e.buf)
	return e
}

// Msg appends the message and writes the event.
func (e *LogEvent) Msg(v string) {
	if e == nil {
		return
	}
	e.Str("msg", v)
	e.End()
}

// Msgf is Msg with fmt formatting.
func (e *LogEvent) Msgf(format string, args ...any) {
	if e == nil {
		return
	}
	e.Msg(fmt.Sprintf(format, args...))
}

// End writes the event without a message. The event must not be used afterwards.
func (e *LogEvent) End() {
	if e == nil {
		return
	}
	AppendEndMarker(e.buf)
	AppendLineBreak(e.buf)
	e.logger.OnEventEnd(e)
}
