package log

import (
	"bytes"
	"math"
	"strconv"
	"time"
	"unicode/utf8"
)

// The Append helpers write JSON fragments straight into a buffer without
// going through encoding/json.

func AppendBeginMarker(buf *bytes.Buffer) {
	buf.WriteByte('{')
}

func AppendEndMarker(buf *bytes.Buffer) {
	buf.WriteByte('}')
}

func AppendLineBreak(buf *bytes.Buffer) {
	buf.WriteByte('\n')
}

// AppendKey writes a key and its colon, preceded by a comma unless the key
// opens an object.
func AppendKey(buf *bytes.Buffer, key string) {
	if buf.Len() >= 1 && buf.Bytes()[buf.Len()-1] != '{' {
		buf.WriteByte(',')
	}
	AppendString(buf, key)
	buf.WriteByte(':')
}

func AppendNil(buf *bytes.Buffer) {
	buf.WriteString("null")
}

func AppendBool(buf *bytes.Buffer, val bool) {
	if val {
		buf.WriteString("true")
	} else {
		buf.WriteString("false")
	}
}

func AppendInt(buf *bytes.Buffer, val int) {
	AppendInt64(buf, int64(val))
}

func AppendInt64(buf *bytes.Buffer, val int64) {
	var scratch [20]byte
	buf.Write(strconv.AppendInt(scratch[:0], val, 10))
}

func AppendInt64s(buf *bytes.Buffer, vals []int64) {
	buf.WriteByte('[')
	for i, v := range vals {
		if i > 0 {
			buf.WriteByte(',')
		}
		AppendInt64(buf, v)
	}
	buf.WriteByte(']')
}

func AppendUint64(buf *bytes.Buffer, val uint64) {
	var scratch [20]byte
	buf.Write(strconv.AppendUint(scratch[:0], val, 10))
}

// AppendFloat64 writes NaN and infinities as strings, JSON has no literal for them.
func AppendFloat64(buf *bytes.Buffer, val float64) {
	switch {
	case math.IsNaN(val):
		buf.WriteString(`"NaN"`)
	case math.IsInf(val, 1):
		buf.WriteString(`"+Inf"`)
	case math.IsInf(val, -1):
		buf.WriteString(`"-Inf"`)
	default:
		var scratch [32]byte
		buf.Write(strconv.AppendFloat(scratch[:0], val, 'f', -1, 64))
	}
}

// AppendTime writes t as "YYYY-MM-DD HH:MM:SS.mmm".
func AppendTime(buf *bytes.Buffer, t time.Time) {
	var scratch [32]byte
	buf.WriteByte('"')
	buf.Write(t.AppendFormat(scratch[:0], "2006-01-02 15:04:05.000"))
	buf.WriteByte('"')
}

func AppendStrings(buf *bytes.Buffer, vals []string) {
	buf.WriteByte('[')
	for i, v := range vals {
		if i > 0 {
			buf.WriteByte(',')
		}
		AppendString(buf, v)
	}
	buf.WriteByte(']')
}

const _hex = "0123456789abcdef"

var _noEscapeTable = [256]bool{}

func init() {
	for i := 0; i <= 0x7e; i++ {
		_noEscapeTable[i] = i >= 0x20 && i != '\\' && i != '"'
	}
}

// AppendString writes s as a quoted JSON string.
func AppendString(buf *bytes.Buffer, s string) {
	buf.WriteByte('"')
	for i := 0; i < len(s); i++ {
		if !_noEscapeTable[s[i]] {
			appendStringComplex(buf, s, i)
			buf.WriteByte('"')
			return
		}
	}
	buf.WriteString(s)
	buf.WriteByte('"')
}

// appendStringComplex escapes s starting at the first byte that needs it.
func appendStringComplex(buf *bytes.Buffer, s string, i int) {
	start := 0
	for i < len(s) {
		b := s[i]
		if b >= utf8.RuneSelf {
			r, size := utf8.DecodeRuneInString(s[i:])
			if r == utf8.RuneError && size == 1 {
				buf.WriteString(s[start:i])
				buf.WriteString(`\ufffd`)
				i++
				start = i
				continue
			}
			i += size
			continue
		}
		if _noEscapeTable[b] {
			i++
			continue
		}

		buf.WriteString(s[start:i])
		switch b {
		case '"', '\\':
			buf.WriteByte('\\')
			buf.WriteByte(b)
		case '\n':
			buf.WriteString(`\n`)
		case '\r':
			buf.WriteString(`\r`)
		case '\t':
			buf.WriteString(`\t`)
		default:
			buf.WriteString(`\u00`)
			buf.WriteByte(_hex[b>>4])
			buf.WriteByte(_hex[b&0xF])
		}
		i++
		start = i
	}
	buf.WriteString(s[start:])
}

// AppendHex writes b as a quoted lowercase hex string.
func AppendHex(buf *bytes.Buffer, b []byte) {
	buf.WriteByte('"')
	for _, v := range b {
		buf.WriteByte(_hex[v>>4])
		buf.WriteByte(_hex[v&0xF])
	}
	buf.WriteByte('"')
}
