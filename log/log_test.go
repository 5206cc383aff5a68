package log

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/linchenxuan/oncelink/plugin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type syncBuffer struct {
	mu sync.Mutex
	bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.Buffer.Write(p)
}

func (b *syncBuffer) lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.Split(strings.TrimSpace(b.String()), "\n")
}

func newTestLogger(level Level) (*EventLogger, *syncBuffer) {
	l := NewLogger(&LogCfg{LogLevel: level})
	buf := &syncBuffer{}
	l.AddAppender(NewWriterAppender(buf))
	return l, buf
}

func decodeLine(t *testing.T, line string) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(line), &m), line)
	return m
}

type point struct{ x, y int64 }

func (p point) MarshalLogObj(e *LogEvent) {
	e.Int64("x", p.x).Int64("y", p.y)
}

func TestEventIsValidJSON(t *testing.T) {
	l, buf := newTestLogger(DebugLevel)

	l.Info().
		Str("quoted", "a \"b\"\n\tc").
		Int("int", -3).
		Int64s("seqs", []int64{1, 2}).
		Uint64("u", 7).
		Float64("f", 1.5).
		Bool("ok", true).
		Dur("wait", 1500*time.Millisecond).
		Hex("raw", []byte{0xde, 0xad}).
		Err(errors.New("boom")).
		Obj("point", point{1, 2}).
		Msg("hello")

	m := decodeLine(t, buf.lines()[0])
	assert.Equal(t, "INFO", m["level"])
	assert.Equal(t, "a \"b\"\n\tc", m["quoted"])
	assert.Equal(t, float64(-3), m["int"])
	assert.Equal(t, []any{float64(1), float64(2)}, m["seqs"])
	assert.Equal(t, true, m["ok"])
	assert.Equal(t, "1.5s", m["wait"])
	assert.Equal(t, "dead", m["raw"])
	assert.Equal(t, "boom", m["error"])
	assert.Equal(t, map[string]any{"x": float64(1), "y": float64(2)}, m["point"])
	assert.Equal(t, "hello", m["msg"])
}

func TestLevelFiltering(t *testing.T) {
	l, buf := newTestLogger(WarnLevel)

	assert.Nil(t, l.Debug())
	assert.Nil(t, l.Info())
	l.Info().Str("k", "v").Msg("dropped")
	l.Warn().Msg("kept")

	lines := buf.lines()
	require.Len(t, lines, 1)
	assert.Equal(t, "WARN", decodeLine(t, lines[0])["level"])

	l.SetLevel(DebugLevel)
	assert.NotNil(t, l.Debug())
}

func TestLevelChangeRaisesOneFile(t *testing.T) {
	l := NewLogger(&LogCfg{
		LogLevel:    ErrorLevel,
		LevelChange: []LevelChangeEntry{{FileName: "log/log_test.go", LogLevel: ErrorLevel}},
	})
	buf := &syncBuffer{}
	l.AddAppender(NewWriterAppender(buf))

	l.Debug().Msg("promoted")
	require.Len(t, buf.lines(), 1)
	assert.Equal(t, "ERROR", decodeLine(t, buf.lines()[0])["level"])
}

func TestFatalPanics(t *testing.T) {
	l, buf := newTestLogger(DebugLevel)
	assert.Panics(t, func() { l.Fatal().Msg("fatal") })
	assert.Contains(t, buf.String(), "fatal")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, WarnLevel, ParseLevel("warn"))
	assert.Equal(t, InfoLevel, ParseLevel("nonsense"))

	var l Level
	require.NoError(t, l.UnmarshalText([]byte("debug")))
	assert.Equal(t, DebugLevel, l)
	assert.Error(t, l.UnmarshalText([]byte("loud")))
}

func TestLogCfgValidate(t *testing.T) {
	cases := []struct {
		name string
		mod  func(*LogCfg)
		ok   bool
	}{
		{"default", func(*LogCfg) {}, true},
		{"no appender", func(c *LogCfg) { c.ConsoleAppender = false }, false},
		{"file without path", func(c *LogCfg) { c.FileAppender = true; c.LogPath = "" }, false},
		{"bad level", func(c *LogCfg) { c.LogLevel = 0 }, false},
		{"async without cache", func(c *LogCfg) { c.IsAsync = true; c.AsyncCacheSize = 0 }, false},
		{"tiny split", func(c *LogCfg) { c.FileAppender = true; c.FileSplitMB = 0 }, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultLogCfg()
			tc.mod(cfg)
			err := cfg.Validate()
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidLogCfg)
			}
		})
	}
}

func TestFileAppenderAsync(t *testing.T) {
	path := filepath.Join(t.TempDir(), "async.log")
	cfg := DefaultLogCfg()
	cfg.LogPath = path
	cfg.FileAppender = true
	cfg.ConsoleAppender = false
	cfg.IsAsync = true
	require.NoError(t, cfg.Validate())

	l := NewLogger(cfg)
	for i := 0; i < 100; i++ {
		l.Info().Int("i", i).Msg("line")
	}
	l.Refresh()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 100, strings.Count(string(data), "\n"))

	l.Close()
	l.Close()
}

func TestRotatingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rot.log")
	f := newRotatingFile(path, 1, 2)
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	n := 0
	f.now = func() time.Time {
		n++
		return base.Add(time.Duration(n) * time.Second)
	}

	chunk := bytes.Repeat([]byte("x"), 600<<10)
	for i := 0; i < 5; i++ {
		_, err := f.Write(chunk)
		require.NoError(t, err)
	}
	require.NoError(t, f.Close())

	backups, err := filepath.Glob(path + ".*")
	require.NoError(t, err)
	assert.Len(t, backups, 2)
	assert.Equal(t, []string{path + ".20260102-030408", path + ".20260102-030409"}, backups)

	fi, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(len(chunk)), fi.Size())
}

func TestLogPluginReplacesDefault(t *testing.T) {
	before := DefaultLogger()
	m := plugin.NewManager()
	m.RegisterFactory(NewFactory())

	require.NoError(t, m.SetupPlugins(map[string]any{
		"log": map[string]any{
			"default": map[string]any{
				"level":           "warn",
				"consoleAppender": true,
			},
		},
	}))
	assert.NotSame(t, before, DefaultLogger())
	assert.Equal(t, WarnLevel, DefaultLogger().Level())
	assert.Nil(t, Info())

	m.DestroyPlugins()
	assert.Same(t, before, DefaultLogger())
}
