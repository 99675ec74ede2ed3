package stdlogger_test

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gormlogger "gorm.io/gorm/logger"

	"github.com/bitu-idm/dirsync/internal/logger/adapter/stdlogger"
)

type line struct {
	Level     string `json:"level"`
	Component string `json:"component"`
	Message   string `json:"message"`
}

// useBuffer points the global logger at a buffer for the duration of the test.
func useBuffer(t *testing.T, level zerolog.Level) *bytes.Buffer {
	t.Helper()

	var buf bytes.Buffer

	previous := log.Logger
	previousLevel := zerolog.GlobalLevel()

	log.Logger = zerolog.New(&buf)
	zerolog.SetGlobalLevel(level)

	t.Cleanup(func() {
		log.Logger = previous
		zerolog.SetGlobalLevel(previousLevel)
	})

	return &buf
}

func readLines(t *testing.T, buf *bytes.Buffer) []line {
	t.Helper()

	var out []line

	for _, raw := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if raw == "" {
			continue
		}

		var l line
		require.NoError(t, json.Unmarshal([]byte(raw), &l))
		out = append(out, l)
	}

	return out
}

func TestAdapter(t *testing.T) {
	testCases := []struct {
		name      string
		call      func(l *stdlogger.Logger)
		wantLevel string
		wantMsg   string
	}{
		{
			name:      "printf is info",
			call:      func(l *stdlogger.Logger) { l.Printf("hello %s\n", "gorm") },
			wantLevel: "info",
			wantMsg:   "hello gorm",
		},
		{
			name:      "infof",
			call:      func(l *stdlogger.Logger) { l.Infof("%d keys", 3) },
			wantLevel: "info",
			wantMsg:   "3 keys",
		},
		{
			name:      "warningf",
			call:      func(l *stdlogger.Logger) { l.Warningf("slow %s", "query") },
			wantLevel: "warn",
			wantMsg:   "slow query",
		},
		{
			name:      "errorf",
			call:      func(l *stdlogger.Logger) { l.Errorf("failed: %v", "boom") },
			wantLevel: "error",
			wantMsg:   "failed: boom",
		},
		{
			name:      "debugf",
			call:      func(l *stdlogger.Logger) { l.Debugf("details") },
			wantLevel: "debug",
			wantMsg:   "details",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			buf := useBuffer(t, zerolog.TraceLevel)

			tc.call(stdlogger.New())

			lines := readLines(t, buf)
			require.Len(t, lines, 1)
			assert.Equal(t, tc.wantLevel, lines[0].Level)
			assert.Equal(t, tc.wantMsg, lines[0].Message)
			assert.Equal(t, "stdlogger", lines[0].Component)
		})
	}
}

func TestAdapterRespectsGlobalLevel(t *testing.T) {
	buf := useBuffer(t, zerolog.InfoLevel)

	l := stdlogger.New()
	l.Debugf("hidden")
	l.Infof("shown")

	lines := readLines(t, buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "shown", lines[0].Message)
}

func TestGorm(t *testing.T) {
	buf := useBuffer(t, zerolog.TraceLevel)

	gl := stdlogger.Gorm("info", time.Second)
	gl.Info(context.Background(), "migrated %d tables", 7)

	lines := readLines(t, buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "gorm", lines[0].Component)
	assert.Contains(t, lines[0].Message, "migrated 7 tables")

	buf.Reset()

	silent := stdlogger.Gorm("silent", time.Second)
	silent.Error(context.Background(), "not shown")
	assert.Empty(t, buf.String())

	assert.Implements(t, (*gormlogger.Interface)(nil), stdlogger.Gorm("unknown", 0))
}
