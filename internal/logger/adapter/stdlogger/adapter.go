// Package stdlogger adapts the global zerolog logger to printf style logger interfaces,
// e.g. the gorm logger writer.
package stdlogger

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	gormlogger "gorm.io/gorm/logger"
)

// Logger forwards printf style calls to zerolog.
type Logger struct {
	component string
}

// New creates a Logger tagging every line with component "stdlogger".
func New() *Logger {
	return &Logger{component: "stdlogger"}
}

// NewComponent creates a Logger tagging every line with the given component.
func NewComponent(component string) *Logger {
	return &Logger{component: component}
}

func (l *Logger) emit(level zerolog.Level, format string, args ...any) {
	log.WithLevel(level).
		Str("component", l.component).
		Msg(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

// Printf logs at info level. It satisfies gorm's logger.Writer.
func (l *Logger) Printf(format string, args ...any) { l.emit(zerolog.InfoLevel, format, args...) }

// Debugf logs at debug level.
func (l *Logger) Debugf(format string, args ...any) { l.emit(zerolog.DebugLevel, format, args...) }

// Infof logs at info level.
func (l *Logger) Infof(format string, args ...any) { l.emit(zerolog.InfoLevel, format, args...) }

// Warningf logs at warn level.
func (l *Logger) Warningf(format string, args ...any) { l.emit(zerolog.WarnLevel, format, args...) }

// Errorf logs at error level.
func (l *Logger) Errorf(format string, args ...any) { l.emit(zerolog.ErrorLevel, format, args...) }

// Gorm returns a gorm logger writing through zerolog.
// level is one of silent, error, warn or info; unknown values fall back to warn.
func Gorm(level string, slowThreshold time.Duration) gormlogger.Interface {
	lvl := gormlogger.Warn

	switch strings.ToLower(level) {
	case "silent":
		lvl = gormlogger.Silent
	case "error":
		lvl = gormlogger.Error
	case "info":
		lvl = gormlogger.Info
	}

	return gormlogger.New(NewComponent("gorm"), gormlogger.Config{
		SlowThreshold:             slowThreshold,
		LogLevel:                  lvl,
		IgnoreRecordNotFoundError: true,
		Colorful:                  false,
	})
}
