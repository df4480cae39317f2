// Package logging provides the leveled logging sink used throughout the
// firestream client. It is intentionally minimal: the core never blocks on
// I/O (see internal/queue), so logging calls must be cheap and non-blocking
// from the caller's point of view.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync/atomic"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Level controls which messages reach the sink.
type Level int32

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var current atomic.Int32

func init() {
	current.Store(int32(LevelInfo))
}

// SetLevel adjusts the minimum level that reaches the sink.
func SetLevel(l Level) {
	current.Store(int32(l))
}

var std = log.New(os.Stderr, "", log.LstdFlags|log.Lmicroseconds)

// EnableFileSink redirects output to a rotating log file using lumberjack,
// keeping the last maxBackups compressed copies capped at maxSizeMB each.
func EnableFileSink(path string, maxSizeMB, maxBackups, maxAgeDays int) {
	w := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
		MaxAge:     maxAgeDays,
		Compress:   true,
	}
	std.SetOutput(io.MultiWriter(os.Stderr, w))
}

func logf(level Level, prefix, format string, args ...any) {
	if Level(current.Load()) > level {
		return
	}
	std.Output(3, prefix+" "+fmt.Sprintf(format, args...))
}

func Debugf(format string, args ...any) { logf(LevelDebug, "[DEBUG]", format, args...) }
func Infof(format string, args ...any)  { logf(LevelInfo, "[INFO]", format, args...) }
func Warnf(format string, args ...any)  { logf(LevelWarn, "[WARN]", format, args...) }
func Errorf(format string, args ...any) { logf(LevelError, "[ERROR]", format, args...) }

func Debug(msg string) { Debugf("%s", msg) }
func Info(msg string)  { Infof("%s", msg) }
func Warn(msg string)  { Warnf("%s", msg) }
func Error(msg string) { Errorf("%s", msg) }
