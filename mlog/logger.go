package mlog

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
)

type Logger interface {
	Logf(level Level, format string, args ...any)
	IsLevelEnabled(level Level) bool
}

type holder struct{ l Logger }

var current atomic.Pointer[holder]

func SetLogger(l Logger) {
	if l == nil {
		current.Store(nil)
		return
	}
	current.Store(&holder{l: l})
}

func GetLogger() Logger {
	if h := current.Load(); h != nil {
		return h.l
	}
	return nil
}

// UseDefaultLogger 异步写文件, ctx结束后刷完缓冲并关闭文件
func UseDefaultLogger(ctx context.Context, wg *sync.WaitGroup, path string, logName string, level Level, stdOut bool) error {
	l, err := newDefaultLogger(path, logName, level, stdOut)
	if err != nil {
		return err
	}
	l.Start(ctx, wg)
	SetLogger(l)
	return nil
}

func UseStdLogger(level Level) error {
	SetLogger(newStdoutLogger(level))
	return nil
}

type Level uint32

const (
	FatalLevel Level = iota
	ErrorLevel
	WarnLevel
	NoticeLevel
	InfoLevel
	DebugLevel
	TraceLevel
)

var levelNames = [...]string{"fatal", "error", "warn", "notice", "info", "debug", "trace"}

func (l Level) String() string {
	if int(l) < len(levelNames) {
		return levelNames[l]
	}
	return "unknown"
}

// ParseLevel 配置里的级别名, 不认识的返回InfoLevel
func ParseLevel(s string) (Level, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "warning" {
		s = "warn"
	}
	for i, name := range levelNames {
		if name == s {
			return Level(i), true
		}
	}
	return InfoLevel, false
}

func getLevelTag(level Level) string {
	if int(level) < len(levelNames) {
		return "[" + levelNames[level] + "] "
	}
	return ""
}

func logf(level Level, format string, a ...any) {
	h := current.Load()
	if h == nil || !h.l.IsLevelEnabled(level) {
		return
	}
	h.l.Logf(level, format, a...)
}

func Enabled(level Level) bool {
	h := current.Load()
	return h != nil && h.l.IsLevelEnabled(level)
}

func Trace(a ...any)                 { logf(TraceLevel, "", a...) }
func Tracef(format string, a ...any) { logf(TraceLevel, format, a...) }
func Debug(a ...any)                 { logf(DebugLevel, "", a...) }
func Debugf(format string, a ...any) { logf(DebugLevel, format, a...) }
func Info(a ...any)                  { logf(InfoLevel, "", a...) }
func Infof(format string, a ...any)  { logf(InfoLevel, format, a...) }
func Notice(a ...any)                { logf(NoticeLevel, "", a...) }
func Noticef(format string, a ...any) { logf(NoticeLevel, format, a...) }
func Warn(a ...any)                  { logf(WarnLevel, "", a...) }
func Warnf(format string, a ...any)  { logf(WarnLevel, format, a...) }
func Error(a ...any)                 { logf(ErrorLevel, "", a...) }
func Errorf(format string, a ...any) { logf(ErrorLevel, format, a...) }
func Fatal(a ...any)                 { logf(FatalLevel, "", a...) }
func Fatalf(format string, a ...any) { logf(FatalLevel, format, a...) }
