package mlog

import (
	"fmt"
	"io"
	"log"
	"os"
)

type stdoutLogger struct {
	level Level
	ll    *log.Logger
}

func newStdoutLogger(level Level) *stdoutLogger {
	return newWriterLogger(os.Stderr, level)
}

func newWriterLogger(w io.Writer, level Level) *stdoutLogger {
	return &stdoutLogger{
		level: level,
		ll:    log.New(w, "", log.Ldate|log.Lmicroseconds),
	}
}

func (l *stdoutLogger) IsLevelEnabled(level Level) bool {
	return l.level >= level
}

func (l *stdoutLogger) Logf(level Level, format string, args ...any) {
	if !l.IsLevelEnabled(level) {
		return
	}
	l.ll.Println(format2Line(level, format, args...))
	if level == FatalLevel {
		os.Exit(1)
	}
}

func format2Line(level Level, format string, args ...any) string {
	if len(format) == 0 {
		return getLevelTag(level) + fmt.Sprint(args...)
	}
	return getLevelTag(level) + fmt.Sprintf(format, args...)
}
