package mlog

import (
	"context"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	defaultMaxSizeMB  = 100
	defaultMaxBackups = 10
	defaultBuffSize   = 0x10000
)

type loggerImp struct {
	out    *lumberjack.Logger
	ll     *log.Logger
	buff   chan string
	quit   chan struct{}
	level  Level
	stdOut bool

	// mu 写锁切换stopped, 读锁覆盖检查和入队
	mu      sync.RWMutex
	stopped bool
}

func newDefaultLogger(logpath, logName string, level Level, stdOut bool) (*loggerImp, error) {
	// 默认使用当前路径
	if len(logpath) == 0 {
		logpath = "."
	}
	if err := os.MkdirAll(logpath, 0755); err != nil {
		return nil, err
	}
	out := &lumberjack.Logger{
		Filename:   filepath.Join(logpath, genLogName(logName)),
		MaxSize:    defaultMaxSizeMB,
		MaxBackups: defaultMaxBackups,
		LocalTime:  true,
	}
	var w io.Writer = out
	if stdOut {
		w = io.MultiWriter(out, os.Stderr)
	}
	return &loggerImp{
		out:    out,
		ll:     log.New(w, "", log.Ldate|log.Lmicroseconds),
		buff:   make(chan string, defaultBuffSize),
		quit:   make(chan struct{}),
		level:  level,
		stdOut: stdOut,
	}, nil
}

func (me *loggerImp) Start(ctx context.Context, wg *sync.WaitGroup) {
	wg.Add(1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("mlog recover error %v\n", r)
			}
			me.out.Close()
			wg.Done()
		}()
		for {
			select {
			case <-ctx.Done():
				// 先放开阻塞在满队列上的调用方, 再等已入队的都落地
				close(me.quit)
				me.mu.Lock()
				me.stopped = true
				me.mu.Unlock()
				for {
					select {
					case str := <-me.buff:
						me.ll.Println(str)
					default:
						return
					}
				}
			case str := <-me.buff:
				me.ll.Println(str)
			}
		}
	}()
}

func (me *loggerImp) IsLevelEnabled(level Level) bool {
	return me.level >= level
}

func (me *loggerImp) Logf(level Level, format string, args ...any) {
	if !me.IsLevelEnabled(level) {
		return
	}
	line := format2Line(level, format, args...)
	me.mu.RLock()
	if me.stopped {
		// 写协程已退出
		log.Println(line)
	} else {
		select {
		case me.buff <- line:
		case <-me.quit:
			log.Println(line)
		}
	}
	me.mu.RUnlock()
	if level == FatalLevel {
		time.Sleep(time.Second)
		os.Exit(1)
	}
}

func genLogName(logName string) string {
	if logName == "" {
		logName = "mlog"
	}
	return logName + ".log"
}
