package mlog

import (
	"bytes"
	"context"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{"warn": WarnLevel, "WARNING": WarnLevel, " debug ": DebugLevel, "trace": TraceLevel}
	for s, want := range cases {
		got, ok := ParseLevel(s)
		if !ok || got != want {
			t.Fatalf("ParseLevel(%q) = %v,%v", s, got, ok)
		}
	}
	if lv, ok := ParseLevel("loud"); ok || lv != InfoLevel {
		t.Fatalf("unknown level should fall back to info, got %v", lv)
	}
	if DebugLevel.String() != "debug" {
		t.Fatal(DebugLevel.String())
	}
}

func TestWriterLoggerLevels(t *testing.T) {
	defer SetLogger(nil)
	buf := &bytes.Buffer{}
	SetLogger(newWriterLogger(buf, InfoLevel))
	Debugf("hidden %d", 1)
	Infof("shown %d", 2)
	Warn("plain ", 3)
	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("debug leaked: %s", out)
	}
	if !strings.Contains(out, "[info] shown 2") || !strings.Contains(out, "[warn] plain 3") {
		t.Fatalf("missing lines: %s", out)
	}
	if !Enabled(InfoLevel) || Enabled(TraceLevel) {
		t.Fatal("Enabled mismatch")
	}
}

func TestNoLoggerIsNoop(t *testing.T) {
	SetLogger(nil)
	Errorf("nobody listens %v", 1)
	if GetLogger() != nil || Enabled(ErrorLevel) {
		t.Fatal("expected no logger")
	}
}

func TestDefaultLoggerFlushesOnCancel(t *testing.T) {
	defer SetLogger(nil)
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	wg := &sync.WaitGroup{}
	if err := UseDefaultLogger(ctx, wg, dir, "looper", DebugLevel, false); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 10; i++ {
		Infof("line %d", i)
	}
	cancel()
	wg.Wait()
	data, err := os.ReadFile(filepath.Join(dir, "looper.log"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "[info] line 9") {
		t.Fatalf("log file missing lines: %s", data)
	}
}

func TestDefaultLoggerKeepsLinesAtShutdown(t *testing.T) {
	var fallback bytes.Buffer
	log.SetOutput(&fallback)
	log.SetFlags(0)
	defer func() {
		log.SetOutput(os.Stderr)
		log.SetFlags(log.LstdFlags)
	}()

	dir := t.TempDir()
	l, err := newDefaultLogger(dir, "shutdown", InfoLevel, false)
	if err != nil {
		t.Fatal(err)
	}
	// 小队列, 让调用方在关闭时阻塞
	l.buff = make(chan string, 1)
	ctx, cancel := context.WithCancel(context.Background())
	wg := &sync.WaitGroup{}
	l.Start(ctx, wg)

	const writers, lines = 4, 200
	var logWg sync.WaitGroup
	for i := 0; i < writers; i++ {
		logWg.Add(1)
		go func(i int) {
			defer logWg.Done()
			for j := 0; j < lines; j++ {
				l.Logf(InfoLevel, "msg-%d-%d", i, j)
			}
		}(i)
	}
	cancel()
	wg.Wait()
	logWg.Wait()

	// 可能一行都没写进文件
	data, err := os.ReadFile(filepath.Join(dir, "shutdown.log"))
	if err != nil && !os.IsNotExist(err) {
		t.Fatal(err)
	}
	got := strings.Count(string(data), "msg-") + strings.Count(fallback.String(), "msg-")
	if got != writers*lines {
		t.Fatalf("kept %d lines, want %d", got, writers*lines)
	}
	l.Logf(InfoLevel, "after %s", "stop")
	if !strings.Contains(fallback.String(), "after stop") {
		t.Fatal("line after stop was not written to the fallback log")
	}
}
