package main

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/urfave/cli"

	"github.com/fixkme/msgloop/countdown"
	"github.com/fixkme/msgloop/framework/app"
	"github.com/fixkme/msgloop/framework/config"
	"github.com/fixkme/msgloop/framework/thread"
	"github.com/fixkme/msgloop/mlog"
	"github.com/fixkme/msgloop/props"
)

var (
	configFile string
	duration   time.Duration
	interval   time.Duration
	propSets   cli.StringSlice
)

var globalFlags = []cli.Flag{
	cli.StringFlag{
		Name:        "config, c",
		Usage:       "config file (json, yaml or toml)",
		EnvVar:      "MSGLOOP_CONFIG",
		Destination: &configFile,
	},
}

var countdownFlags = []cli.Flag{
	cli.DurationFlag{
		Name:        "duration, d",
		Usage:       "total countdown time (default from config)",
		Destination: &duration,
	},
	cli.DurationFlag{
		Name:        "interval, i",
		Usage:       "time between ticks (default from config)",
		Destination: &interval,
	},
}

var propsFlags = []cli.Flag{
	cli.StringSliceFlag{
		Name:  "set, s",
		Usage: "key=value to store, may be repeated",
		Value: &propSets,
	},
}

// logWg 等待文件日志刷盘
var logWg sync.WaitGroup

func setup(ctx *cli.Context) error {
	if err := config.LoadConfig(configFile); err != nil {
		return err
	}
	conf := config.Config
	if conf.LogPath == "" {
		return mlog.UseStdLogger(conf.Level())
	}
	logCtx, cancel := context.WithCancel(context.Background())
	ctx.App.Metadata["stopLog"] = cancel
	return mlog.UseDefaultLogger(logCtx, &logWg, conf.LogPath, conf.LogName, conf.Level(), conf.LogStdOut)
}

func teardown(ctx *cli.Context) error {
	if cancel, ok := ctx.App.Metadata["stopLog"].(context.CancelFunc); ok {
		cancel()
		logWg.Wait()
	}
	return nil
}

func newLooperThread(name string, opts ...thread.Option) *thread.LooperThread {
	conf := config.Config
	th := thread.New(name, append([]thread.Option{thread.WithLooperOptions(conf.Options()...)}, opts...)...)
	if conf.MessageLogging {
		th.Looper().SetMessageLogging(func(line string) { mlog.Debug(line) })
	}
	return th
}

func runCountdown(ctx *cli.Context) error {
	conf := config.Config
	if duration == 0 {
		duration = conf.Countdown()
	}
	if interval == 0 {
		interval = conf.Interval()
	}
	a := app.DefaultApp()
	// looper线程异常退出时也要让app停下来
	th := newLooperThread(conf.LooperName, thread.WithPanicHandler(func(err error) {
		mlog.Errorf("looper thread %s stopped: %v", conf.LooperName, err)
		a.Stop()
	}))
	tm, err := countdown.New(th.Looper(), duration, interval, countdown.Callbacks{
		OnTick: func(remaining time.Duration) {
			fmt.Printf("tick: %v left\n", remaining)
		},
		OnFinish: func() {
			fmt.Println("finished")
			a.Stop()
		},
	})
	if err != nil {
		return err
	}
	if err := th.TryRunFunc(func() { tm.Start() }); err != nil {
		return err
	}
	mlog.Infof("countdown %v every %v on %s", duration, interval, th.Name())
	err = a.Run(th)
	if th.Err() != nil {
		return th.Err()
	}
	runtime.KeepAlive(tm)
	return err
}

func runProps(ctx *cli.Context) error {
	th := newLooperThread(config.Config.LooperName)
	th.Start()
	if err := props.Init(th.Handler()); err != nil {
		return err
	}
	defer props.Teardown()

	if _, err := props.Watch("", func(key, value string) {
		fmt.Printf("changed %s=%s\n", key, value)
	}); err != nil {
		return err
	}
	for _, kv := range propSets {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			return fmt.Errorf("bad --set %q, want key=value", kv)
		}
		if err := props.Set(key, value); err != nil {
			return err
		}
	}
	s, err := props.Default()
	if err != nil {
		return err
	}
	if err := th.SyncRunFunc(func() {}); err != nil {
		return err
	}
	for _, key := range s.Keys("") {
		fmt.Printf("%s=%s\n", key, s.Get(key, ""))
	}
	if err := th.QuitSafely(); err != nil {
		return err
	}
	th.Wait()
	return th.Err()
}

func main() {
	cliApp := cli.NewApp()
	cliApp.Name = "msgloop"
	cliApp.Usage = "message loop demos"
	cliApp.Version = "0.1.0"
	cliApp.Flags = globalFlags
	cliApp.Metadata = map[string]any{}
	cliApp.Before = setup
	cliApp.After = teardown
	cliApp.Commands = []cli.Command{
		{
			Name:   "countdown",
			Usage:  "run a countdown timer on a looper thread",
			Flags:  countdownFlags,
			Action: runCountdown,
		},
		{
			Name:   "props",
			Usage:  "set properties and print change notifications",
			Flags:  propsFlags,
			Action: runProps,
		},
	}
	if err := cliApp.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", cliApp.Name, err)
		os.Exit(1)
	}
}
