package app

import (
	"fmt"
	"os"
	"os/signal"
	"reflect"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/fixkme/msgloop/mlog"
)

// 节点全局状态
const (
	AppStateNone = iota // 未开始或已停止
	AppStateInit        // 正在初始化中
	AppStateRun         // 正在运行中
	AppStateStop        // 正在停止中
)

// 单例
var defaultApp = New()

type Module interface {
	OnInit() error // 初始化
	Destroy()      // 销毁
	Run()          // 启动
	Name() string  // 名字
}

// DefaultApp 默认单例
func DefaultApp() *App {
	return defaultApp
}

// App 中的 modules 在初始化之后不能变更
// 只有 GetState 和 Stop 是 goroutine safe 的
type App struct {
	mods  []Module
	state atomic.Int32
	sig   chan os.Signal
	wg    sync.WaitGroup
}

func New() *App {
	return &App{sig: make(chan os.Signal, 1)}
}

func (app *App) GetState() int32 {
	return app.state.Load()
}

func (app *App) start(mods ...Module) error {
	// 单个app不能启动两次
	if !app.state.CompareAndSwap(AppStateNone, AppStateInit) || len(app.mods) != 0 {
		return fmt.Errorf("app mods cannot start twice")
	}
	mlog.Info("app starting up")
	app.mods = append(app.mods, mods...)
	// 模块初始化
	for i, mi := range app.mods {
		if err := mi.OnInit(); err != nil {
			// 已初始化的模块按逆序销毁
			for j := i - 1; j >= 0; j-- {
				destroy(app.mods[j])
			}
			app.mods = nil
			app.state.Store(AppStateNone)
			return fmt.Errorf("module %v init error: %w", reflect.TypeOf(mi), err)
		}
	}
	// 模块启动
	for _, mi := range app.mods {
		app.wg.Add(1)
		go run(mi, &app.wg)
	}
	app.state.Store(AppStateRun)
	mlog.Info("app started")
	return nil
}

func (app *App) stop() {
	if !app.state.CompareAndSwap(AppStateRun, AppStateStop) {
		return
	}
	mlog.Info("app stop begin")
	// 先进后出
	for i := len(app.mods) - 1; i >= 0; i-- {
		m := app.mods[i]
		mlog.Infof("app stop module %s", m.Name())
		destroy(m)
	}
	app.wg.Wait()
	app.mods = nil
	app.state.Store(AppStateNone)
	mlog.Info("app stopped")
}

func run(m Module, wg *sync.WaitGroup) {
	defer wg.Done()
	m.Run()
}

func destroy(m Module) {
	defer func() {
		if r := recover(); r != nil {
			mlog.Errorf("%s module destroy panic: %v\n%s", m.Name(), r, debug.Stack())
		}
	}()

	m.Destroy()
}

// Run starts mods and blocks until SIGINT, SIGTERM or Stop, then destroys
// them in reverse order and waits for every Run to return. SIGHUP is ignored.
func (app *App) Run(mods ...Module) error {
	signal.Notify(app.sig, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(app.sig)
	if err := app.start(mods...); err != nil {
		return err
	}
	for {
		sig := <-app.sig
		mlog.Infof("server closing down (signal: %v)", sig)
		if sig != syscall.SIGHUP {
			break
		}
	}

	app.stop()
	return nil
}

func (app *App) Stop() {
	select {
	case app.sig <- syscall.SIGTERM:
	default:
	}
}
