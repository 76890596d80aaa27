package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/fixkme/msgloop/looper"
	"github.com/fixkme/msgloop/mlog"
)

const EnvPrefix = "MSGLOOP"

var Config *AppConfig

type AppConfig struct {
	AppName         string `json:"app_name" mapstructure:"app_name"`
	LogConfig       `json:",inline" mapstructure:",squash"`
	LooperConfig    `json:",inline" mapstructure:",squash"`
	CountdownConfig `json:",inline" mapstructure:",squash"`
	IsDebug         bool `json:"is_debug" mapstructure:"is_debug"`
}

type LogConfig struct {
	LogPath   string `json:"log_path" mapstructure:"log_path"`   //为空时输出到标准错误
	LogName   string `json:"log_name" mapstructure:"log_name"`
	LogLevel  string `json:"log_level" mapstructure:"log_level"` //fatal error warn notice info debug trace
	LogStdOut bool   `json:"log_std_out" mapstructure:"log_std_out"`
}

type LooperConfig struct {
	LooperName     string `json:"looper_name" mapstructure:"looper_name"`
	SlowDispatchMs int64  `json:"slow_dispatch_ms" mapstructure:"slow_dispatch_ms"` //单条消息处理超过该毫秒数打警告, 0不检查
	SlowDeliveryMs int64  `json:"slow_delivery_ms" mapstructure:"slow_delivery_ms"` //消息投递晚于到期时间该毫秒数打警告, 0不检查
	MessageLogging bool   `json:"message_logging" mapstructure:"message_logging"`   //每条消息派发前后打debug日志
}

type CountdownConfig struct {
	CountdownMs int64 `json:"countdown_ms" mapstructure:"countdown_ms"`
	IntervalMs  int64 `json:"interval_ms" mapstructure:"interval_ms"`
}

var defaults = map[string]any{
	"app_name":         "msgloop",
	"log_path":         "",
	"log_name":         "msgloop",
	"log_level":        "info",
	"log_std_out":      true,
	"looper_name":      "main",
	"slow_dispatch_ms": 0,
	"slow_delivery_ms": 0,
	"message_logging":  false,
	"countdown_ms":     5000,
	"interval_ms":      1000,
	"is_debug":         false,
}

// LoadConfig fills Config from defaults, then configFile (json, yaml or toml
// by extension; skipped when empty), then MSGLOOP_ environment variables.
func LoadConfig(configFile string) error {
	c, err := Load(configFile)
	if err != nil {
		return err
	}
	Config = c
	return nil
}

func Load(configFile string) (*AppConfig, error) {
	v := viper.New()
	for k, d := range defaults {
		v.SetDefault(k, d)
	}
	if len(configFile) != 0 {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configFile, err)
		}
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	c := new(AppConfig)
	if err := v.Unmarshal(c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if c.IntervalMs <= 0 {
		return nil, fmt.Errorf("interval_ms must be positive, got %d", c.IntervalMs)
	}
	return c, nil
}

// Level parses LogLevel, falling back to info.
func (conf *LogConfig) Level() mlog.Level {
	l, _ := mlog.ParseLevel(conf.LogLevel)
	return l
}

// Options turns the looper settings into looper options.
func (conf *LooperConfig) Options() []looper.Option {
	opts := []looper.Option{looper.WithName(conf.LooperName)}
	if conf.SlowDispatchMs > 0 {
		opts = append(opts, looper.WithSlowDispatchThreshold(time.Duration(conf.SlowDispatchMs)*time.Millisecond))
	}
	if conf.SlowDeliveryMs > 0 {
		opts = append(opts, looper.WithSlowDeliveryThreshold(time.Duration(conf.SlowDeliveryMs)*time.Millisecond))
	}
	return opts
}

func (conf *CountdownConfig) Countdown() time.Duration {
	return time.Duration(conf.CountdownMs) * time.Millisecond
}

func (conf *CountdownConfig) Interval() time.Duration {
	return time.Duration(conf.IntervalMs) * time.Millisecond
}

func (conf *AppConfig) JsonFormat() string {
	if conf == nil {
		return "{}"
	}
	data, err := json.MarshalIndent(conf, "", "  ")
	if err != nil {
		return ""
	}
	return string(data)
}
