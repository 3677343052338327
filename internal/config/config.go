// Package config loads daemon settings from defaults, an optional YAML
// file and HEADSETD_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"github.com/vmorsell/headsetd/internal/storage"
)

const (
	configName = "headsetd"
	envPrefix  = "HEADSETD"
)

type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Data    DataConfig    `mapstructure:"data"`
	Storage StorageConfig `mapstructure:"storage"`
	Tools   ToolsConfig   `mapstructure:"tools"`
	Scan    ScanConfig    `mapstructure:"scan"`
	Startup StartupConfig `mapstructure:"startup"`
	Battery BatteryConfig `mapstructure:"battery"`
	Persist PersistConfig `mapstructure:"persist"`
	Log     LogConfig     `mapstructure:"log"`
	WS      WSConfig      `mapstructure:"ws"`
}

type ServerConfig struct {
	Addr      string `mapstructure:"addr"`
	StaticDir string `mapstructure:"static_dir"` // empty disables static files
}

type DataConfig struct {
	File string `mapstructure:"file"`
}

type StorageConfig struct {
	Backend  string         `mapstructure:"backend"` // file or dynamodb
	DynamoDB DynamoDBConfig `mapstructure:"dynamodb"`
}

type DynamoDBConfig struct {
	Table  string `mapstructure:"table"`
	Region string `mapstructure:"region"`
}

type ToolsConfig struct {
	SoundVolumeView string        `mapstructure:"sound_volume_view"`
	HeadsetControl  string        `mapstructure:"headset_control"`
	Timeout         time.Duration `mapstructure:"timeout"`
}

type ScanConfig struct {
	DumpDir  string        `mapstructure:"dump_dir"`
	Interval time.Duration `mapstructure:"interval"`
}

type StartupConfig struct {
	Delay time.Duration `mapstructure:"delay"`
}

type BatteryConfig struct {
	Interval         time.Duration `mapstructure:"interval"`
	Stagger          time.Duration `mapstructure:"stagger"`
	BusyRetry        time.Duration `mapstructure:"busy_retry"`
	UnavailableRetry time.Duration `mapstructure:"unavailable_retry"`
	MaxAttempts      int           `mapstructure:"max_attempts"`
}

type PersistConfig struct {
	Debounce time.Duration `mapstructure:"debounce"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"` // empty logs to stderr only
}

type WSConfig struct {
	ConnectionRateLimit int `mapstructure:"connection_rate_limit"` // per address per second, 0 disables
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr: "0.0.0.0:8085",
		},
		Data: DataConfig{
			File: "volume_data.json",
		},
		Storage: StorageConfig{
			Backend: storage.BackendFile,
		},
		Tools: ToolsConfig{
			SoundVolumeView: "SoundVolumeView.exe",
			HeadsetControl:  "HeadsetControl.exe",
			Timeout:         30 * time.Second,
		},
		Scan: ScanConfig{
			DumpDir:  ".",
			Interval: 3 * time.Second,
		},
		Startup: StartupConfig{
			Delay: 5 * time.Second,
		},
		Battery: BatteryConfig{
			Interval:         10 * time.Minute,
			Stagger:          1500 * time.Millisecond,
			BusyRetry:        time.Second,
			UnavailableRetry: 20 * time.Second,
			MaxAttempts:      10,
		},
		Persist: PersistConfig{
			Debounce: 2 * time.Second,
		},
		Log: LogConfig{
			Level: "info",
			File:  "server_logs.txt",
		},
		WS: WSConfig{
			ConnectionRateLimit: 10,
		},
	}
}

// Load reads the configuration. An explicit path must exist; otherwise
// headsetd.yaml is looked up in the working and executable directories
// and is optional.
func Load(path string) (*Config, *viper.Viper, error) {
	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(configName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if exe, err := os.Executable(); err == nil {
			v.AddConfigPath(filepath.Dir(exe))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, nil, err
	}
	return cfg, v, nil
}

func decode(v *viper.Viper) (*Config, error) {
	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.static_dir", d.Server.StaticDir)
	v.SetDefault("data.file", d.Data.File)
	v.SetDefault("storage.backend", d.Storage.Backend)
	v.SetDefault("storage.dynamodb.table", d.Storage.DynamoDB.Table)
	v.SetDefault("storage.dynamodb.region", d.Storage.DynamoDB.Region)
	v.SetDefault("tools.sound_volume_view", d.Tools.SoundVolumeView)
	v.SetDefault("tools.headset_control", d.Tools.HeadsetControl)
	v.SetDefault("tools.timeout", d.Tools.Timeout)
	v.SetDefault("scan.dump_dir", d.Scan.DumpDir)
	v.SetDefault("scan.interval", d.Scan.Interval)
	v.SetDefault("startup.delay", d.Startup.Delay)
	v.SetDefault("battery.interval", d.Battery.Interval)
	v.SetDefault("battery.stagger", d.Battery.Stagger)
	v.SetDefault("battery.busy_retry", d.Battery.BusyRetry)
	v.SetDefault("battery.unavailable_retry", d.Battery.UnavailableRetry)
	v.SetDefault("battery.max_attempts", d.Battery.MaxAttempts)
	v.SetDefault("persist.debounce", d.Persist.Debounce)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("ws.connection_rate_limit", d.WS.ConnectionRateLimit)
}

func (c *Config) Validate() error {
	positive := map[string]time.Duration{
		"tools.timeout":             c.Tools.Timeout,
		"scan.interval":             c.Scan.Interval,
		"battery.interval":          c.Battery.Interval,
		"battery.busy_retry":        c.Battery.BusyRetry,
		"battery.unavailable_retry": c.Battery.UnavailableRetry,
		"persist.debounce":          c.Persist.Debounce,
	}
	for key, d := range positive {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", key, d)
		}
	}
	if c.Startup.Delay < 0 || c.Battery.Stagger < 0 {
		return fmt.Errorf("startup.delay and battery.stagger must not be negative")
	}
	if c.Battery.MaxAttempts < 1 {
		return fmt.Errorf("battery.max_attempts must be at least 1, got %d", c.Battery.MaxAttempts)
	}

	switch c.Storage.Backend {
	case storage.BackendFile:
		if c.Data.File == "" {
			return fmt.Errorf("data.file is required for the file backend")
		}
	case storage.BackendDynamoDB:
		if c.Storage.DynamoDB.Table == "" {
			return fmt.Errorf("storage.dynamodb.table is required for the dynamodb backend")
		}
	default:
		return fmt.Errorf("%w: %q", storage.ErrUnknownBackend, c.Storage.Backend)
	}
	return nil
}

// Watch calls onChange with the new configuration whenever the config
// file is rewritten. Invalid edits are reported through onError.
func Watch(v *viper.Viper, onChange func(*Config), onError func(error)) bool {
	if v.ConfigFileUsed() == "" {
		return false
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := decode(v)
		if err != nil {
			onError(err)
			return
		}
		onChange(cfg)
	})
	v.WatchConfig()
	return true
}
