package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// ImportConfig tunes the batch row loop. Values can be changed at runtime
// through the watched config file; new batches pick them up on start.
type ImportConfig struct {
	// ProgressFlushRows is how many rows are processed between progress
	// flushes to the batch log row.
	ProgressFlushRows int `mapstructure:"progressFlushRows"`
	// MaxErrorDetails caps the stored per-row error list; failures beyond
	// the cap are still counted, just not itemized.
	MaxErrorDetails int `mapstructure:"maxErrorDetails"`
}

func DefaultImportConfig() ImportConfig {
	return ImportConfig{
		ProgressFlushRows: 20,
		MaxErrorDetails:   100,
	}
}

type ImportConfigHolder struct {
	current atomic.Value // holds ImportConfig
}

func NewImportConfigHolder() (*ImportConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("import")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/printmeter/config") // Volume-mounted config
	v.AddConfigPath("/etc/printmeter")            // System config
	v.AddConfigPath(".")                          // Current directory (dev mode)

	v.SetEnvPrefix("PRINTMETER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultImportConfig()
	v.SetDefault("import.progressFlushRows", defaults.ProgressFlushRows)
	v.SetDefault("import.maxErrorDetails", defaults.MaxErrorDetails)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg ImportConfig
	if err := v.UnmarshalKey("import", &cfg); err != nil {
		return nil, err
	}
	if err := validateImportConfig(cfg); err != nil {
		return nil, err
	}

	holder := &ImportConfigHolder{}
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated ImportConfig
		if err := v.UnmarshalKey("import", &updated); err != nil {
			log.Printf("[import-config] reload failed: %v", err)
			return
		}
		if err := validateImportConfig(updated); err != nil {
			log.Printf("[import-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[import-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

func (h *ImportConfigHolder) Get() ImportConfig {
	return h.current.Load().(ImportConfig)
}

func validateImportConfig(cfg ImportConfig) error {
	if cfg.ProgressFlushRows <= 0 {
		return errors.New("import.progressFlushRows must be positive")
	}
	if cfg.MaxErrorDetails <= 0 {
		return errors.New("import.maxErrorDetails must be positive")
	}
	return nil
}
