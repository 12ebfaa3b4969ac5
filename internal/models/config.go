package models

import (
	"time"

	"github.com/c2h5oh/datasize"
)

// Config represents the main configuration
type Config struct {
	AdBlock AdBlockConfig `mapstructure:"adblock"`
	HTTP    HTTPConfig    `mapstructure:"http"`
	Cache   CacheConfig   `mapstructure:"cache"`
	Refresh RefreshConfig `mapstructure:"refresh"`
	Server  ServerConfig  `mapstructure:"server"`
	Log     LogConfig     `mapstructure:"log"`
	Lists   []FilterList  `mapstructure:"lists"`
}

// AdBlockConfig contains the engine switch and its storage locations
type AdBlockConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	ConfigFile string `mapstructure:"config_file"`
	DataDir    string `mapstructure:"data_dir"`
}

// HTTPConfig contains HTTP client settings
type HTTPConfig struct {
	Timeout time.Duration     `mapstructure:"timeout"`
	Retries int               `mapstructure:"retries"`
	MaxSize datasize.ByteSize `mapstructure:"max_size"`
}

// CacheConfig contains the sizes of the per-domain artifact caches
type CacheConfig struct {
	Size int `mapstructure:"size"`
}

// RefreshConfig contains subscription refresh settings
type RefreshConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

// ServerConfig contains hook API settings
type ServerConfig struct {
	Listen string `mapstructure:"listen"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Format string `mapstructure:"format"`
	Level  string `mapstructure:"level"`
}

// FilterList represents a single filter list configuration
type FilterList struct {
	Name    string `mapstructure:"name"`
	URL     string `mapstructure:"url"`
	Enabled bool   `mapstructure:"enabled"`
}

// EnabledLists returns only enabled filter lists
func (c *Config) EnabledLists() []FilterList {
	var enabled []FilterList
	for _, l := range c.Lists {
		if l.Enabled {
			enabled = append(enabled, l)
		}
	}
	return enabled
}
