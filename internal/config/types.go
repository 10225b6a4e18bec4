package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"postcast/internal/account"
	"postcast/internal/describe"
	"postcast/internal/gateway"
	"postcast/internal/storage"
	"postcast/internal/tagconv"
	"postcast/internal/transfer"
)

// Config is the whole postcast config file. Durations are Go duration
// strings ("500ms", "10s", "1m").
type Config struct {
	Logging  LoggingConfig  `json:"logging"`
	Storage  StorageConfig  `json:"storage"`
	Cache    CacheConfig    `json:"cache"`
	Gateway  GatewayConfig  `json:"gateway"`
	Transfer TransferConfig `json:"transfer"`
	Poster   PosterConfig   `json:"poster"`
	HTTP     HTTPConfig     `json:"http"`
	Refresh  RefreshConfig  `json:"refresh"`

	// Settings are read-only runtime switches (advertise, post_retries, ...).
	Settings      map[string]any      `json:"settings,omitempty"`
	Shortcuts     []describe.Shortcut `json:"shortcuts,omitempty" validate:"dive"`
	TagConverters []tagconv.Converter `json:"tag_converters,omitempty" validate:"dive"`
	Accounts      []account.Account   `json:"accounts" validate:"dive"`
}

type LoggingConfig struct {
	Level   string      `json:"level" validate:"omitempty,oneof=trace debug info warn warning error TRACE DEBUG INFO WARN WARNING ERROR"`
	Console bool        `json:"console"`
	JSON    bool        `json:"json,omitempty"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig selects where the submission log lives.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./postcast.db", "capacity": 30 }
type StorageConfig struct {
	Driver       string `json:"driver" validate:"omitempty,oneof=memory file sqlite redis none"`
	Path         string `json:"path,omitempty"`
	BusyTimeout  string `json:"busy_timeout,omitempty"` // sqlite
	Addr         string `json:"addr,omitempty"`         // redis
	Password     string `json:"password,omitempty"`
	DB           int    `json:"db,omitempty"`
	Prefix       string `json:"prefix,omitempty"`
	CompactEvery int    `json:"compact_every,omitempty"` // file
	// Capacity is the number of log entries kept; 0 means 30.
	Capacity int `json:"capacity,omitempty" validate:"gte=0"`
}

// CacheConfig selects the account info cache (channel lists, instance
// limits).
type CacheConfig struct {
	Driver   string `json:"driver" validate:"omitempty,oneof=memory redis"`
	Addr     string `json:"addr,omitempty"`
	Password string `json:"password,omitempty"`
	DB       int    `json:"db,omitempty"`
	Prefix   string `json:"prefix,omitempty"`
	TTL      string `json:"ttl,omitempty"`
}

type GatewayConfig struct {
	MinInterval  string `json:"min_interval,omitempty"`
	MaxFloodWait string `json:"max_flood_wait,omitempty"`
}

type TransferConfig struct {
	PartSize         int    `json:"part_size,omitempty" validate:"gte=0"`
	BigFileThreshold int64  `json:"big_file_threshold,omitempty" validate:"gte=0"`
	PartDelay        string `json:"part_delay,omitempty"`
	PollAttempts     int    `json:"poll_attempts,omitempty" validate:"gte=0"`
	PollDelay        string `json:"poll_delay,omitempty"`
}

type PosterConfig struct {
	// Concurrency caps concurrent destination attempts; 0 means no cap.
	Concurrency int `json:"concurrency,omitempty" validate:"gte=0"`
}

type HTTPConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"`
	// Token is an optional bearer token (do not log).
	Token        string `json:"token,omitempty"`
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	// Pprof mounts net/http/pprof under /debug, behind the bearer token.
	Pprof bool `json:"pprof,omitempty"`
}

type RefreshConfig struct {
	Enabled bool `json:"enabled"`
	// Schedule is a cron spec; default "@every 30m".
	Schedule string `json:"schedule,omitempty"`
	Timezone string `json:"timezone,omitempty"`
}

const (
	DefaultHTTPAddr        = "127.0.0.1:8740"
	DefaultRefreshSchedule = "@every 30m"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field rules and cross-field constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	seen := map[string]bool{}
	for i, a := range c.Accounts {
		id := strings.TrimSpace(a.ID)
		if id == "" {
			return fmt.Errorf("accounts[%d]: id is required", i)
		}
		if strings.TrimSpace(a.Destination) == "" {
			return fmt.Errorf("accounts[%d] (%s): destination is required", i, id)
		}
		if seen[id] {
			return fmt.Errorf("accounts[%d]: duplicate id %q", i, id)
		}
		seen[id] = true
	}
	keys := map[string]bool{}
	for i, s := range c.Shortcuts {
		k := strings.ToLower(strings.TrimSpace(s.Key))
		if k == "" {
			return fmt.Errorf("shortcuts[%d]: shortcut is required", i)
		}
		if keys[k] {
			return fmt.Errorf("shortcuts[%d]: duplicate shortcut %q", i, s.Key)
		}
		keys[k] = true
	}
	if _, err := c.GatewayConfig(); err != nil {
		return err
	}
	if _, err := c.TransferConfig(); err != nil {
		return err
	}
	if _, err := c.StorageConfig(); err != nil {
		return err
	}
	if _, err := ParseDurationField("cache.ttl", c.Cache.TTL); err != nil {
		return err
	}
	return nil
}

func (c *Config) GatewayConfig() (gateway.Config, error) {
	var out gateway.Config
	var err error
	if out.MinInterval, err = ParseDurationOrDefault("gateway.min_interval", c.Gateway.MinInterval, gateway.DefaultMinInterval); err != nil {
		return out, err
	}
	if out.MaxFloodWait, err = ParseDurationOrDefault("gateway.max_flood_wait", c.Gateway.MaxFloodWait, gateway.DefaultMaxFloodWait); err != nil {
		return out, err
	}
	return out, nil
}

func (c *Config) TransferConfig() (transfer.Config, error) {
	out := transfer.Config{
		PartSize:         c.Transfer.PartSize,
		BigFileThreshold: c.Transfer.BigFileThreshold,
		PollAttempts:     c.Transfer.PollAttempts,
	}
	var err error
	if out.PartDelay, err = ParseDurationOrDefault("transfer.part_delay", c.Transfer.PartDelay, transfer.DefaultPartDelay); err != nil {
		return out, err
	}
	if out.PollDelay, err = ParseDurationOrDefault("transfer.poll_delay", c.Transfer.PollDelay, transfer.DefaultPollDelay); err != nil {
		return out, err
	}
	return out, nil
}

func (c *Config) StorageConfig() (storage.Config, error) {
	bt, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:       c.Storage.Driver,
		Path:         c.Storage.Path,
		BusyTimeout:  bt,
		Addr:         c.Storage.Addr,
		Password:     c.Storage.Password,
		DB:           c.Storage.DB,
		Prefix:       c.Storage.Prefix,
		CompactEvery: c.Storage.CompactEvery,
	}, nil
}

// HTTPTimeouts returns read and write timeouts with 15s and 60s defaults.
func (c *Config) HTTPTimeouts() (time.Duration, time.Duration, error) {
	rt, err := ParseDurationOrDefault("http.read_timeout", c.HTTP.ReadTimeout, 15*time.Second)
	if err != nil {
		return 0, 0, err
	}
	wt, err := ParseDurationOrDefault("http.write_timeout", c.HTTP.WriteTimeout, 60*time.Second)
	if err != nil {
		return 0, 0, err
	}
	return rt, wt, nil
}
