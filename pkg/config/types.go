package config

import (
	"fmt"
	"strconv"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/papercomputeco/relay/pkg/logger"
	"github.com/papercomputeco/relay/pkg/upstream"
)

// Config represents the persistent relay configuration stored as config.toml
// in the .relay/ directory. The TOML layout uses sections for logical grouping.
type Config struct {
	Version     int               `toml:"version"`
	Server      ServerConfig      `toml:"server"`
	Upstream    UpstreamConfig    `toml:"upstream"`
	Session     SessionConfig     `toml:"session"`
	EventStream EventStreamConfig `toml:"eventstream"`
	Client      ClientConfig      `toml:"client"`
	Log         LogConfig         `toml:"log"`
}

// ServerConfig holds relay server settings.
type ServerConfig struct {
	Listen      string `toml:"listen,omitempty"`
	StaticDir   string `toml:"static_dir,omitempty"`
	CORSOrigins string `toml:"cors_origins,omitempty"`
}

// UpstreamConfig holds the chat or workflow endpoint answers are streamed
// from. ContentKinds is a comma separated list of upstream event kinds.
type UpstreamConfig struct {
	URL            string `toml:"url,omitempty"`
	APIKey         string `toml:"api_key,omitempty"`
	WorkflowID     string `toml:"workflow_id,omitempty"`
	ConnectTimeout string `toml:"connect_timeout,omitempty"`
	ContentKinds   string `toml:"content_kinds,omitempty"`
}

// SessionConfig holds conversation history retention settings.
type SessionConfig struct {
	MaxAge        string `toml:"max_age,omitempty"`
	SweepSchedule string `toml:"sweep_schedule,omitempty"`
}

// EventStreamConfig holds completed exchange publishing settings.
type EventStreamConfig struct {
	Provider string `toml:"provider,omitempty"`
	Brokers  string `toml:"brokers,omitempty"`
	Topic    string `toml:"topic,omitempty"`
}

// ClientConfig holds settings for CLI commands that connect to a running
// relay (e.g. relay chat). RelayTarget is a full URL.
type ClientConfig struct {
	RelayTarget string `toml:"relay_target,omitempty"`
	UserID      string `toml:"user_id,omitempty"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `toml:"level,omitempty"`
	JSON  bool   `toml:"json,omitempty"`
}

// Event stream providers.
const (
	EventStreamNone  = "none"
	EventStreamKafka = "kafka"
)

// configKeyInfo maps a user-facing dotted key name to a getter and setter on *Config.
type configKeyInfo struct {
	get func(c *Config) string
	set func(c *Config, v string) error
}

func durationValue(key string, v string) error {
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	if d <= 0 {
		return fmt.Errorf("invalid value for %s: must be positive", key)
	}
	return nil
}

// configKeys is the authoritative map of all supported config keys.
// Keys use dotted notation matching the TOML section structure.
var configKeys = map[string]configKeyInfo{
	"server.listen": {
		get: func(c *Config) string { return c.Server.Listen },
		set: func(c *Config, v string) error { c.Server.Listen = v; return nil },
	},
	"server.static_dir": {
		get: func(c *Config) string { return c.Server.StaticDir },
		set: func(c *Config, v string) error { c.Server.StaticDir = v; return nil },
	},
	"server.cors_origins": {
		get: func(c *Config) string { return c.Server.CORSOrigins },
		set: func(c *Config, v string) error { c.Server.CORSOrigins = v; return nil },
	},
	"upstream.url": {
		get: func(c *Config) string { return c.Upstream.URL },
		set: func(c *Config, v string) error { c.Upstream.URL = v; return nil },
	},
	"upstream.api_key": {
		get: func(c *Config) string { return c.Upstream.APIKey },
		set: func(c *Config, v string) error { c.Upstream.APIKey = v; return nil },
	},
	"upstream.workflow_id": {
		get: func(c *Config) string { return c.Upstream.WorkflowID },
		set: func(c *Config, v string) error { c.Upstream.WorkflowID = v; return nil },
	},
	"upstream.connect_timeout": {
		get: func(c *Config) string { return c.Upstream.ConnectTimeout },
		set: func(c *Config, v string) error {
			if err := durationValue("upstream.connect_timeout", v); err != nil {
				return err
			}
			c.Upstream.ConnectTimeout = v
			return nil
		},
	},
	"upstream.content_kinds": {
		get: func(c *Config) string { return c.Upstream.ContentKinds },
		set: func(c *Config, v string) error {
			kinds, err := upstream.ParseKinds(v)
			if err != nil {
				return fmt.Errorf("invalid value for upstream.content_kinds: %w", err)
			}
			c.Upstream.ContentKinds = upstream.FormatKinds(kinds)
			return nil
		},
	},
	"session.max_age": {
		get: func(c *Config) string { return c.Session.MaxAge },
		set: func(c *Config, v string) error {
			if err := durationValue("session.max_age", v); err != nil {
				return err
			}
			c.Session.MaxAge = v
			return nil
		},
	},
	"session.sweep_schedule": {
		get: func(c *Config) string { return c.Session.SweepSchedule },
		set: func(c *Config, v string) error {
			if _, err := cron.ParseStandard(v); err != nil {
				return fmt.Errorf("invalid value for session.sweep_schedule: %w", err)
			}
			c.Session.SweepSchedule = v
			return nil
		},
	},
	"eventstream.provider": {
		get: func(c *Config) string { return c.EventStream.Provider },
		set: func(c *Config, v string) error {
			switch v {
			case EventStreamNone, EventStreamKafka:
				c.EventStream.Provider = v
				return nil
			default:
				return fmt.Errorf("invalid value for eventstream.provider: %q (available: none, kafka)", v)
			}
		},
	},
	"eventstream.brokers": {
		get: func(c *Config) string { return c.EventStream.Brokers },
		set: func(c *Config, v string) error { c.EventStream.Brokers = v; return nil },
	},
	"eventstream.topic": {
		get: func(c *Config) string { return c.EventStream.Topic },
		set: func(c *Config, v string) error { c.EventStream.Topic = v; return nil },
	},
	"client.relay_target": {
		get: func(c *Config) string { return c.Client.RelayTarget },
		set: func(c *Config, v string) error { c.Client.RelayTarget = v; return nil },
	},
	"client.user_id": {
		get: func(c *Config) string { return c.Client.UserID },
		set: func(c *Config, v string) error { c.Client.UserID = v; return nil },
	},
	"log.level": {
		get: func(c *Config) string { return c.Log.Level },
		set: func(c *Config, v string) error {
			if _, err := logger.ParseLevel(v); err != nil {
				return fmt.Errorf("invalid value for log.level: %w", err)
			}
			c.Log.Level = v
			return nil
		},
	},
	"log.json": {
		get: func(c *Config) string { return strconv.FormatBool(c.Log.JSON) },
		set: func(c *Config, v string) error {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("invalid value for log.json: %w", err)
			}
			c.Log.JSON = b
			return nil
		},
	},
}
