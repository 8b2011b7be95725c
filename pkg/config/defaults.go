package config

import (
	"github.com/papercomputeco/relay/pkg/upstream"
)

const (
	defaultListen      = ":6490"
	defaultCORSOrigins = "*"

	defaultUpstreamURL    = "http://localhost:5001/v1/chat-messages"
	defaultConnectTimeout = "30s"

	defaultSessionMaxAge = "1h"
	defaultSweepSchedule = "@every 1h"

	defaultEventStreamProvider = EventStreamNone
	defaultEventStreamTopic    = "relay.exchanges"

	defaultClientRelayTarget = "http://localhost:6490"

	defaultLogLevel = "info"
)

// NewDefaultConfig returns a Config with sane defaults for all fields.
// This is the single source of truth for default values.
func NewDefaultConfig() *Config {
	return &Config{
		Version: CurrentV,
		Server: ServerConfig{
			Listen:      defaultListen,
			CORSOrigins: defaultCORSOrigins,
		},
		Upstream: UpstreamConfig{
			URL:            defaultUpstreamURL,
			ConnectTimeout: defaultConnectTimeout,
			ContentKinds:   upstream.FormatKinds(upstream.DefaultContentKinds()),
		},
		Session: SessionConfig{
			MaxAge:        defaultSessionMaxAge,
			SweepSchedule: defaultSweepSchedule,
		},
		EventStream: EventStreamConfig{
			Provider: defaultEventStreamProvider,
			Topic:    defaultEventStreamTopic,
		},
		Client: ClientConfig{
			RelayTarget: defaultClientRelayTarget,
		},
		Log: LogConfig{
			Level: defaultLogLevel,
		},
	}
}
