package config

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Flag is the single source of truth for a CLI flag.
// Commands reference flags by registry key rather than hard-coding names,
// shorthands, defaults, and descriptions inline. This prevents flag drift
// when the same logical flag appears on multiple commands (e.g., --upstream
// on both "relay serve" and "relay probe").
type Flag struct {
	// Name is the long flag name (e.g. "upstream").
	Name string

	// Shorthand is the one-letter short flag (e.g. "u"). Empty for no shorthand.
	Shorthand string

	// ViperKey is the dotted config key this flag maps to (e.g. "upstream.url").
	ViperKey string

	// Description is the help text shown in --help output.
	Description string
}

// FlagSet is a mapping of flag names to Flag structs that hold their name,
// shorthand, viper key, etc.
type FlagSet map[string]Flag

// Flag registry keys.
// Use these constants when calling AddStringFlag, AddBoolFlag,
// and BindRegisteredFlags to avoid typos or drift from one command to another.
const (
	FlagListen         = "listen"
	FlagStaticDir      = "static-dir"
	FlagCORSOrigins    = "cors-origins"
	FlagUpstream       = "upstream"
	FlagAPIKey         = "api-key"
	FlagWorkflowID     = "workflow-id"
	FlagConnectTimeout = "connect-timeout"
	FlagContentKinds   = "content-kinds"
	FlagSessionMaxAge  = "session-max-age"
	FlagSweepSchedule  = "sweep-schedule"
	FlagEventStream    = "eventstream"
	FlagBrokers        = "brokers"
	FlagTopic          = "topic"
	FlagRelayTarget    = "relay-target"
	FlagUserID         = "user-id"
	FlagLogLevel       = "log-level"
	FlagLogJSON        = "log-json"
)

// Flags is the registry shared by every relay command.
var Flags = FlagSet{
	FlagListen: {
		Name:        "listen",
		Shorthand:   "l",
		ViperKey:    "server.listen",
		Description: "Address for the relay to listen on",
	},
	FlagStaticDir: {
		Name:        "static-dir",
		ViperKey:    "server.static_dir",
		Description: "Directory of static front end files served from /",
	},
	FlagCORSOrigins: {
		Name:        "cors-origins",
		ViperKey:    "server.cors_origins",
		Description: "Comma separated list of allowed CORS origins",
	},
	FlagUpstream: {
		Name:        "upstream",
		Shorthand:   "u",
		ViperKey:    "upstream.url",
		Description: "Upstream chat or workflow endpoint URL",
	},
	FlagAPIKey: {
		Name:        "api-key",
		ViperKey:    "upstream.api_key",
		Description: "Upstream API key, sent as a bearer token",
	},
	FlagWorkflowID: {
		Name:        "workflow-id",
		ViperKey:    "upstream.workflow_id",
		Description: "Workflow id sent to workflow endpoints",
	},
	FlagConnectTimeout: {
		Name:        "connect-timeout",
		ViperKey:    "upstream.connect_timeout",
		Description: "How long to wait for the upstream to answer (e.g. 30s)",
	},
	FlagContentKinds: {
		Name:        "content-kinds",
		ViperKey:    "upstream.content_kinds",
		Description: "Comma separated upstream event kinds that carry answer text",
	},
	FlagSessionMaxAge: {
		Name:        "session-max-age",
		ViperKey:    "session.max_age",
		Description: "Age after which a conversation history is discarded",
	},
	FlagSweepSchedule: {
		Name:        "sweep-schedule",
		ViperKey:    "session.sweep_schedule",
		Description: "Cron schedule for discarding expired conversations",
	},
	FlagEventStream: {
		Name:        "eventstream",
		ViperKey:    "eventstream.provider",
		Description: "Completed exchange publisher (none, kafka)",
	},
	FlagBrokers: {
		Name:        "brokers",
		ViperKey:    "eventstream.brokers",
		Description: "Comma separated Kafka broker addresses",
	},
	FlagTopic: {
		Name:        "topic",
		ViperKey:    "eventstream.topic",
		Description: "Kafka topic for completed exchanges",
	},
	FlagRelayTarget: {
		Name:        "relay-target",
		Shorthand:   "r",
		ViperKey:    "client.relay_target",
		Description: "Relay server URL",
	},
	FlagUserID: {
		Name:        "user-id",
		ViperKey:    "client.user_id",
		Description: "User id sent with chat requests",
	},
	FlagLogLevel: {
		Name:        "log-level",
		ViperKey:    "log.level",
		Description: "Log level (debug, info, warn, error)",
	},
	FlagLogJSON: {
		Name:        "log-json",
		ViperKey:    "log.json",
		Description: "Emit JSON logs",
	},
}

// AddStringFlag registers a string flag on cmd from the given FlagSet.
// The flag's name, shorthand, default, and description all come from the
// FlagSet entry so they cannot drift across commands.
func AddStringFlag(cmd *cobra.Command, fs FlagSet, key string, target *string) {
	def, ok := fs[key]
	if !ok {
		return
	}

	defaultVal := defaultString(def.ViperKey)
	if def.Shorthand != "" {
		cmd.Flags().StringVarP(target, def.Name, def.Shorthand, defaultVal, def.Description)
	} else {
		cmd.Flags().StringVar(target, def.Name, defaultVal, def.Description)
	}
}

// AddBoolFlag registers a bool flag on cmd from the given FlagSet.
func AddBoolFlag(cmd *cobra.Command, fs FlagSet, registryKey string, target *bool) {
	def, ok := fs[registryKey]
	if !ok {
		return
	}

	defaultVal := defaultBool(def.ViperKey)
	if def.Shorthand != "" {
		cmd.Flags().BoolVarP(target, def.Name, def.Shorthand, defaultVal, def.Description)
	} else {
		cmd.Flags().BoolVar(target, def.Name, defaultVal, def.Description)
	}
}

// BindRegisteredFlags binds already-registered flags to viper using definitions
// from the given FlagSet. Call this in PreRunE after InitViper to connect flags
// to the viper precedence chain (flag > env > config file > default).
func BindRegisteredFlags(v *viper.Viper, cmd *cobra.Command, fs FlagSet, registryKeys []string) {
	for _, registryKey := range registryKeys {
		def, ok := fs[registryKey]
		if !ok {
			continue
		}

		f := cmd.Flags().Lookup(def.Name)
		if f == nil {
			continue
		}

		_ = v.BindPFlag(def.ViperKey, f)
	}
}

// defaultString returns the default string value for a viper key from NewDefaultConfig.
func defaultString(viperKey string) string {
	v := viper.New()
	setViperDefaults(v)
	return v.GetString(viperKey)
}

// defaultBool returns the default bool value for a viper key from NewDefaultConfig.
func defaultBool(viperKey string) bool {
	v := viper.New()
	setViperDefaults(v)
	return v.GetBool(viperKey)
}
