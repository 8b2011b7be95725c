// Package servecmder provides the serve command that runs the relay server.
package servecmder

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/papercomputeco/relay/pkg/config"
	"github.com/papercomputeco/relay/pkg/eventstream"
	"github.com/papercomputeco/relay/pkg/eventstream/kafka"
	"github.com/papercomputeco/relay/pkg/eventstream/nop"
	"github.com/papercomputeco/relay/pkg/logger"
	"github.com/papercomputeco/relay/pkg/metrics"
	"github.com/papercomputeco/relay/pkg/session"
	"github.com/papercomputeco/relay/pkg/session/inmemory"
	"github.com/papercomputeco/relay/pkg/upstream"
	"github.com/papercomputeco/relay/pkg/utils"
	"github.com/papercomputeco/relay/relay"
)

type ServeCommander struct {
	flags serveFlags
	debug bool

	viper  *viper.Viper
	level  *slog.LevelVar
	logger *slog.Logger
}

// serveFlags are the flag targets. Values are read back through viper so
// env vars and the config file apply when a flag is not set.
type serveFlags struct {
	listen         string
	staticDir      string
	corsOrigins    string
	upstream       string
	apiKey         string
	workflowID     string
	connectTimeout string
	contentKinds   string
	sessionMaxAge  string
	sweepSchedule  string
	eventStream    string
	brokers        string
	topic          string
	logLevel       string
	logJSON        bool
}

// registeredFlags are bound to viper in PreRunE.
var registeredFlags = []string{
	config.FlagListen,
	config.FlagStaticDir,
	config.FlagCORSOrigins,
	config.FlagUpstream,
	config.FlagAPIKey,
	config.FlagWorkflowID,
	config.FlagConnectTimeout,
	config.FlagContentKinds,
	config.FlagSessionMaxAge,
	config.FlagSweepSchedule,
	config.FlagEventStream,
	config.FlagBrokers,
	config.FlagTopic,
	config.FlagLogLevel,
	config.FlagLogJSON,
}

const serveLongDesc string = `Run the relay server.

The relay accepts chat messages on POST /api/chat, streams the answer from
the configured upstream chat or workflow endpoint, and forwards it to the
client as chunk, end and error frames. Conversation history is kept in
memory and swept after session.max_age.

Optionally publish completed exchanges to Kafka with --eventstream kafka.
Prometheus metrics are served on /metrics.

Changes to log.level in the config file apply without a restart.`

const serveShortDesc string = "Run the relay server"

func NewServeCmd() *cobra.Command {
	cmder := &ServeCommander{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: serveShortDesc,
		Long:  serveLongDesc,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			configDir, _ := cmd.Flags().GetString("config-dir")
			v, err := config.InitViper(configDir)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			config.BindRegisteredFlags(v, cmd, config.Flags, registeredFlags)
			cmder.viper = v
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			cmder.debug, err = cmd.Flags().GetBool("debug")
			if err != nil {
				return fmt.Errorf("could not get debug flag: %w", err)
			}
			return cmder.run()
		},
	}

	f := &cmder.flags
	config.AddStringFlag(cmd, config.Flags, config.FlagListen, &f.listen)
	config.AddStringFlag(cmd, config.Flags, config.FlagStaticDir, &f.staticDir)
	config.AddStringFlag(cmd, config.Flags, config.FlagCORSOrigins, &f.corsOrigins)
	config.AddStringFlag(cmd, config.Flags, config.FlagUpstream, &f.upstream)
	config.AddStringFlag(cmd, config.Flags, config.FlagAPIKey, &f.apiKey)
	config.AddStringFlag(cmd, config.Flags, config.FlagWorkflowID, &f.workflowID)
	config.AddStringFlag(cmd, config.Flags, config.FlagConnectTimeout, &f.connectTimeout)
	config.AddStringFlag(cmd, config.Flags, config.FlagContentKinds, &f.contentKinds)
	config.AddStringFlag(cmd, config.Flags, config.FlagSessionMaxAge, &f.sessionMaxAge)
	config.AddStringFlag(cmd, config.Flags, config.FlagSweepSchedule, &f.sweepSchedule)
	config.AddStringFlag(cmd, config.Flags, config.FlagEventStream, &f.eventStream)
	config.AddStringFlag(cmd, config.Flags, config.FlagBrokers, &f.brokers)
	config.AddStringFlag(cmd, config.Flags, config.FlagTopic, &f.topic)
	config.AddStringFlag(cmd, config.Flags, config.FlagLogLevel, &f.logLevel)
	config.AddBoolFlag(cmd, config.Flags, config.FlagLogJSON, &f.logJSON)

	return cmd
}

func (c *ServeCommander) run() error {
	v := c.viper

	if err := c.initLogger(); err != nil {
		return err
	}

	relayConfig, err := c.relayConfig()
	if err != nil {
		return err
	}

	publisher, err := c.newPublisher()
	if err != nil {
		return err
	}
	defer publisher.Close()
	relayConfig.Publisher = publisher

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := inmemory.NewStore()
	defer store.Close()

	collector := metrics.NewCollector(metrics.DefaultNamespace, nil)
	collector.TrackSessions(metrics.DefaultNamespace, func() float64 {
		n, _ := store.Len(ctx)
		return float64(n)
	})
	relayConfig.Metrics = collector

	sweeper := session.NewSweeper(store, session.SweeperConfig{
		MaxAge:   v.GetDuration("session.max_age"),
		Schedule: v.GetString("session.sweep_schedule"),
	}, c.logger)
	sweeper.OnSweep(collector.RecordSweep)
	if err := sweeper.Start(ctx); err != nil {
		return fmt.Errorf("starting session sweeper: %w", err)
	}
	defer sweeper.Stop()

	r, err := relay.New(relayConfig, store, c.logger)
	if err != nil {
		return fmt.Errorf("creating relay: %w", err)
	}
	defer r.Close()

	c.watchConfig()

	errChan := make(chan error, 1)
	go func() {
		if err := r.Run(); err != nil {
			errChan <- fmt.Errorf("relay error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return err
	case sig := <-sigChan:
		c.logger.Info("received signal, shutting down", "signal", sig.String())
		return nil
	}
}

func (c *ServeCommander) initLogger() error {
	level, err := logger.ParseLevel(c.viper.GetString("log.level"))
	if err != nil {
		return err
	}
	if c.debug {
		level = slog.LevelDebug
	}

	c.level = &slog.LevelVar{}
	c.level.Set(level)

	jsonLogs := c.viper.GetBool("log.json")
	c.logger = logger.New(
		logger.WithLevel(c.level),
		logger.WithJSON(jsonLogs),
		logger.WithPretty(!jsonLogs),
	)
	return nil
}

// relayConfig builds the relay configuration from the viper chain.
func (c *ServeCommander) relayConfig() (relay.Config, error) {
	v := c.viper

	kinds, err := upstream.ParseKinds(v.GetString("upstream.content_kinds"))
	if err != nil {
		return relay.Config{}, fmt.Errorf("invalid upstream.content_kinds: %w", err)
	}

	return relay.Config{
		ListenAddr: v.GetString("server.listen"),
		Upstream: upstream.Config{
			URL:            v.GetString("upstream.url"),
			APIKey:         v.GetString("upstream.api_key"),
			WorkflowID:     v.GetString("upstream.workflow_id"),
			ConnectTimeout: v.GetDuration("upstream.connect_timeout"),
		},
		ContentKinds: kinds,
		StaticDir:    v.GetString("server.static_dir"),
		CORSOrigins:  v.GetString("server.cors_origins"),
		Version:      utils.Version,
	}, nil
}

func (c *ServeCommander) newPublisher() (eventstream.Publisher, error) {
	v := c.viper

	switch provider := v.GetString("eventstream.provider"); provider {
	case config.EventStreamNone, "":
		return nop.NewPublisher(), nil

	case config.EventStreamKafka:
		p, err := kafka.NewPublisher(kafka.Config{
			Brokers: kafka.ParseBrokers(v.GetString("eventstream.brokers")),
			Topic:   v.GetString("eventstream.topic"),
		})
		if err != nil {
			return nil, fmt.Errorf("creating kafka publisher: %w", err)
		}
		c.logger.Info("publishing completed exchanges to kafka",
			"brokers", v.GetString("eventstream.brokers"),
			"topic", p.Topic(),
		)
		return p, nil

	default:
		return nil, fmt.Errorf("unknown eventstream provider: %q (available: none, kafka)", provider)
	}
}

// watchConfig applies log.level changes from the config file while running.
func (c *ServeCommander) watchConfig() {
	if c.viper.ConfigFileUsed() == "" {
		return
	}

	c.viper.OnConfigChange(func(e fsnotify.Event) {
		level, err := logger.ParseLevel(c.viper.GetString("log.level"))
		if err != nil {
			c.logger.Warn("ignoring config change", "file", e.Name, "error", err)
			return
		}
		if c.debug || level == c.level.Level() {
			return
		}
		c.level.Set(level)
		c.logger.Info("log level changed", "level", level.String(), "file", e.Name)
	})
	c.viper.WatchConfig()
}
