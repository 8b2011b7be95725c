// Package relay provides the chat relay server: it accepts chat requests,
// streams answers from the upstream, and forwards them to the client as
// normalized event frames.
package relay

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/papercomputeco/relay/pkg/eventstream"
	"github.com/papercomputeco/relay/pkg/eventstream/nop"
	"github.com/papercomputeco/relay/pkg/metrics"
	"github.com/papercomputeco/relay/pkg/session"
	"github.com/papercomputeco/relay/pkg/upstream"
	"github.com/papercomputeco/relay/relay/worker"
)

const shutdownTimeout = 10 * time.Second

// Relay is the chat relay server. Each chat request opens one upstream
// stream whose events are normalized and forwarded to the client as they
// arrive, while completed exchanges are published asynchronously via its
// worker pool.
type Relay struct {
	config     Config
	store      session.Store
	upstream   *upstream.Client
	normalizer *upstream.Normalizer
	workerPool *worker.Pool
	metrics    *metrics.Collector
	validate   *validator.Validate
	logger     *slog.Logger
	server     *fiber.App
	now        func() time.Time
}

// New creates a new Relay backed by store.
func New(config Config, store session.Store, logger *slog.Logger) (*Relay, error) {
	if config.Upstream.URL == "" {
		return nil, errors.New("upstream URL is required")
	}
	if store == nil {
		return nil, errors.New("session store is required")
	}
	if len(config.ContentKinds) == 0 {
		config.ContentKinds = upstream.DefaultContentKinds()
	}
	if config.CORSOrigins == "" {
		config.CORSOrigins = "*"
	}

	var publisher eventstream.Publisher = nop.NewPublisher()
	if config.Publisher != nil {
		publisher = config.Publisher
	}

	wp, err := worker.NewPool(&worker.Config{
		Publisher: publisher,
		Logger:    logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create worker pool: %w", err)
	}

	app := fiber.New(fiber.Config{
		// Disable startup message for cleaner logs
		DisableStartupMessage: true,
		AppName:               "relay",
	})

	// No compression middleware: it would buffer frames that must reach the
	// client as soon as they are written.
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: config.CORSOrigins,
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin, Content-Type, Accept, Cache-Control",
	}))

	r := &Relay{
		config:   config,
		store:    store,
		upstream: upstream.NewClient(config.Upstream, logger.With("component", "upstream")),
		normalizer: upstream.NewNormalizer(
			logger.With("component", "normalizer"),
			upstream.WithContentKinds(config.ContentKinds...),
			upstream.WithDropObserver(config.Metrics.RecordDroppedLine),
		),
		workerPool: wp,
		metrics:    config.Metrics,
		validate:   newValidator(),
		logger:     logger,
		server:     app,
		now:        time.Now,
	}

	api := app.Group("/api")
	api.Get("/health", r.handleHealth)
	api.Post("/chat", r.handleChat)
	api.Get("/conversation/:conversationId", r.handleConversation)

	if config.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(config.Metrics.Handler()))
	}

	if config.StaticDir != "" {
		app.Static("/", config.StaticDir)
	}

	return r, nil
}

// Run starts the relay server on the configured listening address
func (r *Relay) Run() error {
	r.logger.Info("starting relay server",
		"listen", r.config.ListenAddr,
		"upstream", r.config.Upstream.URL,
		"workflow", r.upstream.IsWorkflow(),
	)

	return r.server.Listen(r.config.ListenAddr)
}

// RunWithListener starts the relay server using the provided listener.
func (r *Relay) RunWithListener(listener net.Listener) error {
	r.logger.Info("starting relay server",
		"listen", listener.Addr().String(),
		"upstream", r.config.Upstream.URL,
		"workflow", r.upstream.IsWorkflow(),
	)

	return r.server.Listener(listener)
}

// Close stops accepting requests, waits briefly for open streams, and then
// drains the worker pool.
func (r *Relay) Close() error {
	err := r.server.ShutdownWithTimeout(shutdownTimeout)
	r.workerPool.Close()
	return err
}
