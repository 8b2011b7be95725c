package relay

import (
	"github.com/papercomputeco/relay/pkg/eventstream"
	"github.com/papercomputeco/relay/pkg/metrics"
	"github.com/papercomputeco/relay/pkg/upstream"
)

// Config is the relay server configuration.
type Config struct {
	// ListenAddr is the address to listen on (e.g., ":6490")
	ListenAddr string

	// Upstream configures the chat or workflow endpoint answers are
	// streamed from.
	Upstream upstream.Config

	// ContentKinds are the upstream event kinds whose answer text is
	// forwarded. Defaults to upstream.DefaultContentKinds.
	ContentKinds []upstream.Kind

	// StaticDir optionally serves a browser front end from "/".
	StaticDir string

	// CORSOrigins is a comma separated list of allowed origins
	// (defaults to "*").
	CORSOrigins string

	// Publisher is an optional sink for completed exchange events.
	// If nil, publishing is disabled.
	Publisher eventstream.Publisher

	// Metrics is an optional Prometheus collector. If nil, /metrics is not
	// served.
	Metrics *metrics.Collector

	// Version is reported by the health endpoint.
	Version string
}
