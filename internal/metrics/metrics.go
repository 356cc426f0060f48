package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rickgao/eigen-stream/internal/hub"
	"github.com/rickgao/eigen-stream/internal/poller"
	"github.com/rickgao/eigen-stream/internal/relay"
	"github.com/rickgao/eigen-stream/internal/session"
	"github.com/rickgao/eigen-stream/internal/sink"
)

const namespace = "eigen_stream"

// Registry is a private Prometheus registry for one streamer.
type Registry struct {
	reg      *prometheus.Registry
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// New creates a registry with Go runtime, process and HTTP metrics.
func New() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status.",
		}, []string{"method", "path", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency. Websocket sessions are not observed.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
	}
	r.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.requests,
		r.duration,
	)
	return r
}

// Handler serves the registry in the Prometheus text format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// Gatherer exposes the underlying registry for tests and pushers.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

func (r *Registry) counter(subsystem, name, help string, labels prometheus.Labels, f func() float64) {
	r.reg.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace:   namespace,
		Subsystem:   subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: labels,
	}, f))
}

func (r *Registry) gauge(subsystem, name, help string, labels prometheus.Labels, f func() float64) {
	r.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   namespace,
		Subsystem:   subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: labels,
	}, f))
}

// RegisterHub exports a hub's counters under the given name.
func (r *Registry) RegisterHub(name string, stats func() hub.Stats) {
	l := prometheus.Labels{"hub": name}
	r.counter("hub", "published_total", "Items delivered to at least one receiver.", l,
		func() float64 { return float64(stats().Published) })
	r.counter("hub", "lagged_total", "Lag signals returned to slow receivers.", l,
		func() float64 { return float64(stats().Lagged) })
	r.gauge("hub", "topics", "Topics currently held.", l,
		func() float64 { return float64(stats().Topics) })
}

// RegisterPoller exports deposit poller counters.
func (r *Registry) RegisterPoller(stats func() poller.Stats) {
	r.counter("poller", "cycles_total", "Completed poll cycles.", nil,
		func() float64 { return float64(stats().Cycles) })
	r.counter("poller", "accepted_total", "Deposits accepted past the cursor.", nil,
		func() float64 { return float64(stats().Accepted) })
	r.counter("poller", "bootstraps_total", "Completed cold-start backfills.", nil,
		func() float64 { return float64(stats().Bootstraps) })

	errs := map[string]func(poller.Stats) int64{
		"resolve": func(s poller.Stats) int64 { return s.ResolveErrors },
		"fetch":   func(s poller.Stats) int64 { return s.FetchErrors },
		"persist": func(s poller.Stats) int64 { return s.PersistErrors },
		"tick":    func(s poller.Stats) int64 { return s.TickErrors },
	}
	for stage, pick := range errs {
		r.counter("poller", "errors_total", "Poll failures by stage.", prometheus.Labels{"stage": stage},
			func() float64 { return float64(pick(stats())) })
	}
}

// RegisterRelay exports trade relay counters.
func (r *Registry) RegisterRelay(stats func() relay.Stats) {
	r.gauge("relay", "connected", "1 while the upstream connection is live.", nil, func() float64 {
		if stats().Connected {
			return 1
		}
		return 0
	})
	r.counter("relay", "reconnects_total", "Upstream reconnect attempts.", nil,
		func() float64 { return float64(stats().Reconnects) })
	r.gauge("relay", "upstream_topics", "Products subscribed upstream.", nil,
		func() float64 { return float64(stats().UpstreamTopics) })

	frames := map[string]func(relay.Stats) int64{
		"match":     func(s relay.Stats) int64 { return s.Matches },
		"ignored":   func(s relay.Stats) int64 { return s.Ignored },
		"malformed": func(s relay.Stats) int64 { return s.Malformed },
	}
	for kind, pick := range frames {
		r.counter("relay", "frames_total", "Upstream frames by outcome.", prometheus.Labels{"kind": kind},
			func() float64 { return float64(pick(stats())) })
	}

	cmds := map[string]func(relay.Stats) int64{
		"sent":    func(s relay.Stats) int64 { return s.CommandsSent },
		"stale":   func(s relay.Stats) int64 { return s.CommandsStale },
		"dropped": func(s relay.Stats) int64 { return s.CommandsDropped },
	}
	for outcome, pick := range cmds {
		r.counter("relay", "commands_total", "Subscription commands by outcome.", prometheus.Labels{"outcome": outcome},
			func() float64 { return float64(pick(stats())) })
	}
}

// RegisterSessions exports websocket session counters for one feed.
func (r *Registry) RegisterSessions(feed string, stats func() session.Stats) {
	l := prometheus.Labels{"feed": feed}
	r.gauge("sessions", "active", "Open websocket sessions.", l,
		func() float64 { return float64(stats().Active) })
	r.counter("sessions", "total", "Accepted websocket sessions.", l,
		func() float64 { return float64(stats().Total) })
	r.counter("sessions", "rejected_total", "Sessions closed with an error frame.", l,
		func() float64 { return float64(stats().Rejected) })
	r.counter("sessions", "frames_sent_total", "Frames written to clients.", l,
		func() float64 { return float64(stats().FramesSent) })
	r.counter("sessions", "lag_warnings_total", "Lag warnings sent to clients.", l,
		func() float64 { return float64(stats().LagWarnings) })
}

// RegisterTickWriter exports tick writer counters.
func (r *Registry) RegisterTickWriter(stats func() sink.WriterMetrics) {
	r.counter("tick_writer", "inserts_total", "Ticks written.", nil,
		func() float64 { return float64(stats().Inserts) })
	r.counter("tick_writer", "dropped_total", "Ticks dropped on a full buffer.", nil,
		func() float64 { return float64(stats().Dropped) })
	r.counter("tick_writer", "errors_total", "Failed batch inserts.", nil,
		func() float64 { return float64(stats().Errors) })
	r.counter("tick_writer", "flushes_total", "Successful batch flushes.", nil,
		func() float64 { return float64(stats().Flushes) })
}
