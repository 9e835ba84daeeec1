package metrics

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ForumWatcher/internal/domain"
	"ForumWatcher/internal/ports"
)

// Metrics exposes pipeline counters and gauges through Prometheus.
type Metrics struct {
	registry *prometheus.Registry

	rssPolls        prometheus.Counter
	postsDiscovered prometheus.Counter
	postsProcessed  prometheus.Counter
	fetchOutcomes   *prometheus.CounterVec
	fetchDenied     *prometheus.CounterVec
	pushes          prometheus.Counter
	rejections      prometheus.Counter
	summarizerFails prometheus.Counter
	consecutive     *prometheus.GaugeVec
	paused          prometheus.Gauge
}

var _ ports.MetricsSink = (*Metrics)(nil)

// New registers all collectors on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := func(name, help string) prometheus.Counter {
		c := prometheus.NewCounter(prometheus.CounterOpts{Name: name, Help: help})
		registry.MustRegister(c)
		return c
	}

	m := &Metrics{
		registry:        registry,
		rssPolls:        factory("forumwatcher_rss_polls_total", "RSS poll attempts."),
		postsDiscovered: factory("forumwatcher_posts_discovered_total", "New posts discovered via RSS."),
		postsProcessed:  factory("forumwatcher_posts_processed_total", "Posts run through the scoring pipeline."),
		pushes:          factory("forumwatcher_pushes_total", "Posts delivered to the channel."),
		rejections:      factory("forumwatcher_rejections_total", "Posts rejected by blacklist rules."),
		summarizerFails: factory("forumwatcher_summarizer_failures_total", "Failed summarizer calls."),
		fetchOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "forumwatcher_fetch_outcomes_total",
			Help: "Full-text fetch attempts by outcome.",
		}, []string{"outcome"}),
		fetchDenied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "forumwatcher_fetch_denied_total",
			Help: "Fetch slot denials by reason.",
		}, []string{"reason"}),
		consecutive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "forumwatcher_consecutive_failures",
			Help: "Consecutive failures by kind.",
		}, []string{"kind"}),
		paused: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "forumwatcher_paused",
			Help: "Whether processing is paused.",
		}),
	}
	registry.MustRegister(m.fetchOutcomes, m.fetchDenied, m.consecutive, m.paused)
	return m
}

func (m *Metrics) RSSPoll(discovered int) {
	m.rssPolls.Inc()
	m.postsDiscovered.Add(float64(discovered))
}

func (m *Metrics) PostProcessed() { m.postsProcessed.Inc() }

func (m *Metrics) FetchOutcome(outcome domain.FetchOutcome) {
	m.fetchOutcomes.WithLabelValues(outcome.String()).Inc()
}

func (m *Metrics) FetchDenied(reason string) {
	m.fetchDenied.WithLabelValues(reason).Inc()
}

func (m *Metrics) PostPushed()        { m.pushes.Inc() }
func (m *Metrics) PostRejected()      { m.rejections.Inc() }
func (m *Metrics) SummarizerFailure() { m.summarizerFails.Inc() }

func (m *Metrics) SetConsecutiveFailures(kind string, n int) {
	m.consecutive.WithLabelValues(kind).Set(float64(n))
}

func (m *Metrics) SetPaused(paused bool) {
	if paused {
		m.paused.Set(1)
		return
	}
	m.paused.Set(0)
}

// Serve exposes /metrics on addr until the context is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Warn("metrics server stopped", "error", err)
	}
}

// Noop is a MetricsSink that discards everything. Used when no metrics
// endpoint is configured.
type Noop struct{}

var _ ports.MetricsSink = Noop{}

func (Noop) RSSPoll(int)                      {}
func (Noop) PostProcessed()                   {}
func (Noop) FetchOutcome(domain.FetchOutcome) {}
func (Noop) FetchDenied(string)               {}
func (Noop) PostPushed()                      {}
func (Noop) PostRejected()                    {}
func (Noop) SummarizerFailure()               {}
func (Noop) SetConsecutiveFailures(string, int) {
}
func (Noop) SetPaused(bool) {}
