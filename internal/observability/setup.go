package observability

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	promreg "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"

	"github.com/stratumops/quotawarden/internal/config"
)

type Provider struct {
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *metric.MeterProvider
	promExporter   *prometheus.Exporter
	promHandler    http.Handler
	shutdownFuncs  []func(context.Context) error

	httpRequestCounter *promreg.CounterVec
	httpRequestLatency *promreg.HistogramVec

	usageEvents   promreg.Counter
	evaluations   *promreg.CounterVec
	transitions   *promreg.CounterVec
	conflicts     promreg.Counter
	blocks        promreg.Counter
	blocksRefused promreg.Counter
	notifications *promreg.CounterVec
}

func Setup(ctx context.Context, cfg config.ObservabilityConfig) (*Provider, error) {
	if !cfg.EnableOTLP && !cfg.EnableMetrics {
		return nil, nil
	}

	provider := &Provider{}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName("quotawarden"),
		),
	)
	if err != nil {
		return nil, err
	}

	if cfg.EnableOTLP {
		rawEndpoint := strings.TrimSpace(cfg.OTLPEndpoint)
		endpoint := rawEndpoint
		if endpoint == "" {
			endpoint = "localhost:4317"
		}
		opts := []otlptracegrpc.Option{}
		switch {
		case strings.HasPrefix(endpoint, "http://"):
			endpoint = strings.TrimPrefix(endpoint, "http://")
			opts = append(opts, otlptracegrpc.WithInsecure())
		case strings.HasPrefix(endpoint, "https://"):
			endpoint = strings.TrimPrefix(endpoint, "https://")
		default:
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		opts = append(opts, otlptracegrpc.WithEndpoint(endpoint))

		client := otlptracegrpc.NewClient(opts...)
		exporter, err := otlptrace.New(ctx, client)
		if err != nil {
			return nil, err
		}
		tp := sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exporter),
			sdktrace.WithResource(res),
		)
		otel.SetTracerProvider(tp)
		provider.tracerProvider = tp
		provider.shutdownFuncs = append(provider.shutdownFuncs, tp.Shutdown)
	}

	if cfg.EnableMetrics {
		registry := promreg.NewRegistry()
		promExporter, err := prometheus.New(prometheus.WithRegisterer(registry))
		if err != nil {
			return nil, err
		}
		mp := metric.NewMeterProvider(
			metric.WithReader(promExporter),
			metric.WithResource(res),
		)
		otel.SetMeterProvider(mp)
		provider.meterProvider = mp
		provider.promExporter = promExporter
		provider.promHandler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
		provider.shutdownFuncs = append(provider.shutdownFuncs, mp.Shutdown)

		httpRequests := promreg.NewCounterVec(
			promreg.CounterOpts{
				Namespace: "warden",
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed.",
			},
			[]string{"method", "route", "status"},
		)
		latencyBuckets := []float64{0.05, 0.1, 0.2, 0.5, 1, 2, 5, 10}
		httpLatency := promreg.NewHistogramVec(
			promreg.HistogramOpts{
				Namespace: "warden",
				Name:      "http_request_duration_seconds",
				Help:      "Duration of HTTP requests in seconds.",
				Buckets:   latencyBuckets,
			},
			[]string{"method", "route", "status"},
		)
		usageEvents := promreg.NewCounter(
			promreg.CounterOpts{
				Namespace: "warden",
				Name:      "usage_events_total",
				Help:      "Total accepted usage events.",
			},
		)
		evaluations := promreg.NewCounterVec(
			promreg.CounterOpts{
				Namespace: "warden",
				Name:      "evaluations_total",
				Help:      "Quota evaluations by resulting status.",
			},
			[]string{"status"},
		)
		transitions := promreg.NewCounterVec(
			promreg.CounterOpts{
				Namespace: "warden",
				Name:      "transitions_total",
				Help:      "Completed blocking transitions by operation.",
			},
			[]string{"operation"},
		)
		conflicts := promreg.NewCounter(
			promreg.CounterOpts{
				Namespace: "warden",
				Name:      "transition_conflicts_total",
				Help:      "Transitions abandoned after losing concurrent updates.",
			},
		)
		blocks := promreg.NewCounter(
			promreg.CounterOpts{
				Namespace: "warden",
				Name:      "auto_blocks_total",
				Help:      "Automatic blocks applied by the enforcement pipeline.",
			},
		)
		blocksRefused := promreg.NewCounter(
			promreg.CounterOpts{
				Namespace: "warden",
				Name:      "auto_blocks_refused_total",
				Help:      "Automatic blocks refused because the user is protected.",
			},
		)
		notifications := promreg.NewCounterVec(
			promreg.CounterOpts{
				Namespace: "warden",
				Name:      "notifications_total",
				Help:      "Notification dispatch outcomes by kind.",
			},
			[]string{"kind", "outcome"},
		)
		collectors := []promreg.Collector{
			httpRequests, httpLatency, usageEvents, evaluations,
			transitions, conflicts, blocks, blocksRefused, notifications,
		}
		for _, c := range collectors {
			if err := registry.Register(c); err != nil {
				return nil, err
			}
		}
		provider.httpRequestCounter = httpRequests
		provider.httpRequestLatency = httpLatency
		provider.usageEvents = usageEvents
		provider.evaluations = evaluations
		provider.transitions = transitions
		provider.conflicts = conflicts
		provider.blocks = blocks
		provider.blocksRefused = blocksRefused
		provider.notifications = notifications
	}

	return provider, nil
}

func (p *Provider) PrometheusHandler() http.Handler {
	if p == nil || p.promHandler == nil {
		return nil
	}
	return p.promHandler
}

func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	for _, fn := range p.shutdownFuncs {
		if err := fn(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (p *Provider) TracerProvider() *sdktrace.TracerProvider {
	if p == nil {
		return nil
	}
	return p.tracerProvider
}

func (p *Provider) RecordHTTPRequest(_ context.Context, method, route string, status int, duration time.Duration) {
	if p == nil {
		return
	}

	statusLabel := strconv.Itoa(status)

	if p.httpRequestCounter != nil {
		p.httpRequestCounter.WithLabelValues(method, route, statusLabel).Inc()
	}

	if p.httpRequestLatency != nil {
		p.httpRequestLatency.WithLabelValues(method, route, statusLabel).Observe(duration.Seconds())
	}
}

// Event counts an accepted usage event.
func (p *Provider) Event() {
	if p == nil || p.usageEvents == nil {
		return
	}
	p.usageEvents.Inc()
}

// Evaluation counts a quota evaluation by its resulting status.
func (p *Provider) Evaluation(status string) {
	if p == nil || p.evaluations == nil {
		return
	}
	p.evaluations.WithLabelValues(status).Inc()
}

// Block counts an automatic block applied by the pipeline.
func (p *Provider) Block() {
	if p == nil || p.blocks == nil {
		return
	}
	p.blocks.Inc()
}

// BlockRefused counts an automatic block refused by admin protection.
func (p *Provider) BlockRefused() {
	if p == nil || p.blocksRefused == nil {
		return
	}
	p.blocksRefused.Inc()
}

// Transition counts a completed blocking transition by operation.
func (p *Provider) Transition(operation string) {
	if p == nil || p.transitions == nil {
		return
	}
	p.transitions.WithLabelValues(operation).Inc()
}

// Conflict counts a transition abandoned after concurrent updates.
func (p *Provider) Conflict() {
	if p == nil || p.conflicts == nil {
		return
	}
	p.conflicts.Inc()
}

// Notification counts a dispatch outcome for a notification kind.
func (p *Provider) Notification(kind, outcome string) {
	if p == nil || p.notifications == nil {
		return
	}
	p.notifications.WithLabelValues(kind, outcome).Inc()
}
