package metrics

import (
	"context"

	"go.opentelemetry.io/otel/exporters/prometheus"
	otelapi "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

const (
	metricsNamespace = "edge"
)

var (
	meter otelapi.Meter
)

func Setup(
	ctx context.Context,
	observe func(ctx context.Context, o otelapi.Observer) error,
) error {
	for _, setup := range []func(context.Context) error{
		setupMeter, // must come first
		setupProxySuccessCount,
		setupProxyFailureCount,
		setupProxyAbortedCount,
		setupStaticServedCount,
		setupStaticRejectedCount,
		setupLatencyUpstream,
		setupLatencyTotal,
		setupRequestSize,
		setupResponseSize,
		setupFrontendConnectionsCount,
		setupUpstreamHealthy,
		setupWebsocketSessionsCount,
	} {
		if err := setup(ctx); err != nil {
			return err
		}
	}

	_, err := meter.RegisterCallback(observe,
		FrontendConnectionsCount,
		UpstreamHealthy,
		WebsocketSessionsCount,
	)
	if err != nil {
		return err
	}

	return nil
}

func setupMeter(ctx context.Context) error {
	res, err := resource.New(ctx)
	if err != nil {
		return err
	}

	exporter, err := prometheus.New(
		prometheus.WithNamespace(metricsNamespace),
		prometheus.WithoutScopeInfo(),
	)
	if err != nil {
		return err
	}

	provider := metric.NewMeterProvider(
		metric.WithReader(exporter),
		metric.WithResource(res),
	)

	meter = provider.Meter(metricsNamespace)

	return nil
}

func setupProxySuccessCount(ctx context.Context) error {
	m, err := meter.Int64Counter("proxy_success_count",
		otelapi.WithDescription("count of requests relayed to the upstream"),
	)
	if err != nil {
		return err
	}
	ProxySuccessCount = m
	return nil
}

func setupProxyFailureCount(ctx context.Context) error {
	m, err := meter.Int64Counter("proxy_failure_count",
		otelapi.WithDescription("count of requests that failed to reach the upstream"),
	)
	if err != nil {
		return err
	}
	ProxyFailureCount = m
	return nil
}

func setupProxyAbortedCount(ctx context.Context) error {
	m, err := meter.Int64Counter("proxy_aborted_count",
		otelapi.WithDescription("count of upstream requests aborted b/c the client hung up"),
	)
	if err != nil {
		return err
	}
	ProxyAbortedCount = m
	return nil
}

func setupStaticServedCount(ctx context.Context) error {
	m, err := meter.Int64Counter("static_served_count",
		otelapi.WithDescription("count of static files served"),
	)
	if err != nil {
		return err
	}
	StaticServedCount = m
	return nil
}

func setupStaticRejectedCount(ctx context.Context) error {
	m, err := meter.Int64Counter("static_rejected_count",
		otelapi.WithDescription("count of static requests answered with an error status"),
	)
	if err != nil {
		return err
	}
	StaticRejectedCount = m
	return nil
}

func setupLatencyUpstream(ctx context.Context) error {
	m, err := meter.Int64Histogram("latency_upstream",
		otelapi.WithDescription("latency of upstream responses"),
		otelapi.WithUnit("ms"),
		otelapi.WithExplicitBucketBoundaries(1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000),
	)
	if err != nil {
		return err
	}
	LatencyUpstream = m
	return nil
}

func setupLatencyTotal(ctx context.Context) error {
	m, err := meter.Int64Histogram("latency_total",
		otelapi.WithDescription("total latency of handled requests"),
		otelapi.WithUnit("ms"),
		otelapi.WithExplicitBucketBoundaries(1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000),
	)
	if err != nil {
		return err
	}
	LatencyTotal = m
	return nil
}

func setupRequestSize(ctx context.Context) error {
	m, err := meter.Int64Histogram("request_size",
		otelapi.WithDescription("size of proxied requests"),
		otelapi.WithUnit("By"),
	)
	if err != nil {
		return err
	}
	RequestSize = m
	return nil
}

func setupResponseSize(ctx context.Context) error {
	m, err := meter.Int64Histogram("response_size",
		otelapi.WithDescription("size of proxied responses"),
		otelapi.WithUnit("By"),
	)
	if err != nil {
		return err
	}
	ResponseSize = m
	return nil
}

func setupFrontendConnectionsCount(ctx context.Context) error {
	m, err := meter.Int64ObservableGauge("frontend_connections_count",
		otelapi.WithDescription("count of open frontend connections"),
	)
	if err != nil {
		return err
	}
	FrontendConnectionsCount = m
	return nil
}

func setupUpstreamHealthy(ctx context.Context) error {
	m, err := meter.Int64ObservableGauge("upstream_healthy",
		otelapi.WithDescription("1 if the upstream passes its health check, 0 otherwise"),
	)
	if err != nil {
		return err
	}
	UpstreamHealthy = m
	return nil
}

func setupWebsocketSessionsCount(ctx context.Context) error {
	m, err := meter.Int64ObservableGauge("websocket_sessions_count",
		otelapi.WithDescription("count of relayed websocket sessions"),
	)
	if err != nil {
		return err
	}
	WebsocketSessionsCount = m
	return nil
}
