package metrics

import (
	otelapi "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// Instruments are no-ops until Setup is called.
var (
	ProxySuccessCount otelapi.Int64Counter = noop.Int64Counter{}
	ProxyFailureCount otelapi.Int64Counter = noop.Int64Counter{}
	ProxyAbortedCount otelapi.Int64Counter = noop.Int64Counter{}

	StaticServedCount   otelapi.Int64Counter = noop.Int64Counter{}
	StaticRejectedCount otelapi.Int64Counter = noop.Int64Counter{}

	LatencyUpstream otelapi.Int64Histogram = noop.Int64Histogram{}
	LatencyTotal    otelapi.Int64Histogram = noop.Int64Histogram{}
	RequestSize     otelapi.Int64Histogram = noop.Int64Histogram{}
	ResponseSize    otelapi.Int64Histogram = noop.Int64Histogram{}

	FrontendConnectionsCount otelapi.Int64ObservableGauge = noop.Int64ObservableGauge{}
	UpstreamHealthy          otelapi.Int64ObservableGauge = noop.Int64ObservableGauge{}
	WebsocketSessionsCount   otelapi.Int64ObservableGauge = noop.Int64ObservableGauge{}
)
