package instrumentation

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all metric instruments for the connector.
type Metrics struct {
	// HTTP layer
	HTTPRequestsTotal   metric.Int64Counter
	HTTPRequestDuration metric.Float64Histogram

	// OAuth lifecycle
	FlowStarted       metric.Int64Counter
	CallbackProcessed metric.Int64Counter
	TokenExchanged    metric.Int64Counter
	TokenRefreshed    metric.Int64Counter
	TokenDisconnected metric.Int64Counter

	// Upstream (Planning Center) calls
	UpstreamRequestsTotal   metric.Int64Counter
	UpstreamRequestDuration metric.Float64Histogram
	UpstreamRateLimited     metric.Int64Counter
	UpstreamErrors          metric.Int64Counter

	// Security
	RateLimitExceeded metric.Int64Counter

	// Storage
	StorageTokensCount metric.Int64ObservableGauge
	StorageStatesCount metric.Int64ObservableGauge
}

// newMetrics creates and registers all metric instruments.
func newMetrics(inst *Instrumentation) (*Metrics, error) {
	m := &Metrics{}

	httpMeter := inst.Meter("http")
	serverMeter := inst.Meter("server")
	upstreamMeter := inst.Meter("upstream")
	storageMeter := inst.Meter("storage")

	var err error
	m.HTTPRequestsTotal, err = httpMeter.Int64Counter(
		"connector.http.requests.total",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http.requests.total counter: %w", err)
	}

	m.HTTPRequestDuration, err = httpMeter.Float64Histogram(
		"connector.http.request.duration",
		metric.WithDescription("HTTP request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http.request.duration histogram: %w", err)
	}

	m.FlowStarted, err = serverMeter.Int64Counter(
		"connector.oauth.flow.started",
		metric.WithDescription("Number of authorization flows started"),
		metric.WithUnit("{flow}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create oauth.flow.started counter: %w", err)
	}

	m.CallbackProcessed, err = serverMeter.Int64Counter(
		"connector.oauth.callback.processed",
		metric.WithDescription("Number of authorization callbacks processed"),
		metric.WithUnit("{callback}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create oauth.callback.processed counter: %w", err)
	}

	m.TokenExchanged, err = serverMeter.Int64Counter(
		"connector.oauth.token.exchanged",
		metric.WithDescription("Number of authorization codes exchanged for tokens"),
		metric.WithUnit("{exchange}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create oauth.token.exchanged counter: %w", err)
	}

	m.TokenRefreshed, err = serverMeter.Int64Counter(
		"connector.oauth.token.refreshed",
		metric.WithDescription("Number of tokens refreshed"),
		metric.WithUnit("{refresh}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create oauth.token.refreshed counter: %w", err)
	}

	m.TokenDisconnected, err = serverMeter.Int64Counter(
		"connector.oauth.token.disconnected",
		metric.WithDescription("Number of stored tokens dropped via disconnect"),
		metric.WithUnit("{disconnect}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create oauth.token.disconnected counter: %w", err)
	}

	m.UpstreamRequestsTotal, err = upstreamMeter.Int64Counter(
		"connector.upstream.requests.total",
		metric.WithDescription("Total number of upstream API requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create upstream.requests.total counter: %w", err)
	}

	m.UpstreamRequestDuration, err = upstreamMeter.Float64Histogram(
		"connector.upstream.request.duration",
		metric.WithDescription("Upstream API request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create upstream.request.duration histogram: %w", err)
	}

	m.UpstreamRateLimited, err = upstreamMeter.Int64Counter(
		"connector.upstream.rate_limited",
		metric.WithDescription("Number of 429 responses received from the upstream"),
		metric.WithUnit("{response}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create upstream.rate_limited counter: %w", err)
	}

	m.UpstreamErrors, err = upstreamMeter.Int64Counter(
		"connector.upstream.errors.total",
		metric.WithDescription("Total number of upstream API errors"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create upstream.errors.total counter: %w", err)
	}

	m.RateLimitExceeded, err = serverMeter.Int64Counter(
		"connector.rate_limit.exceeded",
		metric.WithDescription("Number of inbound rate limit violations"),
		metric.WithUnit("{violation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create rate_limit.exceeded counter: %w", err)
	}

	m.StorageTokensCount, err = storageMeter.Int64ObservableGauge(
		"connector.storage.tokens.count",
		metric.WithDescription("Number of stored tokens"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.tokens.count gauge: %w", err)
	}

	m.StorageStatesCount, err = storageMeter.Int64ObservableGauge(
		"connector.storage.states.count",
		metric.WithDescription("Number of in-flight authorization states"),
		metric.WithUnit("{state}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.states.count gauge: %w", err)
	}

	return m, nil
}

// RecordHTTPRequest records an inbound HTTP request.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, endpoint string, statusCode int, durationMs float64) {
	attrs := []attribute.KeyValue{
		attribute.String("method", method),
		attribute.String("endpoint", endpoint),
		attribute.Int("status", statusCode),
	}

	m.HTTPRequestsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.HTTPRequestDuration.Record(ctx, durationMs, metric.WithAttributes(attribute.String("endpoint", endpoint)))
}

// RecordFlowStarted records an authorization flow start.
func (m *Metrics) RecordFlowStarted(ctx context.Context) {
	m.FlowStarted.Add(ctx, 1)
}

// RecordCallbackProcessed records a callback processing outcome.
func (m *Metrics) RecordCallbackProcessed(ctx context.Context, success bool) {
	m.CallbackProcessed.Add(ctx, 1, metric.WithAttributes(
		attribute.Bool("success", success),
	))
}

// RecordTokenExchange records an authorization code exchange.
func (m *Metrics) RecordTokenExchange(ctx context.Context, tenant string) {
	m.TokenExchanged.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tenant", tenant),
	))
}

// RecordTokenRefresh records a transparent token refresh.
func (m *Metrics) RecordTokenRefresh(ctx context.Context, tenant string) {
	m.TokenRefreshed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tenant", tenant),
	))
}

// RecordTokenDisconnect records a stored token being dropped.
func (m *Metrics) RecordTokenDisconnect(ctx context.Context, tenant string) {
	m.TokenDisconnected.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tenant", tenant),
	))
}

// RecordUpstreamRequest records one upstream API call.
func (m *Metrics) RecordUpstreamRequest(ctx context.Context, path string, statusCode int, durationMs float64) {
	attrs := []attribute.KeyValue{
		attribute.String("path", path),
		attribute.Int("status", statusCode),
	}

	m.UpstreamRequestsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.UpstreamRequestDuration.Record(ctx, durationMs, metric.WithAttributes(
		attribute.String("path", path),
	))

	if statusCode == 429 {
		m.UpstreamRateLimited.Add(ctx, 1, metric.WithAttributes(
			attribute.String("path", path),
		))
	}

	if statusCode >= 400 {
		errorType := "client_error"
		if statusCode >= 500 {
			errorType = "server_error"
		}
		m.UpstreamErrors.Add(ctx, 1, metric.WithAttributes(
			attribute.String("path", path),
			attribute.String("error_type", errorType),
		))
	}
}

// RecordRateLimitExceeded records an inbound rate limit violation.
func (m *Metrics) RecordRateLimitExceeded(ctx context.Context) {
	m.RateLimitExceeded.Add(ctx, 1)
}
