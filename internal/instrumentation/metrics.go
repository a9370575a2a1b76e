package instrumentation

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Attribute keys. Never attach codes, secrets, verifiers or tokens as values.
const (
	AttrClientID   = "oauth.client_id"
	AttrGrantType  = "oauth.grant_type"
	AttrError      = "oauth.error"
	AttrOutcome    = "oauth.outcome"
	AttrEndpoint   = "http.endpoint"
	AttrMethod     = "http.method"
	AttrStatusCode = "http.status_code"
	AttrStorage    = "storage.type"
	AttrOperation  = "storage.operation"
	AttrResult     = "storage.result"
	AttrLimiter    = "security.rate_limiter.type"
)

// Metrics holds the instruments. All Record methods are nil-safe.
type Metrics struct {
	HTTPRequestsTotal   metric.Int64Counter
	HTTPRequestDuration metric.Float64Histogram

	ClientRegistered     metric.Int64Counter
	AuthorizationIssued  metric.Int64Counter
	CodeExchanged        metric.Int64Counter
	PKCEValidationFailed metric.Int64Counter
	InvalidPassword      metric.Int64Counter
	RateLimitExceeded    metric.Int64Counter

	StorageOperationTotal metric.Int64Counter
	StoragePurged         metric.Int64Counter
}

func newMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
		unit string
	}{
		{&m.HTTPRequestsTotal, "oauth.http.requests", "HTTP requests served", "{request}"},
		{&m.ClientRegistered, "oauth.client.registered", "Dynamic client registrations", "{client}"},
		{&m.AuthorizationIssued, "oauth.authorization.issued", "Authorization codes issued after consent", "{code}"},
		{&m.CodeExchanged, "oauth.code.exchanges", "Token exchange attempts by outcome", "{exchange}"},
		{&m.PKCEValidationFailed, "oauth.pkce.failures", "PKCE verifier mismatches", "{failure}"},
		{&m.InvalidPassword, "oauth.consent.invalid_password", "Consent approvals with a wrong password", "{attempt}"},
		{&m.RateLimitExceeded, "oauth.rate_limit.exceeded", "Requests rejected by rate limiting", "{request}"},
		{&m.StorageOperationTotal, "oauth.storage.operations", "Credential store operations", "{operation}"},
		{&m.StoragePurged, "oauth.storage.purged", "Expired records removed by cleanup", "{record}"},
	}
	for _, c := range counters {
		*c.dst, err = meter.Int64Counter(c.name, metric.WithDescription(c.desc), metric.WithUnit(c.unit))
		if err != nil {
			return nil, fmt.Errorf("failed to create %s counter: %w", c.name, err)
		}
	}

	m.HTTPRequestDuration, err = meter.Float64Histogram(
		"oauth.http.request.duration",
		metric.WithDescription("HTTP request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create request duration histogram: %w", err)
	}
	return m, nil
}

func (m *Metrics) RecordHTTPRequest(ctx context.Context, endpoint, method string, status int, d time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String(AttrEndpoint, endpoint),
		attribute.String(AttrMethod, method),
		attribute.Int(AttrStatusCode, status),
	)
	m.HTTPRequestsTotal.Add(ctx, 1, attrs)
	m.HTTPRequestDuration.Record(ctx, float64(d.Microseconds())/1000, attrs)
}

func (m *Metrics) RecordClientRegistration(ctx context.Context) {
	if m == nil {
		return
	}
	m.ClientRegistered.Add(ctx, 1)
}

func (m *Metrics) RecordAuthorizationIssued(ctx context.Context, clientID string) {
	if m == nil {
		return
	}
	m.AuthorizationIssued.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrClientID, clientID)))
}

// RecordCodeExchange counts an exchange; errorCode is empty on success.
func (m *Metrics) RecordCodeExchange(ctx context.Context, errorCode string) {
	if m == nil {
		return
	}
	outcome := "success"
	if errorCode != "" {
		outcome = "failure"
	}
	m.CodeExchanged.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrOutcome, outcome),
		attribute.String(AttrError, errorCode),
	))
}

func (m *Metrics) RecordPKCEValidationFailed(ctx context.Context) {
	if m == nil {
		return
	}
	m.PKCEValidationFailed.Add(ctx, 1)
}

func (m *Metrics) RecordInvalidPassword(ctx context.Context) {
	if m == nil {
		return
	}
	m.InvalidPassword.Add(ctx, 1)
}

func (m *Metrics) RecordRateLimitExceeded(ctx context.Context, limiter string) {
	if m == nil {
		return
	}
	m.RateLimitExceeded.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrLimiter, limiter)))
}

func (m *Metrics) RecordStorageOperation(ctx context.Context, storage, operation string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.StorageOperationTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrStorage, storage),
		attribute.String(AttrOperation, operation),
		attribute.String(AttrResult, result),
	))
}

func (m *Metrics) RecordPurged(ctx context.Context, storage string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.StoragePurged.Add(ctx, int64(n), metric.WithAttributes(attribute.String(AttrStorage, storage)))
}
