// Package telemetry は OpenTelemetry のカウンターと、その値をテキスト形式で公開するハンドラーを提供します。
package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

const meterName = "worklog-auth"

// ログイン試行の結果ラベル
const (
	OutcomeSuccess            = "success"
	OutcomeInvalidCredentials = "invalid_credentials"
	OutcomeError              = "error"
)

var help = map[string]string{
	"auth_login_attempts":      "Login attempts by outcome.",
	"auth_ratelimit_decisions": "Rate limit decisions by scope and result.",
	"auth_oauth_starts":        "OAuth authorization redirects by outcome.",
	"auth_oauth_callbacks":     "OAuth callbacks by outcome.",
}

// Metrics はアプリケーションのカウンターを保持します。
// nil の *Metrics に対する記録は何もしません。
type Metrics struct {
	provider *sdkmetric.MeterProvider
	reader   *sdkmetric.ManualReader

	loginAttempts      metric.Int64Counter
	rateLimitDecisions metric.Int64Counter
	oauthStarts        metric.Int64Counter
	oauthCallbacks     metric.Int64Counter
}

// New は ManualReader を持つ MeterProvider とカウンターを作成します。
func New() (*Metrics, error) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := provider.Meter(meterName)

	m := &Metrics{provider: provider, reader: reader}

	var err error
	if m.loginAttempts, err = meter.Int64Counter("auth_login_attempts",
		metric.WithDescription(help["auth_login_attempts"])); err != nil {
		return nil, fmt.Errorf("create counter: %w", err)
	}
	if m.rateLimitDecisions, err = meter.Int64Counter("auth_ratelimit_decisions",
		metric.WithDescription(help["auth_ratelimit_decisions"])); err != nil {
		return nil, fmt.Errorf("create counter: %w", err)
	}
	if m.oauthStarts, err = meter.Int64Counter("auth_oauth_starts",
		metric.WithDescription(help["auth_oauth_starts"])); err != nil {
		return nil, fmt.Errorf("create counter: %w", err)
	}
	if m.oauthCallbacks, err = meter.Int64Counter("auth_oauth_callbacks",
		metric.WithDescription(help["auth_oauth_callbacks"])); err != nil {
		return nil, fmt.Errorf("create counter: %w", err)
	}
	return m, nil
}

// LoginAttempt はログイン試行を結果ごとに数えます。
func (m *Metrics) LoginAttempt(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.loginAttempts.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RateLimitDecision はレート制限の判定結果を数えます。
func (m *Metrics) RateLimitDecision(ctx context.Context, scope string, allowed bool) {
	if m == nil {
		return
	}
	result := "allowed"
	if !allowed {
		result = "denied"
	}
	m.rateLimitDecisions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("scope", scope),
		attribute.String("result", result),
	))
}

// OAuthStart は認可リダイレクトの発行を数えます。
func (m *Metrics) OAuthStart(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.oauthStarts.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// OAuthCallback はコールバックの処理結果を数えます。
func (m *Metrics) OAuthCallback(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.oauthCallbacks.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// Shutdown は MeterProvider を停止します。
func (m *Metrics) Shutdown(ctx context.Context) error {
	if m == nil {
		return nil
	}
	return m.provider.Shutdown(ctx)
}

// Handler は収集したカウンターを Prometheus テキスト形式で返します。
func (m *Metrics) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := m.Render(c.Request.Context())
		if err != nil {
			c.String(http.StatusInternalServerError, "metrics unavailable\n")
			return
		}
		c.Data(http.StatusOK, "text/plain; version=0.0.4; charset=utf-8", []byte(body))
	}
}

// Render は現在のカウンター値をテキスト形式で返します。
func (m *Metrics) Render(ctx context.Context) (string, error) {
	if m == nil {
		return "", nil
	}

	var rm metricdata.ResourceMetrics
	if err := m.reader.Collect(ctx, &rm); err != nil {
		return "", fmt.Errorf("collect metrics: %w", err)
	}

	var b strings.Builder
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			sum, ok := md.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			writeCounter(&b, md.Name+"_total", md.Description, sum.DataPoints)
		}
	}
	return b.String(), nil
}

func writeCounter(b *strings.Builder, name, description string, points []metricdata.DataPoint[int64]) {
	b.WriteString("# HELP ")
	b.WriteString(name)
	b.WriteByte(' ')
	b.WriteString(escapeHelp(description))
	b.WriteByte('\n')
	b.WriteString("# TYPE ")
	b.WriteString(name)
	b.WriteString(" counter\n")

	lines := make([]string, 0, len(points))
	for _, dp := range points {
		lines = append(lines, name+labels(dp.Attributes)+" "+strconv.FormatInt(dp.Value, 10))
	}
	sort.Strings(lines)
	for _, line := range lines {
		b.WriteString(line)
		b.WriteByte('\n')
	}
}

func labels(set attribute.Set) string {
	if set.Len() == 0 {
		return ""
	}
	kvs := set.ToSlice()
	parts := make([]string, 0, len(kvs))
	for _, kv := range kvs {
		parts = append(parts, string(kv.Key)+"=\""+escapeLabel(kv.Value.Emit())+"\"")
	}
	return "{" + strings.Join(parts, ",") + "}"
}

func escapeHelp(help string) string {
	help = strings.ReplaceAll(help, "\\", "\\\\")
	help = strings.ReplaceAll(help, "\n", "\\n")
	return help
}

func escapeLabel(v string) string {
	v = escapeHelp(v)
	return strings.ReplaceAll(v, "\"", "\\\"")
}
