package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 监控指标
//
// 所有 Record 方法对 nil 接收者安全，组件可以不配置指标。
type Metrics struct {
	gatherer prometheus.Gatherer

	// HTTP 请求指标（持久化存储服务）
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// 发送指标
	SendsTotal      *prometheus.CounterVec
	RecipientsTotal *prometheus.CounterVec
	AssetFailures   prometheus.Counter

	// 领取码指标
	ClaimCodesGenerated prometheus.Counter
	ClaimRedemptions    *prometheus.CounterVec

	// 存储层指标
	LocatorResolutions   *prometheus.CounterVec
	ContentFetchFailures prometheus.Counter
	StatusSyncFailures   prometheus.Counter
	StatusSyncDropped    prometheus.Counter

	// 链上调用指标
	LedgerCalls *prometheus.CounterVec

	// 邮箱刷新指标
	MailboxRefreshDuration *prometheus.HistogramVec
	MailboxPlaceholders    prometheus.Counter
}

// NewMetrics 在默认注册表上创建监控指标
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(prometheus.DefaultRegisterer, prometheus.DefaultGatherer)
}

// NewMetricsWithRegistry 在指定注册表上创建监控指标，测试中使用独立注册表
func NewMetricsWithRegistry(reg prometheus.Registerer, gatherer prometheus.Gatherer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		gatherer: gatherer,

		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledgermail_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ledgermail_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		SendsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledgermail_sends_total",
				Help: "Total number of send requests by outcome",
			},
			[]string{"outcome"},
		),

		RecipientsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledgermail_send_recipients_total",
				Help: "Total number of per-recipient deliveries by result",
			},
			[]string{"result"},
		),

		AssetFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "ledgermail_asset_transfer_failures_total",
				Help: "Total number of failed additional asset transfers",
			},
		),

		ClaimCodesGenerated: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "ledgermail_claim_codes_generated_total",
				Help: "Total number of claim codes generated",
			},
		),

		ClaimRedemptions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledgermail_claim_redemptions_total",
				Help: "Total number of claim redemptions by outcome",
			},
			[]string{"outcome"},
		),

		LocatorResolutions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledgermail_locator_resolutions_total",
				Help: "Total number of locator resolutions by answering tier",
			},
			[]string{"source"},
		),

		ContentFetchFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "ledgermail_content_fetch_failures_total",
				Help: "Total number of content fetches degraded to placeholders",
			},
		),

		StatusSyncFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "ledgermail_status_sync_failures_total",
				Help: "Total number of status sync intents that exhausted retries",
			},
		),

		StatusSyncDropped: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "ledgermail_status_sync_dropped_total",
				Help: "Total number of status sync intents dropped because the queue was full",
			},
		),

		LedgerCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledgermail_ledger_calls_total",
				Help: "Total number of ledger calls by method and outcome",
			},
			[]string{"method", "outcome"},
		),

		MailboxRefreshDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ledgermail_mailbox_refresh_duration_seconds",
				Help:    "Mailbox reconciliation duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"mode"},
		),

		MailboxPlaceholders: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "ledgermail_mailbox_placeholders_total",
				Help: "Total number of mailbox entries rendered with placeholder content",
			},
		),
	}
}

// RecordHTTPRequest 记录 HTTP 请求指标
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordSend 记录一次发送结果：success、partial、failed、rejected
func (m *Metrics) RecordSend(outcome string) {
	if m == nil {
		return
	}
	m.SendsTotal.WithLabelValues(outcome).Inc()
}

// RecordRecipient 记录单个收件人的投递结果
func (m *Metrics) RecordRecipient(ok bool) {
	if m == nil {
		return
	}
	result := "failed"
	if ok {
		result = "succeeded"
	}
	m.RecipientsTotal.WithLabelValues(result).Inc()
}

// RecordAssetFailure 记录附加资产转账失败
func (m *Metrics) RecordAssetFailure() {
	if m == nil {
		return
	}
	m.AssetFailures.Inc()
}

// RecordClaimCodeGenerated 记录领取码生成
func (m *Metrics) RecordClaimCodeGenerated() {
	if m == nil {
		return
	}
	m.ClaimCodesGenerated.Inc()
}

// RecordClaimRedemption 记录领取码兑换结果
func (m *Metrics) RecordClaimRedemption(outcome string) {
	if m == nil {
		return
	}
	m.ClaimRedemptions.WithLabelValues(outcome).Inc()
}

// RecordLocatorResolution 记录定位解析命中的存储层
func (m *Metrics) RecordLocatorResolution(source string) {
	if m == nil {
		return
	}
	m.LocatorResolutions.WithLabelValues(source).Inc()
}

// RecordContentFetchFailure 记录内容加载失败
func (m *Metrics) RecordContentFetchFailure() {
	if m == nil {
		return
	}
	m.ContentFetchFailures.Inc()
}

// RecordStatusSyncFailure 记录状态同步失败
func (m *Metrics) RecordStatusSyncFailure() {
	if m == nil {
		return
	}
	m.StatusSyncFailures.Inc()
}

// RecordStatusSyncDropped 记录状态同步被丢弃
func (m *Metrics) RecordStatusSyncDropped() {
	if m == nil {
		return
	}
	m.StatusSyncDropped.Inc()
}

// RecordLedgerCall 记录链上调用
func (m *Metrics) RecordLedgerCall(method string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.LedgerCalls.WithLabelValues(method, outcome).Inc()
}

// ObserveMailboxRefresh 记录邮箱刷新耗时与占位条目数
func (m *Metrics) ObserveMailboxRefresh(mode string, duration time.Duration, placeholders int) {
	if m == nil {
		return
	}
	m.MailboxRefreshDuration.WithLabelValues(mode).Observe(duration.Seconds())
	m.MailboxPlaceholders.Add(float64(placeholders))
}

// HTTPHandler 返回 Prometheus HTTP 处理器
func (m *Metrics) HTTPHandler() http.Handler {
	if m == nil || m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
