// Package metrics 签名器的 Prometheus 指标
package metrics

import (
	"errors"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/weisyn/subaccount-sdk-go/types"
)

const namespace = "subaccount"

// Outcome 标签取值
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

// Recorder 记录请求与用户操作指标
// nil *Recorder 的方法为空操作
type Recorder struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	userOps  *prometheus.CounterVec
}

// NewRecorder 创建指标并注册到 reg；reg 为 nil 时不注册
func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Provider requests handled by the sub-account signer.",
		}, []string{"method", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Time spent handling provider requests.",
			Buckets:   []float64{0.005, 0.05, 0.25, 1, 5, 15, 60, 180},
		}, []string{"method"}),
		userOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "user_operations_total",
			Help:      "User operations submitted to bundlers.",
		}, []string{"chain_id", "outcome"}),
	}
	if reg != nil {
		reg.MustRegister(r.requests, r.duration, r.userOps)
	}
	return r
}

// ObserveRequest 记录一次 provider 请求
func (r *Recorder) ObserveRequest(method string, err error, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.requests.WithLabelValues(method, Outcome(err)).Inc()
	r.duration.WithLabelValues(method).Observe(elapsed.Seconds())
}

// ObserveUserOperation 记录一次用户操作提交
func (r *Recorder) ObserveUserOperation(chainID string, err error) {
	if r == nil {
		return
	}
	r.userOps.WithLabelValues(chainID, Outcome(err)).Inc()
}

// Outcome 将错误映射为标签值：provider 错误使用其类别，其它错误为 "error"
func Outcome(err error) string {
	if err == nil {
		return OutcomeOK
	}
	var pe *types.ProviderError
	if errors.As(err, &pe) && pe.Kind != "" {
		return strings.ToLower(string(pe.Kind))
	}
	return OutcomeError
}
