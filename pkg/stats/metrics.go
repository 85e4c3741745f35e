package stats

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "wcbridge"

// Metrics groups the prometheus collectors of the bridge. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	requests       *prometheus.CounterVec
	broadcasts     *prometheus.CounterVec
	resumptions    *prometheus.CounterVec
	activeSessions prometheus.Gauge
}

// NewMetrics creates the bridge collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Session requests handled, by method and response code.",
		}, []string{"method", "code"}),
		broadcasts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcast_attempts_total",
			Help:      "Raw transaction broadcast attempts, by outcome.",
		}, []string{"outcome"}),
		resumptions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_resumptions_total",
			Help:      "Session resumption attempts, by outcome.",
		}, []string{"outcome"}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of sessions currently served.",
		}),
	}

	for _, c := range []prometheus.Collector{
		m.requests, m.broadcasts, m.resumptions, m.activeSessions,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) ObserveRequest(method string, code int) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(method, codeLabel(code)).Inc()
}

func (m *Metrics) ObserveBroadcast(outcome string) {
	if m == nil {
		return
	}
	m.broadcasts.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveResumption(outcome string) {
	if m == nil {
		return
	}
	m.resumptions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SetActiveSessions(count int) {
	if m == nil {
		return
	}
	m.activeSessions.Set(float64(count))
}

func codeLabel(code int) string {
	if code == 0 {
		return "ok"
	}
	return strconv.Itoa(code)
}
