// internal/utils/metrics/collector.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "leverage"

// Collector владеет набором метрик. Регистрируется на переданном Registerer,
// поэтому в тестах можно создавать независимые экземпляры.
// Все методы безопасны для nil-получателя.
type Collector struct {
	tipRefreshes    *prometheus.CounterVec
	tipFloor        *prometheus.GaugeVec
	streamConnected prometheus.Gauge
	bundleBuilds    *prometheus.CounterVec
	tipLamports     prometheus.Histogram
	txSize          *prometheus.HistogramVec
	rpcLatency      *prometheus.HistogramVec
}

// NewCollector создает коллектор и регистрирует его метрики в reg.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		tipRefreshes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tip_refresh_total",
				Help:      "Tip floor refresh attempts by source and result",
			},
			[]string{"source", "result"},
		),
		tipFloor: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "tip_floor_sol",
				Help:      "Last observed tip floor in SOL per percentile",
			},
			[]string{"percentile"},
		),
		streamConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "tip_stream_connected",
				Help:      "1 while the tip stream websocket is connected",
			},
		),
		bundleBuilds: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bundle_builds_total",
				Help:      "Bundle builds by tip placement and result",
			},
			[]string{"placement", "result"},
		),
		tipLamports: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "bundle_tip_lamports",
				Help:      "Tip paid per bundle in lamports",
				Buckets:   prometheus.ExponentialBuckets(1_000, 4, 10),
			},
		),
		txSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "transaction_size_bytes",
				Help:      "Serialized transaction size in bytes",
				Buckets:   prometheus.LinearBuckets(128, 128, 10),
			},
			[]string{"kind"},
		),
		rpcLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "rpc_latency_seconds",
				Help:      "RPC request latency in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
			},
			[]string{"method"},
		),
	}

	for _, m := range []prometheus.Collector{
		c.tipRefreshes, c.tipFloor, c.streamConnected,
		c.bundleBuilds, c.tipLamports, c.txSize, c.rpcLatency,
	} {
		if err := reg.Register(m); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Reset сбрасывает все метрики (полезно для тестирования)
func (c *Collector) Reset() {
	if c == nil {
		return
	}
	c.tipRefreshes.Reset()
	c.tipFloor.Reset()
	c.streamConnected.Set(0)
	c.bundleBuilds.Reset()
	c.txSize.Reset()
	c.rpcLatency.Reset()
}
