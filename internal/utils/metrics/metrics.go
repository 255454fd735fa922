// internal/utils/metrics/metrics.go
package metrics

import (
	"time"
)

// RecordTipRefresh учитывает попытку обновления tip floor. source: "http" или "stream".
func (c *Collector) RecordTipRefresh(source string, success bool) {
	if c == nil {
		return
	}
	result := "success"
	if !success {
		result = "failure"
	}
	c.tipRefreshes.WithLabelValues(source, result).Inc()
}

// UpdateTipFloor публикует значения нового снимка по перцентилям.
func (c *Collector) UpdateTipFloor(values map[string]float64) {
	if c == nil {
		return
	}
	for percentile, v := range values {
		c.tipFloor.WithLabelValues(percentile).Set(v)
	}
}

// SetStreamConnected отмечает состояние веб-сокет соединения
func (c *Collector) SetStreamConnected(connected bool) {
	if c == nil {
		return
	}
	if connected {
		c.streamConnected.Set(1)
		return
	}
	c.streamConnected.Set(0)
}

// RecordBundleBuild учитывает результат сборки бандла
func (c *Collector) RecordBundleBuild(placement string, err error) {
	if c == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	c.bundleBuilds.WithLabelValues(placement, result).Inc()
}

// ObserveTip записывает размер чаевых в лампортах
func (c *Collector) ObserveTip(lamports uint64) {
	if c == nil {
		return
	}
	c.tipLamports.Observe(float64(lamports))
}

// ObserveTransactionSize записывает сериализованный размер транзакции
func (c *Collector) ObserveTransactionSize(kind string, size int) {
	if c == nil {
		return
	}
	c.txSize.WithLabelValues(kind).Observe(float64(size))
}

// RecordRPCLatency записывает метрики RPC-запроса
func (c *Collector) RecordRPCLatency(method string, duration time.Duration) {
	if c == nil {
		return
	}
	c.rpcLatency.WithLabelValues(method).Observe(duration.Seconds())
}
