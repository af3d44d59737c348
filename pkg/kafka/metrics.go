package kafka

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type producerMetrics struct {
	msgs    *prometheus.CounterVec
	bytes   *prometheus.CounterVec
	latency *prometheus.HistogramVec
}

type consumerMetrics struct {
	handled *prometheus.CounterVec
	latency *prometheus.HistogramVec
	depth   *prometheus.GaugeVec
}

var (
	defaultProducerOnce    sync.Once
	defaultProducerMetrics *producerMetrics
	defaultConsumerOnce    sync.Once
	defaultConsumerMetrics *consumerMetrics
)

func producerMetricsFor(reg prometheus.Registerer) *producerMetrics {
	if reg != nil {
		return newProducerMetrics(reg)
	}
	defaultProducerOnce.Do(func() {
		defaultProducerMetrics = newProducerMetrics(prometheus.DefaultRegisterer)
	})
	return defaultProducerMetrics
}

func consumerMetricsFor(reg prometheus.Registerer) *consumerMetrics {
	if reg != nil {
		return newConsumerMetrics(reg)
	}
	defaultConsumerOnce.Do(func() {
		defaultConsumerMetrics = newConsumerMetrics(prometheus.DefaultRegisterer)
	})
	return defaultConsumerMetrics
}

func newProducerMetrics(reg prometheus.Registerer) *producerMetrics {
	f := promauto.With(reg)
	return &producerMetrics{
		msgs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "goldcast_kafka_producer_messages_total",
			Help: "Total messages published to Kafka",
		}, []string{"topic", "result"}),
		bytes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "goldcast_kafka_producer_bytes_total",
			Help: "Total payload bytes published",
		}, []string{"topic"}),
		latency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "goldcast_kafka_producer_publish_seconds",
			Help:    "Publish latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"topic"}),
	}
}

func newConsumerMetrics(reg prometheus.Registerer) *consumerMetrics {
	f := promauto.With(reg)
	return &consumerMetrics{
		handled: f.NewCounterVec(prometheus.CounterOpts{
			Name: "goldcast_kafka_consumer_messages_total",
			Help: "Messages handled by outcome (ok, dlq, dropped)",
		}, []string{"topic", "result"}),
		latency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name: "goldcast_kafka_consumer_handle_seconds",
			Help: "Handling time per message, retries included",
		}, []string{"topic"}),
		depth: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "goldcast_kafka_consumer_queue_depth",
			Help: "Messages waiting for a worker",
		}, []string{"topic"}),
	}
}

func (m *producerMetrics) observe(topic string, bytes int64, count int, dur time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.msgs.WithLabelValues(topic, result).Add(float64(count))
	m.bytes.WithLabelValues(topic).Add(float64(bytes))
	m.latency.WithLabelValues(topic).Observe(dur.Seconds())
}
