package metrics

import (
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/polaris-dashboard/polaris/message"
	"github.com/polaris-dashboard/polaris/rpc"
)

func NewPrometheusMetricsBuilder(prometheusRegistry prometheus.Registerer, namespace string, subsystem string) PrometheusMetricsBuilder {
	return PrometheusMetricsBuilder{
		Namespace:          namespace,
		Subsystem:          subsystem,
		PrometheusRegistry: prometheusRegistry,
	}
}

// PrometheusMetricsBuilder provides methods to decorate publishers, subscribers, consumers and producers.
type PrometheusMetricsBuilder struct {
	// PrometheusRegistry may be filled with a pre-existing Prometheus registry, or left empty for the default registry.
	PrometheusRegistry prometheus.Registerer

	Namespace string
	Subsystem string

	// HandlerBuckets overrides handlerExecutionTimeBuckets.
	HandlerBuckets []float64
	// RoundTripBuckets overrides roundTripTimeBuckets.
	RoundTripBuckets []float64
}

// AddPrometheusConsumerMetrics adds the handler metrics middleware to the consumer.
func (b PrometheusMetricsBuilder) AddPrometheusConsumerMetrics(c *rpc.Consumer) error {
	m, err := b.NewHandlerMiddleware()
	if err != nil {
		return err
	}

	c.AddMiddleware(m.Middleware)
	return nil
}

// DecoratePubSub wraps both sides of the pub/sub with Prometheus metrics.
func (b PrometheusMetricsBuilder) DecoratePubSub(pubSub message.PubSub) (message.PubSub, error) {
	pub, err := b.DecoratePublisher(pubSub)
	if err != nil {
		return nil, err
	}
	sub, err := b.DecorateSubscriber(pubSub)
	if err != nil {
		return nil, err
	}

	return message.NewPubSub(pub, sub), nil
}

func (b PrometheusMetricsBuilder) registerer() prometheus.Registerer {
	if b.PrometheusRegistry == nil {
		return prometheus.DefaultRegisterer
	}
	return b.PrometheusRegistry
}

func (b PrometheusMetricsBuilder) register(c prometheus.Collector) (prometheus.Collector, error) {
	err := b.registerer().Register(c)
	if err == nil {
		return c, nil
	}

	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		return are.ExistingCollector, nil
	}

	return nil, err
}

func (b PrometheusMetricsBuilder) registerCounterVec(c *prometheus.CounterVec) (*prometheus.CounterVec, error) {
	col, err := b.register(c)
	if err != nil {
		return nil, err
	}
	return col.(*prometheus.CounterVec), nil
}

func (b PrometheusMetricsBuilder) registerHistogramVec(h *prometheus.HistogramVec) (*prometheus.HistogramVec, error) {
	col, err := b.register(h)
	if err != nil {
		return nil, err
	}
	return col.(*prometheus.HistogramVec), nil
}

func (b PrometheusMetricsBuilder) registerGauge(g prometheus.Gauge) (prometheus.Gauge, error) {
	col, err := b.register(g)
	if err != nil {
		return nil, err
	}
	return col.(prometheus.Gauge), nil
}
