package metrics

import (
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/polaris-dashboard/polaris/message"
)

var publisherLabelKeys = []string{
	labelBrokerTopic,
	labelSuccess,
}

type PublisherPrometheusMetricsDecorator struct {
	pub message.Publisher

	publishTimeSeconds *prometheus.HistogramVec
}

// Publish updates the relevant publisher metrics and calls the wrapped publisher's Publish.
func (m PublisherPrometheusMetricsDecorator) Publish(topic string, messages ...*message.Message) (err error) {
	now := time.Now()

	defer func() {
		m.publishTimeSeconds.With(prometheus.Labels{
			labelBrokerTopic: topic,
			labelSuccess:     successLabel(err),
		}).Observe(time.Since(now).Seconds())
	}()

	return m.pub.Publish(topic, messages...)
}

// Close closes the wrapped publisher.
func (m PublisherPrometheusMetricsDecorator) Close() error {
	return m.pub.Close()
}

// DecoratePublisher wraps the underlying publisher with Prometheus metrics.
func (b PrometheusMetricsBuilder) DecoratePublisher(pub message.Publisher) (message.Publisher, error) {
	var err error
	d := PublisherPrometheusMetricsDecorator{
		pub: pub,
	}

	d.publishTimeSeconds, err = b.registerHistogramVec(prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: b.Namespace,
			Subsystem: b.Subsystem,
			Name:      "publish_time_seconds",
			Help:      "The time that a publishing attempt (success or not) took in seconds",
		},
		publisherLabelKeys,
	))
	if err != nil {
		return nil, errors.Wrap(err, "could not register publish time metric")
	}

	return d, nil
}
