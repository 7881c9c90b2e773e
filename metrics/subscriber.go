package metrics

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/polaris-dashboard/polaris/message"
)

var subscriberLabelKeys = []string{
	labelBrokerTopic,
}

type SubscriberPrometheusMetricsDecorator struct {
	sub message.Subscriber

	subscriberTimeToAckSeconds *prometheus.HistogramVec
}

// Subscribe forwards the messages of the wrapped subscriber and observes how long they wait for an ack.
func (s SubscriberPrometheusMetricsDecorator) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	in, err := s.sub.Subscribe(ctx, topic)
	if err != nil {
		return nil, err
	}

	labels := prometheus.Labels{labelBrokerTopic: topic}
	out := make(chan *message.Message)

	go func() {
		defer close(out)

		for msg := range in {
			now := time.Now()

			select {
			case out <- msg:
			case <-ctx.Done():
				return
			}

			go func(msg *message.Message) {
				select {
				case <-msg.Acked():
					s.subscriberTimeToAckSeconds.With(labels).Observe(time.Since(now).Seconds())
				case <-msg.Nacked():
				case <-ctx.Done():
				}
			}(msg)
		}
	}()

	return out, nil
}

func (s SubscriberPrometheusMetricsDecorator) Close() error {
	return s.sub.Close()
}

// DecorateSubscriber wraps the underlying subscriber with Prometheus metrics.
func (b PrometheusMetricsBuilder) DecorateSubscriber(sub message.Subscriber) (message.Subscriber, error) {
	var err error
	d := SubscriberPrometheusMetricsDecorator{
		sub: sub,
	}

	d.subscriberTimeToAckSeconds, err = b.registerHistogramVec(prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: b.Namespace,
			Subsystem: b.Subsystem,
			Name:      "subscriber_time_to_ack_seconds",
			Help:      "The time elapsed between obtaining a message and receiving an ACK",
		},
		subscriberLabelKeys,
	))
	if err != nil {
		return nil, errors.Wrap(err, "could not register time to ack metric")
	}

	return d, nil
}
