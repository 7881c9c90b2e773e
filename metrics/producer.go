package metrics

import (
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/polaris-dashboard/polaris/rpc"
)

var (
	roundTripLabelKeys = []string{
		labelTopic,
		labelOutcome,
	}

	// roundTripTimeBuckets end above rpc.DefaultTimeout, so timed out requests land in their own bucket.
	roundTripTimeBuckets = []float64{
		0.005,
		0.01,
		0.025,
		0.05,
		0.1,
		0.25,
		0.5,
		1,
		2.5,
		5,
		10,
	}
)

// RoundTripObserver implements rpc.RoundTripObserver with a Prometheus histogram.
type RoundTripObserver struct {
	roundTripSeconds *prometheus.HistogramVec
}

var _ rpc.RoundTripObserver = RoundTripObserver{}

func (o RoundTripObserver) ObserveRoundTrip(topic string, outcome string, duration time.Duration) {
	o.roundTripSeconds.With(prometheus.Labels{
		labelTopic:   topic,
		labelOutcome: outcome,
	}).Observe(duration.Seconds())
}

// NewRoundTripObserver returns an observer to be set as rpc.ProducerConfig.Observer.
func (b PrometheusMetricsBuilder) NewRoundTripObserver() (RoundTripObserver, error) {
	buckets := b.RoundTripBuckets
	if buckets == nil {
		buckets = roundTripTimeBuckets
	}

	h, err := b.registerHistogramVec(prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: b.Namespace,
			Subsystem: b.Subsystem,
			Name:      "producer_round_trip_seconds",
			Help:      "The time between publishing a request and resolving its wait, by outcome",
			Buckets:   buckets,
		},
		roundTripLabelKeys,
	))
	if err != nil {
		return RoundTripObserver{}, errors.Wrap(err, "could not register round trip metric")
	}

	return RoundTripObserver{roundTripSeconds: h}, nil
}
