package metrics

import (
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/polaris-dashboard/polaris/rpc"
)

var (
	handlerLabelKeys = []string{
		labelTopic,
		labelSuccess,
	}

	// handlerExecutionTimeBuckets are one order of magnitude smaller than default buckets (5ms~10s),
	// because the handlers only read from the in-memory cache.
	handlerExecutionTimeBuckets = []float64{
		0.0005,
		0.001,
		0.0025,
		0.005,
		0.01,
		0.025,
		0.05,
		0.1,
		0.25,
		0.5,
		1,
	}
)

// HandlerPrometheusMetricsMiddleware is a consumer middleware that captures Prometheus metrics.
type HandlerPrometheusMetricsMiddleware struct {
	handlerExecutionTimeSeconds *prometheus.HistogramVec
	handlersRunning             prometheus.Gauge
}

// Middleware returns the middleware ready to be used with rpc.Consumer.
func (m HandlerPrometheusMetricsMiddleware) Middleware(h rpc.HandlerFunc) rpc.HandlerFunc {
	return func(req *rpc.Request) (err error) {
		now := time.Now()
		m.handlersRunning.Inc()

		defer func() {
			m.handlersRunning.Dec()
			m.handlerExecutionTimeSeconds.With(prometheus.Labels{
				labelTopic:   req.Topic(),
				labelSuccess: successLabel(err),
			}).Observe(time.Since(now).Seconds())
		}()

		return h(req)
	}
}

// NewHandlerMiddleware returns new HandlerPrometheusMetricsMiddleware.
func (b PrometheusMetricsBuilder) NewHandlerMiddleware() (HandlerPrometheusMetricsMiddleware, error) {
	var err error
	m := HandlerPrometheusMetricsMiddleware{}

	buckets := b.HandlerBuckets
	if buckets == nil {
		buckets = handlerExecutionTimeBuckets
	}

	m.handlerExecutionTimeSeconds, err = b.registerHistogramVec(prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: b.Namespace,
			Subsystem: b.Subsystem,
			Name:      "handler_execution_time_seconds",
			Help:      "The total time elapsed while executing the handler function in seconds",
			Buckets:   buckets,
		},
		handlerLabelKeys,
	))
	if err != nil {
		return m, errors.Wrap(err, "could not register handler execution time metric")
	}

	m.handlersRunning, err = b.registerGauge(prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: b.Namespace,
			Subsystem: b.Subsystem,
			Name:      "handlers_running",
			Help:      "The number of handlers currently running",
		},
	))
	if err != nil {
		return m, errors.Wrap(err, "could not register running handlers metric")
	}

	return m, nil
}
