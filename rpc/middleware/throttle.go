package middleware

import (
	"time"

	"github.com/polaris-dashboard/polaris/rpc"
)

// Throttle provides a middleware that limits the amount of requests processed per unit of time.
// Requests waiting for their tick give up when their context is done.
type Throttle struct {
	ticker *time.Ticker
}

// NewThrottle creates a new Throttle middleware.
// Example duration and count: NewThrottle(10, time.Second) for 10 requests per second.
func NewThrottle(count int64, duration time.Duration) *Throttle {
	return &Throttle{ticker: time.NewTicker(duration / time.Duration(count))}
}

func (t *Throttle) Middleware(h rpc.HandlerFunc) rpc.HandlerFunc {
	return func(req *rpc.Request) error {
		select {
		case <-t.ticker.C:
			// ticker is shared by all handlers, which wait for their "tick"
		case <-req.Context().Done():
			return req.Context().Err()
		}

		return h(req)
	}
}

// Stop releases the ticker.
func (t *Throttle) Stop() {
	t.ticker.Stop()
}
