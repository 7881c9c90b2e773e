package middleware

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/sony/gobreaker"

	"github.com/polaris-dashboard/polaris/rpc"
)

// CircuitBreaker is a middleware that wraps the handlers in circuit breakers, one per topic.
// When the handler of a topic keeps failing, its requests fail fast with gobreaker.ErrOpenState
// and the caller receives an ERROR reply instead of waiting for the timeout.
// Other topics are not affected.
type CircuitBreaker struct {
	settings gobreaker.Settings

	lock     *sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewCircuitBreaker returns a new CircuitBreaker middleware.
// Refer to the gobreaker documentation for the available settings.
// The breaker of a topic is named "<settings.Name>:<topic>".
//
// When settings.IsSuccessful is nil, *rpc.InvalidRequestError does not count as a failure.
func NewCircuitBreaker(settings gobreaker.Settings) CircuitBreaker {
	if settings.IsSuccessful == nil {
		settings.IsSuccessful = IgnoreInvalidRequests
	}

	return CircuitBreaker{
		settings: settings,
		lock:     &sync.Mutex{},
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

// IgnoreInvalidRequests reports malformed requests as successful handler runs.
func IgnoreInvalidRequests(err error) bool {
	var invalidRequest *rpc.InvalidRequestError
	return err == nil || errors.As(err, &invalidRequest)
}

// Middleware returns the CircuitBreaker middleware.
func (c CircuitBreaker) Middleware(h rpc.HandlerFunc) rpc.HandlerFunc {
	return func(req *rpc.Request) error {
		_, err := c.breaker(req.Topic()).Execute(func() (interface{}, error) {
			return nil, h(req)
		})

		return err
	}
}

// State returns the current state of the breaker of topic.
func (c CircuitBreaker) State(topic string) gobreaker.State {
	return c.breaker(topic).State()
}

func (c CircuitBreaker) breaker(topic string) *gobreaker.CircuitBreaker {
	c.lock.Lock()
	defer c.lock.Unlock()

	cb, ok := c.breakers[topic]
	if !ok {
		settings := c.settings
		settings.Name = c.settings.Name + ":" + topic
		cb = gobreaker.NewCircuitBreaker(settings)
		c.breakers[topic] = cb
	}

	return cb
}
