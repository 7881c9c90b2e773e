package middleware

import (
	"runtime/debug"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/polaris-dashboard/polaris/rpc"
)

// Recoverer recovers from any panic in the handler and returns it as rpc.RecoveredPanicError.
// The consumer recovers panics on its own as well, Recoverer is useful when an outer middleware
// needs to see the panic as an error (for example CircuitBreaker).
func Recoverer(h rpc.HandlerFunc) rpc.HandlerFunc {
	return func(req *rpc.Request) (err error) {
		defer func() {
			if r := recover(); r != nil {
				panicErr := errors.WithStack(rpc.RecoveredPanicError{V: r, Stacktrace: string(debug.Stack())})
				err = multierror.Append(err, panicErr)
			}
		}()

		return h(req)
	}
}
