package middleware

import (
	"context"
	"time"

	"github.com/polaris-dashboard/polaris/rpc"
)

// Timeout makes the handler cancel the request's context after a specified time.
// Any timeout-sensitive functionality of the handler should listen on req.Context().Done() to know when to fail.
// Before exiting this middleware, request's original context is restored.
func Timeout(timeout time.Duration) rpc.HandlerMiddleware {
	return func(h rpc.HandlerFunc) rpc.HandlerFunc {
		return func(req *rpc.Request) error {
			orgCtx := req.Context()

			ctx, cancel := context.WithTimeout(orgCtx, timeout)
			defer func() {
				req.SetContext(orgCtx)
				cancel()
			}()

			req.SetContext(ctx)
			return h(req)
		}
	}
}
