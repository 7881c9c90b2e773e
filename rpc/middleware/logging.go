package middleware

import (
	"time"

	"github.com/polaris-dashboard/polaris"
	"github.com/polaris-dashboard/polaris/rpc"
)

// Logging logs every handled request with its correlation id and handling duration.
// Failures are logged on Info level, the consumer logs them on its own when replying.
func Logging(logger polaris.LoggerAdapter) rpc.HandlerMiddleware {
	if logger == nil {
		logger = polaris.NopLogger{}
	}

	return func(h rpc.HandlerFunc) rpc.HandlerFunc {
		return func(req *rpc.Request) error {
			start := time.Now()

			fields := polaris.LogFields{
				"topic":          req.Topic(),
				"correlation_id": req.CorrelationID(),
			}
			logger.Debug("Handling request", fields)

			err := h(req)

			fields = fields.Add(polaris.LogFields{
				"duration": time.Since(start),
				"replied":  req.Replied(),
			})
			if err != nil {
				logger.Info("Request handling failed", fields.Add(polaris.LogFields{"err": err}))
				return err
			}

			logger.Debug("Request handled", fields)
			return nil
		}
	}
}
