// Package retry runs operations again after transient failures.
//
// Errors from pkg/errors are retried according to their type: network,
// rate limit and server errors are transient, everything else is returned
// at once. Untyped errors are retried; context cancellation never is.
//
//	err := retry.Do(ctx, retry.FromConfig(cfg.Retry, log), func() error {
//		return client.fetchPage(ctx, cursor)
//	})
//
// Set Config.PerType to wait longer after a rate limit than after a
// dropped connection.
package retry
