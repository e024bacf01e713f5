// Package resilience provides the connection retry primitive shared by the
// hardware link and the MQTT link.
//
// ConnectWithRetry calls a connect-style function until it succeeds, sleeping
// between attempts with a multiplicative backoff:
//
//	delay(0) = initial
//	delay(k) = min(delay(k-1) * 1.5, 60s)
//
// There is no jitter. Only transient errors (see IsTransient) are retried;
// anything else is returned to the caller unchanged. Sleeps are interruptible
// through the context so a shutdown signal never waits out a long backoff.
//
// Usage:
//
//	ok, err := resilience.ConnectWithRetry(ctx, func(ctx context.Context) error {
//	    return conn.Connect(ctx, addr)
//	}, resilience.Options{Name: "brickd", Logger: log})
package resilience
