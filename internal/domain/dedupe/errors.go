package dedupe

import "errors"

// ErrInFlight reports that an idempotency key is reserved by a request that has not finished.
var ErrInFlight = errors.New("request with this idempotency key is in flight")
