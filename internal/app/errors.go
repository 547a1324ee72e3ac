package service

import "errors"

// ErrNotStarted is returned when the service is used before Start.
var ErrNotStarted = errors.New("service not started")
