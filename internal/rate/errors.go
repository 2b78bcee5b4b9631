package rate

import "errors"

var (
	// ErrRedisUnavailable is returned when Redis cannot serve a call that has
	// no memory fallback.
	ErrRedisUnavailable = errors.New("redis unavailable")
	// ErrInvalidPolicy is returned for policies without attempts or window.
	ErrInvalidPolicy = errors.New("invalid rate limit policy")
)
