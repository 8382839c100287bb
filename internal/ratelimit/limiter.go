// Package ratelimit provides named-bucket sliding-window limiters keyed by caller.
package ratelimit

import (
	"errors"
	"time"
)

// Limit is the number of requests allowed per window
type Limit struct {
	Limit  int
	Window time.Duration
}

// Limiter decides whether a request identified by key may proceed in bucket
type Limiter interface {
	AllowNamed(bucket, key string) (bool, error)
}

var errMissingKey = errors.New("bucket and key required")

func lookup(limits map[string]Limit, bucket string) Limit {
	if l, ok := limits[bucket]; ok {
		return l
	}
	if l, ok := limits["default"]; ok {
		return l
	}
	return Limit{Limit: 60, Window: time.Minute}
}

// PerMinute is shorthand for a one-minute window
func PerMinute(n int) Limit {
	return Limit{Limit: n, Window: time.Minute}
}
