package countstore

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

const (
	PeriodTotal  = "total"
	PeriodDay    = "day"
	PeriodHour   = "hour"
	PeriodMinute = "minute"
)

// CountStore tracks event frequencies shared across all bot instances.
//
// Period counters back the rate limiter, flood factor, and rolling
// violation counts. Sliding windows back the anti-raid join detector,
// which needs second-granularity rather than calendar buckets. Distinct
// counters estimate how many different users posted the same content
// hash (duplicate detection).
type CountStore interface {
	GetCount(ctx context.Context, name, val, period string) (int, error)
	Increment(ctx context.Context, name, val string) error
	IncrementPeriod(ctx context.Context, name, val, period string) error
	GetCountDistinct(ctx context.Context, name, bucket, period string) (int, error)
	IncrementDistinct(ctx context.Context, name, bucket, val string) error
	// AddToWindow records one event and returns the number of events
	// currently inside the sliding window, including this one.
	AddToWindow(ctx context.Context, name, val string, window time.Duration) (int, error)
	GetWindowCount(ctx context.Context, name, val string, window time.Duration) (int, error)
}

func periodBucket(name, val, period string) string {
	switch period {
	case PeriodTotal:
		return fmt.Sprintf("%s/%s", name, val)
	case PeriodDay:
		t := time.Now().UTC().Format(time.DateOnly)
		return fmt.Sprintf("%s/%s/%s", name, val, t)
	case PeriodHour:
		t := time.Now().UTC().Format(time.RFC3339)[0:13]
		return fmt.Sprintf("%s/%s/%s", name, val, t)
	case PeriodMinute:
		t := time.Now().UTC().Format(time.RFC3339)[0:16]
		return fmt.Sprintf("%s/%s/%s", name, val, t)
	default:
		slog.Warn("unhandled counter period", "period", period)
		return fmt.Sprintf("%s/%s", name, val)
	}
}

func windowBucket(name, val string) string {
	return fmt.Sprintf("%s/%s", name, val)
}
