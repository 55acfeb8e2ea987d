package domain

import "time"

// LinkMetrics is what the publisher learns about the ingest link from RTCP
// receiver reports.
type LinkMetrics struct {
	Timestamp    time.Time
	FractionLost float64
	TotalLost    int64
	Jitter       time.Duration
	RoundTrip    time.Duration
}

type LinkQuality string

const (
	LinkGood     LinkQuality = "good"
	LinkDegraded LinkQuality = "degraded"
)
