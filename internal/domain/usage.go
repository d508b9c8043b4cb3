package domain

import "time"

// UsageLog is one finished job's traffic against the remote instance.
type UsageLog struct {
	UserID        string
	JobID         string
	BytesSent     int64
	BytesReceived int64
	ComputeTimeMS int64
	CreatedAt     time.Time
}
