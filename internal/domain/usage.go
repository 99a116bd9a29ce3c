package domain

import "time"

type UsageLog struct {
	JobID         string
	SourceBytes   int64
	OutputBytes   int64
	ComputeTimeMS int64
	CreatedAt     time.Time
}
