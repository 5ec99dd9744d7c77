package queue

import (
	"time"

	"storepulse/pkg/model"
)

// StageEvent announces a terminal stage transition to downstream consumers
// (dashboard aggregators, exporters). The pipeline only publishes; it never
// consumes.
type StageEvent struct {
	FeedbackID string            `json:"feedback_id"`
	StoreID    string            `json:"store_id"`
	Stage      model.Stage       `json:"stage"`
	Status     model.StageStatus `json:"status"`
	Error      string            `json:"error,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}
