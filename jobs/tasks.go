package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"

	"github.com/vialibre/vialibre/internal/notifications"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeNotify is the task type for delivering account notifications.
	TaskTypeNotify = "notify:send"
	// TaskTypeInfractionReview is the periodic cancellation sweep over open
	// citations with linked sessions.
	TaskTypeInfractionReview = "infractions:review"
)

// NewNotifyTask constructs an Asynq task carrying a notification payload.
func NewNotifyTask(payload notifications.DeliverPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeNotify, data), nil
}

// NewInfractionReviewTask constructs the sweep task. It carries no payload.
func NewInfractionReviewTask() *asynq.Task {
	return asynq.NewTask(TaskTypeInfractionReview, nil)
}
