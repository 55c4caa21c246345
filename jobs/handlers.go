package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/vialibre/vialibre/internal/enforcement"
	"github.com/vialibre/vialibre/internal/notifications"
)

// NotificationDeliverer is the worker-side sink for queued notifications.
type NotificationDeliverer interface {
	Deliver(ctx context.Context, payload notifications.DeliverPayload) error
}

// NewNotifyHandler processes TaskTypeNotify tasks.
func NewNotifyHandler(deliverer NotificationDeliverer) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload notifications.DeliverPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		return deliverer.Deliver(ctx, payload)
	}
}

// NewInfractionReviewHandler processes the periodic cancellation sweep.
func NewInfractionReviewHandler(svc *enforcement.Service, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		cancelled, err := svc.ReviewPending(ctx, 0)
		if err != nil {
			return err
		}
		if logger != nil {
			logger.Info("infraction review sweep", slog.Int("cancelled", cancelled))
		}
		return nil
	}
}
