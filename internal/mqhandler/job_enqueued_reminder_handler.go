package mqhandler

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"letterdesk/internal/events"
	"letterdesk/internal/jobs"
	"letterdesk/internal/reminder"
	"letterdesk/pkg/logger"
)

// ReminderScheduler is the part of the scheduler the handler uses.
type ReminderScheduler interface {
	Schedule(ctx context.Context, job jobs.Job) ([]reminder.Reminder, error)
}

type JobEnqueuedReminderHandler struct {
	scheduler ReminderScheduler
	logger    *zap.Logger
}

func NewJobEnqueuedReminderHandler(s ReminderScheduler, logger *zap.Logger) *JobEnqueuedReminderHandler {
	return &JobEnqueuedReminderHandler{scheduler: s, logger: logger}
}

// Handle schedules the follow-ups of a new job. Scheduling skips steps that
// already exist, so redelivery is harmless.
func (h *JobEnqueuedReminderHandler) Handle(ctx context.Context, raw json.RawMessage) error {
	evt, err := events.Decode[events.JobEnqueued](raw)
	if err != nil {
		h.logger.Error("Failed to unmarshal job enqueued payload", zap.Error(err))
		return fmt.Errorf("decode %s: %w", events.KeyJobEnqueued, err)
	}

	_, err = h.scheduler.Schedule(ctx, jobs.Job{
		LetterID:    evt.LetterID,
		Email:       evt.Email,
		Bureau:      evt.Bureau,
		DisputeType: evt.DisputeType,
		RoundName:   evt.RoundName,
		PhoneCached: evt.Phone,
		SMSOptIn:    evt.SMSOptIn,
		CreatedAt:   evt.CreatedAt,
	})
	if err != nil {
		logger.WithTrace(ctx, h.logger).Warn("Failed to schedule reminders",
			zap.String("letter_id", evt.LetterID), zap.Error(err))
		return err
	}
	return nil
}
