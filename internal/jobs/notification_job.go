package jobs

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/u9rzm/barinya-bot/internal/queue"
	"github.com/u9rzm/barinya-bot/internal/services/notification"
)

const (
	// NotifyPointsEarnedJobType delivers a points-earned message
	NotifyPointsEarnedJobType queue.JobType = "notify_points_earned"
	// NotifyLevelUpJobType delivers a tier promotion message
	NotifyLevelUpJobType queue.JobType = "notify_level_up"
	// NotifyReferralRewardJobType delivers a referral commission message
	NotifyReferralRewardJobType queue.JobType = "notify_referral_reward"
	// NotifyPromotionJobType delivers one recipient's copy of a promotion broadcast
	NotifyPromotionJobType queue.JobType = "notify_promotion"

	notificationMaxRetries = 3
)

var jobTypeByKind = map[notification.Kind]queue.JobType{
	notification.KindPointsEarned:   NotifyPointsEarnedJobType,
	notification.KindLevelUp:        NotifyLevelUpJobType,
	notification.KindReferralReward: NotifyReferralRewardJobType,
	notification.KindPromotion:      NotifyPromotionJobType,
}

// Enqueuer is the part of the queue the notifier needs
type Enqueuer interface {
	Enqueue(ctx context.Context, jobType queue.JobType, payload interface{}, opts ...queue.EnqueueOption) (string, error)
}

// QueueNotifier hands notifications to the job queue instead of sending them inline
type QueueNotifier struct {
	queue Enqueuer
}

// NewQueueNotifier creates a notifier that enqueues onto q
func NewQueueNotifier(q Enqueuer) *QueueNotifier {
	return &QueueNotifier{queue: q}
}

// Notify enqueues n as a delivery job
func (n *QueueNotifier) Notify(ctx context.Context, note notification.Notification) error {
	jobType, ok := jobTypeByKind[note.Kind]
	if !ok {
		return fmt.Errorf("no job type for notification kind %q", note.Kind)
	}
	if _, err := n.queue.Enqueue(ctx, jobType, note, queue.WithMaxRetry(notificationMaxRetries)); err != nil {
		return fmt.Errorf("failed to enqueue %s notification: %w", note.Kind, err)
	}
	return nil
}

// NotificationJob delivers queued notifications through a Sender.
// Users who blocked the bot are deactivated through the Deactivator.
type NotificationJob struct {
	sender      notification.Sender
	deactivator notification.Deactivator
}

// NewNotificationJob creates a new notification job handler
func NewNotificationJob(sender notification.Sender, deactivator notification.Deactivator) *NotificationJob {
	return &NotificationJob{sender: sender, deactivator: deactivator}
}

// RegisterNotificationJobHandlers registers the delivery handler for every notification job type
func RegisterNotificationJobHandlers(q *queue.RedisQueue, sender notification.Sender, deactivator notification.Deactivator) {
	handler := NewNotificationJob(sender, deactivator)
	for _, jobType := range jobTypeByKind {
		q.RegisterHandler(jobType, handler.Process)
	}
}

// Process decodes and sends one notification
func (j *NotificationJob) Process(ctx context.Context, job queue.Job) error {
	var note notification.Notification
	if err := json.Unmarshal(job.Payload, &note); err != nil {
		return fmt.Errorf("failed to unmarshal notification payload: %w", err)
	}
	if expected, ok := jobTypeByKind[note.Kind]; !ok || expected != job.Type {
		return fmt.Errorf("notification kind %q does not match job type %s", note.Kind, job.Type)
	}
	if note.TelegramID == 0 {
		return fmt.Errorf("notification for user %s has no telegram id", note.UserID)
	}
	return notification.Deliver(ctx, j.sender, j.deactivator, note)
}
