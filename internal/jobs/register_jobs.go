package jobs

import (
	"github.com/u9rzm/barinya-bot/internal/queue"
	"github.com/u9rzm/barinya-bot/internal/services/notification"
)

// RegisterAllJobHandlers registers all job handlers with the queue
func RegisterAllJobHandlers(q *queue.RedisQueue, sender notification.Sender, deactivator notification.Deactivator) {
	RegisterNotificationJobHandlers(q, sender, deactivator)
}
