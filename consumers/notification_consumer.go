package consumers

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"storefront/channel"
	"storefront/models"
	"storefront/store"
)

// RegisterNotificationConsumer prepends pushed notifications to the store.
func RegisterNotificationConsumer(ch *channel.Channel, notes *store.NotificationStore, log *slog.Logger) (off func()) {
	return ch.On(channel.EventNotification, func(ev channel.Event) {
		var n models.Notification
		if err := json.Unmarshal(ev.Data, &n); err != nil {
			log.Warn("invalid notification payload", slog.Any("err", err))
			return
		}
		notes.Add(normalize(n, time.Now()))
	})
}

func normalize(n models.Notification, now time.Time) models.Notification {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.Title == "" {
		n.Title = "Notification"
	}
	if !n.Type.Valid() {
		n.Type = models.NotificationInfo
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = now
	}
	n.Read = false
	return n
}
