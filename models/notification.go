package models

import (
	"encoding/json"
	"time"
)

type NotificationType string

const (
	NotificationInfo     NotificationType = "info"
	NotificationSuccess  NotificationType = "success"
	NotificationError    NotificationType = "error"
	NotificationPayment  NotificationType = "payment"
	NotificationReminder NotificationType = "reminder"
	NotificationLogin    NotificationType = "login"
)

func (t NotificationType) Valid() bool {
	switch t {
	case NotificationInfo, NotificationSuccess, NotificationError,
		NotificationPayment, NotificationReminder, NotificationLogin:
		return true
	}
	return false
}

// UnmarshalJSON folds unknown or missing types into info.
func (t *NotificationType) UnmarshalJSON(b []byte) error {
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*t = NotificationType(raw)
	if !t.Valid() {
		*t = NotificationInfo
	}
	return nil
}

type Notification struct {
	ID        string           `json:"id"`
	Title     string           `json:"title"`
	Message   string           `json:"message"`
	Type      NotificationType `json:"type"`
	Read      bool             `json:"read"`
	CreatedAt time.Time        `json:"createdAt"`
}
