package domain

type NotificationType string

const (
	NotificationBookingRequested    NotificationType = "booking_requested"
	NotificationBookingConfirmed    NotificationType = "booking_confirmed"
	NotificationBookingDeclined     NotificationType = "booking_declined"
	NotificationBookingCancelled    NotificationType = "booking_cancelled"
	NotificationTimeChangeRequested NotificationType = "time_change_requested"
	NotificationJobCancelled        NotificationType = "job_cancelled"
)

// Notification is the message handed to the notification collaborator.
type Notification struct {
	RecipientID     string           `json:"recipientId"`
	Content         string           `json:"content"`
	Type            NotificationType `json:"type"`
	RelatedEntityID string           `json:"relatedEntityId"`
}
