package notify

import (
	"fmt"
	"time"

	"github.com/marwanabdalla1/ServiceHub-sub001/internal/domain"
)

// Builders name every field they forward. Nothing else from the request,
// job or slot reaches the notification.

func BookingRequested(req domain.ServiceRequest, slot domain.Timeslot, loc *time.Location) domain.Notification {
	return domain.Notification{
		RecipientID:     req.ProviderID,
		Content:         fmt.Sprintf("New booking request for %s.", formatSlot(slot, loc)),
		Type:            domain.NotificationBookingRequested,
		RelatedEntityID: req.ID.String(),
	}
}

func BookingConfirmed(req domain.ServiceRequest, job domain.Job, slot domain.Timeslot, loc *time.Location) domain.Notification {
	return domain.Notification{
		RecipientID:     req.RequesterID,
		Content:         fmt.Sprintf("Your booking for %s was confirmed.", formatSlot(slot, loc)),
		Type:            domain.NotificationBookingConfirmed,
		RelatedEntityID: job.ID.String(),
	}
}

func BookingDeclined(req domain.ServiceRequest) domain.Notification {
	return domain.Notification{
		RecipientID:     req.RequesterID,
		Content:         "Your booking request was declined.",
		Type:            domain.NotificationBookingDeclined,
		RelatedEntityID: req.ID.String(),
	}
}

func BookingCancelled(req domain.ServiceRequest) domain.Notification {
	return domain.Notification{
		RecipientID:     req.ProviderID,
		Content:         "A booking request was cancelled.",
		Type:            domain.NotificationBookingCancelled,
		RelatedEntityID: req.ID.String(),
	}
}

func TimeChangeRequested(req domain.ServiceRequest, recipientID string, slot domain.Timeslot, loc *time.Location) domain.Notification {
	return domain.Notification{
		RecipientID:     recipientID,
		Content:         fmt.Sprintf("A booking was moved to %s.", formatSlot(slot, loc)),
		Type:            domain.NotificationTimeChangeRequested,
		RelatedEntityID: req.ID.String(),
	}
}

func JobCancelled(job domain.Job, recipientID string) domain.Notification {
	return domain.Notification{
		RecipientID:     recipientID,
		Content:         "A scheduled job was cancelled.",
		Type:            domain.NotificationJobCancelled,
		RelatedEntityID: job.ID.String(),
	}
}

func formatSlot(slot domain.Timeslot, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	start := slot.Start.In(loc)
	end := slot.End.In(loc)
	return fmt.Sprintf("%s %s-%s", start.Format("Mon, Jan 2"), start.Format("15:04"), end.Format("15:04"))
}
