package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/medcia/medreminder/internal/domain"
)

// DefaultAppName is used in subjects and bodies when no name is configured.
const DefaultAppName = "MedCia"

// TimeLayout is the layout of the scheduled time shown to the recipient.
const TimeLayout = "2006-01-02 15:04"

// Message is the channel-independent content of one reminder notification.
type Message struct {
	Subject string
	Body    string
}

// Render builds the notification for r with the scheduled time shown in loc.
// A nil loc renders in UTC.
func Render(r domain.Reminder, appName string, loc *time.Location) Message {
	if strings.TrimSpace(appName) == "" {
		appName = DefaultAppName
	}
	if loc == nil {
		loc = time.UTC
	}
	name := strings.TrimSpace(r.Medicine.Name)
	at := r.ScheduledAt.In(loc).Format(TimeLayout)

	return Message{
		Subject: fmt.Sprintf("%s reminder: %s", appName, name),
		Body: fmt.Sprintf("Reminder for medicine: %s\nTime: %s\n\nThis is an automated reminder from %s.",
			name, at, appName),
	}
}

// Location returns the zone named tz, or fallback if tz is empty or unknown.
func Location(tz string, fallback *time.Location) *time.Location {
	if fallback == nil {
		fallback = time.UTC
	}
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return fallback
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return fallback
	}
	return loc
}
