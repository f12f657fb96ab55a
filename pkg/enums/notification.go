package enums

// NotificationChannel selects the delivery path of a notification job.
type NotificationChannel string

const (
	NotificationChannelPush  NotificationChannel = "push"
	NotificationChannelEmail NotificationChannel = "email"
)

// IsValid reports whether the value is a known channel.
func (c NotificationChannel) IsValid() bool {
	return c == NotificationChannelPush || c == NotificationChannelEmail
}
