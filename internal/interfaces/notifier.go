package interfaces

// NotifyKind classifies outbound notifications.
type NotifyKind string

const (
	NotifyInfo    NotifyKind = "info"
	NotifyWarning NotifyKind = "warning"
	NotifyError   NotifyKind = "error"
)

// Notification is a user-visible notice emitted by the core.
type Notification struct {
	Kind        NotifyKind `json:"kind"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
}

// NotifyHandler receives notifications that pass deduplication.
type NotifyHandler func(n Notification)

// Notifier is the outbound notification sink. Each distinct condition fires
// at most once until explicitly reset, so a flapping connector cannot spam
// the user.
type Notifier interface {
	// NotifyOnce emits the notification unless the condition has already
	// fired since its last reset. Returns true if the notification was sent.
	NotifyOnce(condition string, kind NotifyKind, title, description string) bool

	// ResetCondition re-arms a condition so it may fire again.
	ResetCondition(condition string)

	// Subscribe registers a handler for delivered notifications.
	Subscribe(handler NotifyHandler)
}
