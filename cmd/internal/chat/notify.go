package chat

// Notifier is the capability interface for user-facing alerts (desktop
// notification, sound). It is injected into the Session so the client
// core stays testable without a display or audio device.
type Notifier interface {
	Notify(title, body string)
	PlaySound()
}

// NopNotifier discards all alerts. The default when nothing is injected.
type NopNotifier struct{}

func (NopNotifier) Notify(string, string) {}
func (NopNotifier) PlaySound()            {}
