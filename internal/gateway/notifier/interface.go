package notifier

// TextNotifier defines a minimal text notification interface.
// Desk components depend on it instead of the concrete Telegram client.
type TextNotifier interface {
	SendText(text string) error
}
