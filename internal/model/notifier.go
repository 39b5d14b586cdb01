package model

// Notifier defines a generic interface for sending notifications. body is
// HTML.
type Notifier interface {
	Send(subject, body string) error
}
