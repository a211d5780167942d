// Package broker carries deployment log lines between build workers and stream sessions.
package broker

import "context"

// LogChannel is the channel log lines of one deployment are published on.
func LogChannel(deploymentID string) string {
	return "deployment-logs:" + deploymentID
}

// Publisher sends messages on the shared connection.
type Publisher interface {
	Publish(ctx context.Context, channel string, message string) error
}

// Subscriber opens subscriptions bound to exactly one channel.
type Subscriber interface {
	Subscribe(ctx context.Context, channel string) (Subscription, error)
}

// Subscription is a live subscription owning its own connection.
type Subscription interface {
	// Messages yields payloads until the subscription is closed.
	Messages() <-chan string
	Unsubscribe(ctx context.Context) error
	// Close releases the dedicated connection. It is safe to call more than once.
	Close() error
}
