// Package notify raises desktop notifications.
package notify

import (
	"sync"

	"github.com/gen2brain/beeep"

	"github.com/wmaitre1/teen-adhd-assistan-sub000/internal/voice/dispatch"
)

const appName = "FocusVoice"

// maxMessage is the longest message shown before truncation.
const maxMessage = 100

// Notifier sends desktop notifications while enabled.
type Notifier struct {
	icon string
	send func(title, message, icon string) error

	mu      sync.Mutex
	enabled bool
}

var _ dispatch.Notifier = (*Notifier)(nil)

// Option configures a [Notifier].
type Option func(*Notifier)

// WithIcon sets the notification icon path.
func WithIcon(path string) Option {
	return func(n *Notifier) { n.icon = path }
}

// WithSender replaces the platform notification call.
func WithSender(send func(title, message, icon string) error) Option {
	return func(n *Notifier) { n.send = send }
}

// New creates a Notifier.
func New(enabled bool, opts ...Option) *Notifier {
	n := &Notifier{
		enabled: enabled,
		send: func(title, message, icon string) error {
			return beeep.Notify(title, message, icon)
		},
	}
	for _, o := range opts {
		o(n)
	}
	return n
}

// SetEnabled turns notifications on or off.
func (n *Notifier) SetEnabled(enabled bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.enabled = enabled
}

// Notify implements [dispatch.Notifier]. It is a no-op while disabled.
func (n *Notifier) Notify(title, message string) error {
	n.mu.Lock()
	enabled := n.enabled
	n.mu.Unlock()
	if !enabled {
		return nil
	}

	if len(message) > maxMessage {
		message = message[:maxMessage] + "..."
	}
	full := appName
	if title != "" {
		full += ": " + title
	}
	return n.send(full, message, n.icon)
}
