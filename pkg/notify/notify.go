// Package notify is the fire-and-forget event sink. Game logic calls Notify
// and moves on; delivery is best-effort and consumers re-poll for the
// authoritative state.
package notify

import "go.uber.org/zap"

// Notifier pushes a short user-facing event. Implementations must never
// block the caller.
type Notifier interface {
	Notify(title, body string)
}

// Nop drops everything. Useful in tests and headless runs.
type Nop struct{}

func (Nop) Notify(string, string) {}

// Logger writes notifications to the structured log instead of a transport.
type Logger struct {
	Log *zap.Logger
}

func (l Logger) Notify(title, body string) {
	l.Log.Info("notify", zap.String("title", title), zap.String("body", body))
}

// Fanout forwards to every sink in order.
type Fanout []Notifier

func (f Fanout) Notify(title, body string) {
	for _, n := range f {
		n.Notify(title, body)
	}
}
