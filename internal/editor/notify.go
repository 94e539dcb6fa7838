package editor

import (
	"log/slog"
	"sync"
)

type Variant string

const (
	VariantDefault     Variant = "default"
	VariantDestructive Variant = "destructive"
)

// Notification is a user-facing toast.
type Notification struct {
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Variant     Variant `json:"variant"`
}

type Notifier interface {
	Notify(n Notification)
}

// LogNotifier writes notifications to a slog logger.
type LogNotifier struct {
	Logger *slog.Logger
}

func (l LogNotifier) Notify(n Notification) {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if n.Variant == VariantDestructive {
		logger.Warn(n.Title, "description", n.Description)
		return
	}
	logger.Info(n.Title, "description", n.Description)
}

// Recorder keeps notifications in order. With a positive Limit only the
// newest Limit notifications are kept.
type Recorder struct {
	Limit int

	mu    sync.Mutex
	items []Notification
}

func (r *Recorder) Notify(n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, n)
	if r.Limit > 0 && len(r.items) > r.Limit {
		r.items = append(r.items[:0], r.items[len(r.items)-r.Limit:]...)
	}
}

func (r *Recorder) Notifications() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Notification, len(r.items))
	copy(out, r.items)
	return out
}

// Notifiers fans a notification out to several notifiers.
type Notifiers []Notifier

func (ns Notifiers) Notify(n Notification) {
	for _, notifier := range ns {
		if notifier != nil {
			notifier.Notify(n)
		}
	}
}
