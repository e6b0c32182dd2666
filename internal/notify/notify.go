// Package notify delivers non-blocking user notifications (toasts).
package notify

import (
	"sync"

	"github.com/sirupsen/logrus"

	"vision-annotator/internal/apperr"
)

// Level is the severity of a toast.
type Level int

const (
	LevelInfo Level = iota
	LevelSuccess
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelSuccess:
		return "success"
	case LevelError:
		return "error"
	default:
		return "info"
	}
}

// Toast is one user-visible notification.
type Toast struct {
	Level   Level
	Title   string
	Message string
}

// Notifier shows toasts. Implementations must not block the caller.
type Notifier interface {
	Notify(t Toast)
}

// Func adapts a function to Notifier.
type Func func(Toast)

func (f Func) Notify(t Toast) { f(t) }

// Error reports err as an error toast. Concurrency errors are dropped silently.
func Error(n Notifier, title string, err error) {
	if n == nil || err == nil {
		return
	}
	if apperr.KindOf(err) == apperr.Concurrency {
		return
	}
	n.Notify(Toast{Level: LevelError, Title: title, Message: err.Error()})
}

// Success reports a success toast.
func Success(n Notifier, title, msg string) {
	if n == nil {
		return
	}
	n.Notify(Toast{Level: LevelSuccess, Title: title, Message: msg})
}

// Logger writes toasts to a logrus logger.
type Logger struct {
	log *logrus.Logger
}

func NewLogger(log *logrus.Logger) *Logger {
	return &Logger{log: log}
}

func (l *Logger) Notify(t Toast) {
	entry := l.log.WithFields(logrus.Fields{"title": t.Title, "level": t.Level.String()})
	if t.Level == LevelError {
		entry.Warn("[notify.Notify] " + t.Message)
		return
	}
	entry.Info("[notify.Notify] " + t.Message)
}

// Fanout forwards each toast to every notifier.
type Fanout []Notifier

func (f Fanout) Notify(t Toast) {
	for _, n := range f {
		if n != nil {
			n.Notify(t)
		}
	}
}

// Recorder keeps toasts in memory. Useful for tests and a toast history panel.
type Recorder struct {
	mu     sync.Mutex
	toasts []Toast
}

func (r *Recorder) Notify(t Toast) {
	r.mu.Lock()
	r.toasts = append(r.toasts, t)
	r.mu.Unlock()
}

// Toasts returns a copy of everything recorded so far.
func (r *Recorder) Toasts() []Toast {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Toast(nil), r.toasts...)
}

// Errors returns only the error toasts.
func (r *Recorder) Errors() []Toast {
	var out []Toast
	for _, t := range r.Toasts() {
		if t.Level == LevelError {
			out = append(out, t)
		}
	}
	return out
}

// Reset clears the recorder.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.toasts = nil
	r.mu.Unlock()
}
