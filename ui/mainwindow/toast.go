package mainwindow

import (
	"sync"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/widget"

	"vision-annotator/internal/notify"
)

// Toaster shows toasts in the status bar. Errors are also sent as desktop
// notifications. It can be created before the window exists; toasts that
// arrive earlier only go to the desktop.
type Toaster struct {
	app fyne.App

	mu    sync.Mutex
	label *widget.Label
}

var _ notify.Notifier = (*Toaster)(nil)

func NewToaster(app fyne.App) *Toaster {
	return &Toaster{app: app}
}

func (t *Toaster) bind(label *widget.Label) {
	t.mu.Lock()
	t.label = label
	t.mu.Unlock()
}

func (t *Toaster) Notify(toast notify.Toast) {
	text := toast.Title
	if toast.Message != "" {
		text += ": " + toast.Message
	}

	t.mu.Lock()
	label := t.label
	t.mu.Unlock()
	if label != nil {
		label.SetText(text)
	}
	if toast.Level == notify.LevelError || label == nil {
		t.app.SendNotification(fyne.NewNotification(toast.Title, toast.Message))
	}
}
