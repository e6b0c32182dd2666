// Package app holds process-level helpers shared by the desktop entry point.
package app

import (
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
)

// Reloader watches the running binary and calls back once when a rebuilt
// version appears on disk. It is only started in development.
type Reloader struct {
	execPath string
	interval time.Duration
	log      *logrus.Logger

	mu       sync.Mutex
	baseline time.Time
	stopCh   chan struct{}
	onChange func()
}

// NewReloader returns nil when the executable cannot be located.
func NewReloader(interval time.Duration, log *logrus.Logger) *Reloader {
	execPath, err := os.Executable()
	if err != nil {
		return nil
	}
	if resolved, err := filepath.EvalSymlinks(execPath); err == nil {
		execPath = resolved
	}
	return newReloader(execPath, interval, log)
}

func newReloader(execPath string, interval time.Duration, log *logrus.Logger) *Reloader {
	info, err := os.Stat(execPath)
	if err != nil {
		return nil
	}
	return &Reloader{
		execPath: execPath,
		interval: interval,
		log:      log,
		baseline: info.ModTime(),
	}
}

// OnNewBinary sets the callback. It runs on the watcher goroutine.
func (r *Reloader) OnNewBinary(fn func()) {
	r.mu.Lock()
	r.onChange = fn
	r.mu.Unlock()
}

func (r *Reloader) Start() {
	r.mu.Lock()
	r.stopCh = make(chan struct{})
	stop := r.stopCh
	r.mu.Unlock()

	r.log.WithField("path", r.execPath).Debug("watching binary")
	go r.watch(stop)
}

func (r *Reloader) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopCh != nil {
		close(r.stopCh)
		r.stopCh = nil
	}
}

func (r *Reloader) watch(stop chan struct{}) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if !r.changed() {
				continue
			}
			r.mu.Lock()
			fn := r.onChange
			r.mu.Unlock()
			r.log.Info("newer binary detected")
			if fn != nil {
				fn()
			}
			return
		}
	}
}

func (r *Reloader) changed() bool {
	info, err := os.Stat(r.execPath)
	if err != nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return info.ModTime().After(r.baseline)
}

// ResetBaseline accepts the current binary so a declined restart is not
// offered again.
func (r *Reloader) ResetBaseline() {
	if info, err := os.Stat(r.execPath); err == nil {
		r.mu.Lock()
		r.baseline = info.ModTime()
		r.mu.Unlock()
	}
}

// Restart replaces the process with the rebuilt binary. It does not return
// on success.
func (r *Reloader) Restart() error {
	return syscall.Exec(r.execPath, os.Args, os.Environ())
}
