// Package main provides the entry point for the Vision Annotator application.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	fyneapp "fyne.io/fyne/v2/app"
	"github.com/sirupsen/logrus"

	"vision-annotator/internal/annotation"
	"vision-annotator/internal/app"
	"vision-annotator/internal/config"
	"vision-annotator/internal/navigation"
	"vision-annotator/internal/notify"
	"vision-annotator/internal/persist"
	"vision-annotator/internal/reconcile"
	"vision-annotator/internal/sam"
	"vision-annotator/internal/version"
	"vision-annotator/internal/viewport"
	"vision-annotator/internal/workspace"
	applog "vision-annotator/pkg/log"
	"vision-annotator/pkg/platform"
	"vision-annotator/pkg/segmentation"
	"vision-annotator/ui/mainwindow"
	"vision-annotator/ui/prefs"
)

const appID = "com.example.vision-annotator"

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	log := applog.NewLogger(applog.Options{Level: cfg.LogLevel, File: cfg.LogFile, Env: cfg.AppEnv})
	log.WithFields(logrus.Fields{"version": version.Version, "commit": version.GitCommit}).Info("starting")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fyneApp := fyneapp.NewWithID(appID)
	fyneApp.Settings().SetTheme(&app.Theme{})

	toaster := mainwindow.NewToaster(fyneApp)
	notifier := notify.Fanout{notify.NewLogger(log), toaster}

	client := platform.NewClient(cfg.APIURL, cfg.APIToken,
		platform.WithLogger(log),
		platform.WithUserAgent(version.UserAgent()))

	seg, closeSeg := newSegmenter(cfg, log)
	defer closeSeg()

	store := annotation.NewStore()
	bridge := persist.NewBridge(client, store, notifier, log)
	mgr := sam.NewManager(seg, bridge, notifier, log, sam.Options{
		Timeout:      cfg.SAMTimeout,
		Rate:         cfg.SAMRate,
		Burst:        cfg.SAMBurst,
		DefaultLabel: "object",
	})
	rec := reconcile.New(mgr, store, log)
	view := viewport.NewController(viewport.Limits{
		MinScale: cfg.ViewMinScale,
		MaxScale: cfg.ViewMaxScale,
		Step:     cfg.ViewZoomStep,
	})
	comp := workspace.New(store, view, bridge, mgr, rec, notifier, log, workspace.Options{Context: ctx})

	nav := navigation.New(client, notifier, log, navigation.Options{
		Radius:  cfg.PrefetchRadius,
		MaxDim:  cfg.PrefetchMaxDim,
		Workers: 2,
	})
	nav.SetFlush(comp.Flush)

	appPrefs := prefs.Load()
	win := mainwindow.New(ctx, fyneApp, cfg, comp, nav, appPrefs, toaster, log)

	if cfg.ProjectID != "" && cfg.JobID != "" {
		start := appPrefs.Int(prefs.KeyImageIndex, 0)
		go func() {
			if err := nav.Load(ctx, cfg.ProjectID, cfg.JobID, start); err != nil {
				log.WithFields(logrus.Fields{"error": err.Error()}).Error("[main] job not loaded")
			}
		}()
	} else {
		log.Warn("[main] PROJECT_ID and JOB_ID not set; nothing to annotate")
	}

	if cfg.AppEnv == "development" {
		setupHotReload(win, log)
	}

	win.ShowAndRun()
}

// newSegmenter picks the segmentation transport. The returned func releases it.
func newSegmenter(cfg *config.Config, log *logrus.Logger) (segmentation.Segmenter, func()) {
	if cfg.SAMTransport == "ws" {
		ws := segmentation.NewWSClient(cfg.SAMURL, log)
		return ws, func() { _ = ws.Close() }
	}
	return segmentation.NewHTTPClient(cfg.SAMURL, log), func() {}
}

// setupHotReload offers a restart when the binary is rebuilt.
func setupHotReload(win *mainwindow.MainWindow, log *logrus.Logger) {
	reloader := app.NewReloader(2*time.Second, log)
	if reloader == nil {
		log.Warn("[main] hot reload: unable to determine executable path")
		return
	}
	reloader.OnNewBinary(func() {
		win.OfferRestart(reloader.Restart, func() {
			reloader.ResetBaseline()
			reloader.Start()
		})
	})
	reloader.Start()
}
