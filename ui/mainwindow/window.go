// Package mainwindow provides the main application window.
package mainwindow

import (
	"context"
	"fmt"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/widget"
	"github.com/sirupsen/logrus"

	"vision-annotator/internal/config"
	"vision-annotator/internal/drawing"
	imgutil "vision-annotator/internal/image"
	"vision-annotator/internal/navigation"
	"vision-annotator/internal/sam"
	"vision-annotator/internal/version"
	"vision-annotator/internal/workspace"
	"vision-annotator/pkg/segmentation"
	"vision-annotator/ui/canvas"
	"vision-annotator/ui/prefs"
)

var models = []string{"sam_v1", "sam_v2", "sam_v3"}

var promptModes = []workspace.PromptMode{workspace.PromptNone, workspace.PromptPoint, workspace.PromptBox}

// MainWindow is the primary application window.
type MainWindow struct {
	fyne.Window
	app   fyne.App
	cfg   *config.Config
	comp  *workspace.Compositor
	nav   *navigation.Navigator
	prefs *prefs.Prefs
	log   *logrus.Logger
	ctx   context.Context

	canvas      *canvas.AnnotationCanvas
	statusBar   *widget.Label
	toastBar    *widget.Label
	position    *widget.Label
	labelEntry  *widget.Entry
	textEntry   *widget.Entry
	modeSelect  *widget.Select
	modelSelect *widget.Select
	sessionBtn  *widget.Button
}

// New creates the main window around an already wired compositor and
// navigator.
func New(ctx context.Context, fyneApp fyne.App, cfg *config.Config, comp *workspace.Compositor,
	nav *navigation.Navigator, p *prefs.Prefs, toaster *Toaster, log *logrus.Logger) *MainWindow {
	mw := &MainWindow{
		Window: fyneApp.NewWindow("Vision Annotator"),
		app:    fyneApp,
		cfg:    cfg,
		comp:   comp,
		nav:    nav,
		prefs:  p,
		log:    log,
		ctx:    ctx,
	}

	mw.setupUI()
	toaster.bind(mw.toastBar)
	mw.setupMenus()
	mw.setupEventHandlers()
	mw.restorePreferences()
	return mw
}

// setupUI creates the main UI layout.
func (mw *MainWindow) setupUI() {
	mw.canvas = canvas.NewAnnotationCanvas(mw.comp, mw.log)
	mw.statusBar = widget.NewLabel("Ready")
	mw.toastBar = widget.NewLabel("")
	mw.position = widget.NewLabel("-/-")

	content := container.NewBorder(
		mw.createToolbar(),
		container.NewPadded(container.NewBorder(nil, nil, nil, mw.toastBar, mw.statusBar)),
		nil,
		nil,
		mw.canvas,
	)
	mw.SetContent(content)
}

// createToolbar builds the drawing, prompt, session and navigation controls.
func (mw *MainWindow) createToolbar() fyne.CanvasObject {
	tools := container.NewHBox(
		widget.NewButton("Box (1)", func() { mw.comp.SetTool(drawing.ToolBox) }),
		widget.NewButton("Polygon (2)", func() { mw.comp.SetTool(drawing.ToolPolygon) }),
		widget.NewButton("Move (3)", func() { mw.comp.SetTool(drawing.ToolMove) }),
	)

	mw.labelEntry = widget.NewEntry()
	mw.labelEntry.SetPlaceHolder("label")
	mw.labelEntry.OnChanged = mw.comp.SetLabel

	modeNames := make([]string, len(promptModes))
	for i, m := range promptModes {
		modeNames[i] = m.String()
	}
	mw.modeSelect = widget.NewSelect(modeNames, func(s string) {
		for _, m := range promptModes {
			if m.String() == s {
				mw.comp.SetMode(m)
			}
		}
	})

	mw.textEntry = widget.NewEntry()
	mw.textEntry.SetPlaceHolder("find objects...")
	mw.textEntry.OnSubmitted = func(text string) { mw.comp.SegmentText(text) }

	mw.modelSelect = widget.NewSelect(models, mw.onModelChanged)
	mw.sessionBtn = widget.NewButton("Start AI", mw.onToggleSession)

	ai := container.NewHBox(
		widget.NewLabel("Prompt:"), mw.modeSelect,
		widget.NewButton("Find", func() { mw.comp.SegmentText(mw.textEntry.Text) }),
		widget.NewButton("Similar", mw.comp.FindSimilar),
		widget.NewButton("Propagate", mw.onPropagate),
		widget.NewButton("Accept all", mw.comp.AcceptAll),
		widget.NewButton("Reject all", mw.comp.RejectAll),
		mw.modelSelect,
		mw.sessionBtn,
	)

	nav := container.NewHBox(
		widget.NewButton("<", mw.onPrevious),
		mw.position,
		widget.NewButton(">", mw.onNext),
		widget.NewButton("Fit", mw.comp.Fit),
	)

	return container.NewVBox(
		container.NewBorder(nil, nil, tools, nav, mw.labelEntry),
		container.NewBorder(nil, nil, ai, nil, mw.textEntry),
	)
}

// setupMenus creates the application menus.
func (mw *MainWindow) setupMenus() {
	fileMenu := fyne.NewMenu("File",
		fyne.NewMenuItem("Save Pending", mw.onFlush),
		fyne.NewMenuItemSeparator(),
		fyne.NewMenuItem("Quit", mw.onClose),
	)
	viewMenu := fyne.NewMenu("View",
		fyne.NewMenuItem("Fit to Window", mw.comp.Fit),
		fyne.NewMenuItem("Next Image", mw.onNext),
		fyne.NewMenuItem("Previous Image", mw.onPrevious),
	)
	helpMenu := fyne.NewMenu("Help",
		fyne.NewMenuItem("About", mw.onAbout),
	)
	mw.SetMainMenu(fyne.NewMainMenu(fileMenu, viewMenu, helpMenu))
}

// setupEventHandlers registers for application events.
func (mw *MainWindow) setupEventHandlers() {
	mw.canvas.OnStatus(mw.statusBar.SetText)

	mw.comp.Session().On(sam.EventSessionChanged, func(interface{}) {
		mw.updateSessionButton()
	})

	mw.nav.OnChange(func(pos navigation.Position) {
		mw.position.SetText(fmt.Sprintf("%d/%d %s", pos.Index+1, pos.Total, pos.Image.Filename))
		mw.prefs.SetInt(prefs.KeyImageIndex, pos.Index)
		go mw.showImage(pos)
	})

	mw.Canvas().SetOnTypedKey(func(ev *fyne.KeyEvent) {
		switch ev.Name {
		case fyne.KeyRight, fyne.KeyPageDown:
			mw.onNext()
		case fyne.KeyLeft, fyne.KeyPageUp:
			mw.onPrevious()
		default:
			mw.canvas.TypedKey(ev)
		}
	})

	mw.SetCloseIntercept(mw.onClose)
}

// showImage decodes the image for pos and binds the canvas to it.
func (mw *MainWindow) showImage(pos navigation.Position) {
	img, err := mw.nav.Image(mw.ctx, pos.Image.ID)
	if err != nil {
		mw.log.WithFields(logrus.Fields{"image_id": pos.Image.ID, "error": err.Error()}).Error("[mainwindow.showImage] image unavailable")
		return
	}
	if current, ok := mw.nav.Current(); !ok || current.Image.ID != pos.Image.ID {
		return
	}

	w, h := imgutil.Size(img)
	if pos.Image.Width > 0 && pos.Image.Height > 0 {
		w, h = pos.Image.Width, pos.Image.Height
	}
	mw.comp.Open(mw.cfg.ProjectID, pos.Image.ID, float64(w), float64(h))
	mw.canvas.SetImage(img)
	mw.SetTitle(fmt.Sprintf("Vision Annotator - %s", pos.Image.Filename))
}

func (mw *MainWindow) restorePreferences() {
	w := mw.prefs.FloatWithFallback(prefs.KeyWindowWidth, 1280)
	h := mw.prefs.FloatWithFallback(prefs.KeyWindowHeight, 860)
	mw.Resize(fyne.NewSize(float32(w), float32(h)))

	for _, t := range []drawing.Tool{drawing.ToolBox, drawing.ToolPolygon, drawing.ToolMove} {
		if t.String() == mw.prefs.String(prefs.KeyTool) {
			mw.comp.SetTool(t)
		}
	}
	mode := mw.prefs.String(prefs.KeyPromptMode)
	if mode == "" {
		mode = workspace.PromptNone.String()
	}
	mw.modeSelect.SetSelected(mode)

	if label := mw.prefs.String(prefs.KeyLabel); label != "" {
		mw.labelEntry.SetText(label)
	}
	mw.modelSelect.SetSelected(mw.cfg.SAMModel)
	mw.updateSessionButton()
}

func (mw *MainWindow) savePreferences() {
	size := mw.Canvas().Size()
	mw.prefs.SetFloat(prefs.KeyWindowWidth, float64(size.Width))
	mw.prefs.SetFloat(prefs.KeyWindowHeight, float64(size.Height))
	mw.prefs.SetString(prefs.KeyTool, mw.comp.Machine().Tool().String())
	mw.prefs.SetString(prefs.KeyPromptMode, mw.comp.Mode().String())
	mw.prefs.SetString(prefs.KeyLabel, mw.labelEntry.Text)
	if err := mw.prefs.Save(); err != nil {
		mw.log.WithFields(logrus.Fields{"error": err.Error()}).Warn("[mainwindow.savePreferences] preferences not saved")
	}
}

func (mw *MainWindow) modelConfig() segmentation.ModelConfig {
	model := mw.modelSelect.Selected
	if model == "" {
		model = mw.cfg.SAMModel
	}
	return segmentation.ModelConfig{Model: model, Device: mw.cfg.SAMDevice, Precision: mw.cfg.SAMPrecision}
}

func (mw *MainWindow) updateSessionButton() {
	s := mw.comp.Session().Session()
	switch {
	case s.IsLoading():
		mw.sessionBtn.SetText("Loading...")
		mw.sessionBtn.Disable()
	case s.IsActive():
		mw.sessionBtn.SetText("End AI")
		mw.sessionBtn.Enable()
	default:
		mw.sessionBtn.SetText("Start AI")
		mw.sessionBtn.Enable()
	}
}

// Menu and toolbar action handlers

func (mw *MainWindow) onToggleSession() {
	mgr := mw.comp.Session()
	if mgr.Session().IsActive() {
		go func() { _ = mgr.EndSession(mw.ctx) }()
		return
	}
	cfg := mw.modelConfig()
	go func() { _ = mgr.CreateSession(mw.ctx, cfg) }()
}

func (mw *MainWindow) onModelChanged(model string) {
	mgr := mw.comp.Session()
	if !mgr.Session().IsActive() || mgr.Session().Config.Model == model {
		return
	}
	cfg := mw.modelConfig()
	go func() { _ = mgr.SwitchModel(mw.ctx, cfg) }()
}

func (mw *MainWindow) onPropagate() {
	if prev := mw.nav.PreviousID(); prev != "" {
		mw.comp.Propagate(prev)
	}
}

func (mw *MainWindow) onNext() {
	go func() { _, _ = mw.nav.Next(mw.ctx) }()
}

func (mw *MainWindow) onPrevious() {
	go func() { _, _ = mw.nav.Previous(mw.ctx) }()
}

func (mw *MainWindow) onFlush() {
	go func() { _ = mw.comp.Flush(mw.ctx) }()
}

func (mw *MainWindow) onClose() {
	mw.savePreferences()
	if err := mw.comp.Flush(mw.ctx); err != nil {
		mw.log.WithFields(logrus.Fields{"error": err.Error()}).Warn("[mainwindow.onClose] unsaved annotations remain")
	}
	mw.comp.Session().Close(mw.ctx)
	mw.nav.Close()
	mw.Window.Close()
	mw.app.Quit()
}

func (mw *MainWindow) onAbout() {
	dialog.ShowInformation("About Vision Annotator",
		fmt.Sprintf("Vision Annotator v%s\n\n"+
			"Image annotation with AI-assisted segmentation.\n\n"+
			"Built: %s\n"+
			"Commit: %s",
			version.Version, version.BuildTime, version.GitCommit),
		mw.Window)
}

// OfferRestart asks whether to restart into a rebuilt binary. Preferences and
// pending edits are saved first; decline is called when the user says no.
func (mw *MainWindow) OfferRestart(restart func() error, decline func()) {
	dialog.ShowConfirm("New Version Available", "The application binary has been updated.\nRestart now?",
		func(ok bool) {
			if !ok {
				decline()
				return
			}
			mw.savePreferences()
			_ = mw.comp.Flush(mw.ctx)
			if err := restart(); err != nil {
				mw.log.WithFields(logrus.Fields{"error": err.Error()}).Error("[mainwindow.OfferRestart] restart failed")
			}
		}, mw.Window)
}
