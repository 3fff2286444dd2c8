// Package tray provides a system tray interface for the visiond recognition
// daemon.
package tray

import (
	"sync"

	"github.com/getlantern/systray"
)

// Tray represents the system tray application.
type Tray struct {
	onRecognize   func()
	onCloudToggle func(enabled bool)
	onClearCache  func()
	onQuit        func()
	cloudEnabled  bool
	mu            sync.RWMutex

	// Menu items stored for later updates
	menuLastResult *systray.MenuItem
}

// New creates a new Tray instance.
func New() *Tray {
	return &Tray{}
}

// OnRecognize sets the callback for the recognize menu item.
func (t *Tray) OnRecognize(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onRecognize = fn
}

// OnCloudToggle sets the callback for the cloud fallback checkbox.
func (t *Tray) OnCloudToggle(fn func(enabled bool)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onCloudToggle = fn
}

// SetCloudEnabled sets the initial state of the cloud fallback checkbox.
// Call before Run.
func (t *Tray) SetCloudEnabled(enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cloudEnabled = enabled
}

// OnClearCache sets the callback for the clear-cache menu item.
func (t *Tray) OnClearCache(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onClearCache = fn
}

// OnQuit sets the callback for the quit menu item.
func (t *Tray) OnQuit(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onQuit = fn
}

// Run starts the system tray application.
// This function blocks until systray.Quit() is called.
func (t *Tray) Run() {
	systray.Run(t.onReady, t.onExit)
}

// onReady is called when the system tray is ready.
// It sets up the menu structure.
func (t *Tray) onReady() {
	systray.SetTitle("NVDA Vision")
	systray.SetTooltip("NVDA Vision Screen Recognition")

	menuRecognize := systray.AddMenuItem("Recognize Screen", "Recognize the current screen")
	systray.AddSeparator()

	t.menuLastResult = systray.AddMenuItem("Last: none", "Last recognition result")
	t.menuLastResult.Disable()
	systray.AddSeparator()

	t.mu.RLock()
	cloudEnabled := t.cloudEnabled
	t.mu.RUnlock()
	menuCloud := systray.AddMenuItemCheckbox("Cloud Fallback", "Allow cloud API fallback", cloudEnabled)

	menuClearCache := systray.AddMenuItem("Clear Cache", "Clear the recognition cache")
	systray.AddSeparator()

	menuQuit := systray.AddMenuItem("Quit", "Quit NVDA Vision")

	// Handle menu item clicks in a separate goroutine
	go func() {
		for {
			select {
			case <-menuRecognize.ClickedCh:
				t.handleRecognize()
			case <-menuCloud.ClickedCh:
				if menuCloud.Checked() {
					menuCloud.Uncheck()
				} else {
					menuCloud.Check()
				}
				t.handleCloudToggle(menuCloud.Checked())
			case <-menuClearCache.ClickedCh:
				t.handleClearCache()
			case <-menuQuit.ClickedCh:
				t.handleQuit()
				return
			}
		}
	}()
}

// onExit is called when the system tray is about to exit.
func (t *Tray) onExit() {
}

func (t *Tray) handleRecognize() {
	t.mu.RLock()
	callback := t.onRecognize
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}
}

func (t *Tray) handleCloudToggle(enabled bool) {
	t.mu.Lock()
	t.cloudEnabled = enabled
	callback := t.onCloudToggle
	t.mu.Unlock()

	if callback != nil {
		callback(enabled)
	}
}

func (t *Tray) handleClearCache() {
	t.mu.RLock()
	callback := t.onClearCache
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}
}

func (t *Tray) handleQuit() {
	t.mu.RLock()
	callback := t.onQuit
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}

	systray.Quit()
}

// SetLastResult updates the last result display in the menu.
func (t *Tray) SetLastResult(summary string) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.menuLastResult != nil {
		if summary == "" {
			t.menuLastResult.SetTitle("Last: none")
		} else {
			t.menuLastResult.SetTitle("Last: " + summary)
		}
	}
}
