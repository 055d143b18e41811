// Package browser drives a real Chromium instance over the Chrome DevTools
// Protocol (spec.md §4.6, component C6). It exposes only an opaque
// open-page / evaluate-script / close capability plus the action
// primitives the step translator's FormAction vocabulary needs; it never
// reads element state back.
package browser

import (
	"context"
	"math/rand/v2"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/opt-outta/engine/internal/errs"
)

const userDataDirName = "opt-outta-chrome"

// candidateBinaries lists Chromium executables to probe, most to least
// preferred, per OS.
func candidateBinaries() []string {
	switch runtime.GOOS {
	case "darwin":
		return []string{
			"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
			"/Applications/Chromium.app/Contents/MacOS/Chromium",
			"/Applications/Microsoft Edge.app/Contents/MacOS/Microsoft Edge",
		}
	case "windows":
		return []string{
			`C:\Program Files\Google\Chrome\Application\chrome.exe`,
			`C:\Program Files (x86)\Google\Chrome\Application\chrome.exe`,
			`C:\Program Files\Microsoft\Edge\Application\msedge.exe`,
		}
	default:
		return []string{
			"/usr/bin/google-chrome",
			"/usr/bin/google-chrome-stable",
			"/usr/bin/chromium",
			"/usr/bin/chromium-browser",
			"/snap/bin/chromium",
		}
	}
}

// FindChromeBinary returns the first candidate that exists on disk, or a
// Configuration error naming every path tried.
func FindChromeBinary() (string, error) {
	candidates := candidateBinaries()
	for _, path := range candidates {
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path, nil
		}
	}
	return "", errs.New(errs.KindConfiguration, "no Chromium binary found in "+strings.Join(candidates, ", "))
}

// Driver owns a single Chromium instance and the page it drives.
type Driver struct {
	binary      string
	userDataDir string
	allocCancel context.CancelFunc
	ctxCancel   context.CancelFunc
	ctx         context.Context
}

// New builds a Driver bound to the given Chromium binary. Call Launch
// before using it.
func New(binary string) *Driver {
	return &Driver{binary: binary, userDataDir: filepath.Join(os.TempDir(), userDataDirName)}
}

// Launch starts Chromium headful, in a dedicated user-data directory, with
// anti-automation hints, first cleaning up a stale singleton lock left by a
// previous crashed instance.
func (d *Driver) Launch(ctx context.Context) error {
	cleanupStaleLock(d.userDataDir)

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.ExecPath(d.binary),
		chromedp.UserDataDir(d.userDataDir),
		chromedp.Flag("headless", false),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("no-default-browser-check", true),
	)

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	browserCtx, ctxCancel := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		allocCancel()
		ctxCancel()
		return errs.Wrap(errs.KindDriver, "browser: launch chromium", err)
	}

	d.allocCancel = allocCancel
	d.ctxCancel = ctxCancel
	d.ctx = browserCtx
	return nil
}

// Close tears down the Chromium instance.
func (d *Driver) Close() {
	if d.ctxCancel != nil {
		d.ctxCancel()
	}
	if d.allocCancel != nil {
		d.allocCancel()
	}
}

// cleanupStaleLock reads a SingletonLock symlink (host-pid form) left by a
// crashed previous instance, kills the referenced pid if parseable, and
// removes the lock/socket files so the new launch does not refuse to start.
// Uses os.FindProcess/Process.Kill rather than syscall.Kill so this package
// still compiles on GOOS=windows, where syscall.Kill does not exist.
func cleanupStaleLock(userDataDir string) {
	lockPath := filepath.Join(userDataDir, "SingletonLock")
	target, err := os.Readlink(lockPath)
	if err == nil {
		if idx := strings.LastIndexByte(target, '-'); idx >= 0 {
			if pid, convErr := strconv.Atoi(target[idx+1:]); convErr == nil {
				if proc, findErr := os.FindProcess(pid); findErr == nil {
					_ = proc.Kill()
				}
			}
		}
	}
	_ = os.Remove(lockPath)
	_ = os.Remove(filepath.Join(userDataDir, "SingletonSocket"))
	_ = os.Remove(filepath.Join(userDataDir, "SingletonCookie"))
}

// humanDelay sleeps 500ms plus a uniform 0-999ms jitter before every action,
// matching the original implementation's human-like pacing.
func humanDelay(ctx context.Context) {
	d := 500*time.Millisecond + time.Duration(rand.IntN(1000))*time.Millisecond
	select {
	case <-time.After(d):
	case <-ctx.Done():
	}
}
