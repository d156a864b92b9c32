// Package insert delivers text to the focused application via the clipboard
// and a synthesized paste keystroke.
package insert

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/atotto/clipboard"
	"github.com/micmonay/keybd_event"

	"murmur/internal/domain"
)

const (
	clipboardSettle = 80 * time.Millisecond
	restoreDelay    = 120 * time.Millisecond
)

// clipboardIO is the system clipboard.
type clipboardIO interface {
	ReadAll() (string, error)
	WriteAll(text string) error
}

type systemClipboard struct{}

func (systemClipboard) ReadAll() (string, error)   { return clipboard.ReadAll() }
func (systemClipboard) WriteAll(text string) error { return clipboard.WriteAll(text) }

// paster sends the platform paste shortcut.
type paster interface {
	Paste() error
}

type keyboardPaster struct {
	once sync.Once
	kb   keybd_event.KeyBonding
	err  error
}

func (p *keyboardPaster) init() error {
	p.once.Do(func() {
		p.kb, p.err = keybd_event.NewKeyBonding()
		if p.err == nil && runtime.GOOS == "linux" {
			// uinput needs a moment before the virtual device accepts events.
			time.Sleep(2 * time.Second)
		}
	})
	return p.err
}

func (p *keyboardPaster) Paste() error {
	if err := p.init(); err != nil {
		return fmt.Errorf("keyboard unavailable: %w", err)
	}
	p.kb.Clear()
	if runtime.GOOS == "darwin" {
		p.kb.HasSuper(true)
	} else {
		p.kb.HasCTRL(true)
	}
	p.kb.SetKeys(keybd_event.VK_V)
	return p.kb.Launching()
}

// Clipboard implements ports.Clipboard.
type Clipboard struct {
	io clipboardIO
}

func NewClipboard() *Clipboard {
	return &Clipboard{io: systemClipboard{}}
}

func (c *Clipboard) SetText(_ context.Context, text string) error {
	if err := c.io.WriteAll(text); err != nil {
		return fmt.Errorf("write clipboard: %w", err)
	}
	return nil
}

// Paster implements ports.TextInserter. It restores the previous clipboard
// contents after the paste keystroke.
type Paster struct {
	io     clipboardIO
	keys   paster
	logger *slog.Logger
	sleep  func(time.Duration)
}

func NewPaster(logger *slog.Logger) *Paster {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Paster{
		io:     systemClipboard{},
		keys:   &keyboardPaster{},
		logger: logger.With("component", "insert"),
		sleep:  time.Sleep,
	}
}

func (p *Paster) InsertText(ctx context.Context, text string) error {
	original, readErr := p.io.ReadAll()
	if err := p.io.WriteAll(text); err != nil {
		return fmt.Errorf("write clipboard: %w", err)
	}
	p.sleep(clipboardSettle)
	if err := ctx.Err(); err != nil {
		p.restore(original, readErr)
		return err
	}
	if err := p.keys.Paste(); err != nil {
		return fmt.Errorf("paste keystroke: %w", err)
	}
	p.sleep(restoreDelay)
	p.restore(original, readErr)
	return nil
}

// restore puts back the clipboard contents read before the insert, if any.
func (p *Paster) restore(original string, readErr error) {
	if readErr != nil {
		return
	}
	if err := p.io.WriteAll(original); err != nil {
		p.logger.Warn("restore clipboard failed", "err", err)
	}
}

// Permissions reports whether capture and keystroke synthesis are possible.
type Permissions struct {
	uinputPath string
	captureCmd string
}

func NewPermissions(captureCommand string) *Permissions {
	return &Permissions{uinputPath: "/dev/uinput", captureCmd: captureCommand}
}

func (p *Permissions) HasMicrophoneAccess() bool {
	if p.captureCmd == "" {
		return true
	}
	_, err := exec.LookPath(p.captureCmd)
	return err == nil
}

// HasAccessibilityAccess on Linux means /dev/uinput is writable.
func (p *Permissions) HasAccessibilityAccess() bool {
	if runtime.GOOS != "linux" {
		return true
	}
	f, err := os.OpenFile(p.uinputPath, os.O_WRONLY, 0)
	if err != nil {
		return false
	}
	_ = f.Close()
	return true
}

// Foreground resolves the focused window through xdotool.
type Foreground struct {
	command string
	run     func(ctx context.Context, name string, args ...string) (string, error)
	procDir string
}

func NewForeground() *Foreground {
	return &Foreground{command: "xdotool", run: runOutput, procDir: "/proc"}
}

func runOutput(ctx context.Context, name string, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, name, args...).Output()
	return strings.TrimSpace(string(out)), err
}

// Current returns an empty identity when the focused window cannot be resolved.
func (f *Foreground) Current() domain.AppIdentity {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	name, err := f.run(ctx, f.command, "getactivewindow", "getwindowname")
	if err != nil {
		return domain.AppIdentity{}
	}
	app := domain.AppIdentity{Name: name}
	if pid, err := f.run(ctx, f.command, "getactivewindow", "getwindowpid"); err == nil {
		if _, convErr := strconv.Atoi(pid); convErr == nil {
			if comm, err := os.ReadFile(filepath.Join(f.procDir, pid, "comm")); err == nil {
				app.ID = strings.TrimSpace(string(comm))
			}
		}
	}
	return app
}
