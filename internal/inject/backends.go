package inject

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/atotto/clipboard"
)

// Backend is one OS-level mechanism for delivering text or key chords into
// the focused application.
type Backend interface {
	Name() string
	Available() bool
	// TypeText emits the literal characters.
	TypeText(ctx context.Context, text string) error
	// PressKey emits a chord like "ctrl+z", "Return" or "BackSpace".
	PressKey(ctx context.Context, chord string) error
}

// runFunc executes an external tool. Swapped for a fake in tests.
type runFunc func(ctx context.Context, name string, args ...string) error

func runCommand(ctx context.Context, name string, args ...string) error {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// xdotoolBackend drives the X11 test tool; also usable for XWayland
// clients when an X socket is present.
type xdotoolBackend struct {
	run runFunc
}

func (b *xdotoolBackend) Name() string { return "xdotool" }

func (b *xdotoolBackend) Available() bool {
	_, err := exec.LookPath("xdotool")
	return err == nil
}

func (b *xdotoolBackend) TypeText(ctx context.Context, text string) error {
	return b.run(ctx, "xdotool", "type", "--clearmodifiers", "--delay", "12", "--", text)
}

func (b *xdotoolBackend) PressKey(ctx context.Context, chord string) error {
	return b.run(ctx, "xdotool", "key", "--clearmodifiers", chord)
}

// wtypeBackend drives the Wayland virtual-keyboard protocol.
type wtypeBackend struct {
	run runFunc
}

func (b *wtypeBackend) Name() string { return "wtype" }

func (b *wtypeBackend) Available() bool {
	_, err := exec.LookPath("wtype")
	return err == nil
}

func (b *wtypeBackend) TypeText(ctx context.Context, text string) error {
	return b.run(ctx, "wtype", "--", text)
}

func (b *wtypeBackend) PressKey(ctx context.Context, chord string) error {
	parts := strings.Split(chord, "+")
	key := parts[len(parts)-1]
	mods := parts[:len(parts)-1]

	args := make([]string, 0, len(mods)*4+2)
	for _, m := range mods {
		args = append(args, "-M", m)
	}
	args = append(args, "-k", key)
	for i := len(mods) - 1; i >= 0; i-- {
		args = append(args, "-m", mods[i])
	}
	return b.run(ctx, "wtype", args...)
}

// ydotoolBackend drives the uinput-based tool; works on any compositor but
// needs the ydotoold daemon and uinput permissions.
type ydotoolBackend struct {
	run runFunc
}

func (b *ydotoolBackend) Name() string { return "ydotool" }

func (b *ydotoolBackend) Available() bool {
	_, err := exec.LookPath("ydotool")
	return err == nil
}

func (b *ydotoolBackend) TypeText(ctx context.Context, text string) error {
	return b.run(ctx, "ydotool", "type", "--", text)
}

func (b *ydotoolBackend) PressKey(ctx context.Context, chord string) error {
	return b.run(ctx, "ydotool", "key", chord)
}

// clipboardBackend is the last resort for literals: place the text on the
// clipboard and paste it through the first key-capable tool. Key chords are
// not supported, so actions fall through past it.
type clipboardBackend struct {
	keyers []Backend
}

func (b *clipboardBackend) Name() string { return "clipboard" }

func (b *clipboardBackend) Available() bool {
	if clipboard.Unsupported {
		return false
	}
	for _, k := range b.keyers {
		if k.Available() {
			return true
		}
	}
	return false
}

func (b *clipboardBackend) TypeText(ctx context.Context, text string) error {
	if err := clipboard.WriteAll(text); err != nil {
		return fmt.Errorf("write clipboard: %w", err)
	}
	var lastErr error
	for _, k := range b.keyers {
		if !k.Available() {
			continue
		}
		if err := k.PressKey(ctx, "ctrl+v"); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	if lastErr != nil {
		return fmt.Errorf("paste keystroke: %w", lastErr)
	}
	return fmt.Errorf("no key-capable tool for paste")
}

func (b *clipboardBackend) PressKey(context.Context, string) error {
	return fmt.Errorf("clipboard backend cannot press keys")
}
