package inject

import "os"

// DetectDisplayServer resolves which windowing system the desktop session
// runs under. A forced mode from configuration wins; otherwise the session
// environment decides, preferring the explicit XDG marker over the display
// socket variables.
func DetectDisplayServer(forced string) string {
	switch forced {
	case "x11", "wayland":
		return forced
	}
	switch os.Getenv("XDG_SESSION_TYPE") {
	case "x11":
		return "x11"
	case "wayland":
		return "wayland"
	}
	if os.Getenv("WAYLAND_DISPLAY") != "" {
		return "wayland"
	}
	return "x11"
}

// hasXWayland reports whether an X socket is reachable from a Wayland
// session, which lets the X11 tooling work on XWayland clients.
func hasXWayland() bool {
	return os.Getenv("DISPLAY") != ""
}
