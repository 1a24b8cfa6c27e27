package shared

import (
	"fmt"
	"os/exec"
	"runtime"
)

// browserCommands maps GOOS to the launcher for the default browser.
var browserCommands = map[string][]string{
	"darwin":  {"open"},
	"linux":   {"xdg-open"},
	"freebsd": {"xdg-open"},
	"windows": {"rundll32", "url.dll,FileProtocolHandler"},
}

// OpenBrowser starts the default browser on url without waiting for it to exit.
func OpenBrowser(url string) error {
	return openWith(runtime.GOOS, url)
}

func openWith(goos, url string) error {
	launcher, ok := browserCommands[goos]
	if !ok {
		return fmt.Errorf("%w: cannot open a browser on %s", ErrNotImplemented, goos)
	}

	args := append(launcher[1:len(launcher):len(launcher)], url)
	if err := exec.Command(launcher[0], args...).Start(); err != nil {
		return fmt.Errorf("failed to open browser: %w", err)
	}
	return nil
}
