package host

import (
	"context"
	"os/exec"
	"runtime"
)

// ExecLauncher opens paths with the platform opener: cmd /C start on Windows, open on macOS,
// xdg-open elsewhere. It returns once the opener has been started.
type ExecLauncher struct{}

// Open starts the opener detached from ctx: the request that asked for it usually ends before
// the opened program does.
func (ExecLauncher) Open(_ context.Context, path string) error {
	cmd := openCommand(runtime.GOOS, path)
	if err := cmd.Start(); err != nil {
		return err
	}
	go cmd.Wait()
	return nil
}

func openCommand(goos, path string) *exec.Cmd {
	switch goos {
	case "windows":
		return exec.Command("cmd", "/C", "start", "", path)
	case "darwin":
		return exec.Command("open", path)
	default:
		return exec.Command("xdg-open", path)
	}
}
