package host

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
)

// Desktop sets an image file as the desktop background.
type Desktop interface {
	SetImage(ctx context.Context, path string) error
}

// ExecDesktop drives the platform's wallpaper tools: osascript on macOS, SystemParametersInfo
// through PowerShell on Windows, gsettings and then feh elsewhere. Unlike ExecLauncher it waits
// for the tool to finish.
type ExecDesktop struct{}

func (ExecDesktop) SetImage(ctx context.Context, path string) error {
	var errs []string
	for _, cmd := range wallpaperCommands(ctx, runtime.GOOS, path) {
		out, err := cmd.CombinedOutput()
		if err == nil {
			return nil
		}
		errs = append(errs, fmt.Sprintf("%s: %v %s", cmd.Args[0], err, bytes.TrimSpace(out)))
	}
	return fmt.Errorf("failed to set wallpaper: %s", strings.Join(errs, "; "))
}

// wallpaperCommands lists the commands to try in order; the first that succeeds wins.
func wallpaperCommands(ctx context.Context, goos, path string) []*exec.Cmd {
	switch goos {
	case "darwin":
		script := fmt.Sprintf(`tell application "System Events" to tell every desktop to set picture to %q`, path)
		return []*exec.Cmd{exec.CommandContext(ctx, "osascript", "-e", script)}
	case "windows":
		// SPI_SETDESKWALLPAPER = 20, SPIF_UPDATEINIFILE|SPIF_SENDCHANGE = 3
		script := `Add-Type -TypeDefinition 'using System.Runtime.InteropServices; public class W { [DllImport("user32.dll", CharSet = CharSet.Unicode)] public static extern int SystemParametersInfo(int a, int b, string c, int d); }'; ` +
			`if ([W]::SystemParametersInfo(20, 0, '` + strings.ReplaceAll(path, "'", "''") + `', 3) -eq 0) { exit 1 }`
		return []*exec.Cmd{exec.CommandContext(ctx, "powershell", "-NoProfile", "-NonInteractive", "-Command", script)}
	default:
		return []*exec.Cmd{
			exec.CommandContext(ctx, "gsettings", "set", "org.gnome.desktop.background", "picture-uri", "file://"+path),
			exec.CommandContext(ctx, "feh", "--bg-scale", path),
		}
	}
}
