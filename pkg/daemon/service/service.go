// Package service manages the a12rta systemd user service unit.
package service

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/modoterra/a12rta/pkg/transport/uds"
)

const unitName = "a12rta.service"

// Unit describes how the service runs the tailer.
type Unit struct {
	Binary   string
	Manifest string
	Socket   string
	LogFile  string
	Journal  bool
}

// Contents returns the systemd unit file.
func (u Unit) Contents() string {
	args := []string{u.Binary, "--filename", u.Manifest}
	if u.Socket != "" {
		args = append(args, "--socket", u.Socket)
	}
	if u.LogFile != "" {
		args = append(args, "--log-file", u.LogFile)
	}
	if u.Journal {
		args = append(args, "--journal")
	}
	for i, a := range args {
		args[i] = quoteArg(a)
	}

	return fmt.Sprintf(`[Unit]
Description=a12rta multi-host log tailer
After=network-online.target

[Service]
Type=notify
WorkingDirectory=%s
ExecStart=%s
Restart=on-failure
RestartSec=5

[Install]
WantedBy=default.target
`, quoteArg(filepath.Dir(u.Manifest)), strings.Join(args, " "))
}

// quoteArg quotes a word for a systemd command line when it needs it.
func quoteArg(s string) string {
	if s != "" && !strings.ContainsAny(s, " \t\"'\\") {
		return s
	}
	return strconv.Quote(s)
}

// UnitPath returns the path to the systemd user unit file.
func UnitPath() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine user config directory: %w", err)
	}
	return filepath.Join(configDir, "systemd", "user", unitName), nil
}

// Install writes the unit file, reloads systemd, and enables+starts the service.
// An empty Binary means the running executable.
func Install(u Unit) error {
	if u.Binary == "" {
		exe, err := os.Executable()
		if err != nil {
			return fmt.Errorf("cannot resolve a12rta path: %w", err)
		}
		u.Binary = exe
	}
	manifest, err := filepath.Abs(u.Manifest)
	if err != nil {
		return fmt.Errorf("cannot resolve manifest path: %w", err)
	}
	if _, err := os.Stat(manifest); err != nil {
		return fmt.Errorf("manifest: %w", err)
	}
	u.Manifest = manifest

	unitPath, err := UnitPath()
	if err != nil {
		return err
	}
	if err := writeUnit(unitPath, u); err != nil {
		return err
	}

	if err := systemctl("daemon-reload"); err != nil {
		return err
	}
	return systemctl("enable", "--now", unitName)
}

func writeUnit(path string, u Unit) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cannot create directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(u.Contents()), 0o644); err != nil {
		return fmt.Errorf("cannot write unit file: %w", err)
	}
	return nil
}

// Uninstall stops+disables the service, removes the unit file, and reloads systemd.
func Uninstall() error {
	// Not running or not enabled is fine here.
	_ = systemctl("stop", unitName)
	_ = systemctl("disable", unitName)

	unitPath, err := UnitPath()
	if err != nil {
		return err
	}
	if err := os.Remove(unitPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("cannot remove unit file: %w", err)
	}
	return systemctl("daemon-reload")
}

// Status returns a human-readable status string.
func Status(socketPath string) string {
	lines := []string{socketStatus(socketPath)}

	unitPath, err := UnitPath()
	if err == nil {
		if _, statErr := os.Stat(unitPath); statErr == nil {
			lines = append(lines, "systemd user service: "+unitState())
		} else {
			lines = append(lines, "systemd user service: not installed")
		}
	}
	return strings.Join(lines, "\n")
}

func socketStatus(socketPath string) string {
	client, err := uds.Dial(socketPath)
	if err != nil {
		return "control socket: inactive (" + socketPath + ")"
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var pong uds.PingResponse
	if err := client.Call(ctx, uds.MethodPing, nil, &pong); err != nil {
		return "control socket: not responding (" + socketPath + ")"
	}
	return fmt.Sprintf("control socket: active (%s, run %s)", socketPath, pong.RunID)
}

func unitState() string {
	out, err := exec.Command("systemctl", "--user", "is-active", unitName).Output()
	state := strings.TrimSpace(string(out))
	if err != nil && state == "" {
		return "unknown"
	}
	return state
}

var systemctl = func(args ...string) error {
	cmd := exec.Command("systemctl", append([]string{"--user"}, args...)...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("systemctl --user %s: %w", strings.Join(args, " "), err)
	}
	return nil
}
