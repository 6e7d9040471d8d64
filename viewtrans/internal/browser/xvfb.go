package browser

import (
	"fmt"
	"log/slog"
	"os/exec"
	"time"
)

// virtualDisplay is the Xvfb server backing headful tabs.
type virtualDisplay struct {
	display string
	logger  *slog.Logger
	cmd     *exec.Cmd
}

// start is a no-op when the server is already up.
func (d *virtualDisplay) start() error {
	if d.cmd != nil {
		return nil
	}
	cmd := exec.Command("Xvfb", d.display, "-screen", "0", "1920x1080x24", "-ac")
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start xvfb on %s: %w", d.display, err)
	}
	d.cmd = cmd

	// Chrome fails to attach if launched before Xvfb accepts clients.
	time.Sleep(500 * time.Millisecond)

	d.logger.Info("browser: xvfb started", "display", d.display, "pid", cmd.Process.Pid)
	return nil
}

func (d *virtualDisplay) stop() {
	if d.cmd == nil {
		return
	}
	if d.cmd.Process != nil {
		_ = d.cmd.Process.Kill()
		_ = d.cmd.Wait()
	}
	d.logger.Info("browser: xvfb stopped", "display", d.display)
	d.cmd = nil
}
