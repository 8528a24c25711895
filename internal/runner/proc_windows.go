//go:build windows

package runner

import "os/exec"

func setProcessGroup(*exec.Cmd) {}

// Windows has no SIGTERM for console children; both steps kill.
func terminate(cmd *exec.Cmd) error {
	return kill(cmd)
}

func kill(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}
