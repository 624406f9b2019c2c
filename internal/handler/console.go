package handler

import (
	"bytes"
	"context"
	"os/exec"
	"syscall"
	"time"
)

// RegisterConsoleHandlers wires run_console and run_powershell under
// action_name "Console", the two handlers the spec ships by default,
// adapted from runinator-plugin-console's Command-spawn-and-kill shape:
// own process group, kill the whole group on timeout instead of just the
// immediate child (a shell's children would otherwise survive it).
func RegisterConsoleHandlers(r *Registry) error {
	if err := r.Register("Console", "run_console", consoleHandler("/bin/sh", "-c")); err != nil {
		return err
	}
	return r.Register("Console", "run_powershell", consoleHandler("pwsh", "-Command"))
}

func consoleHandler(shell string, shellFlag string) Func {
	return func(ctx context.Context, configuration []byte, deadline time.Time) Outcome {
		cmd := exec.Command(shell, shellFlag, string(configuration))
		cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

		var stdout, stderr bytes.Buffer
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr

		if err := cmd.Start(); err != nil {
			return Outcome{Kind: Failure, Message: "spawn failed: " + err.Error(), Retryable: true}
		}

		done := make(chan error, 1)
		go func() { done <- cmd.Wait() }()

		select {
		case err := <-done:
			if err != nil {
				return Outcome{Kind: Failure, Message: stderr.String(), Retryable: false}
			}
			return Outcome{Kind: Success, Stdout: stdout.String()}
		case <-ctx.Done():
			killProcessGroup(cmd)
			<-done
			return Outcome{Kind: Timeout, Message: "handler exceeded timeout_ms"}
		}
	}
}

// killProcessGroup kills the whole process group the shell and its
// children belong to — a single kill on the shell's own PID would leave
// grandchildren running, since Setpgid makes the shell its own group
// leader.
func killProcessGroup(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
}
