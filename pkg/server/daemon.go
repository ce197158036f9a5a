package server

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"syscall"

	"github.com/marmos91/dittolog/internal/logger"
	"github.com/marmos91/dittolog/pkg/listener"
)

// Detacher continues the server in another process. It is called with the
// bound socket and the instance lock (nil when locking is disabled).
type Detacher func(sock *listener.Socket, lock *InstanceLock) error

// Detach re-executes the current binary in a new session with stdio on
// /dev/null. The bound socket and the lock are passed as extra descriptors so
// the child continues setup where the parent stopped.
func Detach(sock *listener.Socket, lock *InstanceLock) error {
	devNull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", os.DevNull, err)
	}
	defer func() { _ = devNull.Close() }()

	cmd, err := detachCommand(sock, lock, devNull)
	if err != nil {
		return err
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start background process: %w", err)
	}
	logger.Info("Started background process %d", cmd.Process.Pid)

	return cmd.Process.Release()
}

func detachCommand(sock *listener.Socket, lock *InstanceLock, devNull *os.File) (*exec.Cmd, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("failed to locate executable: %w", err)
	}

	file := sock.File()
	if file == nil {
		return nil, fmt.Errorf("socket is no longer available")
	}

	cmd := exec.Command(exe, os.Args[1:]...)
	cmd.Stdin = devNull
	cmd.Stdout = devNull
	cmd.Stderr = devNull
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	// ExtraFiles[i] becomes descriptor 3+i in the child.
	cmd.ExtraFiles = []*os.File{file}
	cmd.Env = append(os.Environ(), listener.EnvInheritFD+"=3")

	if lock != nil {
		cmd.ExtraFiles = append(cmd.ExtraFiles, lock.File())
		cmd.Env = append(cmd.Env, EnvInheritLock+"="+strconv.Itoa(3+len(cmd.ExtraFiles)-1))
	}

	return cmd, nil
}
