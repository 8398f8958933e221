//go:build linux

package gps

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/sys/unix"
)

// pollable swaps the blocking descriptor go-serial returns for a
// non-blocking duplicate registered with the runtime poller. Read deadlines
// then apply to the port and Close interrupts a pending read. A quiet line
// reports a timeout, never EOF.
func pollable(port io.ReadWriteCloser, path string) (io.ReadWriteCloser, error) {
	f, ok := port.(*os.File)
	if !ok {
		return port, nil
	}
	defer f.Close()

	rc, err := f.SyscallConn()
	if err != nil {
		return nil, err
	}
	fd := -1
	var dupErr error
	if err := rc.Control(func(s uintptr) {
		fd, dupErr = unix.FcntlInt(s, unix.F_DUPFD_CLOEXEC, 0)
	}); err != nil {
		return nil, err
	}
	if dupErr != nil {
		return nil, fmt.Errorf("dup %s: %w", path, dupErr)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("nonblock %s: %w", path, err)
	}
	return os.NewFile(uintptr(fd), path), nil
}
