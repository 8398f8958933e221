//go:build !linux

package gps

import "io"

// pollable leaves the port blocking. A pending read ends with the next byte.
func pollable(port io.ReadWriteCloser, _ string) (io.ReadWriteCloser, error) {
	return port, nil
}
