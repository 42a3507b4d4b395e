//go:build !windows

package utils

import (
	"syscall"
)

// Larger kernel buffers keep many concurrent range reads from stalling.
func setSocketOptions(fd uintptr) {
	syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_RCVBUF, 4*MB)
	syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_SNDBUF, 1*MB)
}
