//go:build !windows

package worker

import (
	"os"
	"syscall"
)

// softStop asks the subprocess to wind down before the hard kill.
func softStop(p *os.Process) {
	p.Signal(syscall.SIGTERM)
}
