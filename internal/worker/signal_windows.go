//go:build windows

package worker

import "os"

// softStop has no graceful equivalent on Windows; Kill follows after the
// grace period either way.
func softStop(p *os.Process) {
	p.Kill()
}
