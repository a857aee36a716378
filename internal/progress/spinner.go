package progress

import (
	"time"

	"github.com/briandowns/spinner"
)

// Spinner shows activity while discovery enumerates suites. It degrades to
// nothing on non-TTY output so CI logs stay clean.
type Spinner struct {
	s *spinner.Spinner
}

// NewSpinner creates a spinner with the given suffix text. Returns a no-op
// spinner when the terminal cannot animate it.
func NewSpinner(caps TerminalCapabilities, suffix string) *Spinner {
	if !caps.IsTTY {
		return &Spinner{}
	}
	set := 9 // ASCII: | / - \
	if caps.SupportsUnicode {
		set = 14 // Braille dots
	}
	s := spinner.New(spinner.CharSets[set], 100*time.Millisecond)
	s.Suffix = " " + suffix
	return &Spinner{s: s}
}

// Start begins the animation.
func (sp *Spinner) Start() {
	if sp.s != nil {
		sp.s.Start()
	}
}

// Stop ends the animation and clears the line.
func (sp *Spinner) Stop() {
	if sp.s != nil {
		sp.s.Stop()
	}
}
