package progress

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/fatih/color"
)

// Severity selects the color of a console line.
type Severity int

const (
	// Info lines are uncolored.
	Info Severity = iota
	// Passed lines are green.
	Passed
	// Failed lines are red.
	Failed
	// Warning lines are yellow.
	Warning
)

var severityColors = map[Severity]*color.Color{
	Passed:  color.New(color.FgGreen),
	Failed:  color.New(color.FgRed),
	Warning: color.New(color.FgYellow),
}

// Writer serializes console output from the scheduler and all worker slots.
// Lines carry a timestamp and, for worker messages, [PID:pool] [ID:queue]
// markers so interleaved output stays attributable.
type Writer struct {
	mu  sync.Mutex
	out io.Writer
	now func() time.Time
}

// NewWriter creates a Writer targeting out. A nil out means os.Stdout.
func NewWriter(out io.Writer) *Writer {
	if out == nil {
		out = os.Stdout
	}
	return &Writer{out: out, now: time.Now}
}

// Write prints one timestamped line.
func (w *Writer) Write(msg string) {
	w.write(Info, msg)
}

// Warn prints one timestamped warning line.
func (w *Writer) Warn(msg string) {
	w.write(Warning, msg)
}

func (w *Writer) write(sev Severity, msg string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	stamp := w.now().Format("2006-01-02 15:04:05.000000")
	fmt.Fprintf(w.out, "%s %s\n", stamp, w.colored(sev, msg))
}

// WriteWithID prints a line attributed to a worker slot and queue index.
func (w *Writer) WriteWithID(poolID, queueIndex int, sev Severity, msg string) {
	w.write(sev, fmt.Sprintf("[PID:%d] [ID:%d] %s", poolID, queueIndex, msg))
}

func (w *Writer) colored(sev Severity, msg string) string {
	c, ok := severityColors[sev]
	if !ok {
		return msg
	}
	return c.Sprint(msg)
}
