package jobs

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Capture collects a single job execution's stdout-, stderr- and log-style
// output into in-memory buffers. The executor places one Capture in the
// job's context; the job writes through it. Captures are never shared across
// executions, so concurrent jobs cannot interleave output.
type Capture struct {
	mu     sync.Mutex
	stdout bytes.Buffer
	stderr bytes.Buffer
	logs   bytes.Buffer
	logger zerolog.Logger
}

func NewCapture() *Capture {
	c := &Capture{}
	c.logger = zerolog.New(zerolog.ConsoleWriter{
		Out:        lockedWriter{c, &c.logs},
		NoColor:    true,
		TimeFormat: "15:04:05",
	}).With().Timestamp().Logger()
	return c
}

// lockedWriter serializes buffer writes against Format.
type lockedWriter struct {
	c   *Capture
	buf *bytes.Buffer
}

func (w lockedWriter) Write(p []byte) (int, error) {
	w.c.mu.Lock()
	defer w.c.mu.Unlock()
	return w.buf.Write(p)
}

// Stdout is the job's replacement for process stdout.
func (c *Capture) Stdout() io.Writer { return lockedWriter{c, &c.stdout} }

// Stderr is the job's replacement for process stderr.
func (c *Capture) Stderr() io.Writer { return lockedWriter{c, &c.stderr} }

// Logger returns the execution-scoped logger.
func (c *Capture) Logger() *zerolog.Logger { return &c.logger }

// Printf writes a formatted line to the captured stdout.
func (c *Capture) Printf(format string, args ...any) {
	fmt.Fprintf(c.Stdout(), format+"\n", args...)
}

// Format renders the captured output as labelled sections. Empty sections
// are omitted; an execution that produced nothing yields "".
func (c *Capture) Format() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var sections []string
	if c.stdout.Len() > 0 {
		sections = append(sections, "STDOUT:\n"+strings.TrimRight(c.stdout.String(), "\n"))
	}
	if c.stderr.Len() > 0 {
		sections = append(sections, "STDERR:\n"+strings.TrimRight(c.stderr.String(), "\n"))
	}
	if c.logs.Len() > 0 {
		sections = append(sections, "LOGS:\n"+strings.TrimRight(c.logs.String(), "\n"))
	}
	return strings.Join(sections, "\n\n")
}

type captureKey struct{}

// WithCapture returns a context carrying the execution's capture.
func WithCapture(ctx context.Context, c *Capture) context.Context {
	return context.WithValue(ctx, captureKey{}, c)
}

// CaptureFromContext returns the execution's capture, or nil outside a job.
func CaptureFromContext(ctx context.Context) *Capture {
	c, _ := ctx.Value(captureKey{}).(*Capture)
	return c
}

// Logger returns the execution-scoped logger from ctx, or a no-op logger
// when the function runs outside the executor.
func Logger(ctx context.Context) *zerolog.Logger {
	if c := CaptureFromContext(ctx); c != nil {
		return c.Logger()
	}
	nop := zerolog.Nop()
	return &nop
}
