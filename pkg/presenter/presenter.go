// Package presenter provides consistent CLI output for user-facing messages:
// success, error, warning, and informational output with color support and a
// quiet mode for scripting.
package presenter

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

// ColorMode controls when output is colorized.
type ColorMode int

const (
	// ColorAuto enables color only when writing to a terminal.
	ColorAuto ColorMode = iota
	// ColorAlways forces colorized output.
	ColorAlways
	// ColorNever disables colorized output.
	ColorNever
)

// Presenter writes user-facing CLI messages.
type Presenter struct {
	output      io.Writer
	errorOutput io.Writer
	colorMode   ColorMode
	quiet       bool
}

// New creates a Presenter writing to stdout/stderr with automatic color detection.
func New() *Presenter {
	return &Presenter{
		output:      os.Stdout,
		errorOutput: os.Stderr,
		colorMode:   colorModeFromEnv(),
	}
}

// NewWithWriters creates a Presenter with custom writers, used in tests.
func NewWithWriters(out, errOut io.Writer, mode ColorMode) *Presenter {
	return &Presenter{output: out, errorOutput: errOut, colorMode: mode}
}

func colorModeFromEnv() ColorMode {
	if os.Getenv("NO_COLOR") != "" {
		return ColorNever
	}
	switch strings.ToLower(os.Getenv("SKILLLOOP_COLOR")) {
	case "always":
		return ColorAlways
	case "never":
		return ColorNever
	}
	return ColorAuto
}

func (p *Presenter) colorize() bool {
	switch p.colorMode {
	case ColorAlways:
		return true
	case ColorNever:
		return false
	default:
		f, ok := p.output.(*os.File)
		return ok && isatty.IsTerminal(f.Fd())
	}
}

func (p *Presenter) sprintf(c *color.Color, format string, args ...interface{}) string {
	if p.colorize() {
		return c.Sprintf(format, args...)
	}
	return fmt.Sprintf(format, args...)
}

// SetQuiet suppresses non-error output.
func (p *Presenter) SetQuiet(quiet bool) { p.quiet = quiet }

// IsQuiet reports whether quiet mode is enabled.
func (p *Presenter) IsQuiet() bool { return p.quiet }

// Error writes an error message with optional context to the error output.
// Errors are always shown, even in quiet mode.
func (p *Presenter) Error(err error, context string) {
	msg := context
	if err != nil {
		if msg != "" {
			msg = fmt.Sprintf("%s: %v", context, err)
		} else {
			msg = err.Error()
		}
	}
	fmt.Fprintln(p.errorOutput, p.sprintf(color.New(color.FgRed), "Error: %s", msg))
}

// Success writes a success message.
func (p *Presenter) Success(message string) {
	if p.quiet {
		return
	}
	fmt.Fprintln(p.output, p.sprintf(color.New(color.FgGreen), "✓ %s", message))
}

// Warning writes a warning message.
func (p *Presenter) Warning(message string) {
	if p.quiet {
		return
	}
	fmt.Fprintln(p.output, p.sprintf(color.New(color.FgYellow), "⚠ %s", message))
}

// Info writes an informational message.
func (p *Presenter) Info(message string) {
	if p.quiet {
		return
	}
	fmt.Fprintln(p.output, message)
}

// Section writes a section header.
func (p *Presenter) Section(title string) {
	if p.quiet {
		return
	}
	fmt.Fprintln(p.output, p.sprintf(color.New(color.Bold), "\n%s", title))
	fmt.Fprintln(p.output, strings.Repeat("-", len(title)))
}

// Separator writes a horizontal separator.
func (p *Presenter) Separator() {
	if p.quiet {
		return
	}
	fmt.Fprintln(p.output, strings.Repeat("-", 40))
}

var defaultPresenter = New()

// Error writes an error via the default presenter.
func Error(err error, context string) { defaultPresenter.Error(err, context) }

// Success writes a success message via the default presenter.
func Success(message string) { defaultPresenter.Success(message) }

// Warning writes a warning message via the default presenter.
func Warning(message string) { defaultPresenter.Warning(message) }

// Info writes an informational message via the default presenter.
func Info(message string) { defaultPresenter.Info(message) }

// Section writes a section header via the default presenter.
func Section(title string) { defaultPresenter.Section(title) }

// Separator writes a separator via the default presenter.
func Separator() { defaultPresenter.Separator() }

// SetQuiet toggles quiet mode on the default presenter.
func SetQuiet(quiet bool) { defaultPresenter.SetQuiet(quiet) }
