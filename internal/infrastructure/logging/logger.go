// Package logging builds the process-wide hclog logger.
package logging

import (
	"io"
	"os"

	"github.com/hashicorp/go-hclog"
)

// Options controls the root logger
type Options struct {
	Name  string
	Level string
	JSON  bool
	// Output defaults to stderr. stdout belongs to command output and the
	// dashboard.
	Output io.Writer
}

// New creates the root logger. Unknown levels fall back to info.
func New(opts Options) hclog.Logger {
	level := hclog.LevelFromString(opts.Level)
	if level == hclog.NoLevel {
		level = hclog.Info
	}
	output := opts.Output
	if output == nil {
		output = os.Stderr
	}
	name := opts.Name
	if name == "" {
		name = "hsi"
	}

	return hclog.New(&hclog.LoggerOptions{
		Name:            name,
		Level:           level,
		Output:          output,
		JSONFormat:      opts.JSON,
		IncludeLocation: level <= hclog.Debug,
	})
}

// Discard returns a logger that drops everything, for the dashboard
// where stray lines would corrupt the screen.
func Discard() hclog.Logger {
	return hclog.New(&hclog.LoggerOptions{
		Name:   "hsi",
		Level:  hclog.Off,
		Output: io.Discard,
	})
}
