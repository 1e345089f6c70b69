package render

import (
	"io"

	"github.com/banshee-data/volrender/internal/monitoring"
)

// logs holds the render package streams: ops for budget overflows and
// recorder failures, diag for one line per launch, trace for inference rounds.
var logs = &monitoring.Streams{}

// SetLogWriters configures the three logging streams for the render package.
// Pass nil for any writer to disable that stream.
func SetLogWriters(ops, diag, trace io.Writer) {
	logs = monitoring.NewStreams("[render] ", ops, diag, trace)
}

func opsf(format string, args ...interface{})   { logs.Opsf(format, args...) }
func diagf(format string, args ...interface{})  { logs.Diagf(format, args...) }
func tracef(format string, args ...interface{}) { logs.Tracef(format, args...) }
