package occupancy

import (
	"io"

	"github.com/banshee-data/volrender/internal/monitoring"
)

// logs holds the occupancy streams: ops for rejected snapshots, diag for one
// line per grid update or visibility pass, trace for per-chunk sweeps.
var logs = &monitoring.Streams{}

// SetLogWriters configures the three logging streams for the occupancy package.
// Pass nil for any writer to disable that stream.
func SetLogWriters(ops, diag, trace io.Writer) {
	logs = monitoring.NewStreams("[occupancy] ", ops, diag, trace)
}

func opsf(format string, args ...interface{})   { logs.Opsf(format, args...) }
func diagf(format string, args ...interface{})  { logs.Diagf(format, args...) }
func tracef(format string, args ...interface{}) { logs.Tracef(format, args...) }
