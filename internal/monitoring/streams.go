package monitoring

import (
	"io"
	"log"
)

// Streams is a set of three leveled loggers sharing one prefix:
//
//	ops   actionable warnings
//	diag  one line per unit of work
//	trace fine-grained telemetry
//
// A stream built from a nil writer is silent. The zero value is silent.
type Streams struct {
	ops, diag, trace *log.Logger
}

// NewStreams builds Streams writing to the given writers with prefix.
func NewStreams(prefix string, ops, diag, trace io.Writer) *Streams {
	return &Streams{
		ops:   streamLogger(prefix, ops),
		diag:  streamLogger(prefix, diag),
		trace: streamLogger(prefix, trace),
	}
}

func streamLogger(prefix string, w io.Writer) *log.Logger {
	if w == nil {
		return nil
	}
	return log.New(w, prefix, log.LstdFlags|log.Lmicroseconds)
}

// Opsf logs to the ops stream.
func (s *Streams) Opsf(format string, args ...interface{}) {
	if s != nil && s.ops != nil {
		s.ops.Printf(format, args...)
	}
}

// Diagf logs to the diag stream.
func (s *Streams) Diagf(format string, args ...interface{}) {
	if s != nil && s.diag != nil {
		s.diag.Printf(format, args...)
	}
}

// Tracef logs to the trace stream.
func (s *Streams) Tracef(format string, args ...interface{}) {
	if s != nil && s.trace != nil {
		s.trace.Printf(format, args...)
	}
}
