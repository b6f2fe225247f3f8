package coordinator

import "fmt"

// PipelineFatalError ends a run with no report. It is reserved for the one
// unrecoverable condition: zero usable analyses. Everything else degrades to
// a partial report.
type PipelineFatalError struct {
	RunID string
	Stage string
	Err   error
}

func (e *PipelineFatalError) Error() string {
	return fmt.Sprintf("run %s: pipeline fatal at %s: %v", e.RunID, e.Stage, e.Err)
}

func (e *PipelineFatalError) Unwrap() error { return e.Err }
