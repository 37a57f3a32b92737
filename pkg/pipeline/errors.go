package pipeline

import "fmt"

// Stage names a step of the extraction pipeline.
type Stage string

const (
	StageFetching    Stage = "fetching"
	StageValidating  Stage = "validating"
	StageCompressing Stage = "compressing"
	StageExtracting  Stage = "extracting"
	StageMatching    Stage = "matching"
	StagePersisting  Stage = "persisting"
)

// StageError is the terminal failure of a pipeline run. It names the stage
// that failed and carries the underlying cause; there is no retry or
// rollback between stages.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("pipeline failed at %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

func fail(stage Stage, err error) *StageError {
	return &StageError{Stage: stage, Err: err}
}
