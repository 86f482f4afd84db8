package extmerge

import (
	"errors"
	"fmt"
)

// ErrShortRun is the cause of an ExhaustedSourceError when the store ends a
// run before the number of records it was written with.
var ErrShortRun = errors.New("run ended before its recorded length")

// SerializationError represents an error that occurred during key serialization (ToBytes)
type SerializationError struct {
	// Cause is the original panic or error that occurred during serialization
	Cause interface{}
	// Context provides additional information about what was being serialized
	Context string
}

func (e *SerializationError) Error() string {
	if e.Context != "" {
		return fmt.Sprintf("serialization error in %s: %v", e.Context, e.Cause)
	}
	return fmt.Sprintf("serialization error: %v", e.Cause)
}

func (e *SerializationError) Unwrap() error {
	if err, ok := e.Cause.(error); ok {
		return err
	}
	return nil
}

// NewSerializationError creates a SerializationError
func NewSerializationError(cause interface{}, context string) error {
	return &SerializationError{Cause: cause, Context: context}
}

// DeserializationError represents an error that occurred during record deserialization (FromBytes)
type DeserializationError struct {
	// Cause is the original panic or error that occurred during deserialization
	Cause interface{}
	// DataSize is the size of the data that failed to deserialize
	DataSize int
	// Context provides additional information about what was being deserialized
	Context string
}

func (e *DeserializationError) Error() string {
	if e.Context != "" {
		return fmt.Sprintf("deserialization error in %s (data size: %d bytes): %v", e.Context, e.DataSize, e.Cause)
	}
	return fmt.Sprintf("deserialization error (data size: %d bytes): %v", e.DataSize, e.Cause)
}

func (e *DeserializationError) Unwrap() error {
	if err, ok := e.Cause.(error); ok {
		return err
	}
	return nil
}

// NewDeserializationError creates a DeserializationError
func NewDeserializationError(cause interface{}, dataSize int, context string) error {
	return &DeserializationError{Cause: cause, DataSize: dataSize, Context: context}
}

// NewDiskError wraps an error returned by the run store
func NewDiskError(err error, operation string, run Run) error {
	if run.ID != 0 {
		return fmt.Errorf("disk error during %s of run %d: %w", operation, run.ID, err)
	}
	return fmt.Errorf("disk error during %s: %w", operation, err)
}

// ConfigError represents an error in configuration parameters
type ConfigError struct {
	// Field is the name of the configuration field that's invalid
	Field string
	// Value is the invalid value provided
	Value interface{}
	// Reason explains why the value is invalid
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error in field %s (value: %v): %s", e.Field, e.Value, e.Reason)
}

// ExhaustedSourceError reports a run that could not deliver the records it
// was written with: either the store failed or the run ended early.
type ExhaustedSourceError struct {
	Run  Run
	Want int // records the run was written with
	Got  int // records read before the failure
	// Cause is the store error, or ErrShortRun
	Cause error
}

func (e *ExhaustedSourceError) Error() string {
	return fmt.Sprintf("run %d (generation %d) exhausted after %d of %d records: %v",
		e.Run.ID, e.Run.Generation, e.Got, e.Want, e.Cause)
}

func (e *ExhaustedSourceError) Unwrap() error {
	return e.Cause
}

// GroupError is the failure of one group merge within a pass.
type GroupError struct {
	Pass  int
	Group int      // index of the group within its pass
	Runs  Registry // the runs the group was merging
	Err   error
}

func (e *GroupError) Error() string {
	return fmt.Sprintf("pass %d group %d (%d runs): %v", e.Pass, e.Group, len(e.Runs), e.Err)
}

func (e *GroupError) Unwrap() error {
	return e.Err
}

// PassError collects every failed group of one pass.
// The runs produced by the groups that succeeded are kept in Partial,
// indexed by group, so RetryPass only repeats the failed groups.
type PassError struct {
	Pass   int
	Groups []*GroupError
	// Partial holds the output run of each group, zero for the failed ones.
	Partial Registry

	groups  []Registry
	stats   PassStats
	retries int
}

func (e *PassError) Error() string {
	if len(e.Groups) == 1 {
		return fmt.Sprintf("pass %d failed: %v", e.Pass, e.Groups[0])
	}
	return fmt.Sprintf("pass %d failed in %d groups, first: %v", e.Pass, len(e.Groups), e.Groups[0])
}

// Unwrap exposes every group failure to errors.Is and errors.As.
func (e *PassError) Unwrap() []error {
	errs := make([]error, len(e.Groups))
	for i, g := range e.Groups {
		errs[i] = g
	}
	return errs
}

// Retryable reports whether the failed groups can be merged again.
// Pass 0 failures are not retryable: the input iterator cannot be replayed.
func (e *PassError) Retryable() bool {
	return e.groups != nil
}

// Retries returns how many times the failed groups have been re-attempted.
func (e *PassError) Retries() int {
	return e.retries
}
