package app

import (
	"time"

	"dfs-go/internal/dfs"
)

// Operation statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Operation tracks one CLI command for the log. Its ID tags every log line
// the command writes.
type Operation struct {
	ID         string
	Name       string
	Parameters string
	Status     string
	Kind       dfs.Kind
	Started    time.Time
}

// NewOperation creates an operation that is successful until Fail is called.
func NewOperation(name, parameters string, started time.Time) *Operation {
	return &Operation{
		ID:         started.UTC().Format("20060102T150405Z"),
		Name:       name,
		Parameters: parameters,
		Status:     StatusSuccess,
		Started:    started,
	}
}

// Fail marks the operation as failed with the kind of err. A nil err is ignored.
func (op *Operation) Fail(err error) {
	if err == nil {
		return
	}
	op.Status = StatusError
	op.Kind = dfs.KindOf(err)
}

// Failed reports whether Fail recorded an error.
func (op *Operation) Failed() bool {
	return op.Status == StatusError
}
