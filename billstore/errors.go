package billstore

import (
	"errors"
	"fmt"
)

// ErrClosed is returned by operations of a Store which was closed, and by
// writes to a Store which is closing.
var ErrClosed = errors.New("bill store is closed")

// SchemaError is a failure to initialize the schema of a database.
// It's fatal to construction of a Store over that database.
type SchemaError struct {
	Path string
	Err  error
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("initializing schema of %s: %v", e.Path, e.Err)
}

func (e *SchemaError) Unwrap() error { return e.Err }

// ClassificationError is a failure to determine the duplicate status of a
// natural key. It's not fatal: writers default the record to NORMAL.
type ClassificationError struct {
	ClientCode    string
	BillingPeriod string
	Err           error
}

func (e *ClassificationError) Error() string {
	return fmt.Sprintf("classifying (%s, %s): %v", e.ClientCode, e.BillingPeriod, e.Err)
}

func (e *ClassificationError) Unwrap() error { return e.Err }

// WriteError is a failure to insert a record. It's local to that write, and
// doesn't affect the validity of the Store.
type WriteError struct {
	Op  string
	Err error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }
