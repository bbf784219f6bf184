package importer

import (
	"errors"
	"fmt"
)

// ErrBatchLost matches every BatchError.
var ErrBatchLost = errors.New("importer: batch lost")

// BatchError reports a failed bulk commit. The batch is discarded when the
// commit fails; none of its documents are retried.
type BatchError struct {
	Database  string
	Documents int
	Bytes     int64
	Err       error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("importer: bulk write to %s lost %d documents (%d bytes): %v",
		e.Database, e.Documents, e.Bytes, e.Err)
}

func (e *BatchError) Unwrap() error {
	return e.Err
}

func (e *BatchError) Is(target error) bool {
	return target == ErrBatchLost
}
