package attachment

import "errors"

var (
	// ErrSizeExceeded indicates the payload is larger than the configured max.
	ErrSizeExceeded = errors.New("attachment exceeds maximum size")
	// ErrWriteFailure indicates the attachment could not be persisted.
	ErrWriteFailure = errors.New("attachment write failed")
)
