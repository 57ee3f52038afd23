package batch

import "github.com/pkg/errors"

var (
	ErrInvalidRequest = errors.New("invalid batch request")
	ErrQueryNotFound  = errors.New("query not found")
	ErrTargetNotFound = errors.New("target not found")
	ErrForbidden      = errors.New("access denied")
	ErrBatchNotFound  = errors.New("batch not found")
)

var errBatchCancelled = errors.New("batch cancelled")
