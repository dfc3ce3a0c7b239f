package records

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates a resource or comment that does not exist.
	ErrNotFound = errors.New("records: not found")
	// ErrForbidden indicates a comment mutation by someone other than its author or an admin.
	ErrForbidden = errors.New("records: insufficient permissions")
	// ErrInvalidInput indicates a request the service cannot store.
	ErrInvalidInput = errors.New("records: invalid input")

	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
)

// ServiceError carries a stable code of the form operation.reason.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew     = "records.service.new"
	opPutRecord      = "records.put"
	opReadResource   = "records.read"
	opListResources  = "records.list"
	opAddComment     = "records.add_comment"
	opEditComment    = "records.edit_comment"
	opDeleteComment  = "records.delete_comment"
	opReadAttachment = "records.attachment"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}
