package service

import (
	"fmt"
)

type ErrResourceNotFound struct {
	error
}

func NewErrResourceNotFound(id string, resourceType string) *ErrResourceNotFound {
	return &ErrResourceNotFound{fmt.Errorf("%s %s not found", resourceType, id)}
}

func NewErrJobNotFound(id string) *ErrResourceNotFound {
	return NewErrResourceNotFound(id, "job")
}

type ErrJobForbidden struct {
	error
}

func NewErrJobForbidden(id string) *ErrJobForbidden {
	return &ErrJobForbidden{fmt.Errorf("forbidden to access job %s", id)}
}

type ErrJobAlreadyExists struct {
	error
}

func NewErrJobAlreadyExists(id string) *ErrJobAlreadyExists {
	return &ErrJobAlreadyExists{fmt.Errorf("job %s already exists", id)}
}

type ErrInvalidRequest struct {
	error
}

func NewErrInvalidRequest(format string, args ...any) *ErrInvalidRequest {
	return &ErrInvalidRequest{fmt.Errorf(format, args...)}
}

func NewErrKindMismatch(jobID, jobKind, requested string) *ErrInvalidRequest {
	return NewErrInvalidRequest("job %s is a %s job, not %s", jobID, jobKind, requested)
}
