package repository

import "errors"

var (
	// ErrJobNotFound is returned when a conversion job cannot be found.
	ErrJobNotFound = errors.New("conversion job not found")

	// ErrDuplicateJob is returned when attempting to create a job that already exists.
	ErrDuplicateJob = errors.New("conversion job already exists")
)

var (
	// ErrObjectNotFound is returned when an object key does not exist in storage.
	ErrObjectNotFound = errors.New("object not found")

	// ErrBucketNotFound is returned when the configured bucket does not exist.
	ErrBucketNotFound = errors.New("bucket not found")
)
