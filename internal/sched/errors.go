package sched

import "errors"

var (
	// ErrInvalidArgument rejects malformed window lists and out-of-range
	// scheduling parameters. Nothing is mutated when it is returned.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrBusy rejects schedule changes while threads remain attached to
	// the tp policy on the target CPU.
	ErrBusy = errors.New("resource busy")

	// ErrNotFound reports an unknown thread or CPU.
	ErrNotFound = errors.New("not found")
)
