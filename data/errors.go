package data

import "errors"

// Standard union filesystem errors that backends and the union layer use.
var (
	// Path resolution errors
	ErrInvalidPath = errors.New("unionfs: invalid path detected")

	// Branch management errors
	ErrNoBranches     = errors.New("unionfs: no branches attached")
	ErrBranchBusy     = errors.New("unionfs: branch is pinned")
	ErrBranchUnknown  = errors.New("unionfs: unknown branch index")
	ErrBranchAttached = errors.New("unionfs: backend already attached as a branch")
	ErrMountFailed    = errors.New("unionfs: branch initialization failed")

	// File operation errors
	ErrNotExist          = errors.New("unionfs: file does not exist")
	ErrExist             = errors.New("unionfs: file already exists")
	ErrIsDirectory       = errors.New("unionfs: is a directory")
	ErrNotDirectory      = errors.New("unionfs: not a directory")
	ErrPermission        = errors.New("unionfs: permission denied")
	ErrReadOnly          = errors.New("unionfs: read-only filesystem")
	ErrDirectoryNotEmpty = errors.New("unionfs: directory not empty")

	// I/O errors
	ErrClosed       = errors.New("unionfs: file already closed")
	ErrInvalid      = errors.New("unionfs: invalid argument")
	ErrNotSupported = errors.New("unionfs: operation not supported")
	ErrPipeClosed   = errors.New("unionfs: pipe closed by peer")
)
