package image

import "errors"

var (
	ErrInvalidOptions = errors.New("invalid build options")
	ErrMissingAppDir  = errors.New("application directory missing")
	ErrDependencies   = errors.New("dependency resolution failed")
	ErrInvalidLayout  = errors.New("invalid image layout")
)
