package container

import "errors"

var (
	ErrInvalidOptions = errors.New("invalid run options")
	ErrUnpack         = errors.New("failed to unpack image")
	ErrStart          = errors.New("failed to start process")
	ErrAlreadyStarted = errors.New("container already started")
)
