package session

import "errors"

var (
	ErrAlreadyInitialized = errors.New("session manager already initialized")
	ErrNotInitialized     = errors.New("session manager not initialized")
	ErrDisposed           = errors.New("session manager disposed")
)
