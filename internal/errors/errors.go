package errors

import "errors"

// Authentication errors.
var (
	ErrInvalidCredentials = errors.New("invalid username or password")
)

// Session lifecycle errors.
var (
	ErrNotLoggedIn     = errors.New("session is not logged in")
	ErrAlreadyLoggedIn = errors.New("session is already logged in")
	ErrSessionLost     = errors.New("session lost, a fresh login is required")
)

// Dispatch errors.
var (
	ErrChatExists = errors.New("chat already exists")
	ErrPoolClosed = errors.New("dispatch pool is shut down")
)
