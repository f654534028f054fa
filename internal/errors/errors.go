package errors

import (
	"errors"
)

// Common error types
var (
	ErrNotFound     = errors.New("not found")
	ErrUnauthorized = errors.New("unauthorized")
)

// Moderation refusals
var (
	ErrProtectedTarget  = errors.New("target is protected")
	ErrPrivilegedTarget = errors.New("target is privileged")
	ErrAlreadyResolved  = errors.New("action already resolved")
)
