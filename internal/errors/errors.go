package errors

import "errors"

// Sync outcome errors.
var (
	ErrCredentialExpired = errors.New("remote credential expired")
)

// Remote store errors.
var (
	ErrRemoteNotFound = errors.New("remote object not found")
	ErrUnauthorized   = errors.New("remote store rejected credentials")
	ErrTokenMismatch  = errors.New("remote version token no longer current")
)

// Codec errors.
var (
	ErrDecode = errors.New("snapshot decode failed")
)
