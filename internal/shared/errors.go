package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateKey indicates a uniqueness violation (serial number, transfer number, order number).
	ErrDuplicateKey = errors.New("duplicate key")
	// ErrInvalidCredentials indicates login failure.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrForbidden indicates the actor lacks a required capability.
	ErrForbidden = errors.New("forbidden")
)
