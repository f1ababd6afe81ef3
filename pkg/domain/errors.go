package domain

import "errors"

var (
	// ErrUnauthorized indicates the backend rejected the bearer token.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrNotFound indicates the writing no longer exists.
	ErrNotFound = errors.New("writing not found")
	// ErrNoToken indicates no bearer token is available for the session.
	ErrNoToken = errors.New("no auth token available")
	// ErrTokenExpired indicates the bearer token's exp claim has passed.
	ErrTokenExpired = errors.New("auth token expired")
)
