package app

import "errors"

var (
	// ErrDetailMoved indicates a detail response arrived after the view
	// switched to another writing or closed.
	ErrDetailMoved = errors.New("detail view moved on")
)
