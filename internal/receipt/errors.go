package receipt

import "errors"

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrConflict     = errors.New("conflict")
	ErrForbidden    = errors.New("forbidden")
	// ErrUnreadable means the scanner could not extract a receipt from the upload
	ErrUnreadable = errors.New("unreadable receipt")
)
