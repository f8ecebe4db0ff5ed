package library

import "errors"

var (
	// ErrNotFound is wrapped with the title of the missing background.
	ErrNotFound = errors.New("folder not found")
	// ErrInvalidKind rejects kinds other than html and shader.
	ErrInvalidKind = errors.New("invalid wallpaper kind")
	// ErrInvalidTitle rejects titles that cannot name a folder or a URL path segment.
	ErrInvalidTitle = errors.New("invalid title")
	// ErrInvalidPath rejects image paths outside the static wallpaper folder.
	ErrInvalidPath = errors.New("invalid path")
)
