package storage

import "errors"

var (
	ErrNotFound    = errors.New("document not found")
	ErrDuplicateID = errors.New("duplicate id")
)
