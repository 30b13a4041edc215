package models

import "errors"

// Store-level sentinels shared by every Mongo-backed package.
var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("duplicate record")
)
