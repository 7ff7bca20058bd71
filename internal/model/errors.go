package model

import "errors"

var (
	ErrNotFound     = errors.New("not found")
	ErrJobDisabled  = errors.New("backup job is disabled")
	ErrNoTarget     = errors.New("backup job target does not exist")
	ErrTypeMismatch = errors.New("target type mismatch")
	ErrInvalid      = errors.New("invalid input")
)
