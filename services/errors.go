package services

import "errors"

// Domain errors. Controllers map them to RPC error codes.
var (
	ErrRoomNotFound       = errors.New("room not found")
	ErrPostNotFound       = errors.New("post not found")
	ErrUsernameTaken      = errors.New("username or email already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrInvalidInput       = errors.New("invalid input")
)
