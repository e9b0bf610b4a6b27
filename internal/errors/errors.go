package errors

import "errors"

// Session errors.
var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrInvalidToken       = errors.New("invalid or expired token")
	ErrNoSession          = errors.New("no authenticated session")
)

// Transport errors.
var (
	ErrNotConnected = errors.New("socket not connected")
	ErrAPIRequest   = errors.New("API request failed")
	ErrAPIResponse  = errors.New("unexpected API response")
)

// Chat errors.
var (
	ErrNoConversation = errors.New("no conversation open")
	ErrUploadFailed   = errors.New("file upload failed")
	ErrQueueCleared   = errors.New("task dropped from queue")
)
