package models

// Result is the uniform envelope every REST collaborator call returns.
// Callers branch on IsError; the call itself never returns a Go error.
type Result[T any] struct {
	Data    T
	IsError bool
	Status  int
	Message string

	// Transient is set when the failure is likely temporary (network
	// error, 429, 5xx) and the call is safe to retry.
	Transient bool
}

// OK wraps a successful response.
func OK[T any](status int, data T) Result[T] {
	return Result[T]{Data: data, Status: status}
}

// Fail builds an error envelope.
func Fail[T any](status int, message string, transient bool) Result[T] {
	return Result[T]{IsError: true, Status: status, Message: message, Transient: transient}
}
