package server

import "errors"

// Kind classifies a recoverable operation failure. Every kind maps to an
// error event on the originating connection; none terminate it.
type Kind string

const (
	KindInvalidInput     Kind = "invalid_input"
	KindNotFound         Kind = "not_found"
	KindConflict         Kind = "conflict"
	KindAlreadyFriends   Kind = "already_friends"
	KindDuplicateRequest Kind = "duplicate_request"
	KindNotFriends       Kind = "not_friends"
)

// RelayError переносит вид ошибки и текст, который уходит клиенту как есть.
type RelayError struct {
	Kind    Kind
	Message string
}

func (e *RelayError) Error() string {
	return e.Message
}

func invalidInput(message string) *RelayError {
	return &RelayError{Kind: KindInvalidInput, Message: message}
}

func notFound(message string) *RelayError {
	return &RelayError{Kind: KindNotFound, Message: message}
}

func conflict(message string) *RelayError {
	return &RelayError{Kind: KindConflict, Message: message}
}

func alreadyFriends(message string) *RelayError {
	return &RelayError{Kind: KindAlreadyFriends, Message: message}
}

func duplicateRequest(message string) *RelayError {
	return &RelayError{Kind: KindDuplicateRequest, Message: message}
}

func notFriends(message string) *RelayError {
	return &RelayError{Kind: KindNotFriends, Message: message}
}

// KindOf возвращает вид ошибки или пустую строку для посторонних ошибок.
func KindOf(err error) Kind {
	var relayErr *RelayError
	if errors.As(err, &relayErr) {
		return relayErr.Kind
	}
	return ""
}
